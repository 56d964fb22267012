// Package limiter throttles repeated failed API key exchanges.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks failed key exchanges per (key id, client ip) and places
// temporary blocks.
type Limiter interface {
	// Allow reports whether an exchange is currently allowed and the retry-after.
	Allow(ctx context.Context, keyID string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful exchange.
	Success(ctx context.Context, keyID string, ipHash []byte) error
	// Failure records a failed exchange; may place a temporary block.
	Failure(ctx context.Context, keyID string, ipHash []byte) (bool, time.Duration, error)
}
