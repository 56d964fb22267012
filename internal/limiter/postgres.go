package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and lockout.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over a pool or a mock.
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	if maxFails <= 0 {
		maxFails = 1
	}
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor}
}

// HashIP returns a stable hash of the client host so raw addresses are not stored.
// A port, if present, is ignored.
func HashIP(addr string) []byte {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	h := sha256.Sum256([]byte(addr))
	return h[:]
}

// Allow reports whether an exchange is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, keyID string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM key_exchange_limiter WHERE key_id=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, keyID, ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if wait := time.Until(blockedUntil); wait > 0 {
			return false, wait, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success clears the counters of (keyID, ip).
func (l *PG) Success(ctx context.Context, keyID string, ipHash []byte) error {
	const q = `DELETE FROM key_exchange_limiter WHERE key_id=$1 AND ip_hash=$2`
	_, err := l.pool.Exec(ctx, q, keyID, ipHash)
	return err
}

// Failure records a failed exchange. Failures older than the window restart
// the count; reaching maxFails blocks the pair for blockFor.
func (l *PG) Failure(ctx context.Context, keyID string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO key_exchange_limiter (key_id, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, 'epoch', now())
ON CONFLICT (key_id, ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN now() - key_exchange_limiter.updated_at > $3::interval THEN 1
                    ELSE key_exchange_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, keyID, ipHash, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE key_exchange_limiter SET blocked_until=$3 WHERE key_id=$1 AND ip_hash=$2`
	if _, err := l.pool.Exec(ctx, upd, keyID, ipHash, time.Now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
