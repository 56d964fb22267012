package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequestID_SortableAndValid(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	require.Len(t, a, 26)
	require.True(t, ValidRequestID(a))
	require.Less(t, a, b)
	require.False(t, ValidRequestID("not-a-ulid"))
}
