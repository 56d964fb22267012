package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthorizationError_MatchesNotFound(t *testing.T) {
	t.Parallel()

	var err error = &AuthorizationError{Kind: "folder", ID: "f1", Action: "show"}
	wrapped := fmt.Errorf("get folder: %w", err)

	require.ErrorIs(t, wrapped, ErrNotFound)
	require.Contains(t, err.Error(), ReasonNotFoundOrForbidden)

	var ae *AuthorizationError
	require.True(t, errors.As(wrapped, &ae))
	require.Equal(t, ReasonNotFoundOrForbidden, ae.Reason())
}

func TestValidationError_SortedFields(t *testing.T) {
	t.Parallel()

	err := &ValidationError{Fields: map[string]string{"name": "required", "description": "too long"}}
	require.Equal(t, "validation: description: too long; name: required", err.Error())
	require.True(t, IsValidation(fmt.Errorf("wrap: %w", err)))
	require.False(t, IsValidation(ErrNotFound))
}

func TestConsistencyError_Unwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("insert audit failed")
	err := fmt.Errorf("create project: %w", &ConsistencyError{Op: "record audit", Err: cause})

	require.ErrorIs(t, err, cause)
	require.True(t, IsConsistency(err))
}
