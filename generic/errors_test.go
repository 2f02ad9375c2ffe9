package generic_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-ledger/generic"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want generic.Kind
	}{
		{generic.Invalid("days", "must be positive"), generic.KindValidation},
		{&generic.AuthorizationError{}, generic.KindAuthorization},
		{&generic.InvalidTransitionError{}, generic.KindInvalidTransition},
		{&generic.InsufficientBalanceError{}, generic.KindInsufficientBalance},
		{&generic.ConflictError{}, generic.KindConflict},
		{&generic.NotFoundError{}, generic.KindNotFound},
		{generic.Storage("query", sql.ErrConnDone), generic.KindStorage},
		{fmt.Errorf("approve: %w", &generic.ConflictError{}), generic.KindConflict},
		{errors.New("plain"), generic.KindUnknown},
		{nil, generic.KindUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, generic.KindOf(tt.err), "%v", tt.err)
	}
}

func TestStorage_KeepsTaxonomy(t *testing.T) {
	nf := &generic.NotFoundError{Entity: "employee", ID: "emp-1"}
	assert.Same(t, nf, generic.Storage("get", nf))
	assert.NoError(t, generic.Storage("get", nil))

	err := generic.Storage("exec", sql.ErrTxDone)
	assert.ErrorIs(t, err, generic.ErrStorage)
	assert.ErrorIs(t, err, sql.ErrTxDone)
}

func TestReject(t *testing.T) {
	current := map[string]string{"status": "pending"}
	err := generic.Reject(&generic.InsufficientBalanceError{
		Available: generic.MustParseDecimal("3"),
		Requested: generic.MustParseDecimal("5"),
	}, current)

	assert.Equal(t, generic.KindInsufficientBalance, generic.KindOf(err))
	assert.Equal(t, "insufficient balance: available 3.00, requested 5.00, shortfall 2.00", err.Error())

	got, ok := generic.CurrentState(err)
	require.True(t, ok)
	assert.Equal(t, current, got)

	// The first attached state wins.
	again := generic.Reject(err, "other")
	got, _ = generic.CurrentState(again)
	assert.Equal(t, current, got)

	assert.NoError(t, generic.Reject(nil, current))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, generic.IsRetryable(&generic.ConflictError{}))
	assert.True(t, generic.IsRetryable(generic.Storage("commit", errors.New("database is locked"))))
	assert.False(t, generic.IsRetryable(generic.Invalid("x", "y")))
	assert.True(t, generic.IsClientError(&generic.NotFoundError{}))
	assert.False(t, generic.IsClientError(&generic.ConflictError{}))
}
