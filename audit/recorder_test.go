package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
	"github.com/warp/hr-ledger/ledger/store"
)

var now = time.Date(2025, 6, 2, 9, 15, 30, 123456789, time.UTC)

// failingTx rejects every audit append.
type failingTx struct {
	ledger.Tx
	err error
}

func (f failingTx) AppendAudit(context.Context, ledger.AuditEntry) error { return f.err }

func TestRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	rec := NewRecorder(generic.FixedClock(now))
	actor := &generic.Actor{ID: "hr-1", Role: "hr_admin"}

	// GIVEN: an employee change recorded inside a transaction
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		return rec.Record(ctx, tx, Event{
			Actor:      actor,
			Action:     ledger.AuditEmployeeChanged,
			Module:     generic.ModuleDirectory,
			EntityType: "employee",
			EntityID:   "emp-1",
			After:      map[string]string{"status": "active"},
		})
	})
	require.NoError(t, err)

	// WHEN: the history is read back
	entries, err := History(ctx, s, "employee", "emp-1")
	require.NoError(t, err)

	// THEN: one entry with the actor, no before payload and a truncated timestamp
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, int64(1), e.ID)
	require.NotNil(t, e.ActorID)
	assert.Equal(t, "hr-1", *e.ActorID)
	assert.Nil(t, e.Before)
	assert.JSONEq(t, `{"status":"active"}`, string(e.After))
	assert.Equal(t, now.Truncate(time.Microsecond), e.Timestamp)
}

func TestRecord_SystemActor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	rec := NewRecorder(generic.FixedClock(now))

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		return rec.Record(ctx, tx, Event{Action: ledger.AuditAccrued, Module: generic.ModuleBalance, EntityType: "leave_balance", EntityID: "emp-1/vl"})
	})
	require.NoError(t, err)

	entries, err := History(ctx, s, "leave_balance", "emp-1/vl")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].ActorID)
}

func TestRecord_AppendFailureIsStorageError(t *testing.T) {
	rec := NewRecorder(nil)
	driverErr := errors.New("disk I/O error")

	err := rec.Record(context.Background(), failingTx{err: driverErr}, Event{Action: ledger.AuditSubmitted})

	assert.Equal(t, generic.KindStorage, generic.KindOf(err))
	assert.ErrorIs(t, err, driverErr)
	assert.True(t, generic.IsRetryable(err))
}

func TestRecord_UnencodablePayload(t *testing.T) {
	rec := NewRecorder(nil)

	err := rec.Record(context.Background(), failingTx{}, Event{After: make(chan int)})

	assert.Equal(t, generic.KindStorage, generic.KindOf(err))
	var jsonErr *json.UnsupportedTypeError
	assert.ErrorAs(t, err, &jsonErr)
}

func TestRecord_RollsBackWithCaller(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	rec := NewRecorder(generic.FixedClock(now))

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := rec.Record(ctx, tx, Event{Action: ledger.AuditSubmitted, EntityType: "pass_slip", EntityID: "ps-1"}); err != nil {
			return err
		}
		return errors.New("later step failed")
	})
	require.Error(t, err)

	entries, err := History(ctx, s, "pass_slip", "ps-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
