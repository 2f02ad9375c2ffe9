package balance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-ledger/generic"
)

func TestScheduler_RunNowAccruesLastCompletedMonth(t *testing.T) {
	// GIVEN: two active employees, one separated, and two accruing leave types
	f := newFixture(t)
	s := NewScheduler(f.engine, nil)

	// WHEN: the scheduler runs on 2025-06-02
	summary, err := s.RunNow(ctx)
	require.NoError(t, err)

	// THEN: every active pair is accrued through May
	assert.Equal(t, generic.NewMonth(2025, 5), summary.Through)
	assert.Equal(t, 4, summary.Accrued)
	assert.Equal(t, 0, summary.Failed)

	// Ben: 1.25 x 17/31 + 4 x 1.25
	assert.True(t, d("5.69").Equal(f.balance(t, "emp-new", "sl")))
	// Ana has years of service; VL stops at the cap
	assert.True(t, d("15").Equal(f.balance(t, "emp-1", "vl")))
	// Separated employees are not accrued
	assert.True(t, f.balance(t, "emp-gone", "vl").IsZero())
}

func TestScheduler_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.engine, nil)

	_, err := s.RunNow(ctx)
	require.NoError(t, err)
	before := f.auditCount(t)

	summary, err := s.RunNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Accrued)
	assert.Equal(t, 4, summary.Skipped)
	assert.Equal(t, before, f.auditCount(t))
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.engine, nil)
	s.CheckInterval = time.Hour

	s.Start()
	s.Start()

	// The first pass runs immediately on start.
	assert.Eventually(t, func() bool {
		b, err := f.store.GetBalance(ctx, "emp-new", "vl")
		return err == nil && b.Balance.IsPositive()
	}, time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.engine, nil)
	s.Enabled = false

	s.Start()
	s.Stop()

	assert.True(t, f.balance(t, "emp-new", "vl").IsZero())
}
