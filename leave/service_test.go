package leave

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-ledger/authz"
	"github.com/warp/hr-ledger/balance"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
	"github.com/warp/hr-ledger/ledger/store"
)

var (
	ctx = context.Background()
	// Monday 2025-06-02
	now = time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)

	owner      = &generic.Actor{ID: "emp-1", Role: authz.RoleEmployee}
	colleague  = &generic.Actor{ID: "emp-2", Role: authz.RoleEmployee}
	supervisor = &generic.Actor{ID: "sup-1", Role: authz.RoleSupervisor}
	other      = &generic.Actor{ID: "sup-2", Role: authz.RoleSupervisor}
	admin      = &generic.Actor{ID: "hr-1", Role: authz.RoleHRAdmin}
)

func d(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func date(month time.Month, day int) generic.Date { return generic.NewDate(2025, month, day) }

type fixture struct {
	store    *store.Memory
	holidays *generic.HolidaySet
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemory()
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		for _, e := range []ledger.Employee{
			{ID: "emp-1", Name: "Ana Cruz", HireDate: generic.NewDate(2020, 1, 6), Status: ledger.EmployeeActive},
			{ID: "emp-2", Name: "Ben Reyes", HireDate: generic.NewDate(2021, 3, 1), Status: ledger.EmployeeActive},
			{ID: "sup-1", Name: "Cora Lim", HireDate: generic.NewDate(2015, 7, 1), Status: ledger.EmployeeActive},
			{ID: "emp-x", Name: "Dino Tan", HireDate: generic.NewDate(2012, 2, 1), Status: ledger.EmployeeSeparated},
		} {
			require.NoError(t, tx.PutEmployee(ctx, e))
		}
		require.NoError(t, tx.PutLeaveType(ctx, ledger.LeaveType{ID: "vl", Code: ledger.CodeVacationLeave, Name: "Vacation", AccrualRate: d("1.25")}))
		require.NoError(t, tx.PutLeaveType(ctx, ledger.LeaveType{ID: "sl", Code: ledger.CodeSickLeave, Name: "Sick", AccrualRate: d("1.25"), RequiresMedicalCertificate: true}))
		return nil
	})
	require.NoError(t, err)

	holidays := generic.NewHolidaySet()
	holidays.Add(date(6, 12), "Independence Day", true)

	engine := balance.NewEngine(s, authz.Default(), generic.FixedClock(now), nil, nil)
	return &fixture{store: s, holidays: holidays, svc: NewService(engine, authz.Default(), holidays, nil, nil, nil)}
}

func (f *fixture) seedBalance(t *testing.T, emp, lt, amount string) {
	t.Helper()
	err := f.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.PutBalance(ctx, ledger.LeaveBalance{EmployeeID: emp, LeaveTypeID: lt, Balance: d(amount), LastAccruedThrough: generic.NewMonth(2025, 5)})
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, emp, lt string) decimal.Decimal {
	t.Helper()
	b, err := f.store.GetBalance(ctx, emp, lt)
	require.NoError(t, err)
	return b.Balance
}

func (f *fixture) submit(t *testing.T, actor *generic.Actor, in SubmitInput) ledger.LeaveRequest {
	t.Helper()
	req, err := f.svc.Submit(ctx, actor, in)
	require.NoError(t, err)
	return req
}

func vacation(from, to generic.Date) SubmitInput {
	return SubmitInput{EmployeeID: "emp-1", LeaveTypeID: "vl", DateFrom: from, DateTo: to}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_CountsWorkingDaysAndAssignsReference(t *testing.T) {
	f := newFixture(t)

	// Mon 06-16 .. Fri 06-20
	first := f.submit(t, owner, vacation(date(6, 16), date(6, 20)))
	// Fri 06-20 .. Mon 06-23 spans a weekend
	second := f.submit(t, owner, vacation(date(6, 20), date(6, 23)))

	assert.Equal(t, generic.StatusPending, first.Status)
	assert.Equal(t, "LR-2025-0001", first.Reference)
	assert.Equal(t, "LR-2025-0002", second.Reference)
	assert.True(t, d("5").Equal(first.Days))
	assert.True(t, d("2").Equal(second.Days))
	assert.NotEmpty(t, first.ID)
}

func TestSubmit_SkipsHolidays(t *testing.T) {
	f := newFixture(t)

	req := f.submit(t, owner, vacation(date(6, 9), date(6, 13)))

	assert.True(t, d("4").Equal(req.Days))
}

func TestSubmit_HalfDay(t *testing.T) {
	f := newFixture(t)

	in := vacation(date(6, 10), date(6, 10))
	in.IsHalfDay = true
	in.Period = ledger.PeriodAM
	req := f.submit(t, owner, in)

	assert.True(t, generic.HalfDay.Equal(req.Days))
	assert.Equal(t, ledger.PeriodAM, req.Period)
}

func TestSubmit_ValidationErrors(t *testing.T) {
	halfDay := func(from, to generic.Date, period ledger.HalfDayPeriod) SubmitInput {
		in := vacation(from, to)
		in.IsHalfDay = true
		in.Period = period
		return in
	}
	withPeriod := vacation(date(6, 10), date(6, 11))
	withPeriod.Period = ledger.PeriodPM

	tests := []struct {
		name  string
		in    SubmitInput
		field string
	}{
		{"to before from", vacation(date(6, 11), date(6, 10)), "date_to"},
		{"missing from", vacation(generic.Date{}, date(6, 10)), "date_from"},
		{"half day over two dates", halfDay(date(6, 10), date(6, 11), ledger.PeriodAM), "is_half_day"},
		{"half day without period", halfDay(date(6, 10), date(6, 10), ""), "period"},
		{"half day on a saturday", halfDay(date(6, 14), date(6, 14), ledger.PeriodPM), "date_from"},
		{"period without half day", withPeriod, "period"},
		{"weekend only", vacation(date(6, 14), date(6, 15)), "date_from"},
		{"bad period value", halfDay(date(6, 10), date(6, 10), "NOON"), "period"},
		{"missing leave type", SubmitInput{EmployeeID: "emp-1", DateFrom: date(6, 10), DateTo: date(6, 10)}, "leave_type_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Submit(ctx, owner, tt.in)

			var ve *generic.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestSubmit_MedicalCertificateRequired(t *testing.T) {
	f := newFixture(t)
	in := SubmitInput{EmployeeID: "emp-1", LeaveTypeID: "sl", DateFrom: date(6, 3), DateTo: date(6, 3)}

	_, err := f.svc.Submit(ctx, owner, in)
	assert.Equal(t, generic.KindValidation, generic.KindOf(err))

	in.MedicalCertificate = "files/medcert-0042.pdf"
	req, err := f.svc.Submit(ctx, owner, in)
	require.NoError(t, err)
	assert.Equal(t, "files/medcert-0042.pdf", req.MedicalCertificate)
}

func TestSubmit_OnBehalfOfAnother(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(ctx, colleague, vacation(date(6, 10), date(6, 10)))
	assert.Equal(t, generic.KindAuthorization, generic.KindOf(err))

	req, err := f.svc.Submit(ctx, admin, vacation(date(6, 10), date(6, 10)))
	require.NoError(t, err)
	assert.Equal(t, "emp-1", req.EmployeeID)
}

func TestSubmit_InactiveOrUnknown(t *testing.T) {
	f := newFixture(t)

	in := vacation(date(6, 10), date(6, 10))
	in.EmployeeID = "emp-x"
	_, err := f.svc.Submit(ctx, admin, in)
	assert.Equal(t, generic.KindValidation, generic.KindOf(err))

	in.EmployeeID = "nobody"
	_, err = f.svc.Submit(ctx, admin, in)
	assert.Equal(t, generic.KindNotFound, generic.KindOf(err))

	in = vacation(date(6, 10), date(6, 10))
	in.LeaveTypeID = "cto"
	_, err = f.svc.Submit(ctx, owner, in)
	assert.Equal(t, generic.KindNotFound, generic.KindOf(err))
}

// =============================================================================
// DECIDE
// =============================================================================

func TestDecide_ApproveConsumesBalance(t *testing.T) {
	f := newFixture(t)
	f.seedBalance(t, "emp-1", "vl", "10")
	req := f.submit(t, owner, vacation(date(6, 16), date(6, 18)))

	approved, err := f.svc.Decide(ctx, supervisor, req.ID, generic.DecisionApprove, "")
	require.NoError(t, err)

	assert.Equal(t, generic.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApproverID)
	assert.Equal(t, "sup-1", *approved.ApproverID)
	assert.NotNil(t, approved.DecidedAt)
	assert.True(t, d("7").Equal(f.balance(t, "emp-1", "vl")))
}

func TestDecide_InsufficientBalanceStaysPending(t *testing.T) {
	// GIVEN: a 5-day request against a 3-day balance
	f := newFixture(t)
	f.seedBalance(t, "emp-1", "vl", "3")
	req := f.submit(t, owner, vacation(date(6, 16), date(6, 20)))

	// WHEN: the supervisor approves
	_, err := f.svc.Decide(ctx, supervisor, req.ID, generic.DecisionApprove, "")

	// THEN: insufficient balance, nothing changed
	require.Error(t, err)
	assert.Equal(t, generic.KindInsufficientBalance, generic.KindOf(err))

	current, ok := generic.CurrentState(err)
	require.True(t, ok)
	assert.Equal(t, generic.StatusPending, current.(ledger.LeaveRequest).Status)

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPending, stored.Status)
	assert.True(t, d("3").Equal(f.balance(t, "emp-1", "vl")))

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDecide_OverlapConflict(t *testing.T) {
	// GIVEN: two pending requests that both cover 2025-06-10
	f := newFixture(t)
	f.seedBalance(t, "emp-1", "vl", "10")
	first := f.submit(t, owner, vacation(date(6, 9), date(6, 10)))
	second := f.submit(t, owner, vacation(date(6, 10), date(6, 11)))

	// WHEN: both are approved
	_, err := f.svc.Decide(ctx, supervisor, first.ID, generic.DecisionApprove, "")
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, supervisor, second.ID, generic.DecisionApprove, "")

	// THEN: the second is a conflict and stays pending
	var conflict *generic.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.ConflictsWith)

	stored, err := f.svc.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPending, stored.Status)
	assert.True(t, d("8").Equal(f.balance(t, "emp-1", "vl")))
}

func TestDecide_HalfDaysWithDifferentPeriodsDoNotOverlap(t *testing.T) {
	f := newFixture(t)
	f.seedBalance(t, "emp-1", "vl", "10")

	am := vacation(date(6, 10), date(6, 10))
	am.IsHalfDay, am.Period = true, ledger.PeriodAM
	pm := am
	pm.Period = ledger.PeriodPM

	a := f.submit(t, owner, am)
	b := f.submit(t, owner, pm)
	again := f.submit(t, owner, am)

	_, err := f.svc.Decide(ctx, supervisor, a.ID, generic.DecisionApprove, "")
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, supervisor, b.ID, generic.DecisionApprove, "")
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, supervisor, again.ID, generic.DecisionApprove, "")
	assert.Equal(t, generic.KindConflict, generic.KindOf(err))

	assert.True(t, d("9").Equal(f.balance(t, "emp-1", "vl")))
}

func TestDecide_SelfApprovalRefused(t *testing.T) {
	f := newFixture(t)
	f.seedBalance(t, "sup-1", "vl", "10")
	req := f.submit(t, supervisor, SubmitInput{EmployeeID: "sup-1", LeaveTypeID: "vl", DateFrom: date(6, 10), DateTo: date(6, 10)})

	_, err := f.svc.Decide(ctx, supervisor, req.ID, generic.DecisionApprove, "")

	var authErr *generic.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Reason, "self-approval")
	assert.True(t, d("10").Equal(f.balance(t, "sup-1", "vl")))
}

func TestDecide_RequiresApproveCapability(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, owner, vacation(date(6, 10), date(6, 10)))

	_, err := f.svc.Decide(ctx, colleague, req.ID, generic.DecisionApprove, "")
	assert.Equal(t, generic.KindAuthorization, generic.KindOf(err))
}

func TestDecide_DenyNeedsComment(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, owner, vacation(date(6, 10), date(6, 10)))

	_, err := f.svc.Decide(ctx, supervisor, req.ID, generic.DecisionDeny, "  ")
	assert.Equal(t, generic.KindValidation, generic.KindOf(err))

	denied, err := f.svc.Decide(ctx, supervisor, req.ID, generic.DecisionDeny, "peak season")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusDenied, denied.Status)
	assert.Equal(t, "peak season", denied.Comment)

	// Denied is final.
	_, err = f.svc.Decide(ctx, supervisor, req.ID, generic.DecisionApprove, "")
	assert.Equal(t, generic.KindInvalidTransition, generic.KindOf(err))
	_, err = f.svc.Cancel(ctx, owner, req.ID)
	assert.Equal(t, generic.KindInvalidTransition, generic.KindOf(err))
}

func TestDecide_UnknownRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Decide(ctx, supervisor, "missing", generic.DecisionApprove, "")
	assert.Equal(t, generic.KindNotFound, generic.KindOf(err))

	_, err = f.svc.Decide(ctx, supervisor, "missing", generic.Decision("maybe"), "")
	assert.Equal(t, generic.KindValidation, generic.KindOf(err))
}

func TestDecide_AuditAfterEqualsPostState(t *testing.T) {
	f := newFixture(t)
	f.seedBalance(t, "emp-1", "vl", "10")
	req := f.submit(t, owner, vacation(date(6, 16), date(6, 16)))

	_, err := f.svc.Decide(ctx, supervisor, req.ID, generic.DecisionApprove, "enjoy")
	require.NoError(t, err)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ledger.AuditSubmitted, history[0].Action)
	assert.Nil(t, history[0].Before)
	assert.Equal(t, ledger.AuditApproved, history[1].Action)
	assert.Less(t, history[0].ID, history[1].ID)

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	want, err := json.Marshal(stored)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(history[1].After))

	var before ledger.LeaveRequest
	require.NoError(t, json.Unmarshal(history[1].Before, &before))
	assert.Equal(t, generic.StatusPending, before.Status)

	// The balance change is audited in the same unit.
	balanceEntries, err := f.store.ListAudit(ctx, ledger.AuditFilter{EntityType: balance.EntityBalance})
	require.NoError(t, err)
	require.Len(t, balanceEntries, 1)
	assert.Equal(t, ledger.AuditConsumed, balanceEntries[0].Action)
}

func TestDecide_ConcurrentOverlappingApprovals(t *testing.T) {
	// GIVEN: several pending requests that all cover 2025-06-10
	f := newFixture(t)
	f.seedBalance(t, "emp-1", "vl", "30")
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, f.submit(t, owner, vacation(date(6, 10), date(6, 10))).ID)
	}

	// WHEN: they are approved concurrently by two supervisors
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		approved  int
		conflicts int
	)
	for i, id := range ids {
		approver := supervisor
		if i%2 == 1 {
			approver = other
		}
		wg.Add(1)
		go func(id string, approver *generic.Actor) {
			defer wg.Done()
			_, err := f.svc.Decide(ctx, approver, id, generic.DecisionApprove, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				approved++
			} else if errors.Is(err, generic.ErrConflict) {
				conflicts++
			}
		}(id, approver)
	}
	wg.Wait()

	// THEN: exactly one wins
	assert.Equal(t, 1, approved)
	assert.Equal(t, len(ids)-1, conflicts)
	assert.True(t, d("29").Equal(f.balance(t, "emp-1", "vl")))
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_Pending(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, owner, vacation(date(6, 10), date(6, 10)))

	cancelled, err := f.svc.Cancel(ctx, owner, req.ID)
	require.NoError(t, err)

	assert.Equal(t, generic.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Cancel(ctx, owner, req.ID)
	assert.Equal(t, generic.KindInvalidTransition, generic.KindOf(err))
}

func TestCancel_ApprovedFutureRestoresBalance(t *testing.T) {
	f := newFixture(t)
	f.seedBalance(t, "emp-1", "vl", "10")
	req := f.submit(t, owner, vacation(date(6, 16), date(6, 20)))
	_, err := f.svc.Decide(ctx, supervisor, req.ID, generic.DecisionApprove, "")
	require.NoError(t, err)
	require.True(t, d("5").Equal(f.balance(t, "emp-1", "vl")))

	cancelled, err := f.svc.Cancel(ctx, owner, req.ID)
	require.NoError(t, err)

	assert.Equal(t, generic.StatusCancelled, cancelled.Status)
	assert.True(t, d("10").Equal(f.balance(t, "emp-1", "vl")))
}

func TestCancel_ApprovedAlreadyStarted(t *testing.T) {
	f := newFixture(t)
	f.seedBalance(t, "emp-1", "vl", "10")
	// Starts today
	req := f.submit(t, owner, vacation(date(6, 2), date(6, 3)))
	_, err := f.svc.Decide(ctx, supervisor, req.ID, generic.DecisionApprove, "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, owner, req.ID)

	assert.Equal(t, generic.KindInvalidTransition, generic.KindOf(err))
	current, ok := generic.CurrentState(err)
	require.True(t, ok)
	assert.Equal(t, generic.StatusApproved, current.(ledger.LeaveRequest).Status)
	assert.True(t, d("8").Equal(f.balance(t, "emp-1", "vl")))
}

func TestCancel_Guard(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, owner, vacation(date(6, 10), date(6, 10)))

	// Another employee may not cancel.
	_, err := f.svc.Cancel(ctx, colleague, req.ID)
	assert.Equal(t, generic.KindAuthorization, generic.KindOf(err))

	// An approver may.
	cancelled, err := f.svc.Cancel(ctx, supervisor, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCancelled, cancelled.Status)
}
