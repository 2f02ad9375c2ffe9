/*
Package balance is the only writer of leave balances.

PURPOSE:
  Owns the arithmetic of leave accrual, consumption and restoration. Every
  mutation locks the (employee, leave type) balance row, writes the new
  balance and appends one audit entry in the same transaction.

OPERATIONS:
  Accrue(through):  credit rate x months since LastAccruedThrough, capped
  Consume(days):    debit, refusing to go below zero
  Restore(days):    credit back a cancelled consumption, capped

  Each has a *Tx variant that runs inside a caller's ledger.Tx, so request
  approval and cancellation compose the balance change into their own
  atomic unit.

ACCRUAL RULES:
  - Idempotent: through <= LastAccruedThrough is a no-op with no audit
    entry.
  - The first accrual starts at the hire month, prorated by the calendar
    days left in that month (hire day included).
  - Only whole elapsed months accrue: through may not pass the last
    completed month.
  - The balance saturates at the cap; excess is dropped and recorded in the
    audit payload. A balance above a lowered cap is cut back to it.
  - Only active employees accrue.

EXAMPLE:
  VL at 1.25/month, hired 2025-01-15, first accrual through 2025-03:

    January:   1.25 x 17/31 = 0.69
    Feb, Mar:  2 x 1.25     = 2.50
    Balance:                  3.19

SEE ALSO:
  - scheduler.go: Monthly background accrual
  - leave/service.go: ConsumeTx on approval, RestoreTx on cancellation
*/
package balance

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/hr-ledger/audit"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
	"github.com/warp/hr-ledger/metrics"
)

// EntityBalance is the audit entity type of balance entries.
const EntityBalance = "leave_balance"

// Operation names used in audit payloads and metrics.
const (
	OpAccrue  = "accrue"
	OpConsume = "consume"
	OpRestore = "restore"
)

// =============================================================================
// AUDIT PAYLOAD
// =============================================================================

// Change describes one balance operation. It rides along in the audit
// entry's after payload.
type Change struct {
	Op        string          `json:"op"`
	Requested decimal.Decimal `json:"requested"`
	Applied   decimal.Decimal `json:"applied"`
	Dropped   decimal.Decimal `json:"dropped"`
	Months    int             `json:"months,omitempty"`
	Through   generic.Month   `json:"through,omitempty"`
	Partial   bool            `json:"partial,omitempty"`
	Source    string          `json:"source,omitempty"`
}

func (c Change) MarshalJSON() ([]byte, error) {
	type wire Change
	return json.Marshal(struct {
		wire
		Requested string `json:"requested"`
		Applied   string `json:"applied"`
		Dropped   string `json:"dropped"`
	}{wire(c), generic.FixedString(c.Requested), generic.FixedString(c.Applied), generic.FixedString(c.Dropped)})
}

// Snapshot is the after payload of balance audit entries.
type Snapshot struct {
	ledger.LeaveBalance
	Change Change `json:"change"`
}

// MarshalJSON keeps the balance fields flat beside change.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type wire ledger.LeaveBalance
	return json.Marshal(struct {
		wire
		Balance string `json:"balance"`
		Change  Change `json:"change"`
	}{wire(s.LeaveBalance), generic.FixedString(s.Balance), s.Change})
}

// Result is returned by every operation.
type Result struct {
	Balance ledger.LeaveBalance
	Change  Change
	// Changed is false when an accrual was a no-op.
	Changed bool
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store   ledger.Store
	Gate    generic.Gate
	Audit   *audit.Recorder
	Clock   generic.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func NewEngine(store ledger.Store, gate generic.Gate, clock generic.Clock, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Store:   store,
		Gate:    gate,
		Audit:   audit.NewRecorder(clock),
		Clock:   clock,
		Logger:  logger,
		Metrics: m,
	}
}

// Accrue credits leave through the given month. actor nil means the
// scheduler.
func (e *Engine) Accrue(ctx context.Context, actor *generic.Actor, employeeID, leaveTypeID string, through generic.Month) (Result, error) {
	if err := generic.Authorize(e.Gate, actor, generic.ModuleBalance, generic.ActionManage); err != nil {
		return Result{}, err
	}
	var res Result
	err := e.Store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		res, err = e.AccrueTx(ctx, tx, actor, employeeID, leaveTypeID, through)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if res.Changed {
		e.Metrics.BalanceOp(OpAccrue)
	}
	return res, nil
}

func (e *Engine) AccrueTx(ctx context.Context, tx ledger.Tx, actor *generic.Actor, employeeID, leaveTypeID string, through generic.Month) (Result, error) {
	if through.IsZero() {
		return Result{}, generic.Invalid("through", "accrual month is required")
	}
	if last := e.LastCompletedMonth(); through.After(last) {
		return Result{}, generic.Invalid("through", "month "+through.String()+" has not elapsed, latest is "+last.String())
	}
	emp, err := tx.GetEmployee(ctx, employeeID)
	if err != nil {
		return Result{}, err
	}
	if emp.Status != ledger.EmployeeActive {
		return Result{}, generic.Invalid("employee", "accrual requires an active employee, got "+string(emp.Status))
	}
	lt, err := tx.GetLeaveType(ctx, leaveTypeID)
	if err != nil {
		return Result{}, err
	}
	bal, err := tx.LockBalance(ctx, employeeID, leaveTypeID)
	if err != nil {
		return Result{}, err
	}

	credit, months, ok := accrualCredit(emp, lt, bal.LastAccruedThrough, through)
	if !ok {
		return Result{Balance: bal}, nil
	}

	proposed := bal.Balance.Add(credit)
	next := lt.Cap(proposed)
	change := Change{
		Op:        OpAccrue,
		Requested: credit,
		Applied:   next.Sub(bal.Balance),
		Dropped:   proposed.Sub(next),
		Months:    months,
		Through:   through,
	}

	after, err := e.apply(ctx, tx, actor, ledger.AuditAccrued, bal, next, through, change)
	if err != nil {
		return Result{}, err
	}

	e.Logger.Info("leave accrued",
		zap.String("employee_id", employeeID),
		zap.String("leave_type", lt.Code),
		zap.Stringer("through", through),
		zap.String("credited", change.Applied.StringFixed(generic.DayPrecision)),
		zap.String("dropped", change.Dropped.StringFixed(generic.DayPrecision)),
	)
	return Result{Balance: after, Change: change, Changed: true}, nil
}

// LastCompletedMonth is the latest month accrual may run through.
func (e *Engine) LastCompletedMonth() generic.Month {
	return generic.Today(e.Clock).MonthOf().AddMonths(-1)
}

// accrualCredit computes the credit for (last, through]. ok is false when
// there is nothing to accrue.
func accrualCredit(emp ledger.Employee, lt ledger.LeaveType, last, through generic.Month) (decimal.Decimal, int, bool) {
	rate := lt.AccrualRate
	if !last.IsZero() {
		if !through.After(last) {
			return decimal.Zero, 0, false
		}
		months := generic.MonthsBetween(last, through)
		return generic.Quantize(rate.Mul(decimal.NewFromInt(int64(months)))), months, true
	}

	hire := emp.HireDate.MonthOf()
	if through.Before(hire) {
		return decimal.Zero, 0, false
	}
	daysIn := int64(hire.DaysIn())
	remaining := daysIn - int64(emp.HireDate.Day) + 1
	first := rate.Mul(decimal.NewFromInt(remaining)).Div(decimal.NewFromInt(daysIn))
	full := generic.MonthsBetween(hire, through)
	credit := first.Add(rate.Mul(decimal.NewFromInt(int64(full))))
	return generic.Quantize(credit), full + 1, true
}

// Consume debits days. It fails with *generic.InsufficientBalanceError when
// days exceed the balance.
func (e *Engine) Consume(ctx context.Context, actor *generic.Actor, employeeID, leaveTypeID string, days decimal.Decimal) (Result, error) {
	if err := generic.Authorize(e.Gate, actor, generic.ModuleBalance, generic.ActionManage); err != nil {
		return Result{}, err
	}
	var res Result
	err := e.Store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		res, err = e.ConsumeTx(ctx, tx, actor, employeeID, leaveTypeID, days, "")
		return err
	})
	if err != nil {
		return Result{}, err
	}
	e.Metrics.BalanceOp(OpConsume)
	return res, nil
}

// ConsumeTx is Consume inside tx. source names the request that consumed
// the days and is recorded in the audit payload.
func (e *Engine) ConsumeTx(ctx context.Context, tx ledger.Tx, actor *generic.Actor, employeeID, leaveTypeID string, days decimal.Decimal, source string) (Result, error) {
	if err := validateDays(days); err != nil {
		return Result{}, err
	}
	if _, err := tx.GetLeaveType(ctx, leaveTypeID); err != nil {
		return Result{}, err
	}
	bal, err := tx.LockBalance(ctx, employeeID, leaveTypeID)
	if err != nil {
		return Result{}, err
	}
	if days.GreaterThan(bal.Balance) {
		return Result{}, &generic.InsufficientBalanceError{
			EmployeeID:  employeeID,
			LeaveTypeID: leaveTypeID,
			Available:   bal.Balance,
			Requested:   days,
		}
	}

	change := Change{Op: OpConsume, Requested: days, Applied: days, Dropped: decimal.Zero, Source: source}
	after, err := e.apply(ctx, tx, actor, ledger.AuditConsumed, bal, bal.Balance.Sub(days), bal.LastAccruedThrough, change)
	if err != nil {
		return Result{}, err
	}
	return Result{Balance: after, Change: change, Changed: true}, nil
}

// Restore credits days back, capped at the leave type's maximum.
func (e *Engine) Restore(ctx context.Context, actor *generic.Actor, employeeID, leaveTypeID string, days decimal.Decimal) (Result, error) {
	if err := generic.Authorize(e.Gate, actor, generic.ModuleBalance, generic.ActionManage); err != nil {
		return Result{}, err
	}
	var res Result
	err := e.Store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		res, err = e.RestoreTx(ctx, tx, actor, employeeID, leaveTypeID, days, "")
		return err
	})
	if err != nil {
		return Result{}, err
	}
	e.Metrics.BalanceOp(OpRestore)
	return res, nil
}

func (e *Engine) RestoreTx(ctx context.Context, tx ledger.Tx, actor *generic.Actor, employeeID, leaveTypeID string, days decimal.Decimal, source string) (Result, error) {
	if err := validateDays(days); err != nil {
		return Result{}, err
	}
	lt, err := tx.GetLeaveType(ctx, leaveTypeID)
	if err != nil {
		return Result{}, err
	}
	bal, err := tx.LockBalance(ctx, employeeID, leaveTypeID)
	if err != nil {
		return Result{}, err
	}

	proposed := bal.Balance.Add(days)
	next := decimal.Max(bal.Balance, lt.Cap(proposed))
	applied := next.Sub(bal.Balance)
	change := Change{
		Op:        OpRestore,
		Requested: days,
		Applied:   applied,
		Dropped:   days.Sub(applied),
		Partial:   applied.LessThan(days),
		Source:    source,
	}

	after, err := e.apply(ctx, tx, actor, ledger.AuditRestored, bal, next, bal.LastAccruedThrough, change)
	if err != nil {
		return Result{}, err
	}
	if change.Partial {
		e.Logger.Warn("partial restore, balance at cap",
			zap.String("employee_id", employeeID),
			zap.String("leave_type", lt.Code),
			zap.String("requested", days.StringFixed(generic.DayPrecision)),
			zap.String("applied", applied.StringFixed(generic.DayPrecision)),
		)
	}
	return Result{Balance: after, Change: change, Changed: true}, nil
}

// apply writes the new balance and its audit entry.
func (e *Engine) apply(ctx context.Context, tx ledger.Tx, actor *generic.Actor, action ledger.AuditAction, before ledger.LeaveBalance, next decimal.Decimal, through generic.Month, change Change) (ledger.LeaveBalance, error) {
	after := before
	after.Balance = generic.Quantize(next)
	after.LastAccruedThrough = through
	after.Version = before.Version + 1
	after.UpdatedAt = e.Clock.Now().UTC()

	if after.Balance.IsNegative() {
		return ledger.LeaveBalance{}, errors.New("balance: refusing to write a negative balance")
	}
	if err := tx.PutBalance(ctx, after); err != nil {
		return ledger.LeaveBalance{}, err
	}
	err := e.Audit.Record(ctx, tx, audit.Event{
		Actor:      actor,
		Action:     action,
		Module:     generic.ModuleBalance,
		EntityType: EntityBalance,
		EntityID:   ledger.BalanceKey(before.EmployeeID, before.LeaveTypeID),
		Before:     before,
		After:      Snapshot{LeaveBalance: after, Change: change},
	})
	if err != nil {
		return ledger.LeaveBalance{}, err
	}
	return after, nil
}

func validateDays(days decimal.Decimal) error {
	if !days.IsPositive() {
		return generic.Invalid("days", "must be positive")
	}
	if !generic.HasDayPrecision(days) {
		return generic.Invalid("days", "at most two fractional digits")
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Balances lists every balance row of an employee.
func (e *Engine) Balances(ctx context.Context, employeeID string) ([]ledger.LeaveBalance, error) {
	if _, err := e.Store.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	return e.Store.ListBalances(ctx, employeeID)
}
