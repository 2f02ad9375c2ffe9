/*
Package monetization computes the terminal leave payout of a separating
employee.

FORMULA:
  total days = VL balance + SL balance
  amount     = total days x daily rate, rounded half-up to 2 places

  Balances are read from a snapshot (no locks) by leave type code; a
  missing balance counts as zero. The calculator never changes balances.

RECORDS:
  Each computation writes a write-once MonetizationRecord plus one audit
  entry. A correction is a new record whose Supersedes points at the
  record it replaces; the original is kept.

EXAMPLE:
  VL 45.50 + SL 30.00 at 1500.00/day = 75.50 days, 113250.00
*/
package monetization

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/hr-ledger/audit"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
	"github.com/warp/hr-ledger/metrics"
)

// EntityMonetization is the audit entity type of monetization records.
const EntityMonetization = "monetization"

// MoneyPrecision is the number of fractional digits of the payout.
const MoneyPrecision = 2

type Calculator struct {
	store   ledger.Store
	gate    generic.Gate
	audit   *audit.Recorder
	clock   generic.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewCalculator(store ledger.Store, gate generic.Gate, clock generic.Clock, logger *zap.Logger, m *metrics.Metrics) *Calculator {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		store:   store,
		gate:    gate,
		audit:   audit.NewRecorder(clock),
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
}

// Amount is the payout formula on its own.
func Amount(vl, sl, dailyRate decimal.Decimal) (days, amount decimal.Decimal) {
	days = vl.Add(sl)
	return days, days.Mul(dailyRate).Round(MoneyPrecision)
}

// Compute writes a new monetization record for employeeID.
func (c *Calculator) Compute(ctx context.Context, actor *generic.Actor, employeeID string, retirement generic.Date, dailyRate decimal.Decimal) (ledger.MonetizationRecord, error) {
	return c.compute(ctx, actor, employeeID, retirement, dailyRate, nil)
}

// Correct supersedes priorID with a freshly computed record.
func (c *Calculator) Correct(ctx context.Context, actor *generic.Actor, priorID string, retirement generic.Date, dailyRate decimal.Decimal) (ledger.MonetizationRecord, error) {
	prior, err := c.store.GetMonetization(ctx, priorID)
	if err != nil {
		return ledger.MonetizationRecord{}, err
	}
	return c.compute(ctx, actor, prior.EmployeeID, retirement, dailyRate, &prior)
}

func (c *Calculator) compute(ctx context.Context, actor *generic.Actor, employeeID string, retirement generic.Date, dailyRate decimal.Decimal, prior *ledger.MonetizationRecord) (ledger.MonetizationRecord, error) {
	if err := generic.Authorize(c.gate, actor, generic.ModuleMonetization, generic.ActionManage); err != nil {
		return ledger.MonetizationRecord{}, err
	}
	if !dailyRate.IsPositive() {
		return ledger.MonetizationRecord{}, generic.Invalid("daily_rate", "must be positive")
	}
	if !dailyRate.Equal(dailyRate.Round(MoneyPrecision)) {
		return ledger.MonetizationRecord{}, generic.Invalid("daily_rate", "at most two fractional digits")
	}
	if retirement.IsZero() {
		return ledger.MonetizationRecord{}, generic.Invalid("retirement_date", "required")
	}

	emp, err := c.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return ledger.MonetizationRecord{}, err
	}
	if retirement.Before(emp.HireDate) {
		return ledger.MonetizationRecord{}, generic.Invalid("retirement_date", "precedes hire date "+emp.HireDate.String())
	}

	vl, err := c.balanceByCode(ctx, employeeID, ledger.CodeVacationLeave)
	if err != nil {
		return ledger.MonetizationRecord{}, err
	}
	sl, err := c.balanceByCode(ctx, employeeID, ledger.CodeSickLeave)
	if err != nil {
		return ledger.MonetizationRecord{}, err
	}
	days, amount := Amount(vl, sl, dailyRate)

	var supersedes *string
	if prior != nil {
		id := prior.ID
		supersedes = &id
	}

	rec := ledger.MonetizationRecord{
		ID:                   uuid.NewString(),
		EmployeeID:           employeeID,
		RetirementDate:       retirement,
		VLBalance:            vl,
		SLBalance:            sl,
		TotalMonetizableDays: days,
		DailyRate:            dailyRate,
		TotalAmount:          amount,
		Supersedes:           supersedes,
		GeneratedBy:          actor.ActorID(),
		GeneratedAt:          c.clock.Now().UTC(),
	}

	err = c.store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertMonetization(ctx, rec); err != nil {
			return err
		}
		ev := audit.Event{
			Actor:      actor,
			Action:     ledger.AuditMonetized,
			Module:     generic.ModuleMonetization,
			EntityType: EntityMonetization,
			EntityID:   rec.ID,
			After:      rec,
		}
		if prior != nil {
			ev.Before = *prior
		}
		return c.audit.Record(ctx, tx, ev)
	})
	if err != nil {
		return ledger.MonetizationRecord{}, err
	}

	c.metrics.Monetization()
	c.logger.Info("leave monetized",
		zap.String("employee_id", employeeID),
		zap.String("days", days.StringFixed(generic.DayPrecision)),
		zap.String("amount", amount.StringFixed(MoneyPrecision)),
		zap.Bool("correction", prior != nil),
	)
	return rec, nil
}

// balanceByCode is a snapshot read; a missing type or balance is zero.
func (c *Calculator) balanceByCode(ctx context.Context, employeeID, code string) (decimal.Decimal, error) {
	lt, err := c.store.GetLeaveTypeByCode(ctx, code)
	if err != nil {
		if generic.KindOf(err) == generic.KindNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	b, err := c.store.GetBalance(ctx, employeeID, lt.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Balance, nil
}

func (c *Calculator) Get(ctx context.Context, id string) (ledger.MonetizationRecord, error) {
	return c.store.GetMonetization(ctx, id)
}

// History lists the employee's records, oldest first.
func (c *Calculator) History(ctx context.Context, employeeID string) ([]ledger.MonetizationRecord, error) {
	return c.store.ListMonetizations(ctx, employeeID)
}
