/*
Package directory maintains the reference data the ledger runs on:
employees and leave types.

PURPOSE:
  HR-admin mutations of employees and leave types, each gated on
  ActionManage over the directory module and audited in the same
  transaction as the write. Balances are never touched here; a leave
  type rate or cap change only affects future accruals.

RULES:
  - An archived employee is immutable. Archive is the last transition.
  - A leave type needs a code; rate and max balance are non-negative with
    at most two fractional digits. Codes are unique.

SEE ALSO:
  - balance/engine.go: Reads AccrualRate and MaxBalance
  - factory/catalog.go: Seeds leave types through PutLeaveType
*/
package directory

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/hr-ledger/audit"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// Audit entity types.
const (
	EntityEmployee  = "employee"
	EntityLeaveType = "leave_type"
)

type Service struct {
	store  ledger.Store
	gate   generic.Gate
	audit  *audit.Recorder
	clock  generic.Clock
	logger *zap.Logger
}

func NewService(store ledger.Store, gate generic.Gate, clock generic.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		gate:   gate,
		audit:  audit.NewRecorder(clock),
		clock:  clock,
		logger: logger,
	}
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// PutEmployee creates or updates an employee. An empty ID creates one.
func (s *Service) PutEmployee(ctx context.Context, actor *generic.Actor, e ledger.Employee) (ledger.Employee, error) {
	if err := generic.Authorize(s.gate, actor, generic.ModuleDirectory, generic.ActionManage); err != nil {
		return ledger.Employee{}, err
	}
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return ledger.Employee{}, generic.Invalid("name", "required")
	}
	if e.HireDate.IsZero() {
		return ledger.Employee{}, generic.Invalid("hire_date", "required")
	}
	if e.Status == "" {
		e.Status = ledger.EmployeeActive
	}
	switch e.Status {
	case ledger.EmployeeActive, ledger.EmployeeSeparated, ledger.EmployeeArchived:
	default:
		return ledger.Employee{}, generic.Invalid("status", "must be active, separated or archived")
	}

	now := s.clock.Now().UTC()
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var before *ledger.Employee
		if e.ID == "" {
			e.ID = uuid.NewString()
		} else {
			prev, err := tx.GetEmployee(ctx, e.ID)
			if err == nil {
				if prev.Status == ledger.EmployeeArchived {
					return generic.Reject(&generic.ConflictError{Entity: EntityEmployee, ID: e.ID, Reason: "employee is archived"}, prev)
				}
				before = &prev
			} else if generic.KindOf(err) != generic.KindNotFound {
				return err
			}
		}

		e.UpdatedAt = now
		e.UpdatedBy = actorRef(actor)
		if before != nil {
			e.CreatedAt, e.CreatedBy = before.CreatedAt, before.CreatedBy
		} else {
			e.CreatedAt, e.CreatedBy = now, e.UpdatedBy
		}
		if err := tx.PutEmployee(ctx, e); err != nil {
			return err
		}
		return s.recordEmployee(ctx, tx, actor, before, e)
	})
	if err != nil {
		return ledger.Employee{}, err
	}
	s.logger.Info("employee saved", zap.String("employee_id", e.ID), zap.String("status", string(e.Status)))
	return e, nil
}

// Archive freezes the employee record.
func (s *Service) Archive(ctx context.Context, actor *generic.Actor, id string) (ledger.Employee, error) {
	if err := generic.Authorize(s.gate, actor, generic.ModuleDirectory, generic.ActionManage); err != nil {
		return ledger.Employee{}, err
	}
	var out ledger.Employee
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		prev, err := tx.GetEmployee(ctx, id)
		if err != nil {
			return err
		}
		if prev.Status == ledger.EmployeeArchived {
			return generic.Reject(&generic.ConflictError{Entity: EntityEmployee, ID: id, Reason: "employee is archived"}, prev)
		}
		out = prev
		out.Status = ledger.EmployeeArchived
		out.UpdatedAt = s.clock.Now().UTC()
		out.UpdatedBy = actorRef(actor)
		if err := tx.PutEmployee(ctx, out); err != nil {
			return err
		}
		return s.recordEmployee(ctx, tx, actor, &prev, out)
	})
	if err != nil {
		return ledger.Employee{}, err
	}
	s.logger.Info("employee archived", zap.String("employee_id", id))
	return out, nil
}

func (s *Service) GetEmployee(ctx context.Context, id string) (ledger.Employee, error) {
	return s.store.GetEmployee(ctx, id)
}

// ListEmployees filters by status; an empty status lists everyone.
func (s *Service) ListEmployees(ctx context.Context, status ledger.EmployeeStatus) ([]ledger.Employee, error) {
	return s.store.ListEmployees(ctx, status)
}

func (s *Service) recordEmployee(ctx context.Context, tx ledger.Tx, actor *generic.Actor, before *ledger.Employee, after ledger.Employee) error {
	ev := audit.Event{
		Actor:      actor,
		Action:     ledger.AuditEmployeeChanged,
		Module:     generic.ModuleDirectory,
		EntityType: EntityEmployee,
		EntityID:   after.ID,
		After:      after,
	}
	if before != nil {
		ev.Before = *before
	}
	return s.audit.Record(ctx, tx, ev)
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

// PutLeaveType creates or updates a leave type. An empty ID creates one.
func (s *Service) PutLeaveType(ctx context.Context, actor *generic.Actor, lt ledger.LeaveType) (ledger.LeaveType, error) {
	if err := generic.Authorize(s.gate, actor, generic.ModuleDirectory, generic.ActionManage); err != nil {
		return ledger.LeaveType{}, err
	}
	if err := validateLeaveType(&lt); err != nil {
		return ledger.LeaveType{}, err
	}

	now := s.clock.Now().UTC()
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if other, err := tx.GetLeaveTypeByCode(ctx, lt.Code); err == nil && other.ID != lt.ID {
			return &generic.ConflictError{Entity: EntityLeaveType, ID: lt.ID, ConflictsWith: other.ID, Reason: "code " + lt.Code + " is taken"}
		} else if err != nil && generic.KindOf(err) != generic.KindNotFound {
			return err
		}

		var before *ledger.LeaveType
		if lt.ID == "" {
			lt.ID = uuid.NewString()
		} else {
			prev, err := tx.GetLeaveType(ctx, lt.ID)
			if err == nil {
				before = &prev
			} else if generic.KindOf(err) != generic.KindNotFound {
				return err
			}
		}

		lt.UpdatedAt = now
		if before != nil {
			lt.CreatedAt = before.CreatedAt
		} else {
			lt.CreatedAt = now
		}
		if err := tx.PutLeaveType(ctx, lt); err != nil {
			return err
		}
		ev := audit.Event{
			Actor:      actor,
			Action:     ledger.AuditLeaveTypeChanged,
			Module:     generic.ModuleDirectory,
			EntityType: EntityLeaveType,
			EntityID:   lt.ID,
			After:      lt,
		}
		if before != nil {
			ev.Before = *before
		}
		return s.audit.Record(ctx, tx, ev)
	})
	if err != nil {
		return ledger.LeaveType{}, err
	}
	s.logger.Info("leave type saved", zap.String("leave_type_id", lt.ID), zap.String("code", lt.Code))
	return lt, nil
}

func validateLeaveType(lt *ledger.LeaveType) error {
	lt.Code = strings.ToUpper(strings.TrimSpace(lt.Code))
	if lt.Code == "" {
		return generic.Invalid("code", "required")
	}
	if strings.TrimSpace(lt.Name) == "" {
		lt.Name = lt.Code
	}
	if err := nonNegativeDays("accrual_rate", lt.AccrualRate); err != nil {
		return err
	}
	if lt.MaxBalance != nil {
		if err := nonNegativeDays("max_balance", *lt.MaxBalance); err != nil {
			return err
		}
	}
	return nil
}

func nonNegativeDays(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return generic.Invalid(field, "must not be negative")
	}
	if !generic.HasDayPrecision(d) {
		return generic.Invalid(field, "at most 2 fractional digits allowed")
	}
	return nil
}

func (s *Service) GetLeaveType(ctx context.Context, id string) (ledger.LeaveType, error) {
	return s.store.GetLeaveType(ctx, id)
}

func (s *Service) ListLeaveTypes(ctx context.Context) ([]ledger.LeaveType, error) {
	return s.store.ListLeaveTypes(ctx)
}

func actorRef(actor *generic.Actor) string {
	if id := actor.ActorID(); id != nil {
		return *id
	}
	return ""
}
