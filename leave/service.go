/*
Package leave runs the leave request lifecycle.

PURPOSE:
  Submit, decide and cancel leave requests. Approval consumes the leave
  balance and cancellation of an approved request restores it, both inside
  the same transaction as the status change.

LIFECYCLE:
  Submit:  -> pending. Day count = working days in [from, to], or 0.5 for a
           half day. Reference LR-YYYY-NNNN.
  Decide:  pending -> approved | denied. Approver must hold approve and must
           not be the owner. Approval rejects overlap with another approved
           request, then consumes the balance. Denial needs a comment.
  Cancel:  pending -> cancelled, or approved -> cancelled while date_from
           is still in the future (the consumed days are restored).

LOCK ORDER (per ledger/store.go):
  request row -> employee approval scope -> balance row

REJECTIONS:
  Every refused Decide/Cancel returns a *generic.Rejection carrying the
  request as it still is in the store.

SEE ALSO:
  - generic/lifecycle.go: State machine and guards
  - balance/engine.go: ConsumeTx / RestoreTx
*/
package leave

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/hr-ledger/audit"
	"github.com/warp/hr-ledger/balance"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
	"github.com/warp/hr-ledger/metrics"
)

// EntityLeaveRequest is the audit entity type of leave requests.
const EntityLeaveRequest = "leave_request"

type Service struct {
	store     ledger.Store
	gate      generic.Gate
	balance   *balance.Engine
	audit     *audit.Recorder
	clock     generic.Clock
	holidays  generic.HolidayCalendar
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewService shares the engine's store and clock. holidays may be nil.
func NewService(engine *balance.Engine, gate generic.Gate, holidays generic.HolidayCalendar, validate *validator.Validate, logger *zap.Logger, m *metrics.Metrics) *Service {
	if validate == nil {
		validate = generic.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     engine.Store,
		gate:      gate,
		balance:   engine,
		audit:     audit.NewRecorder(engine.Clock),
		clock:     engine.Clock,
		holidays:  holidays,
		validator: validate,
		logger:    logger,
		metrics:   m,
	}
}

// SubmitInput describes a new leave request.
type SubmitInput struct {
	EmployeeID         string               `json:"employee_id" validate:"required"`
	LeaveTypeID        string               `json:"leave_type_id" validate:"required"`
	DateFrom           generic.Date         `json:"date_from"`
	DateTo             generic.Date         `json:"date_to"`
	IsHalfDay          bool                 `json:"is_half_day"`
	Period             ledger.HalfDayPeriod `json:"period" validate:"omitempty,oneof=AM PM"`
	Reason             string               `json:"reason" validate:"max=1000"`
	MedicalCertificate string               `json:"medical_certificate" validate:"max=255"`
}

// =============================================================================
// SUBMIT
// =============================================================================

func (s *Service) Submit(ctx context.Context, actor *generic.Actor, in SubmitInput) (ledger.LeaveRequest, error) {
	req, err := s.submit(ctx, actor, in)
	if err != nil {
		s.rejected(err)
		return ledger.LeaveRequest{}, err
	}
	s.metrics.Transition(string(generic.ModuleLeave), string(req.Status))
	s.logger.Info("leave request submitted",
		zap.String("reference", req.Reference),
		zap.String("employee_id", req.EmployeeID),
		zap.String("days", req.Days.StringFixed(generic.DayPrecision)),
	)
	return req, nil
}

func (s *Service) submit(ctx context.Context, actor *generic.Actor, in SubmitInput) (ledger.LeaveRequest, error) {
	if err := generic.ValidateStruct(s.validator, in); err != nil {
		return ledger.LeaveRequest{}, err
	}
	if err := generic.AuthorizeOwnerOr(s.gate, actor, generic.ModuleLeave, in.EmployeeID, generic.ActionManage); err != nil {
		return ledger.LeaveRequest{}, err
	}
	days, err := s.dayCount(in)
	if err != nil {
		return ledger.LeaveRequest{}, err
	}

	var out ledger.LeaveRequest
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		emp, err := tx.GetEmployee(ctx, in.EmployeeID)
		if err != nil {
			return err
		}
		if emp.Status != ledger.EmployeeActive {
			return generic.Invalid("employee_id", "employee is not active")
		}
		lt, err := tx.GetLeaveType(ctx, in.LeaveTypeID)
		if err != nil {
			return err
		}
		if lt.RequiresMedicalCertificate && strings.TrimSpace(in.MedicalCertificate) == "" {
			return generic.Invalid("medical_certificate", fmt.Sprintf("required for %s", lt.Code))
		}

		now := s.clock.Now()
		seq, err := tx.NextSequence(ctx, generic.PrefixLeaveRequest, now.Year())
		if err != nil {
			return err
		}

		stamp := now.UTC()
		req := ledger.LeaveRequest{
			ID:                 uuid.NewString(),
			Reference:          generic.FormatReference(generic.PrefixLeaveRequest, now.Year(), seq),
			EmployeeID:         in.EmployeeID,
			LeaveTypeID:        in.LeaveTypeID,
			DateFrom:           in.DateFrom,
			DateTo:             in.DateTo,
			IsHalfDay:          in.IsHalfDay,
			Period:             in.Period,
			Days:               days,
			Reason:             in.Reason,
			MedicalCertificate: in.MedicalCertificate,
			Status:             generic.StatusPending,
			CreatedAt:          stamp,
			UpdatedAt:          stamp,
		}
		if err := tx.PutLeaveRequest(ctx, req); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, ledger.AuditSubmitted, nil, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	return out, err
}

// dayCount applies the date-range and half-day rules.
func (s *Service) dayCount(in SubmitInput) (decimal.Decimal, error) {
	if in.DateFrom.IsZero() {
		return decimal.Zero, generic.Invalid("date_from", "required")
	}
	if in.DateTo.IsZero() {
		return decimal.Zero, generic.Invalid("date_to", "required")
	}
	if in.DateTo.Before(in.DateFrom) {
		return decimal.Zero, generic.Invalid("date_to", "must not precede date_from")
	}

	working := generic.WorkingDays(in.DateFrom, in.DateTo, s.holidays)

	if in.IsHalfDay {
		if !in.DateFrom.Equal(in.DateTo) {
			return decimal.Zero, generic.Invalid("is_half_day", "a half day must start and end on the same date")
		}
		if in.Period != ledger.PeriodAM && in.Period != ledger.PeriodPM {
			return decimal.Zero, generic.Invalid("period", "AM or PM is required for a half day")
		}
		if working == 0 {
			return decimal.Zero, generic.Invalid("date_from", "not a working day")
		}
		return generic.HalfDay, nil
	}

	if in.Period != "" {
		return decimal.Zero, generic.Invalid("period", "only allowed on a half day")
	}
	if working == 0 {
		return decimal.Zero, generic.Invalid("date_from", "range contains no working days")
	}
	return decimal.NewFromInt(int64(working)), nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Decide approves or denies a pending request.
func (s *Service) Decide(ctx context.Context, actor *generic.Actor, id string, decision generic.Decision, comment string) (ledger.LeaveRequest, error) {
	if decision != generic.DecisionApprove && decision != generic.DecisionDeny {
		return ledger.LeaveRequest{}, generic.Invalid("decision", "must be approve or deny")
	}

	var out ledger.LeaveRequest
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		req, err := tx.LockLeaveRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := generic.AuthorizeDecision(s.gate, actor, generic.ModuleLeave, req.EmployeeID); err != nil {
			return generic.Reject(err, req)
		}
		to := decision.Target()
		if err := generic.RequestMachine.Check(EntityLeaveRequest, req.ID, req.Status, to); err != nil {
			return generic.Reject(err, req)
		}
		if decision == generic.DecisionDeny && strings.TrimSpace(comment) == "" {
			return generic.Reject(generic.Invalid("comment", "a reason is required when denying"), req)
		}

		if decision == generic.DecisionApprove {
			if err := s.checkOverlap(ctx, tx, req); err != nil {
				return generic.Reject(err, req)
			}
			if _, err := s.balance.ConsumeTx(ctx, tx, actor, req.EmployeeID, req.LeaveTypeID, req.Days, req.ID); err != nil {
				return generic.Reject(err, req)
			}
		}

		before := req
		now := s.clock.Now().UTC()
		req.Status = to
		req.ApproverID = actor.ActorID()
		req.Comment = comment
		req.DecidedAt = &now
		req.UpdatedAt = now

		if err := tx.PutLeaveRequest(ctx, req); err != nil {
			return err
		}
		action := ledger.AuditApproved
		if to == generic.StatusDenied {
			action = ledger.AuditDenied
		}
		if err := s.record(ctx, tx, actor, action, &before, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		s.rejected(err)
		return ledger.LeaveRequest{}, err
	}

	s.metrics.Transition(string(generic.ModuleLeave), string(out.Status))
	if out.Status == generic.StatusApproved {
		s.metrics.BalanceOp(balance.OpConsume)
	}
	s.logger.Info("leave request decided",
		zap.String("reference", out.Reference),
		zap.String("status", string(out.Status)),
		zap.String("approver_id", actor.ID),
	)
	return out, nil
}

// checkOverlap must run under the employee approval lock so concurrent
// approvals of one employee see each other.
func (s *Service) checkOverlap(ctx context.Context, tx ledger.Tx, req ledger.LeaveRequest) error {
	if err := tx.LockEmployeeLeave(ctx, req.EmployeeID); err != nil {
		return err
	}
	approved, err := tx.ListLeaveRequests(ctx, ledger.RequestFilter{
		EmployeeID: req.EmployeeID,
		Status:     []generic.Status{generic.StatusApproved},
		From:       req.DateFrom,
		To:         req.DateTo,
	})
	if err != nil {
		return err
	}
	for _, other := range approved {
		if other.ID == req.ID {
			continue
		}
		if req.Overlaps(other) {
			return &generic.ConflictError{
				Entity:        EntityLeaveRequest,
				ID:            req.ID,
				ConflictsWith: other.ID,
				Reason:        fmt.Sprintf("overlaps approved request %s", other.Reference),
			}
		}
	}
	return nil
}

// =============================================================================
// CANCEL
// =============================================================================

func (s *Service) Cancel(ctx context.Context, actor *generic.Actor, id string) (ledger.LeaveRequest, error) {
	var (
		out      ledger.LeaveRequest
		restored bool
	)
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		req, err := tx.LockLeaveRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := generic.AuthorizeCancel(s.gate, actor, generic.ModuleLeave, req.EmployeeID); err != nil {
			return generic.Reject(err, req)
		}
		if err := generic.RequestMachine.Check(EntityLeaveRequest, req.ID, req.Status, generic.StatusCancelled); err != nil {
			return generic.Reject(err, req)
		}

		if req.Status == generic.StatusApproved {
			today := generic.Today(s.clock)
			if req.DateFrom.BeforeOrEqual(today) {
				return generic.Reject(&generic.InvalidTransitionError{
					Entity: EntityLeaveRequest,
					ID:     req.ID,
					From:   req.Status,
					To:     generic.StatusCancelled,
					Reason: "leave has already started",
				}, req)
			}
			if _, err := s.balance.RestoreTx(ctx, tx, actor, req.EmployeeID, req.LeaveTypeID, req.Days, req.ID); err != nil {
				return generic.Reject(err, req)
			}
			restored = true
		}

		before := req
		now := s.clock.Now().UTC()
		req.Status = generic.StatusCancelled
		req.CancelledAt = &now
		req.UpdatedAt = now

		if err := tx.PutLeaveRequest(ctx, req); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, ledger.AuditCancelled, &before, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		s.rejected(err)
		return ledger.LeaveRequest{}, err
	}

	s.metrics.Transition(string(generic.ModuleLeave), string(out.Status))
	if restored {
		s.metrics.BalanceOp(balance.OpRestore)
	}
	s.logger.Info("leave request cancelled",
		zap.String("reference", out.Reference),
		zap.Bool("restored", restored),
	)
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (ledger.LeaveRequest, error) {
	return s.store.GetLeaveRequest(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ledger.RequestFilter) ([]ledger.LeaveRequest, error) {
	return s.store.ListLeaveRequests(ctx, filter)
}

// History returns the audit trail of one request.
func (s *Service) History(ctx context.Context, id string) ([]ledger.AuditEntry, error) {
	if _, err := s.store.GetLeaveRequest(ctx, id); err != nil {
		return nil, err
	}
	return audit.History(ctx, s.store, EntityLeaveRequest, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) record(ctx context.Context, tx ledger.Tx, actor *generic.Actor, action ledger.AuditAction, before *ledger.LeaveRequest, after ledger.LeaveRequest) error {
	ev := audit.Event{
		Actor:      actor,
		Action:     action,
		Module:     generic.ModuleLeave,
		EntityType: EntityLeaveRequest,
		EntityID:   after.ID,
		After:      after,
	}
	if before != nil {
		ev.Before = *before
	}
	return s.audit.Record(ctx, tx, ev)
}

func (s *Service) rejected(err error) {
	kind := generic.KindOf(err)
	s.metrics.Rejection(string(generic.ModuleLeave), string(kind))
	if kind == generic.KindStorage || kind == generic.KindUnknown {
		s.logger.Error("leave operation failed", zap.Error(err))
	}
}
