/*
Package passslip runs the pass slip lifecycle.

PURPOSE:
  A pass slip authorizes an employee to leave the premises for part of a
  working day. It never touches leave balances.

LIFECYCLE:
  Submit:        -> pending, reference PS-YYYY-NNNN
  Decide:        pending -> approved | denied
  Cancel:        pending -> cancelled, or approved -> cancelled while the
                 time out is still ahead
  RecordReturn:  stamps the actual time in on an approved slip, once

DATE RULES:
  planned:    the slip date must be today or later
  emergency:  the slip date must not be in the future (filed on the day or
              after the fact)
  expected time in must be after time out; actual time in must not precede
  time out.
*/
package passslip

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/hr-ledger/audit"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
	"github.com/warp/hr-ledger/metrics"
)

// EntityPassSlip is the audit entity type of pass slips.
const EntityPassSlip = "pass_slip"

type Service struct {
	store     ledger.Store
	gate      generic.Gate
	audit     *audit.Recorder
	clock     generic.Clock
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewService(store ledger.Store, gate generic.Gate, clock generic.Clock, validate *validator.Validate, logger *zap.Logger, m *metrics.Metrics) *Service {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if validate == nil {
		validate = generic.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		gate:      gate,
		audit:     audit.NewRecorder(clock),
		clock:     clock,
		validator: validate,
		logger:    logger,
		metrics:   m,
	}
}

type SubmitInput struct {
	EmployeeID     string              `json:"employee_id" validate:"required"`
	Type           ledger.PassSlipType `json:"type" validate:"required,oneof=planned emergency"`
	Date           generic.Date        `json:"date"`
	TimeOut        generic.ClockTime   `json:"time_out"`
	ExpectedTimeIn generic.ClockTime   `json:"expected_time_in"`
	Destination    string              `json:"destination" validate:"max=255"`
	Purpose        string              `json:"purpose" validate:"max=1000"`
}

// =============================================================================
// SUBMIT
// =============================================================================

func (s *Service) Submit(ctx context.Context, actor *generic.Actor, in SubmitInput) (ledger.PassSlipRequest, error) {
	slip, err := s.submit(ctx, actor, in)
	if err != nil {
		s.rejected(err)
		return ledger.PassSlipRequest{}, err
	}
	s.metrics.Transition(string(generic.ModulePassSlip), string(slip.Status))
	s.logger.Info("pass slip submitted",
		zap.String("reference", slip.Reference),
		zap.String("employee_id", slip.EmployeeID),
		zap.String("type", string(slip.Type)),
	)
	return slip, nil
}

func (s *Service) submit(ctx context.Context, actor *generic.Actor, in SubmitInput) (ledger.PassSlipRequest, error) {
	if err := generic.ValidateStruct(s.validator, in); err != nil {
		return ledger.PassSlipRequest{}, err
	}
	if err := generic.AuthorizeOwnerOr(s.gate, actor, generic.ModulePassSlip, in.EmployeeID, generic.ActionManage); err != nil {
		return ledger.PassSlipRequest{}, err
	}
	if err := s.checkSchedule(in); err != nil {
		return ledger.PassSlipRequest{}, err
	}

	var out ledger.PassSlipRequest
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		emp, err := tx.GetEmployee(ctx, in.EmployeeID)
		if err != nil {
			return err
		}
		if emp.Status != ledger.EmployeeActive {
			return generic.Invalid("employee_id", "employee is not active")
		}

		now := s.clock.Now()
		seq, err := tx.NextSequence(ctx, generic.PrefixPassSlip, now.Year())
		if err != nil {
			return err
		}

		stamp := now.UTC()
		slip := ledger.PassSlipRequest{
			ID:             uuid.NewString(),
			Reference:      generic.FormatReference(generic.PrefixPassSlip, now.Year(), seq),
			EmployeeID:     in.EmployeeID,
			Type:           in.Type,
			Date:           in.Date,
			TimeOut:        in.TimeOut,
			ExpectedTimeIn: in.ExpectedTimeIn,
			Destination:    in.Destination,
			Purpose:        in.Purpose,
			Status:         generic.StatusPending,
			CreatedAt:      stamp,
			UpdatedAt:      stamp,
		}
		if err := tx.PutPassSlip(ctx, slip); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, ledger.AuditSubmitted, nil, slip); err != nil {
			return err
		}
		out = slip
		return nil
	})
	return out, err
}

func (s *Service) checkSchedule(in SubmitInput) error {
	if in.Date.IsZero() {
		return generic.Invalid("date", "required")
	}
	if in.ExpectedTimeIn <= in.TimeOut {
		return generic.Invalid("expected_time_in", "must be after time_out")
	}
	today := generic.Today(s.clock)
	switch in.Type {
	case ledger.PassSlipPlanned:
		if in.Date.Before(today) {
			return generic.Invalid("date", "a planned pass slip cannot be in the past")
		}
	case ledger.PassSlipEmergency:
		if in.Date.After(today) {
			return generic.Invalid("date", "an emergency pass slip cannot be in the future")
		}
	}
	return nil
}

// =============================================================================
// DECIDE / CANCEL
// =============================================================================

func (s *Service) Decide(ctx context.Context, actor *generic.Actor, id string, decision generic.Decision, comment string) (ledger.PassSlipRequest, error) {
	if decision != generic.DecisionApprove && decision != generic.DecisionDeny {
		return ledger.PassSlipRequest{}, generic.Invalid("decision", "must be approve or deny")
	}

	out, err := s.transition(ctx, actor, id, func(slip ledger.PassSlipRequest) (ledger.PassSlipRequest, ledger.AuditAction, error) {
		if err := generic.AuthorizeDecision(s.gate, actor, generic.ModulePassSlip, slip.EmployeeID); err != nil {
			return slip, "", err
		}
		to := decision.Target()
		if err := generic.RequestMachine.Check(EntityPassSlip, slip.ID, slip.Status, to); err != nil {
			return slip, "", err
		}
		if decision == generic.DecisionDeny && strings.TrimSpace(comment) == "" {
			return slip, "", generic.Invalid("comment", "a reason is required when denying")
		}

		now := s.clock.Now().UTC()
		slip.Status = to
		slip.ApproverID = actor.ActorID()
		slip.Comment = comment
		slip.DecidedAt = &now
		slip.UpdatedAt = now

		if to == generic.StatusDenied {
			return slip, ledger.AuditDenied, nil
		}
		return slip, ledger.AuditApproved, nil
	})
	if err != nil {
		return ledger.PassSlipRequest{}, err
	}
	s.logger.Info("pass slip decided",
		zap.String("reference", out.Reference),
		zap.String("status", string(out.Status)),
		zap.String("approver_id", actor.ID),
	)
	return out, nil
}

func (s *Service) Cancel(ctx context.Context, actor *generic.Actor, id string) (ledger.PassSlipRequest, error) {
	out, err := s.transition(ctx, actor, id, func(slip ledger.PassSlipRequest) (ledger.PassSlipRequest, ledger.AuditAction, error) {
		if err := generic.AuthorizeCancel(s.gate, actor, generic.ModulePassSlip, slip.EmployeeID); err != nil {
			return slip, "", err
		}
		if err := generic.RequestMachine.Check(EntityPassSlip, slip.ID, slip.Status, generic.StatusCancelled); err != nil {
			return slip, "", err
		}
		now := s.clock.Now()
		if slip.Status == generic.StatusApproved && !s.effectiveAt(slip).After(now) {
			return slip, "", &generic.InvalidTransitionError{
				Entity: EntityPassSlip,
				ID:     slip.ID,
				From:   slip.Status,
				To:     generic.StatusCancelled,
				Reason: "time out has already passed",
			}
		}
		slip.Status = generic.StatusCancelled
		slip.UpdatedAt = now.UTC()
		return slip, ledger.AuditCancelled, nil
	})
	if err != nil {
		return ledger.PassSlipRequest{}, err
	}
	s.logger.Info("pass slip cancelled", zap.String("reference", out.Reference))
	return out, nil
}

// transition locks the slip, lets step compute the new state and commits it
// with one audit entry. A step error is returned as a rejection carrying the
// unchanged slip.
func (s *Service) transition(
	ctx context.Context,
	actor *generic.Actor,
	id string,
	step func(ledger.PassSlipRequest) (ledger.PassSlipRequest, ledger.AuditAction, error),
) (ledger.PassSlipRequest, error) {
	var out ledger.PassSlipRequest
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		before, err := tx.LockPassSlip(ctx, id)
		if err != nil {
			return err
		}
		after, action, err := step(before)
		if err != nil {
			return generic.Reject(err, before)
		}
		if err := tx.PutPassSlip(ctx, after); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, action, &before, after); err != nil {
			return err
		}
		out = after
		return nil
	})
	if err != nil {
		s.rejected(err)
		return ledger.PassSlipRequest{}, err
	}
	s.metrics.Transition(string(generic.ModulePassSlip), string(out.Status))
	return out, nil
}

// effectiveAt is the instant the employee leaves, in the clock's zone.
func (s *Service) effectiveAt(slip ledger.PassSlipRequest) time.Time {
	return slip.TimeOut.On(slip.Date, s.clock.Now().Location())
}

// =============================================================================
// RECORD RETURN
// =============================================================================

// RecordReturn stamps the actual time in. The owner or an approver may
// record it, once, on an approved slip.
func (s *Service) RecordReturn(ctx context.Context, actor *generic.Actor, id string, actual generic.ClockTime) (ledger.PassSlipRequest, error) {
	var out ledger.PassSlipRequest
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		slip, err := tx.LockPassSlip(ctx, id)
		if err != nil {
			return err
		}
		if err := generic.AuthorizeOwnerOr(s.gate, actor, generic.ModulePassSlip, slip.EmployeeID, generic.ActionApprove); err != nil {
			return generic.Reject(err, slip)
		}
		if slip.Status != generic.StatusApproved {
			return generic.Reject(&generic.InvalidTransitionError{
				Entity: EntityPassSlip,
				ID:     slip.ID,
				From:   slip.Status,
				To:     slip.Status,
				Reason: "return can only be recorded on an approved pass slip",
			}, slip)
		}
		if slip.ActualTimeIn != nil {
			return generic.Reject(&generic.ConflictError{
				Entity: EntityPassSlip,
				ID:     slip.ID,
				Reason: "return already recorded at " + slip.ActualTimeIn.String(),
			}, slip)
		}
		if actual < slip.TimeOut {
			return generic.Reject(generic.Invalid("actual_time_in", "must not precede time_out"), slip)
		}

		before := slip
		slip.ActualTimeIn = &actual
		slip.UpdatedAt = s.clock.Now().UTC()
		if err := tx.PutPassSlip(ctx, slip); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, ledger.AuditReturnRecorded, &before, slip); err != nil {
			return err
		}
		out = slip
		return nil
	})
	if err != nil {
		s.rejected(err)
		return ledger.PassSlipRequest{}, err
	}
	if actual > out.ExpectedTimeIn {
		s.logger.Info("pass slip returned late",
			zap.String("reference", out.Reference),
			zap.Stringer("expected", out.ExpectedTimeIn),
			zap.Stringer("actual", actual),
		)
	}
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (ledger.PassSlipRequest, error) {
	return s.store.GetPassSlip(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ledger.RequestFilter) ([]ledger.PassSlipRequest, error) {
	return s.store.ListPassSlips(ctx, filter)
}

func (s *Service) History(ctx context.Context, id string) ([]ledger.AuditEntry, error) {
	if _, err := s.store.GetPassSlip(ctx, id); err != nil {
		return nil, err
	}
	return audit.History(ctx, s.store, EntityPassSlip, id)
}

func (s *Service) record(ctx context.Context, tx ledger.Tx, actor *generic.Actor, action ledger.AuditAction, before *ledger.PassSlipRequest, after ledger.PassSlipRequest) error {
	ev := audit.Event{
		Actor:      actor,
		Action:     action,
		Module:     generic.ModulePassSlip,
		EntityType: EntityPassSlip,
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
	s.metrics.Rejection(string(generic.ModulePassSlip), string(kind))
	if kind == generic.KindStorage || kind == generic.KindUnknown {
		s.logger.Error("pass slip operation failed", zap.Error(err))
	}
}
