/*
handlers.go - HTTP API handlers for the HR ledger

PURPOSE:
  Exposes the lifecycle services, the balance engine, the monetization
  calculator and the directory over REST. Handles HTTP request/response
  and JSON serialization; every rule lives in the services.

ENDPOINTS:
  Directory:
    GET    /api/employees                    List employees (?status=)
    POST   /api/employees                    Create employee
    GET    /api/employees/{id}               Get employee
    PUT    /api/employees/{id}               Update employee
    POST   /api/employees/{id}/archive       Archive employee
    GET    /api/employees/{id}/balances      Balances of one employee
    GET    /api/employees/{id}/monetizations Monetization history
    GET    /api/leave-types                  List leave types
    POST   /api/leave-types                  Create leave type
    PUT    /api/leave-types/{id}             Update leave type

  Leave requests and pass slips (same shape under /api/pass-slips):
    GET    /api/leave-requests               List (?employee_id=&status=&from=&to=)
    POST   /api/leave-requests               Submit
    GET    /api/leave-requests/{id}          Get
    POST   /api/leave-requests/{id}/decision Approve or deny
    POST   /api/leave-requests/{id}/cancel   Cancel
    GET    /api/leave-requests/{id}/history  Audit trail
    POST   /api/pass-slips/{id}/return       Record actual time in

  Balances:
    POST   /api/balances/accrue              Accrue one balance
    POST   /api/balances/consume             Manual deduction
    POST   /api/balances/restore             Manual credit
    POST   /api/admin/accruals/run           Run the monthly accrual now

  Monetization:
    POST   /api/monetizations                Compute
    GET    /api/monetizations/{id}           Get
    POST   /api/monetizations/{id}/correct   Supersede with a new record

  Audit:
    GET    /api/audit                        Query (?entity_type=&entity_id=&module=&actor_id=&limit=)

IDENTITY:
  Authentication is done by the gateway, which forwards X-Actor-ID and
  X-Actor-Role. Requests without them are refused with 403; the adapter
  never acts as the system actor.

READ ACCESS:
  Employees see their own record, requests, balances and payouts.
  Approvers see every request of the module they approve and the
  employee directory; directory managers see everything.

ERROR HANDLING:
  See errors.go. Status follows the error kind; rejected transitions
  carry the unchanged entity in "current".

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/hr-ledger/balance"
	"github.com/warp/hr-ledger/directory"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/leave"
	"github.com/warp/hr-ledger/ledger"
	"github.com/warp/hr-ledger/monetization"
	"github.com/warp/hr-ledger/passslip"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the handler. Health may be nil.
type Deps struct {
	Leave        *leave.Service
	PassSlips    *passslip.Service
	Balances     *balance.Engine
	Scheduler    *balance.Scheduler
	Monetization *monetization.Calculator
	Directory    *directory.Service
	Gate         generic.Gate
	Reader       ledger.Reader
	Health       Pinger
	Logger       *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Deps
	logger *zap.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Deps: d, logger: logger}
}

// =============================================================================
// IDENTITY
// =============================================================================

type actorKey struct{}

// RequireActor resolves the caller from the gateway headers.
func (h *Handler) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		role := strings.TrimSpace(r.Header.Get(HeaderActorRole))
		if id == "" || role == "" {
			h.writeError(w, r, &generic.AuthorizationError{Reason: "missing " + HeaderActorID + " or " + HeaderActorRole})
			return
		}
		actor := &generic.Actor{ID: id, Role: generic.Role(role)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) *generic.Actor {
	actor, _ := r.Context().Value(actorKey{}).(*generic.Actor)
	return actor
}

// canView reports whether actor may read records owned by ownerID in module.
func (h *Handler) canView(actor *generic.Actor, module generic.Module, ownerID string) bool {
	if actor.ID == ownerID {
		return true
	}
	return h.Gate.HasCapability(actor.Role, module, generic.ActionApprove) ||
		h.Gate.HasCapability(actor.Role, module, generic.ActionManage) ||
		h.Gate.HasCapability(actor.Role, generic.ModuleDirectory, generic.ActionManage)
}

func (h *Handler) requireView(actor *generic.Actor, module generic.Module, ownerID string) error {
	if h.canView(actor, module, ownerID) {
		return nil
	}
	return &generic.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Module: module, Reason: "not the owner"}
}

// =============================================================================
// DECODING
// =============================================================================

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var ve *generic.ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		return generic.Invalid("body", err.Error())
	}
	return nil
}

// requestFilter reads ?employee_id=&status=a,b&from=&to=.
func requestFilter(r *http.Request) (ledger.RequestFilter, error) {
	q := r.URL.Query()
	f := ledger.RequestFilter{EmployeeID: q.Get("employee_id")}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Status = append(f.Status, generic.Status(strings.TrimSpace(s)))
		}
	}
	var err error
	if raw := q.Get("from"); raw != "" {
		if f.From, err = generic.ParseDate(raw); err != nil {
			return f, generic.Invalid("from", err.Error())
		}
	}
	if raw := q.Get("to"); raw != "" {
		if f.To, err = generic.ParseDate(raw); err != nil {
			return f, generic.Invalid("to", err.Error())
		}
	}
	return f, nil
}

// scopeFilter restricts a listing to the caller's own records unless the
// caller may see everyone's.
func (h *Handler) scopeFilter(actor *generic.Actor, module generic.Module, f *ledger.RequestFilter) error {
	if f.EmployeeID == "" {
		if !h.canView(actor, module, "") {
			f.EmployeeID = actor.ID
		}
		return nil
	}
	return h.requireView(actor, module, f.EmployeeID)
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// DIRECTORY
// =============================================================================

// canViewDirectory reports whether actor may read other employees' records:
// directory managers and approvers of either request module.
func (h *Handler) canViewDirectory(actor *generic.Actor) bool {
	return h.canView(actor, generic.ModuleLeave, "") || h.canView(actor, generic.ModulePassSlip, "")
}

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	status := ledger.EmployeeStatus(r.URL.Query().Get("status"))
	if !h.canViewDirectory(actor) {
		employees := []ledger.Employee{}
		emp, err := h.Directory.GetEmployee(r.Context(), actor.ID)
		switch {
		case err == nil && (status == "" || emp.Status == status):
			employees = append(employees, emp)
		case err != nil && generic.KindOf(err) != generic.KindNotFound:
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, employees)
		return
	}

	employees, err := h.Directory.ListEmployees(r.Context(), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, employees)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	id := chi.URLParam(r, "id")
	if id != actor.ID && !h.canViewDirectory(actor) {
		h.writeError(w, r, &generic.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Module: generic.ModuleDirectory, Reason: "not the owner"})
		return
	}
	emp, err := h.Directory.GetEmployee(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var e ledger.Employee
	if err := decodeJSON(r, &e); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.putEmployee(w, r, e, http.StatusCreated)
}

func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	var e ledger.Employee
	if err := decodeJSON(r, &e); err != nil {
		h.writeError(w, r, err)
		return
	}
	e.ID = chi.URLParam(r, "id")
	h.putEmployee(w, r, e, http.StatusOK)
}

func (h *Handler) putEmployee(w http.ResponseWriter, r *http.Request, e ledger.Employee, status int) {
	saved, err := h.Directory.PutEmployee(r.Context(), actorFrom(r), e)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, saved)
}

func (h *Handler) ArchiveEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Directory.Archive(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Directory.ListLeaveTypes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *Handler) GetLeaveType(w http.ResponseWriter, r *http.Request) {
	lt, err := h.Directory.GetLeaveType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lt)
}

func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var lt ledger.LeaveType
	if err := decodeJSON(r, &lt); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.putLeaveType(w, r, lt, http.StatusCreated)
}

func (h *Handler) UpdateLeaveType(w http.ResponseWriter, r *http.Request) {
	var lt ledger.LeaveType
	if err := decodeJSON(r, &lt); err != nil {
		h.writeError(w, r, err)
		return
	}
	lt.ID = chi.URLParam(r, "id")
	h.putLeaveType(w, r, lt, http.StatusOK)
}

func (h *Handler) putLeaveType(w http.ResponseWriter, r *http.Request, lt ledger.LeaveType, status int) {
	saved, err := h.Directory.PutLeaveType(r.Context(), actorFrom(r), lt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, saved)
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

func (h *Handler) ListLeaveRequests(w http.ResponseWriter, r *http.Request) {
	f, err := requestFilter(r)
	if err == nil {
		err = h.scopeFilter(actorFrom(r), generic.ModuleLeave, &f)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.Leave.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) SubmitLeaveRequest(w http.ResponseWriter, r *http.Request) {
	var in leave.SubmitInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	actor := actorFrom(r)
	if in.EmployeeID == "" {
		in.EmployeeID = actor.ID
	}
	req, err := h.Leave.Submit(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) GetLeaveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Leave.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil {
		err = h.requireView(actorFrom(r), generic.ModuleLeave, req.EmployeeID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) DecideLeaveRequest(w http.ResponseWriter, r *http.Request) {
	var body DecisionRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	decision, err := generic.ParseDecision(body.Decision)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.Leave.Decide(r.Context(), actorFrom(r), chi.URLParam(r, "id"), decision, body.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) CancelLeaveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Leave.Cancel(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) LeaveRequestHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.Leave.Get(r.Context(), id)
	if err == nil {
		err = h.requireView(actorFrom(r), generic.ModuleLeave, req.EmployeeID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.Leave.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// PASS SLIPS
// =============================================================================

func (h *Handler) ListPassSlips(w http.ResponseWriter, r *http.Request) {
	f, err := requestFilter(r)
	if err == nil {
		err = h.scopeFilter(actorFrom(r), generic.ModulePassSlip, &f)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.PassSlips.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) SubmitPassSlip(w http.ResponseWriter, r *http.Request) {
	var in passslip.SubmitInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	actor := actorFrom(r)
	if in.EmployeeID == "" {
		in.EmployeeID = actor.ID
	}
	slip, err := h.PassSlips.Submit(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slip)
}

func (h *Handler) GetPassSlip(w http.ResponseWriter, r *http.Request) {
	slip, err := h.PassSlips.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil {
		err = h.requireView(actorFrom(r), generic.ModulePassSlip, slip.EmployeeID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slip)
}

func (h *Handler) DecidePassSlip(w http.ResponseWriter, r *http.Request) {
	var body DecisionRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	decision, err := generic.ParseDecision(body.Decision)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slip, err := h.PassSlips.Decide(r.Context(), actorFrom(r), chi.URLParam(r, "id"), decision, body.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slip)
}

func (h *Handler) CancelPassSlip(w http.ResponseWriter, r *http.Request) {
	slip, err := h.PassSlips.Cancel(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slip)
}

func (h *Handler) RecordPassSlipReturn(w http.ResponseWriter, r *http.Request) {
	var body ReturnRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	slip, err := h.PassSlips.RecordReturn(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.ActualTimeIn)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slip)
}

func (h *Handler) PassSlipHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slip, err := h.PassSlips.Get(r.Context(), id)
	if err == nil {
		err = h.requireView(actorFrom(r), generic.ModulePassSlip, slip.EmployeeID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.PassSlips.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// BALANCES
// =============================================================================

func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	if err := h.requireView(actorFrom(r), generic.ModuleLeave, employeeID); err != nil {
		h.writeError(w, r, err)
		return
	}
	balances, err := h.Balances.Balances(r.Context(), employeeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (h *Handler) Accrue(w http.ResponseWriter, r *http.Request) {
	var body AccrueRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Balances.Accrue(r.Context(), actorFrom(r), body.EmployeeID, body.LeaveTypeID, body.Through)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(res))
}

func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Balances.Consume)
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Balances.Restore)
}

type adjustFunc func(ctx context.Context, actor *generic.Actor, employeeID, leaveTypeID string, days decimal.Decimal) (balance.Result, error)

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request, op adjustFunc) {
	var body AdjustRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := op(r.Context(), actorFrom(r), body.EmployeeID, body.LeaveTypeID, body.Days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(res))
}

// RunAccruals runs one scheduler pass on behalf of the caller.
func (h *Handler) RunAccruals(w http.ResponseWriter, r *http.Request) {
	if err := generic.Authorize(h.Gate, actorFrom(r), generic.ModuleBalance, generic.ActionManage); err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// MONETIZATION
// =============================================================================

func (h *Handler) Monetize(w http.ResponseWriter, r *http.Request) {
	var body MonetizeRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.Monetization.Compute(r.Context(), actorFrom(r), body.EmployeeID, body.RetirementDate, body.DailyRate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) GetMonetization(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Monetization.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil {
		err = h.requireView(actorFrom(r), generic.ModuleMonetization, rec.EmployeeID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) CorrectMonetization(w http.ResponseWriter, r *http.Request) {
	var body CorrectRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.Monetization.Correct(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.RetirementDate, body.DailyRate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) MonetizationHistory(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	if err := h.requireView(actorFrom(r), generic.ModuleMonetization, employeeID); err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.Monetization.History(r.Context(), employeeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// =============================================================================
// AUDIT
// =============================================================================

// ListAudit is restricted to directory managers.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if err := generic.Authorize(h.Gate, actorFrom(r), generic.ModuleDirectory, generic.ActionManage); err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := ledger.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Module:     generic.Module(q.Get("module")),
		ActorID:    q.Get("actor_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, generic.Invalid("limit", "must be a non-negative integer"))
			return
		}
		f.Limit = n
	}
	entries, err := h.Reader.ListAudit(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
