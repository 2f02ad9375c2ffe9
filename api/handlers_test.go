package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-ledger/authz"
	"github.com/warp/hr-ledger/balance"
	"github.com/warp/hr-ledger/directory"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/leave"
	"github.com/warp/hr-ledger/ledger"
	"github.com/warp/hr-ledger/ledger/store"
	"github.com/warp/hr-ledger/metrics"
	"github.com/warp/hr-ledger/monetization"
	"github.com/warp/hr-ledger/passslip"
)

var (
	ctx = context.Background()
	// Monday 2025-06-02, 08:30
	now = time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)

	owner      = &generic.Actor{ID: "emp-1", Role: authz.RoleEmployee}
	colleague  = &generic.Actor{ID: "emp-2", Role: authz.RoleEmployee}
	supervisor = &generic.Actor{ID: "sup-1", Role: authz.RoleSupervisor}
	admin      = &generic.Actor{ID: "hr-1", Role: authz.RoleHRAdmin}
)

func d(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type env struct {
	store  *store.Memory
	health *pinger
	router http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := store.NewMemory()
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		for _, e := range []ledger.Employee{
			{ID: "emp-1", Name: "Ana Cruz", HireDate: generic.NewDate(2020, 1, 6), Status: ledger.EmployeeActive},
			{ID: "emp-2", Name: "Ben Reyes", HireDate: generic.NewDate(2021, 3, 1), Status: ledger.EmployeeActive},
			{ID: "sup-1", Name: "Cora Lim", HireDate: generic.NewDate(2015, 7, 1), Status: ledger.EmployeeActive},
			{ID: "emp-r", Name: "Dino Tan", HireDate: generic.NewDate(1990, 3, 1), Status: ledger.EmployeeSeparated},
		} {
			require.NoError(t, tx.PutEmployee(ctx, e))
		}
		require.NoError(t, tx.PutLeaveType(ctx, ledger.LeaveType{ID: "lt-vl", Code: ledger.CodeVacationLeave, Name: "Vacation", AccrualRate: d("1.25"), Monetizable: true}))
		require.NoError(t, tx.PutLeaveType(ctx, ledger.LeaveType{ID: "lt-sl", Code: ledger.CodeSickLeave, Name: "Sick", AccrualRate: d("1.25"), RequiresMedicalCertificate: true, Monetizable: true}))
		for _, b := range []ledger.LeaveBalance{
			{EmployeeID: "emp-1", LeaveTypeID: "lt-vl", Balance: d("3"), LastAccruedThrough: generic.NewMonth(2025, 5)},
			{EmployeeID: "emp-r", LeaveTypeID: "lt-vl", Balance: d("45.50"), LastAccruedThrough: generic.NewMonth(2025, 5)},
			{EmployeeID: "emp-r", LeaveTypeID: "lt-sl", Balance: d("30.00"), LastAccruedThrough: generic.NewMonth(2025, 5)},
		} {
			require.NoError(t, tx.PutBalance(ctx, b))
		}
		return nil
	})
	require.NoError(t, err)

	gate := authz.Default()
	clock := generic.FixedClock(now)
	holidays := generic.NewHolidaySet()
	holidays.Add(generic.NewDate(2025, 6, 12), "Independence Day", true)

	engine := balance.NewEngine(s, gate, clock, nil, nil)
	health := &pinger{}
	h := NewHandler(Deps{
		Leave:        leave.NewService(engine, gate, holidays, nil, nil, nil),
		PassSlips:    passslip.NewService(s, gate, clock, nil, nil, nil),
		Balances:     engine,
		Scheduler:    balance.NewScheduler(engine, nil),
		Monetization: monetization.NewCalculator(s, gate, clock, nil, nil),
		Directory:    directory.NewService(s, gate, clock, nil),
		Gate:         gate,
		Reader:       s,
		Health:       health,
	})
	return &env{store: s, health: health, router: NewRouter(h, RouterOptions{Metrics: metrics.New()})}
}

func (e *env) do(t *testing.T, method, path string, actor *generic.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(HeaderActorID, actor.ID)
		req.Header.Set(HeaderActorRole, string(actor.Role))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func vacation(from, to string) map[string]any {
	return map[string]any{"leave_type_id": "lt-vl", "date_from": from, "date_to": to}
}

// errorEnvelope is the error body with "current" kept raw.
type errorEnvelope struct {
	Error   ErrorBody       `json:"error"`
	Current json.RawMessage `json:"current"`
}

// =============================================================================
// IDENTITY & HEALTH
// =============================================================================

func TestMissingActorIsForbidden(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/leave-requests", nil, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization", decode[errorEnvelope](t, rec).Error.Kind)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", nil, nil).Code)

	e.health.err = &generic.StorageError{Op: "ping", Err: errors.New("connection refused")}
	rec := e.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	body := decode[errorEnvelope](t, rec)
	assert.NotContains(t, body.Error.Message, "connection refused")

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/metrics", nil, nil).Code)
}

// =============================================================================
// LEAVE
// =============================================================================

func TestLeaveFlow_SubmitApproveConsumes(t *testing.T) {
	e := newEnv(t)

	// GIVEN: a 2-day request (Mon 06-16 .. Tue 06-17) on a 3-day balance
	rec := e.do(t, http.MethodPost, "/api/leave-requests", owner, vacation("2025-06-16", "2025-06-17"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[ledger.LeaveRequest](t, rec)
	assert.Equal(t, "emp-1", req.EmployeeID)
	assert.Equal(t, "LR-2025-0001", req.Reference)

	// WHEN: the supervisor approves
	rec = e.do(t, http.MethodPost, "/api/leave-requests/"+req.ID+"/decision", supervisor, DecisionRequest{Decision: "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, generic.StatusApproved, decode[ledger.LeaveRequest](t, rec).Status)

	// THEN: one day is left and the history has two entries
	rec = e.do(t, http.MethodGet, "/api/employees/emp-1/balances", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var vl ledger.LeaveBalance
	for _, b := range decode[[]ledger.LeaveBalance](t, rec) {
		if b.LeaveTypeID == "lt-vl" {
			vl = b
		}
	}
	assert.True(t, d("1").Equal(vl.Balance), vl.Balance.String())

	rec = e.do(t, http.MethodGet, "/api/leave-requests/"+req.ID+"/history", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ledger.AuditEntry](t, rec), 2)
}

func TestLeave_InsufficientBalanceKeepsPending(t *testing.T) {
	e := newEnv(t)

	// Mon 06-16 .. Fri 06-20 is 5 days against 3
	rec := e.do(t, http.MethodPost, "/api/leave-requests", owner, vacation("2025-06-16", "2025-06-20"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[ledger.LeaveRequest](t, rec)

	rec = e.do(t, http.MethodPost, "/api/leave-requests/"+req.ID+"/decision", supervisor, DecisionRequest{Decision: "approve"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorEnvelope](t, rec)
	assert.Equal(t, "insufficient_balance", body.Error.Kind)
	var current ledger.LeaveRequest
	require.NoError(t, json.Unmarshal(body.Current, &current))
	assert.Equal(t, generic.StatusPending, current.Status)
}

func TestLeave_ErrorStatuses(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/leave-requests", owner, vacation("2025-06-16", "2025-06-16"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[ledger.LeaveRequest](t, rec)
	selfApprover := &generic.Actor{ID: "emp-1", Role: authz.RoleSupervisor}

	tests := []struct {
		name   string
		method string
		path   string
		actor  *generic.Actor
		body   any
		status int
		kind   string
	}{
		{"self approval", http.MethodPost, "/api/leave-requests/" + req.ID + "/decision", selfApprover, DecisionRequest{Decision: "approve"}, http.StatusForbidden, "authorization"},
		{"unknown decision", http.MethodPost, "/api/leave-requests/" + req.ID + "/decision", supervisor, DecisionRequest{Decision: "maybe"}, http.StatusBadRequest, "validation"},
		{"bad date", http.MethodPost, "/api/leave-requests", owner, vacation("16/06/2025", "2025-06-16"), http.StatusBadRequest, "validation"},
		{"unknown field", http.MethodPost, "/api/leave-requests", owner, `{"leave_type_id":"lt-vl","days":3}`, http.StatusBadRequest, "validation"},
		{"not found", http.MethodGet, "/api/leave-requests/missing", owner, nil, http.StatusNotFound, "not_found"},
		{"other employee", http.MethodGet, "/api/leave-requests/" + req.ID, colleague, nil, http.StatusForbidden, "authorization"},
		{"other employee's list", http.MethodGet, "/api/leave-requests?employee_id=emp-1", colleague, nil, http.StatusForbidden, "authorization"},
		{"bad filter", http.MethodGet, "/api/leave-requests?from=june", owner, nil, http.StatusBadRequest, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode[errorEnvelope](t, rec).Error.Kind)
		})
	}
}

func TestLeave_ListIsScopedToCaller(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/leave-requests", owner, vacation("2025-06-16", "2025-06-16"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/leave-requests", colleague, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]ledger.LeaveRequest](t, rec))

	rec = e.do(t, http.MethodGet, "/api/leave-requests?status=pending", supervisor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ledger.LeaveRequest](t, rec), 1)
}

// =============================================================================
// PASS SLIPS
// =============================================================================

func TestPassSlipFlow(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/pass-slips", owner, map[string]any{
		"type": "planned", "date": "2025-06-02", "time_out": "10:00", "expected_time_in": "11:00", "destination": "City Hall",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	slip := decode[ledger.PassSlipRequest](t, rec)
	assert.Equal(t, "PS-2025-0001", slip.Reference)

	rec = e.do(t, http.MethodPost, "/api/pass-slips/"+slip.ID+"/decision", supervisor, DecisionRequest{Decision: "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/pass-slips/"+slip.ID+"/return", owner, map[string]any{"actual_time_in": "11:10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	returned := decode[ledger.PassSlipRequest](t, rec)
	require.NotNil(t, returned.ActualTimeIn)
	assert.Equal(t, "11:10", returned.ActualTimeIn.String())

	// A second return is a conflict.
	rec = e.do(t, http.MethodPost, "/api/pass-slips/"+slip.ID+"/return", owner, map[string]any{"actual_time_in": "11:20"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/pass-slips/"+slip.ID+"/history", supervisor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ledger.AuditEntry](t, rec), 3)
}

// =============================================================================
// BALANCES, MONETIZATION, DIRECTORY, AUDIT
// =============================================================================

func TestBalanceAdjustments(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/balances/consume", owner, AdjustRequest{EmployeeID: "emp-1", LeaveTypeID: "lt-vl", Days: d("1")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/balances/consume", admin, AdjustRequest{EmployeeID: "emp-1", LeaveTypeID: "lt-vl", Days: d("5")})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/balances/restore", admin, AdjustRequest{EmployeeID: "emp-1", LeaveTypeID: "lt-vl", Days: d("0.5")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, d("3.5").Equal(decode[BalanceResponse](t, rec).Balance.Balance))

	// Already accrued through May.
	rec = e.do(t, http.MethodPost, "/api/balances/accrue", admin, AccrueRequest{EmployeeID: "emp-1", LeaveTypeID: "lt-vl", Through: generic.NewMonth(2025, 5)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[BalanceResponse](t, rec).Changed)

	// June has not finished.
	rec = e.do(t, http.MethodPost, "/api/balances/accrue", admin, AccrueRequest{EmployeeID: "emp-1", LeaveTypeID: "lt-vl", Through: generic.NewMonth(2025, 6)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "through", decode[errorEnvelope](t, rec).Error.Field)
}

func TestRunAccruals(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/admin/accruals/run", supervisor, nil).Code)

	rec := e.do(t, http.MethodPost, "/api/admin/accruals/run", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[balance.RunSummary](t, rec)
	assert.Equal(t, generic.NewMonth(2025, 5), summary.Through)
	assert.Zero(t, summary.Failed)
}

func TestMonetization(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/monetizations", admin, MonetizeRequest{EmployeeID: "emp-r", RetirementDate: generic.NewDate(2025, 6, 30), DailyRate: d("1500.00")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total_amount":"113250.00"`)
	assert.Contains(t, rec.Body.String(), `"total_monetizable_days":"75.50"`)
	first := decode[ledger.MonetizationRecord](t, rec)
	assert.True(t, d("75.50").Equal(first.TotalMonetizableDays))
	assert.True(t, d("113250.00").Equal(first.TotalAmount))

	rec = e.do(t, http.MethodPost, "/api/monetizations/"+first.ID+"/correct", admin, CorrectRequest{RetirementDate: generic.NewDate(2025, 6, 30), DailyRate: d("1600")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[ledger.MonetizationRecord](t, rec)
	require.NotNil(t, second.Supersedes)
	assert.Equal(t, first.ID, *second.Supersedes)

	rec = e.do(t, http.MethodGet, "/api/employees/emp-r/monetizations", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ledger.MonetizationRecord](t, rec), 2)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/monetizations/"+first.ID, owner, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/monetizations", supervisor, MonetizeRequest{EmployeeID: "emp-r", RetirementDate: generic.NewDate(2025, 6, 30), DailyRate: d("1")}).Code)
}

func TestDirectory(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/employees", admin, map[string]any{"name": "  Eva Go ", "hire_date": "2025-06-02"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	emp := decode[ledger.Employee](t, rec)
	assert.Equal(t, "Eva Go", emp.Name)
	assert.NotEmpty(t, emp.ID)

	rec = e.do(t, http.MethodPost, "/api/employees/"+emp.ID+"/archive", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPut, "/api/employees/"+emp.ID, admin, map[string]any{"name": "Eva Go", "hire_date": "2025-06-02"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/leave-types", owner, map[string]any{"code": "SPL", "accrual_rate": "0"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/leave-types", admin, map[string]any{"id": "lt-spl", "code": "spl", "accrual_rate": "0"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "SPL", decode[ledger.LeaveType](t, rec).Code)

	rec = e.do(t, http.MethodGet, "/api/leave-types", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ledger.LeaveType](t, rec), 3)
}

func TestDirectory_ReadScoping(t *testing.T) {
	e := newEnv(t)

	// An employee sees only their own record.
	rec := e.do(t, http.MethodGet, "/api/employees", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	mine := decode[[]ledger.Employee](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, "emp-1", mine[0].ID)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/employees/emp-1", owner, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/employees/emp-2", owner, nil).Code)

	rec = e.do(t, http.MethodGet, "/api/employees?status=separated", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]ledger.Employee](t, rec))

	// Approvers and directory managers see everyone.
	for _, actor := range []*generic.Actor{supervisor, admin} {
		rec = e.do(t, http.MethodGet, "/api/employees", actor, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]ledger.Employee](t, rec), 4, actor.ID)
		assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/employees/emp-2", actor, nil).Code)
	}
}

func TestAudit(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/leave-requests", owner, vacation("2025-06-16", "2025-06-16"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[ledger.LeaveRequest](t, rec)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/audit", owner, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/audit?limit=-1", admin, nil).Code)

	rec = e.do(t, http.MethodGet, "/api/audit?entity_id="+req.ID+"&limit=10", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]ledger.AuditEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.AuditSubmitted, entries[0].Action)
}

func TestStatusFor(t *testing.T) {
	tests := map[generic.Kind]int{
		generic.KindValidation:          http.StatusBadRequest,
		generic.KindAuthorization:       http.StatusForbidden,
		generic.KindInvalidTransition:   http.StatusConflict,
		generic.KindInsufficientBalance: http.StatusUnprocessableEntity,
		generic.KindConflict:            http.StatusConflict,
		generic.KindNotFound:            http.StatusNotFound,
		generic.KindStorage:             http.StatusServiceUnavailable,
		generic.KindUnknown:             http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}
