package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

const (
	employeeColumns     = `id, name, hire_date, status, department_id, created_by, updated_by, created_at, updated_at`
	leaveTypeColumns    = `id, code, name, accrual_rate, max_balance, requires_medical_certificate, monetizable, created_at, updated_at`
	balanceColumns      = `employee_id, leave_type_id, balance, last_accrued_through, version, updated_at`
	leaveRequestColumns = `id, reference, employee_id, leave_type_id, date_from, date_to, is_half_day, period, days,
		reason, medical_certificate, status, approver_id, comment, decided_at, cancelled_at, created_at, updated_at`
	passSlipColumns = `id, reference, employee_id, slip_type, slip_date, time_out, expected_time_in, actual_time_in,
		destination, purpose, status, approver_id, comment, decided_at, created_at, updated_at`
	monetizationColumns = `id, employee_id, retirement_date, vl_balance, sl_balance, total_days, daily_rate,
		total_amount, supersedes, generated_by, generated_at`
	auditColumns = `id, actor_id, action, module, entity_type, entity_id, before_json, after_json, created_at`
)

// queries implements ledger.Reader over either the pool (snapshot reads)
// or an open transaction.
type queries struct {
	q sqlx.ExtContext
	d Dialect
}

func (qs queries) rebind(query string) string {
	return sqlx.Rebind(qs.d.bindType(), query)
}

// get runs a single-row query. A missing row is a NotFoundError for entity.
func (qs queries) get(ctx context.Context, dest any, entity, id, query string, args ...any) error {
	err := sqlx.GetContext(ctx, qs.q, dest, qs.rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return &generic.NotFoundError{Entity: entity, ID: id}
	}
	return generic.Storage("get "+entity, err)
}

func (qs queries) selectRows(ctx context.Context, dest any, op, query string, args ...any) error {
	return generic.Storage(op, sqlx.SelectContext(ctx, qs.q, dest, qs.rebind(query), args...))
}

// =============================================================================
// EMPLOYEES & LEAVE TYPES
// =============================================================================

func (qs queries) GetEmployee(ctx context.Context, id string) (ledger.Employee, error) {
	var row employeeRow
	if err := qs.get(ctx, &row, "employee", id, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id); err != nil {
		return ledger.Employee{}, err
	}
	return row.toModel()
}

func (qs queries) ListEmployees(ctx context.Context, status ledger.EmployeeStatus) ([]ledger.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	var rows []employeeRow
	if err := qs.selectRows(ctx, &rows, "list employees", query+` ORDER BY id`, args...); err != nil {
		return nil, err
	}
	return convert[ledger.Employee](rows)
}

func (qs queries) GetLeaveType(ctx context.Context, id string) (ledger.LeaveType, error) {
	var row leaveTypeRow
	if err := qs.get(ctx, &row, "leave_type", id, `SELECT `+leaveTypeColumns+` FROM leave_types WHERE id = ?`, id); err != nil {
		return ledger.LeaveType{}, err
	}
	return row.toModel()
}

func (qs queries) GetLeaveTypeByCode(ctx context.Context, code string) (ledger.LeaveType, error) {
	var row leaveTypeRow
	if err := qs.get(ctx, &row, "leave_type", code, `SELECT `+leaveTypeColumns+` FROM leave_types WHERE code = ?`, code); err != nil {
		return ledger.LeaveType{}, err
	}
	return row.toModel()
}

func (qs queries) ListLeaveTypes(ctx context.Context) ([]ledger.LeaveType, error) {
	var rows []leaveTypeRow
	if err := qs.selectRows(ctx, &rows, "list leave types", `SELECT `+leaveTypeColumns+` FROM leave_types ORDER BY id`); err != nil {
		return nil, err
	}
	return convert[ledger.LeaveType](rows)
}

// =============================================================================
// BALANCES
// =============================================================================

func (qs queries) GetBalance(ctx context.Context, employeeID, leaveTypeID string) (ledger.LeaveBalance, error) {
	var row balanceRow
	err := qs.get(ctx, &row, "leave_balance", ledger.BalanceKey(employeeID, leaveTypeID),
		`SELECT `+balanceColumns+` FROM leave_balances WHERE employee_id = ? AND leave_type_id = ?`,
		employeeID, leaveTypeID)
	if generic.KindOf(err) == generic.KindNotFound {
		return ledger.LeaveBalance{EmployeeID: employeeID, LeaveTypeID: leaveTypeID}, nil
	}
	if err != nil {
		return ledger.LeaveBalance{}, err
	}
	return row.toModel()
}

func (qs queries) ListBalances(ctx context.Context, employeeID string) ([]ledger.LeaveBalance, error) {
	var rows []balanceRow
	err := qs.selectRows(ctx, &rows, "list balances",
		`SELECT `+balanceColumns+` FROM leave_balances WHERE employee_id = ? ORDER BY leave_type_id`, employeeID)
	if err != nil {
		return nil, err
	}
	return convert[ledger.LeaveBalance](rows)
}

// =============================================================================
// REQUESTS
// =============================================================================

// requestWhere renders a RequestFilter. fromCol/toCol bound the request's
// date span.
func requestWhere(f ledger.RequestFilter, fromCol, toCol string) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	if f.EmployeeID != "" {
		conds = append(conds, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, s := range f.Status {
			statuses[i] = string(s)
		}
		in, inArgs, err := sqlx.In("status IN (?)", statuses)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, in)
		args = append(args, inArgs...)
	}
	if !f.From.IsZero() {
		conds = append(conds, toCol+" >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		conds = append(conds, fromCol+" <= ?")
		args = append(args, f.To.String())
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (qs queries) GetLeaveRequest(ctx context.Context, id string) (ledger.LeaveRequest, error) {
	return qs.leaveRequest(ctx, id, "")
}

func (qs queries) leaveRequest(ctx context.Context, id, suffix string) (ledger.LeaveRequest, error) {
	var row leaveRequestRow
	if err := qs.get(ctx, &row, "leave_request", id, `SELECT `+leaveRequestColumns+` FROM leave_requests WHERE id = ?`+suffix, id); err != nil {
		return ledger.LeaveRequest{}, err
	}
	return row.toModel()
}

func (qs queries) ListLeaveRequests(ctx context.Context, f ledger.RequestFilter) ([]ledger.LeaveRequest, error) {
	where, args, err := requestWhere(f, "date_from", "date_to")
	if err != nil {
		return nil, generic.Storage("list leave requests", err)
	}
	var rows []leaveRequestRow
	if err := qs.selectRows(ctx, &rows, "list leave requests", `SELECT `+leaveRequestColumns+` FROM leave_requests`+where+` ORDER BY created_at, id`, args...); err != nil {
		return nil, err
	}
	return convert[ledger.LeaveRequest](rows)
}

func (qs queries) GetPassSlip(ctx context.Context, id string) (ledger.PassSlipRequest, error) {
	return qs.passSlip(ctx, id, "")
}

func (qs queries) passSlip(ctx context.Context, id, suffix string) (ledger.PassSlipRequest, error) {
	var row passSlipRow
	if err := qs.get(ctx, &row, "pass_slip", id, `SELECT `+passSlipColumns+` FROM pass_slips WHERE id = ?`+suffix, id); err != nil {
		return ledger.PassSlipRequest{}, err
	}
	return row.toModel()
}

func (qs queries) ListPassSlips(ctx context.Context, f ledger.RequestFilter) ([]ledger.PassSlipRequest, error) {
	where, args, err := requestWhere(f, "slip_date", "slip_date")
	if err != nil {
		return nil, generic.Storage("list pass slips", err)
	}
	var rows []passSlipRow
	if err := qs.selectRows(ctx, &rows, "list pass slips", `SELECT `+passSlipColumns+` FROM pass_slips`+where+` ORDER BY created_at, id`, args...); err != nil {
		return nil, err
	}
	return convert[ledger.PassSlipRequest](rows)
}

// =============================================================================
// MONETIZATION & AUDIT
// =============================================================================

func (qs queries) GetMonetization(ctx context.Context, id string) (ledger.MonetizationRecord, error) {
	var row monetizationRow
	if err := qs.get(ctx, &row, "monetization", id, `SELECT `+monetizationColumns+` FROM monetizations WHERE id = ?`, id); err != nil {
		return ledger.MonetizationRecord{}, err
	}
	return row.toModel()
}

func (qs queries) ListMonetizations(ctx context.Context, employeeID string) ([]ledger.MonetizationRecord, error) {
	var rows []monetizationRow
	err := qs.selectRows(ctx, &rows, "list monetizations",
		`SELECT `+monetizationColumns+` FROM monetizations WHERE employee_id = ? ORDER BY generated_at, id`, employeeID)
	if err != nil {
		return nil, err
	}
	return convert[ledger.MonetizationRecord](rows)
}

func (qs queries) ListAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	for _, c := range []struct{ col, val string }{
		{"entity_type", f.EntityType},
		{"entity_id", f.EntityID},
		{"module", string(f.Module)},
		{"actor_id", f.ActorID},
	} {
		if c.val != "" {
			conds = append(conds, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	query := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []auditRow
	if err := qs.selectRows(ctx, &rows, "list audit", query, args...); err != nil {
		return nil, err
	}
	return convert[ledger.AuditEntry](rows)
}
