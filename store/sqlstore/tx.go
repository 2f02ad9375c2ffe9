package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// sqlTx implements ledger.Tx on an open transaction.
type sqlTx struct {
	queries
}

var _ ledger.Tx = (*sqlTx)(nil)

func (t *sqlTx) exec(ctx context.Context, op, query string, args ...any) error {
	_, err := t.q.ExecContext(ctx, t.rebind(query), args...)
	return generic.Storage(op, err)
}

// =============================================================================
// LOCKS
// =============================================================================

func (t *sqlTx) LockLeaveRequest(ctx context.Context, id string) (ledger.LeaveRequest, error) {
	return t.leaveRequest(ctx, id, t.d.forUpdate())
}

func (t *sqlTx) LockPassSlip(ctx context.Context, id string) (ledger.PassSlipRequest, error) {
	return t.passSlip(ctx, id, t.d.forUpdate())
}

// LockEmployeeLeave locks the employee row; approvals of one employee
// queue behind it.
func (t *sqlTx) LockEmployeeLeave(ctx context.Context, employeeID string) error {
	var id string
	return t.get(ctx, &id, "employee", employeeID, `SELECT id FROM employees WHERE id = ?`+t.d.forUpdate(), employeeID)
}

// LockBalance inserts a zero row when none exists, then locks it.
func (t *sqlTx) LockBalance(ctx context.Context, employeeID, leaveTypeID string) (ledger.LeaveBalance, error) {
	err := t.exec(ctx, "create balance",
		`INSERT INTO leave_balances (employee_id, leave_type_id) VALUES (?, ?)
		 ON CONFLICT (employee_id, leave_type_id) DO NOTHING`,
		employeeID, leaveTypeID)
	if err != nil {
		return ledger.LeaveBalance{}, err
	}
	var row balanceRow
	err = t.get(ctx, &row, "leave_balance", ledger.BalanceKey(employeeID, leaveTypeID),
		`SELECT `+balanceColumns+` FROM leave_balances WHERE employee_id = ? AND leave_type_id = ?`+t.d.forUpdate(),
		employeeID, leaveTypeID)
	if err != nil {
		return ledger.LeaveBalance{}, err
	}
	return row.toModel()
}

// =============================================================================
// PUTS
// =============================================================================

func (t *sqlTx) PutEmployee(ctx context.Context, e ledger.Employee) error {
	return t.exec(ctx, "put employee",
		`INSERT INTO employees (`+employeeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			hire_date = excluded.hire_date,
			status = excluded.status,
			department_id = excluded.department_id,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`,
		e.ID, e.Name, e.HireDate.String(), string(e.Status), e.DepartmentID, e.CreatedBy, e.UpdatedBy,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
}

func (t *sqlTx) PutLeaveType(ctx context.Context, lt ledger.LeaveType) error {
	var limit sql.NullString
	if lt.MaxBalance != nil {
		limit = sql.NullString{String: lt.MaxBalance.String(), Valid: true}
	}
	err := t.exec(ctx, "put leave type",
		`INSERT INTO leave_types (`+leaveTypeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			accrual_rate = excluded.accrual_rate,
			max_balance = excluded.max_balance,
			requires_medical_certificate = excluded.requires_medical_certificate,
			monetizable = excluded.monetizable,
			updated_at = excluded.updated_at`,
		lt.ID, lt.Code, lt.Name, lt.AccrualRate.String(), limit, lt.RequiresMedicalCertificate, lt.Monetizable,
		formatTime(lt.CreatedAt), formatTime(lt.UpdatedAt))
	if isUniqueViolation(err) {
		return &generic.ConflictError{Entity: "leave_type", ID: lt.ID, Reason: "code " + lt.Code + " is taken"}
	}
	return err
}

func (t *sqlTx) PutBalance(ctx context.Context, b ledger.LeaveBalance) error {
	month := ""
	if !b.LastAccruedThrough.IsZero() {
		month = b.LastAccruedThrough.String()
	}
	return t.exec(ctx, "put balance",
		`INSERT INTO leave_balances (`+balanceColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (employee_id, leave_type_id) DO UPDATE SET
			balance = excluded.balance,
			last_accrued_through = excluded.last_accrued_through,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		b.EmployeeID, b.LeaveTypeID, b.Balance.String(), month, b.Version, formatTime(b.UpdatedAt))
}

func (t *sqlTx) PutLeaveRequest(ctx context.Context, r ledger.LeaveRequest) error {
	err := t.exec(ctx, "put leave request",
		`INSERT INTO leave_requests (`+leaveRequestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			approver_id = excluded.approver_id,
			comment = excluded.comment,
			decided_at = excluded.decided_at,
			cancelled_at = excluded.cancelled_at,
			updated_at = excluded.updated_at`,
		r.ID, r.Reference, r.EmployeeID, r.LeaveTypeID, r.DateFrom.String(), r.DateTo.String(), r.IsHalfDay,
		string(r.Period), r.Days.String(), r.Reason, r.MedicalCertificate, string(r.Status), nullString(r.ApproverID),
		r.Comment, formatTimePtr(r.DecidedAt), formatTimePtr(r.CancelledAt), formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if isUniqueViolation(err) {
		return &generic.ConflictError{Entity: "leave_request", ID: r.ID, Reason: "reference " + r.Reference + " already used"}
	}
	return err
}

func (t *sqlTx) PutPassSlip(ctx context.Context, p ledger.PassSlipRequest) error {
	var actual sql.NullString
	if p.ActualTimeIn != nil {
		actual = sql.NullString{String: p.ActualTimeIn.String(), Valid: true}
	}
	err := t.exec(ctx, "put pass slip",
		`INSERT INTO pass_slips (`+passSlipColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			actual_time_in = excluded.actual_time_in,
			status = excluded.status,
			approver_id = excluded.approver_id,
			comment = excluded.comment,
			decided_at = excluded.decided_at,
			updated_at = excluded.updated_at`,
		p.ID, p.Reference, p.EmployeeID, string(p.Type), p.Date.String(), p.TimeOut.String(), p.ExpectedTimeIn.String(),
		actual, p.Destination, p.Purpose, string(p.Status), nullString(p.ApproverID), p.Comment,
		formatTimePtr(p.DecidedAt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if isUniqueViolation(err) {
		return &generic.ConflictError{Entity: "pass_slip", ID: p.ID, Reason: "reference " + p.Reference + " already used"}
	}
	return err
}

func (t *sqlTx) InsertMonetization(ctx context.Context, m ledger.MonetizationRecord) error {
	err := t.exec(ctx, "insert monetization",
		`INSERT INTO monetizations (`+monetizationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.EmployeeID, m.RetirementDate.String(), m.VLBalance.String(), m.SLBalance.String(),
		m.TotalMonetizableDays.String(), m.DailyRate.String(), m.TotalAmount.String(),
		nullString(m.Supersedes), nullString(m.GeneratedBy), formatTime(m.GeneratedAt))
	if isUniqueViolation(err) {
		return &generic.ConflictError{Entity: "monetization", ID: m.ID, Reason: "record already exists"}
	}
	return err
}

// =============================================================================
// SEQUENCES & AUDIT
// =============================================================================

func (t *sqlTx) NextSequence(ctx context.Context, scope string, year int) (int, error) {
	var next int
	err := t.get(ctx, &next, "sequence", scope,
		`INSERT INTO sequences (scope, year, value) VALUES (?, ?, 1)
		 ON CONFLICT (scope, year) DO UPDATE SET value = sequences.value + 1
		 RETURNING value`,
		scope, year)
	return next, err
}

func (t *sqlTx) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return t.exec(ctx, "append audit",
		`INSERT INTO audit_log (actor_id, action, module, entity_type, entity_id, before_json, after_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(e.ActorID), string(e.Action), string(e.Module), e.EntityType, e.EntityID,
		nullJSON(e.Before), nullJSON(e.After), formatTime(ts))
}
