package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// =============================================================================
// ENCODING HELPERS
// =============================================================================

// timeLayout is fixed width so TEXT comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if raw == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// decoder accumulates the first parse error so row conversion stays flat.
type decoder struct {
	err error
}

func (d *decoder) fail(field string, err error) {
	if d.err == nil && err != nil {
		d.err = fmt.Errorf("decode %s: %w", field, err)
	}
}

func (d *decoder) decimal(field, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	d.fail(field, err)
	return v
}

func (d *decoder) date(field, s string) generic.Date {
	var v generic.Date
	d.fail(field, v.UnmarshalText([]byte(s)))
	return v
}

func (d *decoder) month(field, s string) generic.Month {
	var v generic.Month
	d.fail(field, v.UnmarshalText([]byte(s)))
	return v
}

func (d *decoder) clock(field, s string) generic.ClockTime {
	v, err := generic.ParseClockTime(s)
	d.fail(field, err)
	return v
}

func (d *decoder) timestamp(field, s string) time.Time {
	v, err := parseTime(s)
	d.fail(field, err)
	return v
}

func (d *decoder) timestampPtr(field string, ns sql.NullString) *time.Time {
	v, err := parseTimePtr(ns)
	d.fail(field, err)
	return v
}

// =============================================================================
// ROWS
// =============================================================================

type employeeRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	HireDate     string `db:"hire_date"`
	Status       string `db:"status"`
	DepartmentID string `db:"department_id"`
	CreatedBy    string `db:"created_by"`
	UpdatedBy    string `db:"updated_by"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (r employeeRow) toModel() (ledger.Employee, error) {
	var d decoder
	e := ledger.Employee{
		ID:           r.ID,
		Name:         r.Name,
		HireDate:     d.date("hire_date", r.HireDate),
		Status:       ledger.EmployeeStatus(r.Status),
		DepartmentID: r.DepartmentID,
		CreatedBy:    r.CreatedBy,
		UpdatedBy:    r.UpdatedBy,
		CreatedAt:    d.timestamp("created_at", r.CreatedAt),
		UpdatedAt:    d.timestamp("updated_at", r.UpdatedAt),
	}
	return e, d.err
}

type leaveTypeRow struct {
	ID                         string         `db:"id"`
	Code                       string         `db:"code"`
	Name                       string         `db:"name"`
	AccrualRate                string         `db:"accrual_rate"`
	MaxBalance                 sql.NullString `db:"max_balance"`
	RequiresMedicalCertificate bool           `db:"requires_medical_certificate"`
	Monetizable                bool           `db:"monetizable"`
	CreatedAt                  string         `db:"created_at"`
	UpdatedAt                  string         `db:"updated_at"`
}

func (r leaveTypeRow) toModel() (ledger.LeaveType, error) {
	var d decoder
	lt := ledger.LeaveType{
		ID:                         r.ID,
		Code:                       r.Code,
		Name:                       r.Name,
		AccrualRate:                d.decimal("accrual_rate", r.AccrualRate),
		RequiresMedicalCertificate: r.RequiresMedicalCertificate,
		Monetizable:                r.Monetizable,
		CreatedAt:                  d.timestamp("created_at", r.CreatedAt),
		UpdatedAt:                  d.timestamp("updated_at", r.UpdatedAt),
	}
	if r.MaxBalance.Valid {
		limit := d.decimal("max_balance", r.MaxBalance.String)
		lt.MaxBalance = &limit
	}
	return lt, d.err
}

type balanceRow struct {
	EmployeeID         string `db:"employee_id"`
	LeaveTypeID        string `db:"leave_type_id"`
	Balance            string `db:"balance"`
	LastAccruedThrough string `db:"last_accrued_through"`
	Version            int64  `db:"version"`
	UpdatedAt          string `db:"updated_at"`
}

func (r balanceRow) toModel() (ledger.LeaveBalance, error) {
	var d decoder
	b := ledger.LeaveBalance{
		EmployeeID:         r.EmployeeID,
		LeaveTypeID:        r.LeaveTypeID,
		Balance:            d.decimal("balance", r.Balance),
		LastAccruedThrough: d.month("last_accrued_through", r.LastAccruedThrough),
		Version:            r.Version,
		UpdatedAt:          d.timestamp("updated_at", r.UpdatedAt),
	}
	return b, d.err
}

type leaveRequestRow struct {
	ID                 string         `db:"id"`
	Reference          string         `db:"reference"`
	EmployeeID         string         `db:"employee_id"`
	LeaveTypeID        string         `db:"leave_type_id"`
	DateFrom           string         `db:"date_from"`
	DateTo             string         `db:"date_to"`
	IsHalfDay          bool           `db:"is_half_day"`
	Period             string         `db:"period"`
	Days               string         `db:"days"`
	Reason             string         `db:"reason"`
	MedicalCertificate string         `db:"medical_certificate"`
	Status             string         `db:"status"`
	ApproverID         sql.NullString `db:"approver_id"`
	Comment            string         `db:"comment"`
	DecidedAt          sql.NullString `db:"decided_at"`
	CancelledAt        sql.NullString `db:"cancelled_at"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
}

func (r leaveRequestRow) toModel() (ledger.LeaveRequest, error) {
	var d decoder
	req := ledger.LeaveRequest{
		ID:                 r.ID,
		Reference:          r.Reference,
		EmployeeID:         r.EmployeeID,
		LeaveTypeID:        r.LeaveTypeID,
		DateFrom:           d.date("date_from", r.DateFrom),
		DateTo:             d.date("date_to", r.DateTo),
		IsHalfDay:          r.IsHalfDay,
		Period:             ledger.HalfDayPeriod(r.Period),
		Days:               d.decimal("days", r.Days),
		Reason:             r.Reason,
		MedicalCertificate: r.MedicalCertificate,
		Status:             generic.Status(r.Status),
		ApproverID:         stringPtr(r.ApproverID),
		Comment:            r.Comment,
		DecidedAt:          d.timestampPtr("decided_at", r.DecidedAt),
		CancelledAt:        d.timestampPtr("cancelled_at", r.CancelledAt),
		CreatedAt:          d.timestamp("created_at", r.CreatedAt),
		UpdatedAt:          d.timestamp("updated_at", r.UpdatedAt),
	}
	return req, d.err
}

type passSlipRow struct {
	ID             string         `db:"id"`
	Reference      string         `db:"reference"`
	EmployeeID     string         `db:"employee_id"`
	Type           string         `db:"slip_type"`
	Date           string         `db:"slip_date"`
	TimeOut        string         `db:"time_out"`
	ExpectedTimeIn string         `db:"expected_time_in"`
	ActualTimeIn   sql.NullString `db:"actual_time_in"`
	Destination    string         `db:"destination"`
	Purpose        string         `db:"purpose"`
	Status         string         `db:"status"`
	ApproverID     sql.NullString `db:"approver_id"`
	Comment        string         `db:"comment"`
	DecidedAt      sql.NullString `db:"decided_at"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (r passSlipRow) toModel() (ledger.PassSlipRequest, error) {
	var d decoder
	p := ledger.PassSlipRequest{
		ID:             r.ID,
		Reference:      r.Reference,
		EmployeeID:     r.EmployeeID,
		Type:           ledger.PassSlipType(r.Type),
		Date:           d.date("slip_date", r.Date),
		TimeOut:        d.clock("time_out", r.TimeOut),
		ExpectedTimeIn: d.clock("expected_time_in", r.ExpectedTimeIn),
		Destination:    r.Destination,
		Purpose:        r.Purpose,
		Status:         generic.Status(r.Status),
		ApproverID:     stringPtr(r.ApproverID),
		Comment:        r.Comment,
		DecidedAt:      d.timestampPtr("decided_at", r.DecidedAt),
		CreatedAt:      d.timestamp("created_at", r.CreatedAt),
		UpdatedAt:      d.timestamp("updated_at", r.UpdatedAt),
	}
	if r.ActualTimeIn.Valid {
		in := d.clock("actual_time_in", r.ActualTimeIn.String)
		p.ActualTimeIn = &in
	}
	return p, d.err
}

type monetizationRow struct {
	ID             string         `db:"id"`
	EmployeeID     string         `db:"employee_id"`
	RetirementDate string         `db:"retirement_date"`
	VLBalance      string         `db:"vl_balance"`
	SLBalance      string         `db:"sl_balance"`
	TotalDays      string         `db:"total_days"`
	DailyRate      string         `db:"daily_rate"`
	TotalAmount    string         `db:"total_amount"`
	Supersedes     sql.NullString `db:"supersedes"`
	GeneratedBy    sql.NullString `db:"generated_by"`
	GeneratedAt    string         `db:"generated_at"`
}

func (r monetizationRow) toModel() (ledger.MonetizationRecord, error) {
	var d decoder
	m := ledger.MonetizationRecord{
		ID:                   r.ID,
		EmployeeID:           r.EmployeeID,
		RetirementDate:       d.date("retirement_date", r.RetirementDate),
		VLBalance:            d.decimal("vl_balance", r.VLBalance),
		SLBalance:            d.decimal("sl_balance", r.SLBalance),
		TotalMonetizableDays: d.decimal("total_days", r.TotalDays),
		DailyRate:            d.decimal("daily_rate", r.DailyRate),
		TotalAmount:          d.decimal("total_amount", r.TotalAmount),
		Supersedes:           stringPtr(r.Supersedes),
		GeneratedBy:          stringPtr(r.GeneratedBy),
		GeneratedAt:          d.timestamp("generated_at", r.GeneratedAt),
	}
	return m, d.err
}

type auditRow struct {
	ID         int64          `db:"id"`
	ActorID    sql.NullString `db:"actor_id"`
	Action     string         `db:"action"`
	Module     string         `db:"module"`
	EntityType string         `db:"entity_type"`
	EntityID   string         `db:"entity_id"`
	Before     sql.NullString `db:"before_json"`
	After      sql.NullString `db:"after_json"`
	CreatedAt  string         `db:"created_at"`
}

func (r auditRow) toModel() (ledger.AuditEntry, error) {
	var d decoder
	e := ledger.AuditEntry{
		ID:         r.ID,
		ActorID:    stringPtr(r.ActorID),
		Action:     ledger.AuditAction(r.Action),
		Module:     generic.Module(r.Module),
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Timestamp:  d.timestamp("created_at", r.CreatedAt),
	}
	if r.Before.Valid {
		e.Before = json.RawMessage(r.Before.String)
	}
	if r.After.Valid {
		e.After = json.RawMessage(r.After.String)
	}
	return e, d.err
}

// convert maps toModel over a result set.
func convert[M any, R interface{ toModel() (M, error) }](rows []R) ([]M, error) {
	out := make([]M, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
