// Package ledger defines the aggregates of the HR ledger and the storage
// contract the core engines run against.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hr-ledger/generic"
)

// =============================================================================
// EMPLOYEE
// =============================================================================

type EmployeeStatus string

const (
	EmployeeActive    EmployeeStatus = "active"
	EmployeeSeparated EmployeeStatus = "separated"
	EmployeeArchived  EmployeeStatus = "archived"
)

// Employee is immutable once archived. DepartmentID, CreatedBy and UpdatedBy
// are plain references and are never dereferenced by the core.
type Employee struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	HireDate     generic.Date   `json:"hire_date"`
	Status       EmployeeStatus `json:"status"`
	DepartmentID string         `json:"department_id,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	UpdatedBy    string         `json:"updated_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// =============================================================================
// LEAVE TYPE & BALANCE
// =============================================================================

// Leave type codes the monetization policy looks up.
const (
	CodeVacationLeave = "VL"
	CodeSickLeave     = "SL"
)

type LeaveType struct {
	ID                         string           `json:"id"`
	Code                       string           `json:"code"`
	Name                       string           `json:"name"`
	AccrualRate                decimal.Decimal  `json:"accrual_rate"`
	MaxBalance                 *decimal.Decimal `json:"max_balance,omitempty"` // nil = unbounded
	RequiresMedicalCertificate bool             `json:"requires_medical_certificate"`
	Monetizable                bool             `json:"monetizable"`
	CreatedAt                  time.Time        `json:"created_at"`
	UpdatedAt                  time.Time        `json:"updated_at"`
}

// Cap applies MaxBalance to d.
func (lt LeaveType) Cap(d decimal.Decimal) decimal.Decimal {
	if lt.MaxBalance == nil {
		return d
	}
	return generic.MinDecimal(d, *lt.MaxBalance)
}

// LeaveBalance is written only by the balance engine.
type LeaveBalance struct {
	EmployeeID         string          `json:"employee_id"`
	LeaveTypeID        string          `json:"leave_type_id"`
	Balance            decimal.Decimal `json:"balance"`
	LastAccruedThrough generic.Month   `json:"last_accrued_through"`
	Version            int64           `json:"version"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// MarshalJSON renders the balance with two fraction digits.
func (b LeaveBalance) MarshalJSON() ([]byte, error) {
	type wire LeaveBalance
	return json.Marshal(struct {
		wire
		Balance string `json:"balance"`
	}{wire(b), generic.FixedString(b.Balance)})
}

// BalanceKey is the unit of mutual exclusion for balance mutations.
func BalanceKey(employeeID, leaveTypeID string) string {
	return employeeID + "/" + leaveTypeID
}

// =============================================================================
// PASS SLIP
// =============================================================================

type PassSlipType string

const (
	PassSlipPlanned   PassSlipType = "planned"
	PassSlipEmergency PassSlipType = "emergency"
)

type PassSlipRequest struct {
	ID             string             `json:"id"`
	Reference      string             `json:"reference"`
	EmployeeID     string             `json:"employee_id"`
	Type           PassSlipType       `json:"type"`
	Date           generic.Date       `json:"date"`
	TimeOut        generic.ClockTime  `json:"time_out"`
	ExpectedTimeIn generic.ClockTime  `json:"expected_time_in"`
	ActualTimeIn   *generic.ClockTime `json:"actual_time_in,omitempty"`
	Destination    string             `json:"destination,omitempty"`
	Purpose        string             `json:"purpose,omitempty"`
	Status         generic.Status     `json:"status"`
	ApproverID     *string            `json:"approver_id,omitempty"`
	Comment        string             `json:"comment,omitempty"`
	DecidedAt      *time.Time         `json:"decided_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type HalfDayPeriod string

const (
	PeriodAM HalfDayPeriod = "AM"
	PeriodPM HalfDayPeriod = "PM"
)

type LeaveRequest struct {
	ID                 string          `json:"id"`
	Reference          string          `json:"reference"`
	EmployeeID         string          `json:"employee_id"`
	LeaveTypeID        string          `json:"leave_type_id"`
	DateFrom           generic.Date    `json:"date_from"`
	DateTo             generic.Date    `json:"date_to"`
	IsHalfDay          bool            `json:"is_half_day"`
	Period             HalfDayPeriod   `json:"period,omitempty"`
	Days               decimal.Decimal `json:"days"`
	Reason             string          `json:"reason,omitempty"`
	MedicalCertificate string          `json:"medical_certificate,omitempty"`
	Status             generic.Status  `json:"status"`
	ApproverID         *string         `json:"approver_id,omitempty"`
	Comment            string          `json:"comment,omitempty"`
	DecidedAt          *time.Time      `json:"decided_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (r LeaveRequest) MarshalJSON() ([]byte, error) {
	type wire LeaveRequest
	return json.Marshal(struct {
		wire
		Days string `json:"days"`
	}{wire(r), generic.FixedString(r.Days)})
}

// Overlaps reports whether two requests claim the same time. Ranges are
// closed; two half days on one date overlap only when their periods match.
func (r LeaveRequest) Overlaps(o LeaveRequest) bool {
	if r.DateFrom.After(o.DateTo) || o.DateFrom.After(r.DateTo) {
		return false
	}
	if r.IsHalfDay && o.IsHalfDay {
		return r.Period == o.Period
	}
	return true
}

// =============================================================================
// MONETIZATION
// =============================================================================

// MonetizationRecord is write-once. A correction is a new record whose
// Supersedes points at the old one.
type MonetizationRecord struct {
	ID                   string          `json:"id"`
	EmployeeID           string          `json:"employee_id"`
	RetirementDate       generic.Date    `json:"retirement_date"`
	VLBalance            decimal.Decimal `json:"vl_balance"`
	SLBalance            decimal.Decimal `json:"sl_balance"`
	TotalMonetizableDays decimal.Decimal `json:"total_monetizable_days"`
	DailyRate            decimal.Decimal `json:"daily_rate"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Supersedes           *string         `json:"supersedes,omitempty"`
	GeneratedBy          *string         `json:"generated_by,omitempty"`
	GeneratedAt          time.Time       `json:"generated_at"`
}

// MarshalJSON renders day and money fields with two fraction digits.
func (m MonetizationRecord) MarshalJSON() ([]byte, error) {
	type wire MonetizationRecord
	return json.Marshal(struct {
		wire
		VLBalance            string `json:"vl_balance"`
		SLBalance            string `json:"sl_balance"`
		TotalMonetizableDays string `json:"total_monetizable_days"`
		DailyRate            string `json:"daily_rate"`
		TotalAmount          string `json:"total_amount"`
	}{
		wire:                 wire(m),
		VLBalance:            generic.FixedString(m.VLBalance),
		SLBalance:            generic.FixedString(m.SLBalance),
		TotalMonetizableDays: generic.FixedString(m.TotalMonetizableDays),
		DailyRate:            generic.FixedString(m.DailyRate),
		TotalAmount:          generic.FixedString(m.TotalAmount),
	})
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditAction string

const (
	AuditSubmitted        AuditAction = "submitted"
	AuditApproved         AuditAction = "approved"
	AuditDenied           AuditAction = "denied"
	AuditCancelled        AuditAction = "cancelled"
	AuditReturnRecorded   AuditAction = "return_recorded"
	AuditAccrued          AuditAction = "accrued"
	AuditConsumed         AuditAction = "consumed"
	AuditRestored         AuditAction = "restored"
	AuditMonetized        AuditAction = "monetized"
	AuditEmployeeChanged  AuditAction = "employee_changed"
	AuditLeaveTypeChanged AuditAction = "leave_type_changed"
)

// AuditEntry is append-only. ID ordering is the causal order per entity.
type AuditEntry struct {
	ID         int64           `json:"id"`
	ActorID    *string         `json:"actor_id,omitempty"`
	Action     AuditAction     `json:"action"`
	Module     generic.Module  `json:"module"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Module     generic.Module
	ActorID    string
	Limit      int
}

// Matches applies the filter to a single entry.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.ActorID != "" && (e.ActorID == nil || *e.ActorID != f.ActorID) {
		return false
	}
	return true
}
