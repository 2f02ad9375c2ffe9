/*
dto.go - Request and response bodies of the HTTP adapter

PURPOSE:
  Defines the JSON structures for API communication. Domain records
  (ledger.*) are returned as they are; only inputs and envelopes that
  have no domain type live here.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

TYPES:
  Lifecycle:     DecisionRequest, ReturnRequest
  Balance:       AccrueRequest, AdjustRequest, BalanceResponse
  Monetization:  MonetizeRequest, CorrectRequest
  Errors:        ErrorResponse, ErrorBody

  Leave and pass slip submissions decode straight into leave.SubmitInput
  and passslip.SubmitInput.

VALIDATION:
  Validation is done by the services, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: Error envelope
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/hr-ledger/balance"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// =============================================================================
// LIFECYCLE
// =============================================================================

// DecisionRequest approves or denies a pending request.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment,omitempty"`
}

// ReturnRequest records when an employee came back from a pass slip.
type ReturnRequest struct {
	ActualTimeIn generic.ClockTime `json:"actual_time_in"`
}

// =============================================================================
// BALANCE
// =============================================================================

// AccrueRequest credits one balance through a month.
type AccrueRequest struct {
	EmployeeID  string        `json:"employee_id"`
	LeaveTypeID string        `json:"leave_type_id"`
	Through     generic.Month `json:"through"`
}

// AdjustRequest is a manual consume or restore.
type AdjustRequest struct {
	EmployeeID  string          `json:"employee_id"`
	LeaveTypeID string          `json:"leave_type_id"`
	Days        decimal.Decimal `json:"days"`
}

// BalanceResponse is the result of a balance operation.
type BalanceResponse struct {
	Balance ledger.LeaveBalance `json:"balance"`
	Change  balance.Change      `json:"change"`
	Changed bool                `json:"changed"`
}

func toBalanceResponse(res balance.Result) BalanceResponse {
	return BalanceResponse{Balance: res.Balance, Change: res.Change, Changed: res.Changed}
}

// =============================================================================
// MONETIZATION
// =============================================================================

// MonetizeRequest computes a terminal leave payout.
type MonetizeRequest struct {
	EmployeeID     string          `json:"employee_id"`
	RetirementDate generic.Date    `json:"retirement_date"`
	DailyRate      decimal.Decimal `json:"daily_rate"`
}

// CorrectRequest recomputes an existing record.
type CorrectRequest struct {
	RetirementDate generic.Date    `json:"retirement_date"`
	DailyRate      decimal.Decimal `json:"daily_rate"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response. Current carries the
// unchanged entity when a transition was rejected.
type ErrorResponse struct {
	Error   ErrorBody `json:"error"`
	Current any       `json:"current,omitempty"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}
