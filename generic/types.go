/*
Package generic provides the domain-agnostic primitives of the HR ledger.

PURPOSE:
  Everything the request lifecycle, the balance engine and the monetization
  calculator share lives here: fixed-point day quantities, civil dates,
  the error taxonomy, the request state machine and the capability gate
  interface. Nothing in this package knows about leave types or pass slips.

KEY CONCEPTS IN THIS FILE (types.go):
  - Days:   decimal.Decimal quantized to 2 fractional digits
  - Actor:  who is performing an operation (id + role)
  - Module / Action / Role: capability vocabulary checked through a Gate

DESIGN PRINCIPLES:
  1. Precision: all day and money math uses decimal.Decimal, never float64
  2. Type Safety: strong string types for ids and capability names
  3. Auditability: every operation carries an Actor (nil for system jobs)

USAGE:
  d, err := generic.ParseDays("1.50")
  actor := generic.Actor{ID: "emp-7", Role: "supervisor"}

SEE ALSO:
  - errors.go: Error taxonomy
  - lifecycle.go: Request state machine
  - time.go: Date, Month and ClockTime
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Fixed-point quantity with two fractional digits
// =============================================================================

// DayPrecision is the number of fractional digits kept for balances and deltas.
const DayPrecision = 2

var (
	HalfDay = decimal.RequireFromString("0.5")
	OneDay  = decimal.NewFromInt(1)
)

// ParseDays parses a decimal string and rejects values that carry more than
// two fractional digits.
func ParseDays(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "days", Reason: fmt.Sprintf("not a decimal: %q", s)}
	}
	if !HasDayPrecision(d) {
		return decimal.Zero, &ValidationError{Field: "days", Reason: "at most 2 fractional digits allowed"}
	}
	return d, nil
}

// MustParseDecimal is for literals in tests and presets. It panics on a
// malformed literal.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// FixedString renders d with exactly DayPrecision fraction digits, the wire
// form of day quantities and money.
func FixedString(d decimal.Decimal) string {
	return d.StringFixed(DayPrecision)
}

// Quantize rounds half-up (away from zero) to DayPrecision.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(DayPrecision)
}

// HasDayPrecision reports whether d is exactly representable with two
// fractional digits.
func HasDayPrecision(d decimal.Decimal) bool {
	return d.Equal(Quantize(d))
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS & CAPABILITIES
// =============================================================================

type Role string

type Module string

type Action string

const (
	ModuleLeave        Module = "leave"
	ModulePassSlip     Module = "pass_slip"
	ModuleBalance      Module = "leave_balance"
	ModuleMonetization Module = "monetization"
	ModuleDirectory    Module = "directory"
)

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionCancel  Action = "cancel"
	ActionManage  Action = "manage"
)

// Actor identifies who performs an operation. A nil *Actor means the system.
type Actor struct {
	ID   string
	Role Role
}

// ActorID returns the actor reference recorded in audit entries.
func (a *Actor) ActorID() *string {
	if a == nil || a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}
