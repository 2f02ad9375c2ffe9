/*
store.go - Persistence contract for the HR ledger

PURPOSE:
  Defines the interface between the core engines and durable storage.
  Every mutation happens inside WithTx; reads outside a transaction are
  snapshot reads that take no locks.

KEY INTERFACES:
  Reader: snapshot reads (committed state only)
  Tx:     reads that see the transaction's own writes, row locks, puts,
          sequences and the audit append
  Store:  Reader + WithTx

ATOMICITY:
  If fn passed to WithTx returns an error, nothing it wrote is visible,
  including audit entries and sequence allocations.

LOCKING:
  Lock* methods take a row lock held until the transaction ends. Callers
  must lock in this order to stay deadlock free:

    request row  ->  employee approval scope  ->  balance row

  Monetization never locks; it reads balances through Reader.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, per-key lock table
  - store/sqlstore: sqlite3 (BEGIN IMMEDIATE) and postgres (FOR UPDATE)

SEE ALSO:
  - records.go: Aggregate definitions
  - audit/recorder.go: The only caller of AppendAudit
*/
package ledger

import (
	"context"

	"github.com/warp/hr-ledger/generic"
)

// =============================================================================
// READER - Snapshot reads
// =============================================================================

// Reader methods return a *generic.NotFoundError for missing aggregates,
// except GetBalance which returns a zero balance.
type Reader interface {
	GetEmployee(ctx context.Context, id string) (Employee, error)
	ListEmployees(ctx context.Context, status EmployeeStatus) ([]Employee, error)

	GetLeaveType(ctx context.Context, id string) (LeaveType, error)
	GetLeaveTypeByCode(ctx context.Context, code string) (LeaveType, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)

	GetBalance(ctx context.Context, employeeID, leaveTypeID string) (LeaveBalance, error)
	ListBalances(ctx context.Context, employeeID string) ([]LeaveBalance, error)

	GetLeaveRequest(ctx context.Context, id string) (LeaveRequest, error)
	ListLeaveRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error)

	GetPassSlip(ctx context.Context, id string) (PassSlipRequest, error)
	ListPassSlips(ctx context.Context, filter RequestFilter) ([]PassSlipRequest, error)

	GetMonetization(ctx context.Context, id string) (MonetizationRecord, error)
	ListMonetizations(ctx context.Context, employeeID string) ([]MonetizationRecord, error)

	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// RequestFilter selects requests. Zero fields match everything. From/To
// select requests whose date span intersects [From, To].
type RequestFilter struct {
	EmployeeID string
	Status     []generic.Status
	From       generic.Date
	To         generic.Date
}

// MatchesStatus applies the status set.
func (f RequestFilter) MatchesStatus(s generic.Status) bool {
	if len(f.Status) == 0 {
		return true
	}
	for _, want := range f.Status {
		if want == s {
			return true
		}
	}
	return false
}

// MatchesSpan applies the date window to a [from, to] span.
func (f RequestFilter) MatchesSpan(from, to generic.Date) bool {
	if !f.From.IsZero() && to.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && from.After(f.To) {
		return false
	}
	return true
}

// =============================================================================
// TX - Transactional view
// =============================================================================

type Tx interface {
	Reader

	// LockLeaveRequest row-locks and returns the request.
	LockLeaveRequest(ctx context.Context, id string) (LeaveRequest, error)
	// LockPassSlip row-locks and returns the pass slip.
	LockPassSlip(ctx context.Context, id string) (PassSlipRequest, error)
	// LockEmployeeLeave serializes leave approvals of one employee so the
	// overlap check sees every committed approval.
	LockEmployeeLeave(ctx context.Context, employeeID string) error
	// LockBalance row-locks the balance, creating a zero row if none exists.
	LockBalance(ctx context.Context, employeeID, leaveTypeID string) (LeaveBalance, error)

	PutEmployee(ctx context.Context, e Employee) error
	PutLeaveType(ctx context.Context, lt LeaveType) error
	PutBalance(ctx context.Context, b LeaveBalance) error
	PutLeaveRequest(ctx context.Context, r LeaveRequest) error
	PutPassSlip(ctx context.Context, p PassSlipRequest) error

	// InsertMonetization fails with a *generic.ConflictError if the id exists.
	InsertMonetization(ctx context.Context, m MonetizationRecord) error

	// NextSequence returns the next value of the (scope, year) counter,
	// starting at 1.
	NextSequence(ctx context.Context, scope string, year int) (int, error)

	// AppendAudit stores an entry. The store assigns ID; ids are strictly
	// increasing in commit order.
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
