// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps committed state in maps guarded by mu. Transactions buffer
// their writes and apply them in one critical section on commit. Row locks
// live in a separate lock table so transactions on different keys never
// wait on each other.
type Memory struct {
	*view

	mu          sync.RWMutex
	committed   *data
	locks       *lockTable
	nextAuditID int64
}

type seqKey struct {
	Scope string
	Year  int
}

type data struct {
	employees     map[string]ledger.Employee
	leaveTypes    map[string]ledger.LeaveType
	balances      map[string]ledger.LeaveBalance
	leaveRequests map[string]ledger.LeaveRequest
	passSlips     map[string]ledger.PassSlipRequest
	monetizations map[string]ledger.MonetizationRecord
	sequences     map[seqKey]int
	audit         []ledger.AuditEntry
}

func newData() *data {
	return &data{
		employees:     make(map[string]ledger.Employee),
		leaveTypes:    make(map[string]ledger.LeaveType),
		balances:      make(map[string]ledger.LeaveBalance),
		leaveRequests: make(map[string]ledger.LeaveRequest),
		passSlips:     make(map[string]ledger.PassSlipRequest),
		monetizations: make(map[string]ledger.MonetizationRecord),
		sequences:     make(map[seqKey]int),
	}
}

func NewMemory() *Memory {
	m := &Memory{
		committed: newData(),
		locks:     newLockTable(),
	}
	m.view = &view{m: m}
	return m
}

var _ ledger.Store = (*Memory)(nil)

// WithTx executes fn against a buffered transaction. Nothing fn writes is
// visible to other readers until fn returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx := &memTx{
		view: &view{m: m, pending: newData()},
		held: make(map[string]bool),
	}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return generic.Storage("commit", err)
	}
	return m.commit(tx.pending)
}

func (m *Memory) commit(p *data) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range p.monetizations {
		if _, exists := m.committed.monetizations[id]; exists {
			return &generic.ConflictError{Entity: "monetization", ID: id, Reason: "record already exists"}
		}
	}

	c := m.committed
	copyInto(c.employees, p.employees)
	copyInto(c.leaveTypes, p.leaveTypes)
	copyInto(c.balances, p.balances)
	copyInto(c.leaveRequests, p.leaveRequests)
	copyInto(c.passSlips, p.passSlips)
	copyInto(c.monetizations, p.monetizations)
	copyInto(c.sequences, p.sequences)
	for _, e := range p.audit {
		m.nextAuditID++
		e.ID = m.nextAuditID
		c.audit = append(c.audit, e)
	}
	return nil
}

func copyInto[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

// =============================================================================
// LOCK TABLE - One single-slot semaphore per key
// =============================================================================

type lockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]chan struct{})}
}

func (lt *lockTable) slot(key string) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ch, ok := lt.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.slots[key] = ch
	}
	return ch
}

func (lt *lockTable) acquire(ctx context.Context, key string) error {
	select {
	case lt.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return generic.Storage("lock "+key, ctx.Err())
	}
}

func (lt *lockTable) release(key string) {
	<-lt.slot(key)
}

// =============================================================================
// VIEW - Reads over committed state plus an optional pending overlay
// =============================================================================

type view struct {
	m       *Memory
	pending *data // nil for snapshot reads
}

func lookup[K comparable, V any](v *view, pick func(*data) map[K]V, k K) (V, bool) {
	if v.pending != nil {
		if val, ok := pick(v.pending)[k]; ok {
			return val, true
		}
	}
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	val, ok := pick(v.m.committed)[k]
	return val, ok
}

func all[K comparable, V any](v *view, pick func(*data) map[K]V) []V {
	v.m.mu.RLock()
	merged := make(map[K]V, len(pick(v.m.committed)))
	copyInto(merged, pick(v.m.committed))
	v.m.mu.RUnlock()
	if v.pending != nil {
		copyInto(merged, pick(v.pending))
	}
	out := make([]V, 0, len(merged))
	for _, val := range merged {
		out = append(out, val)
	}
	return out
}

func (v *view) GetEmployee(_ context.Context, id string) (ledger.Employee, error) {
	e, ok := lookup(v, func(d *data) map[string]ledger.Employee { return d.employees }, id)
	if !ok {
		return ledger.Employee{}, &generic.NotFoundError{Entity: "employee", ID: id}
	}
	return e, nil
}

func (v *view) ListEmployees(_ context.Context, status ledger.EmployeeStatus) ([]ledger.Employee, error) {
	var out []ledger.Employee
	for _, e := range all(v, func(d *data) map[string]ledger.Employee { return d.employees }) {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) GetLeaveType(_ context.Context, id string) (ledger.LeaveType, error) {
	lt, ok := lookup(v, func(d *data) map[string]ledger.LeaveType { return d.leaveTypes }, id)
	if !ok {
		return ledger.LeaveType{}, &generic.NotFoundError{Entity: "leave_type", ID: id}
	}
	return lt, nil
}

func (v *view) GetLeaveTypeByCode(ctx context.Context, code string) (ledger.LeaveType, error) {
	types, _ := v.ListLeaveTypes(ctx)
	for _, lt := range types {
		if lt.Code == code {
			return lt, nil
		}
	}
	return ledger.LeaveType{}, &generic.NotFoundError{Entity: "leave_type", ID: code}
}

func (v *view) ListLeaveTypes(_ context.Context) ([]ledger.LeaveType, error) {
	out := all(v, func(d *data) map[string]ledger.LeaveType { return d.leaveTypes })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) GetBalance(_ context.Context, employeeID, leaveTypeID string) (ledger.LeaveBalance, error) {
	b, ok := lookup(v, func(d *data) map[string]ledger.LeaveBalance { return d.balances }, ledger.BalanceKey(employeeID, leaveTypeID))
	if !ok {
		return ledger.LeaveBalance{EmployeeID: employeeID, LeaveTypeID: leaveTypeID}, nil
	}
	return b, nil
}

func (v *view) ListBalances(_ context.Context, employeeID string) ([]ledger.LeaveBalance, error) {
	var out []ledger.LeaveBalance
	for _, b := range all(v, func(d *data) map[string]ledger.LeaveBalance { return d.balances }) {
		if b.EmployeeID == employeeID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaveTypeID < out[j].LeaveTypeID })
	return out, nil
}

func (v *view) GetLeaveRequest(_ context.Context, id string) (ledger.LeaveRequest, error) {
	r, ok := lookup(v, func(d *data) map[string]ledger.LeaveRequest { return d.leaveRequests }, id)
	if !ok {
		return ledger.LeaveRequest{}, &generic.NotFoundError{Entity: "leave_request", ID: id}
	}
	return r, nil
}

func (v *view) ListLeaveRequests(_ context.Context, f ledger.RequestFilter) ([]ledger.LeaveRequest, error) {
	var out []ledger.LeaveRequest
	for _, r := range all(v, func(d *data) map[string]ledger.LeaveRequest { return d.leaveRequests }) {
		if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
			continue
		}
		if !f.MatchesStatus(r.Status) || !f.MatchesSpan(r.DateFrom, r.DateTo) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return createdFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

// createdFirst orders by creation time, then id. References widen past
// four digits and do not sort lexically.
func createdFirst(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID < bID
}

func (v *view) GetPassSlip(_ context.Context, id string) (ledger.PassSlipRequest, error) {
	p, ok := lookup(v, func(d *data) map[string]ledger.PassSlipRequest { return d.passSlips }, id)
	if !ok {
		return ledger.PassSlipRequest{}, &generic.NotFoundError{Entity: "pass_slip", ID: id}
	}
	return p, nil
}

func (v *view) ListPassSlips(_ context.Context, f ledger.RequestFilter) ([]ledger.PassSlipRequest, error) {
	var out []ledger.PassSlipRequest
	for _, p := range all(v, func(d *data) map[string]ledger.PassSlipRequest { return d.passSlips }) {
		if f.EmployeeID != "" && p.EmployeeID != f.EmployeeID {
			continue
		}
		if !f.MatchesStatus(p.Status) || !f.MatchesSpan(p.Date, p.Date) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return createdFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (v *view) GetMonetization(_ context.Context, id string) (ledger.MonetizationRecord, error) {
	r, ok := lookup(v, func(d *data) map[string]ledger.MonetizationRecord { return d.monetizations }, id)
	if !ok {
		return ledger.MonetizationRecord{}, &generic.NotFoundError{Entity: "monetization", ID: id}
	}
	return r, nil
}

func (v *view) ListMonetizations(_ context.Context, employeeID string) ([]ledger.MonetizationRecord, error) {
	var out []ledger.MonetizationRecord
	for _, r := range all(v, func(d *data) map[string]ledger.MonetizationRecord { return d.monetizations }) {
		if r.EmployeeID == employeeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.Before(out[j].GeneratedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListAudit returns committed entries only; pending entries have no id yet.
func (v *view) ListAudit(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	var out []ledger.AuditEntry
	for _, e := range v.m.committed.audit {
		if !f.Matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTION
// =============================================================================

type memTx struct {
	*view
	held  map[string]bool
	order []string
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.m.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = true
	t.order = append(t.order, key)
	return nil
}

func (t *memTx) releaseAll() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.m.locks.release(t.order[i])
	}
	t.order = nil
	t.held = map[string]bool{}
}

func (t *memTx) LockLeaveRequest(ctx context.Context, id string) (ledger.LeaveRequest, error) {
	if err := t.lock(ctx, "leave_request:"+id); err != nil {
		return ledger.LeaveRequest{}, err
	}
	return t.GetLeaveRequest(ctx, id)
}

func (t *memTx) LockPassSlip(ctx context.Context, id string) (ledger.PassSlipRequest, error) {
	if err := t.lock(ctx, "pass_slip:"+id); err != nil {
		return ledger.PassSlipRequest{}, err
	}
	return t.GetPassSlip(ctx, id)
}

func (t *memTx) LockEmployeeLeave(ctx context.Context, employeeID string) error {
	return t.lock(ctx, "employee_leave:"+employeeID)
}

func (t *memTx) LockBalance(ctx context.Context, employeeID, leaveTypeID string) (ledger.LeaveBalance, error) {
	if err := t.lock(ctx, "balance:"+ledger.BalanceKey(employeeID, leaveTypeID)); err != nil {
		return ledger.LeaveBalance{}, err
	}
	return t.GetBalance(ctx, employeeID, leaveTypeID)
}

func (t *memTx) PutEmployee(_ context.Context, e ledger.Employee) error {
	t.pending.employees[e.ID] = e
	return nil
}

func (t *memTx) PutLeaveType(_ context.Context, lt ledger.LeaveType) error {
	t.pending.leaveTypes[lt.ID] = lt
	return nil
}

func (t *memTx) PutBalance(_ context.Context, b ledger.LeaveBalance) error {
	t.pending.balances[ledger.BalanceKey(b.EmployeeID, b.LeaveTypeID)] = b
	return nil
}

func (t *memTx) PutLeaveRequest(_ context.Context, r ledger.LeaveRequest) error {
	t.pending.leaveRequests[r.ID] = r
	return nil
}

func (t *memTx) PutPassSlip(_ context.Context, p ledger.PassSlipRequest) error {
	t.pending.passSlips[p.ID] = p
	return nil
}

func (t *memTx) InsertMonetization(ctx context.Context, r ledger.MonetizationRecord) error {
	if _, err := t.GetMonetization(ctx, r.ID); err == nil {
		return &generic.ConflictError{Entity: "monetization", ID: r.ID, Reason: "record already exists"}
	}
	t.pending.monetizations[r.ID] = r
	return nil
}

func (t *memTx) NextSequence(ctx context.Context, scope string, year int) (int, error) {
	k := seqKey{Scope: scope, Year: year}
	if err := t.lock(ctx, "sequence:"+scope+":"+strconv.Itoa(year)); err != nil {
		return 0, err
	}
	cur, _ := lookup(t.view, func(d *data) map[seqKey]int { return d.sequences }, k)
	cur++
	t.pending.sequences[k] = cur
	return cur, nil
}

func (t *memTx) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	e.ID = 0
	t.pending.audit = append(t.pending.audit, e)
	return nil
}
