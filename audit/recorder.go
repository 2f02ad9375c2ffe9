/*
Package audit records who did what to which entity, inside the same
transaction as the change itself.

PURPOSE:
  Every state-changing operation of the core appends exactly one entry
  through Record. The recorder is called by the lifecycle, balance and
  monetization packages and never calls back into them.

DURABILITY:
  Audit is not best-effort. Record runs inside the caller's ledger.Tx; if
  the payload cannot be encoded or the append fails, the error is returned
  and the whole operation rolls back.

PAYLOADS:
  Before and After are JSON snapshots of the entity (or of a small
  operation summary for balance changes). A nil snapshot is stored as SQL
  NULL / omitted.

SEE ALSO:
  - ledger/store.go: Tx.AppendAudit
*/
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// Event is the caller-facing form of an audit entry.
type Event struct {
	Actor      *generic.Actor
	Action     ledger.AuditAction
	Module     generic.Module
	EntityType string
	EntityID   string
	Before     any
	After      any
}

type Recorder struct {
	Clock generic.Clock
}

func NewRecorder(clock generic.Clock) *Recorder {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Recorder{Clock: clock}
}

// Record appends ev to tx.
func (r *Recorder) Record(ctx context.Context, tx ledger.Tx, ev Event) error {
	before, err := marshal(ev.Before)
	if err != nil {
		return generic.Storage("audit encode before", err)
	}
	after, err := marshal(ev.After)
	if err != nil {
		return generic.Storage("audit encode after", err)
	}

	entry := ledger.AuditEntry{
		ActorID:    ev.Actor.ActorID(),
		Action:     ev.Action,
		Module:     ev.Module,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Before:     before,
		After:      after,
		Timestamp:  r.Clock.Now().UTC().Truncate(time.Microsecond),
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return generic.Storage("audit append", err)
	}
	return nil
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// History returns the entries of one entity in causal (id) order.
func History(ctx context.Context, r ledger.Reader, entityType, entityID string) ([]ledger.AuditEntry, error) {
	return r.ListAudit(ctx, ledger.AuditFilter{EntityType: entityType, EntityID: entityID})
}
