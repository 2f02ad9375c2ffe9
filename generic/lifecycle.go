/*
lifecycle.go - Request lifecycle state machine

PURPOSE:
  Pass slips and leave requests share one state machine. Domain packages
  (leave, passslip) own the side effects of a transition; this file owns
  which transitions exist and who may attempt them.

STATES:
  ┌─────────┐  decide(approve)  ┌──────────┐
  │ pending │ ────────────────▶ │ approved │──┐
  └─────────┘                   └──────────┘  │ cancel (effective date
     │   │      decide(deny)    ┌──────────┐  │ still in the future)
     │   └────────────────────▶ │  denied  │  │
     │          cancel          └──────────┘  ▼
     └────────────────────────────────▶ ┌───────────┐
                                        │ cancelled │
                                        └───────────┘

  denied and cancelled have no exits. approved is final for decide; its
  only exit is a cancellation, which the domain package guards on the
  effective date.

GUARDS:
  decide: gate grants ActionApprove on the module AND actor is not the owner
  cancel: owner needs ActionCancel, anyone else needs ActionApprove

SEE ALSO:
  - leave/service.go: leave-specific side effects (balance consume/restore)
  - passslip/service.go: pass-slip side effects
  - authz/policy.go: Gate implementation
*/
package generic

import "strings"

// =============================================================================
// STATUS & DECISION
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsFinal() bool { return s == StatusDenied || s == StatusCancelled }

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// ParseDecision accepts approve/approved and deny/denied, case-insensitive.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return DecisionApprove, nil
	case "deny", "denied":
		return DecisionDeny, nil
	}
	return "", Invalid("decision", "must be approve or deny")
}

// Target returns the status a decision moves a pending request to.
func (d Decision) Target() Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusDenied
}

// =============================================================================
// MACHINE
// =============================================================================

type edge struct {
	From Status
	To   Status
}

// Machine is the transition table. The zero value is not usable; use
// RequestMachine.
type Machine struct {
	edges map[edge]bool
}

// RequestMachine is shared by pass slips and leave requests.
var RequestMachine = Machine{edges: map[edge]bool{
	{StatusPending, StatusApproved}:   true,
	{StatusPending, StatusDenied}:     true,
	{StatusPending, StatusCancelled}:  true,
	{StatusApproved, StatusCancelled}: true,
}}

func (m Machine) Allows(from, to Status) bool { return m.edges[edge{from, to}] }

// Check returns an InvalidTransitionError when from -> to is not an edge.
func (m Machine) Check(entity, id string, from, to Status) error {
	if m.Allows(from, to) {
		return nil
	}
	return &InvalidTransitionError{Entity: entity, ID: id, From: from, To: to}
}

// =============================================================================
// GATE - Capability check (external RBAC collaborator)
// =============================================================================

type Gate interface {
	HasCapability(role Role, module Module, action Action) bool
}

// AuthorizeDecision enforces the decide guard: capability plus no
// self-approval. The self-approval rule holds regardless of role.
func AuthorizeDecision(gate Gate, actor *Actor, module Module, ownerID string) error {
	if actor == nil || actor.ID == "" {
		return &AuthorizationError{Module: module, Action: ActionApprove, Reason: "anonymous actor"}
	}
	if actor.ID == ownerID {
		return &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Module: module, Action: ActionApprove, Reason: "self-approval is not allowed"}
	}
	if gate == nil || !gate.HasCapability(actor.Role, module, ActionApprove) {
		return &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Module: module, Action: ActionApprove, Reason: "missing capability"}
	}
	return nil
}

// AuthorizeCancel enforces the cancel guard.
func AuthorizeCancel(gate Gate, actor *Actor, module Module, ownerID string) error {
	if actor == nil || actor.ID == "" {
		return &AuthorizationError{Module: module, Action: ActionCancel, Reason: "anonymous actor"}
	}
	action := ActionCancel
	if actor.ID != ownerID {
		action = ActionApprove
	}
	if gate == nil || !gate.HasCapability(actor.Role, module, action) {
		return &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Module: module, Action: action, Reason: "missing capability"}
	}
	return nil
}

// AuthorizeOwnerOr lets the owner through with ActionSubmit and everyone else
// only with fallback. Used for submissions on behalf of another employee.
func AuthorizeOwnerOr(gate Gate, actor *Actor, module Module, ownerID string, fallback Action) error {
	if actor == nil || actor.ID == "" {
		return &AuthorizationError{Module: module, Action: ActionSubmit, Reason: "anonymous actor"}
	}
	action := ActionSubmit
	if actor.ID != ownerID {
		action = fallback
	}
	if gate == nil || !gate.HasCapability(actor.Role, module, action) {
		return &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Module: module, Action: action, Reason: "missing capability"}
	}
	return nil
}

// Authorize is the plain capability check for non-request operations.
func Authorize(gate Gate, actor *Actor, module Module, action Action) error {
	if actor == nil {
		// System jobs (scheduler) run without an actor.
		return nil
	}
	if gate == nil || !gate.HasCapability(actor.Role, module, action) {
		return &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Module: module, Action: action, Reason: "missing capability"}
	}
	return nil
}
