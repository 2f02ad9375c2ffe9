/*
Package authz is a static role-based capability policy.

PURPOSE:
  Answers generic.Gate.HasCapability(role, module, action). Identity and
  role assignment are external; this package only maps role names to the
  actions they may perform per module.

DEFAULT ROLES:
  employee:    submit, cancel on leave and pass_slip
  supervisor:  employee + approve on leave and pass_slip
  hr_admin:    supervisor + manage on every module

  The self-approval rule is enforced by the lifecycle, not here: no role
  can approve its own request.

USAGE:
  gate := authz.Default()
  gate.Grant("auditor", generic.ModuleDirectory, generic.ActionManage)
*/
package authz

import (
	"sort"
	"sync"

	"github.com/warp/hr-ledger/generic"
)

const (
	RoleEmployee   generic.Role = "employee"
	RoleSupervisor generic.Role = "supervisor"
	RoleHRAdmin    generic.Role = "hr_admin"
)

// Policy is safe for concurrent use.
type Policy struct {
	mu     sync.RWMutex
	grants map[generic.Role]map[generic.Module]map[generic.Action]bool
}

var _ generic.Gate = (*Policy)(nil)

// NewPolicy returns a policy that grants nothing.
func NewPolicy() *Policy {
	return &Policy{grants: make(map[generic.Role]map[generic.Module]map[generic.Action]bool)}
}

// Default returns the built-in role set.
func Default() *Policy {
	p := NewPolicy()
	requestModules := []generic.Module{generic.ModuleLeave, generic.ModulePassSlip}
	for _, m := range requestModules {
		p.Grant(RoleEmployee, m, generic.ActionSubmit, generic.ActionCancel)
		p.Grant(RoleSupervisor, m, generic.ActionSubmit, generic.ActionCancel, generic.ActionApprove)
		p.Grant(RoleHRAdmin, m, generic.ActionSubmit, generic.ActionCancel, generic.ActionApprove, generic.ActionManage)
	}
	for _, m := range []generic.Module{generic.ModuleBalance, generic.ModuleMonetization, generic.ModuleDirectory} {
		p.Grant(RoleHRAdmin, m, generic.ActionManage)
	}
	return p
}

// FromGrants builds a policy from role -> module -> actions, the shape used
// by the catalog file.
func FromGrants(grants map[string]map[string][]string) *Policy {
	p := NewPolicy()
	for role, modules := range grants {
		for module, actions := range modules {
			acts := make([]generic.Action, len(actions))
			for i, a := range actions {
				acts[i] = generic.Action(a)
			}
			p.Grant(generic.Role(role), generic.Module(module), acts...)
		}
	}
	return p
}

func (p *Policy) Grant(role generic.Role, module generic.Module, actions ...generic.Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	modules, ok := p.grants[role]
	if !ok {
		modules = make(map[generic.Module]map[generic.Action]bool)
		p.grants[role] = modules
	}
	acts, ok := modules[module]
	if !ok {
		acts = make(map[generic.Action]bool)
		modules[module] = acts
	}
	for _, a := range actions {
		acts[a] = true
	}
}

func (p *Policy) Revoke(role generic.Role, module generic.Module, actions ...generic.Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acts := p.grants[role][module]
	for _, a := range actions {
		delete(acts, a)
	}
}

func (p *Policy) HasCapability(role generic.Role, module generic.Module, action generic.Action) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.grants[role][module][action]
}

// Actions lists what role may do on module, sorted.
func (p *Policy) Actions(role generic.Role, module generic.Module) []generic.Action {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []generic.Action
	for a, ok := range p.grants[role][module] {
		if ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Roles lists the configured role names, sorted.
func (p *Policy) Roles() []generic.Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]generic.Role, 0, len(p.grants))
	for r := range p.grants {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
