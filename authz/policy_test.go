package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/hr-ledger/generic"
)

func TestDefault_Capabilities(t *testing.T) {
	p := Default()

	tests := []struct {
		role   generic.Role
		module generic.Module
		action generic.Action
		want   bool
	}{
		{RoleEmployee, generic.ModuleLeave, generic.ActionSubmit, true},
		{RoleEmployee, generic.ModuleLeave, generic.ActionCancel, true},
		{RoleEmployee, generic.ModuleLeave, generic.ActionApprove, false},
		{RoleEmployee, generic.ModuleMonetization, generic.ActionManage, false},
		{RoleSupervisor, generic.ModulePassSlip, generic.ActionApprove, true},
		{RoleSupervisor, generic.ModuleDirectory, generic.ActionManage, false},
		{RoleHRAdmin, generic.ModuleBalance, generic.ActionManage, true},
		{RoleHRAdmin, generic.ModuleMonetization, generic.ActionManage, true},
		{"visitor", generic.ModuleLeave, generic.ActionSubmit, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.module)+"/"+string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, p.HasCapability(tt.role, tt.module, tt.action))
		})
	}
}

func TestPolicy_GrantRevoke(t *testing.T) {
	p := NewPolicy()
	assert.False(t, p.HasCapability("auditor", generic.ModuleDirectory, generic.ActionManage))

	p.Grant("auditor", generic.ModuleDirectory, generic.ActionManage, generic.ActionSubmit)
	assert.True(t, p.HasCapability("auditor", generic.ModuleDirectory, generic.ActionManage))
	assert.Equal(t, []generic.Action{generic.ActionManage, generic.ActionSubmit}, p.Actions("auditor", generic.ModuleDirectory))

	p.Revoke("auditor", generic.ModuleDirectory, generic.ActionManage)
	assert.False(t, p.HasCapability("auditor", generic.ModuleDirectory, generic.ActionManage))

	// Revoking something never granted is harmless.
	p.Revoke("nobody", generic.ModuleLeave, generic.ActionApprove)
}

func TestFromGrants(t *testing.T) {
	p := FromGrants(map[string]map[string][]string{
		"clerk": {"pass_slip": {"submit", "approve"}},
	})

	assert.True(t, p.HasCapability("clerk", generic.ModulePassSlip, generic.ActionApprove))
	assert.False(t, p.HasCapability("clerk", generic.ModuleLeave, generic.ActionApprove))
	assert.Equal(t, []generic.Role{"clerk"}, p.Roles())
}
