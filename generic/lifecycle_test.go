package generic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-ledger/generic"
)

// gate grants the listed actions on every module.
type gate map[generic.Role][]generic.Action

func (g gate) HasCapability(role generic.Role, _ generic.Module, action generic.Action) bool {
	for _, a := range g[role] {
		if a == action {
			return true
		}
	}
	return false
}

var testGate = gate{
	"employee":   {generic.ActionSubmit, generic.ActionCancel},
	"supervisor": {generic.ActionSubmit, generic.ActionCancel, generic.ActionApprove},
}

func TestRequestMachine(t *testing.T) {
	all := []generic.Status{generic.StatusPending, generic.StatusApproved, generic.StatusDenied, generic.StatusCancelled}
	allowed := map[[2]generic.Status]bool{
		{generic.StatusPending, generic.StatusApproved}:   true,
		{generic.StatusPending, generic.StatusDenied}:     true,
		{generic.StatusPending, generic.StatusCancelled}:  true,
		{generic.StatusApproved, generic.StatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			err := generic.RequestMachine.Check("leave_request", "lr-1", from, to)
			if allowed[[2]generic.Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			var ite *generic.InvalidTransitionError
			require.ErrorAs(t, err, &ite, "%s -> %s", from, to)
			assert.Equal(t, from, ite.From)
		}
	}

	assert.True(t, generic.StatusDenied.IsFinal())
	assert.True(t, generic.StatusCancelled.IsFinal())
	assert.False(t, generic.StatusApproved.IsFinal())
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]generic.Decision{
		"approve":  generic.DecisionApprove,
		"Approved": generic.DecisionApprove,
		" deny ":   generic.DecisionDeny,
		"DENIED":   generic.DecisionDeny,
	} {
		got, err := generic.ParseDecision(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := generic.ParseDecision("maybe")
	assert.Equal(t, generic.KindValidation, generic.KindOf(err))
	assert.Equal(t, generic.StatusDenied, generic.DecisionDeny.Target())
}

func TestAuthorizeDecision(t *testing.T) {
	tests := []struct {
		name  string
		actor *generic.Actor
		ok    bool
	}{
		{"supervisor", &generic.Actor{ID: "sup-1", Role: "supervisor"}, true},
		{"self-approval", &generic.Actor{ID: "emp-1", Role: "supervisor"}, false},
		{"no capability", &generic.Actor{ID: "emp-2", Role: "employee"}, false},
		{"anonymous", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := generic.AuthorizeDecision(testGate, tt.actor, generic.ModuleLeave, "emp-1")
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, generic.KindAuthorization, generic.KindOf(err))
		})
	}
}

func TestAuthorizeCancel(t *testing.T) {
	owner := &generic.Actor{ID: "emp-1", Role: "employee"}
	colleague := &generic.Actor{ID: "emp-2", Role: "employee"}
	supervisor := &generic.Actor{ID: "sup-1", Role: "supervisor"}

	assert.NoError(t, generic.AuthorizeCancel(testGate, owner, generic.ModulePassSlip, "emp-1"))
	assert.NoError(t, generic.AuthorizeCancel(testGate, supervisor, generic.ModulePassSlip, "emp-1"))
	assert.Error(t, generic.AuthorizeCancel(testGate, colleague, generic.ModulePassSlip, "emp-1"))
}

func TestAuthorize_SystemActor(t *testing.T) {
	assert.NoError(t, generic.Authorize(testGate, nil, generic.ModuleBalance, generic.ActionManage))

	err := generic.Authorize(testGate, &generic.Actor{ID: "sup-1", Role: "supervisor"}, generic.ModuleBalance, generic.ActionManage)
	var ae *generic.AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, generic.ActionManage, ae.Action)
}
