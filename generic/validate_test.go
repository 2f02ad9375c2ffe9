package generic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-ledger/generic"
)

func TestValidateStruct(t *testing.T) {
	type input struct {
		EmployeeID string `json:"employee_id" validate:"required"`
		Period     string `json:"period,omitempty" validate:"omitempty,oneof=AM PM"`
	}
	v := generic.NewValidator()

	assert.NoError(t, generic.ValidateStruct(v, input{EmployeeID: "emp-1", Period: "AM"}))

	err := generic.ValidateStruct(v, input{})
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "employee_id", ve.Field)
	assert.Equal(t, `failed "required" check`, ve.Reason)

	err = generic.ValidateStruct(v, input{EmployeeID: "emp-1", Period: "noon"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "period", ve.Field)
	assert.Equal(t, `failed "oneof" check (AM PM)`, ve.Reason)
}
