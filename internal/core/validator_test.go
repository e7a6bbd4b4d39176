package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logoforge/internal/types"
)

type testBatchRequest struct {
	Prompts []string `json:"prompts" validate:"required,min=1,max=5,dive,required"`
	Email   string   `json:"email" validate:"omitempty,email"`
}

func TestValidateStruct_Success(t *testing.T) {
	v := NewValidator(testLogger())

	err := v.ValidateStruct(testBatchRequest{Prompts: []string{"a fox logo"}})
	require.NoError(t, err)
}

func TestValidateStruct_Failure_ReturnsAppErrorWithFieldDetails(t *testing.T) {
	v := NewValidator(testLogger())

	err := v.ValidateStruct(testBatchRequest{Prompts: nil, Email: "not-an-email"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationFieldInvalid, appErr.Code)

	fields, ok := appErr.Details["fields"].([]ValidationError)
	require.True(t, ok)
	require.Len(t, fields, 2)

	// JSON tag names, not Go field names.
	names := []string{fields[0].Field, fields[1].Field}
	assert.Contains(t, names, "prompts")
	assert.Contains(t, names, "email")
}

func TestValidateStruct_TooManyPrompts(t *testing.T) {
	v := NewValidator(testLogger())

	err := v.ValidateStruct(testBatchRequest{
		Prompts: []string{"a", "b", "c", "d", "e", "f"},
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationFieldInvalid, appErr.Code)
}

func TestValidateStruct_NonStructIsInternalError(t *testing.T) {
	v := NewValidator(testLogger())

	err := v.ValidateStruct(42)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalUnexpected, appErr.Code)
}
