package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"logoforge/internal/types"
)

// Validator wraps go-playground/validator so handlers get AppErrors with
// field-level details instead of raw validator errors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError describes a single failed field constraint.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidator creates a Validator. JSON tag names are reported in errors so
// clients see the wire-level field names, not Go struct fields.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates the struct's `validate` tags. On failure it
// returns a *types.AppError (400) whose details carry one entry per failed
// field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Non-struct input is a programming error, not client input.
		v.logger.Error("validator called with non-struct value",
			slog.String("error", invalid.Error()),
		)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "internal validation failure", err)
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "internal validation failure", err)
	}

	fields := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: messageForTag(fe),
		})
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationFieldInvalid,
		"request validation failed",
		err,
		map[string]any{"fields": fields},
	)
}

// messageForTag builds a human-readable message for common constraint tags.
func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "min":
		return fe.Field() + " must have at least " + fe.Param() + " items or characters"
	case "max":
		return fe.Field() + " must have at most " + fe.Param() + " items or characters"
	case "url":
		return fe.Field() + " must be a valid URL"
	case "base64":
		return fe.Field() + " must be base64-encoded"
	case "email":
		return fe.Field() + " must be a valid email address"
	default:
		return fe.Field() + " is invalid (" + fe.Tag() + ")"
	}
}
