package types

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
		want int
	}{
		{"validation maps to 400", ErrCodeValidationBatchSize, http.StatusBadRequest},
		{"webhook signature maps to 400", ErrCodeWebhookSignature, http.StatusBadRequest},
		{"auth maps to 401", ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{"quota maps to 429", ErrCodeQuotaExceeded, http.StatusTooManyRequests},
		{"not found maps to 404", ErrCodeNotFoundLogo, http.StatusNotFound},
		{"conflict maps to 409", ErrCodeConflictDuplicate, http.StatusConflict},
		{"upstream maps to 502", ErrCodeUpstreamGeneration, http.StatusBadGateway},
		{"internal maps to 500", ErrCodeInternalDB, http.StatusInternalServerError},
		{"unknown maps to 500", ErrorCode("something_new"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewAppError(ErrCodeInternalDB, "query failed", inner)

	require.ErrorIs(t, err, inner)

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrCodeInternalDB, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus())
}

func TestAppError_WithDetails_DoesNotMutateOriginal(t *testing.T) {
	orig := NewAppErrorWithDetails(ErrCodeQuotaExceeded, "limit reached", nil, map[string]any{"total": 3})

	derived := orig.WithDetails(map[string]any{"remaining": 0})

	assert.Len(t, orig.Details, 1)
	assert.Equal(t, 3, derived.Details["total"])
	assert.Equal(t, 0, derived.Details["remaining"])
}
