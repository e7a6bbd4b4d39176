package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logoforge/internal/core"
	"logoforge/internal/generation"
	"logoforge/internal/quota"
	"logoforge/internal/types"
)

type mockGenerationService struct {
	generateBatchFn func(ctx context.Context, state quota.AuthState, req generation.BatchRequest) (*generation.BatchResult, error)
	snapshotFn      func(ctx context.Context, state quota.AuthState) (generation.Usage, error)
}

func (m *mockGenerationService) GenerateBatch(ctx context.Context, state quota.AuthState, req generation.BatchRequest) (*generation.BatchResult, error) {
	return m.generateBatchFn(ctx, state, req)
}

func (m *mockGenerationService) Snapshot(ctx context.Context, state quota.AuthState) (generation.Usage, error) {
	return m.snapshotFn(ctx, state)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGenerateHandler(svc *mockGenerationService) *GenerateHandler {
	return NewGenerateHandler(svc, core.NewValidator(testLogger()), 5, testLogger())
}

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withActor(r *http.Request, actor types.Actor) *http.Request {
	return r.WithContext(types.WithActor(r.Context(), actor))
}

func withClientIP(r *http.Request, ip string) *http.Request {
	return r.WithContext(types.WithClientIP(r.Context(), ip))
}

func TestHandleGenerateBatch_Success(t *testing.T) {
	var gotState quota.AuthState
	var gotReq generation.BatchRequest
	svc := &mockGenerationService{
		generateBatchFn: func(_ context.Context, state quota.AuthState, req generation.BatchRequest) (*generation.BatchResult, error) {
			gotState = state
			gotReq = req
			return &generation.BatchResult{
				Results: []generation.Result{
					{Prompt: "fox", ImageURL: "https://cdn.example.com/fox.png"},
					{Prompt: "owl", ImageURL: "https://cdn.example.com/owl.png"},
				},
				Usage: generation.Usage{Used: 1, Remaining: 2, Total: 3},
			}, nil
		},
	}
	h := newGenerateHandler(svc)

	req := withClientIP(postJSON("/v1/generate-batch", `{"prompts":["fox","owl"]}`), "203.0.113.7")
	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Logos []string `json:"logos"`
		Usage struct {
			Used      int `json:"used"`
			Remaining int `json:"remaining"`
			Total     int `json:"total"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"https://cdn.example.com/fox.png", "https://cdn.example.com/owl.png"}, resp.Logos)
	assert.Equal(t, 1, resp.Usage.Used)
	assert.Equal(t, 2, resp.Usage.Remaining)
	assert.Equal(t, 3, resp.Usage.Total)

	assert.False(t, gotState.Authenticated)
	assert.Equal(t, "203.0.113.7", gotState.ClientIP)
	assert.Equal(t, []string{"fox", "owl"}, gotReq.Prompts)
}

func TestHandleGenerateBatch_AuthenticatedStateFromContext(t *testing.T) {
	var gotState quota.AuthState
	svc := &mockGenerationService{
		generateBatchFn: func(_ context.Context, state quota.AuthState, _ generation.BatchRequest) (*generation.BatchResult, error) {
			gotState = state
			return &generation.BatchResult{
				Results: []generation.Result{{Prompt: "fox", ImageURL: "u"}},
				Usage:   generation.Usage{Used: 1, Remaining: 9, Total: 10},
			}, nil
		},
	}
	h := newGenerateHandler(svc)

	req := withActor(postJSON("/v1/generate-batch", `{"prompts":["fox"]}`), types.Actor{ID: "user-1", Premium: true})
	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotState.Authenticated)
	assert.Equal(t, "user-1", gotState.AccountID)
	assert.True(t, gotState.Premium)
}

func TestHandleGenerateBatch_QuotaDenialIsFlat429(t *testing.T) {
	svc := &mockGenerationService{
		generateBatchFn: func(_ context.Context, _ quota.AuthState, _ generation.BatchRequest) (*generation.BatchResult, error) {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeQuotaExceeded,
				"Daily free generation limit reached. Sign in or upgrade for more.",
				nil,
				map[string]any{"remaining": 0, "total": 3},
			)
		},
	}
	h := newGenerateHandler(svc)

	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, postJSON("/v1/generate-batch", `{"prompts":["fox"]}`))

	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Daily free generation limit reached. Sign in or upgrade for more.", resp["error"])
	assert.Equal(t, true, resp["limitExceeded"])
	assert.Equal(t, float64(0), resp["remaining"])
	assert.Equal(t, float64(3), resp["total"])
	assert.NotContains(t, w.Body.String(), `"code"`, "denial must use the flat shape, not the error envelope")
}

func TestHandleGenerateBatch_EmptyPromptsRejected(t *testing.T) {
	svc := &mockGenerationService{
		generateBatchFn: func(_ context.Context, _ quota.AuthState, _ generation.BatchRequest) (*generation.BatchResult, error) {
			t.Fatal("service must not be called for an invalid batch")
			return nil, nil
		},
	}
	h := newGenerateHandler(svc)

	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, postJSON("/v1/generate-batch", `{"prompts":[]}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGenerateBatch_TooManyPromptsRejected(t *testing.T) {
	svc := &mockGenerationService{
		generateBatchFn: func(_ context.Context, _ quota.AuthState, _ generation.BatchRequest) (*generation.BatchResult, error) {
			t.Fatal("service must not be called for an oversized batch")
			return nil, nil
		},
	}
	h := newGenerateHandler(svc)

	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, postJSON("/v1/generate-batch", `{"prompts":["a","b","c","d","e","f"]}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_batch_size_exceeded")
}

// The batch bound comes from configuration, not a hard-coded tag.
func TestHandleGenerateBatch_ConfiguredPromptBoundEnforced(t *testing.T) {
	svc := &mockGenerationService{
		generateBatchFn: func(_ context.Context, _ quota.AuthState, _ generation.BatchRequest) (*generation.BatchResult, error) {
			t.Fatal("service must not be called for an oversized batch")
			return nil, nil
		},
	}
	h := NewGenerateHandler(svc, core.NewValidator(testLogger()), 2, testLogger())

	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, postJSON("/v1/generate-batch", `{"prompts":["a","b","c"]}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_batch_size_exceeded")
	assert.Contains(t, w.Body.String(), `"max_prompts":2`)
}

func TestHandleGenerateBatch_BlankPromptRejected(t *testing.T) {
	svc := &mockGenerationService{
		generateBatchFn: func(_ context.Context, _ quota.AuthState, _ generation.BatchRequest) (*generation.BatchResult, error) {
			t.Fatal("service must not be called for a blank prompt")
			return nil, nil
		},
	}
	h := newGenerateHandler(svc)

	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, postJSON("/v1/generate-batch", `{"prompts":["fox",""]}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGenerateBatch_InvalidReferenceImageRejected(t *testing.T) {
	svc := &mockGenerationService{
		generateBatchFn: func(_ context.Context, _ quota.AuthState, _ generation.BatchRequest) (*generation.BatchResult, error) {
			t.Fatal("service must not be called for a bad reference image")
			return nil, nil
		},
	}
	h := newGenerateHandler(svc)

	body := `{"prompts":["fox"],"referenceImages":[{"data":"aGVsbG8=","mimeType":"image/gif"}]}`
	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, postJSON("/v1/generate-batch", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGenerateBatch_MalformedJSONRejected(t *testing.T) {
	h := newGenerateHandler(&mockGenerationService{})

	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, postJSON("/v1/generate-batch", `{"prompts": [`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGenerateBatch_LedgerFailureIs500(t *testing.T) {
	svc := &mockGenerationService{
		generateBatchFn: func(_ context.Context, _ quota.AuthState, _ generation.BatchRequest) (*generation.BatchResult, error) {
			return nil, types.NewAppError(types.ErrCodeInternalLedger, "usage ledger unavailable", nil)
		},
	}
	h := newGenerateHandler(svc)

	w := httptest.NewRecorder()
	h.HandleGenerateBatch(w, postJSON("/v1/generate-batch", `{"prompts":["fox"]}`))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_ledger_error")
}

func TestHandleGetUsage(t *testing.T) {
	svc := &mockGenerationService{
		snapshotFn: func(_ context.Context, state quota.AuthState) (generation.Usage, error) {
			assert.Equal(t, "203.0.113.7", state.ClientIP)
			return generation.Usage{Used: 2, Remaining: 1, Total: 3}, nil
		},
	}
	h := newGenerateHandler(svc)

	req := withClientIP(httptest.NewRequest(http.MethodGet, "/v1/usage", nil), "203.0.113.7")
	w := httptest.NewRecorder()
	h.HandleGetUsage(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, map[string]int{"used": 2, "remaining": 1, "total": 3}, resp)
}
