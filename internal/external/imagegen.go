package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"logoforge/internal/types"
)

// ImageGenClientConfig holds the configuration for creating an ImageGenClient.
type ImageGenClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *slog.Logger
}

// imageGenRequest is the payload sent to the provider's generation endpoint.
type imageGenRequest struct {
	Model           string             `json:"model"`
	Prompt          string             `json:"prompt"`
	ReferenceImages []referencePayload `json:"reference_images,omitempty"`
}

type referencePayload struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// imageGenResponse is the provider's generation response.
type imageGenResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// ImageGenClient implements ImageGenerator by calling the image-generation
// provider's REST API through BaseClient, routing all requests through the
// platform's resilience infrastructure (circuit breaker, retries, error
// mapping) and making testing with httptest straightforward.
//
// One call generates one image. Batch fan-out and placeholder degradation
// are the generation dispatcher's concern, not the client's.
type ImageGenClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	model   string
	logger  *slog.Logger
}

var _ ImageGenerator = (*ImageGenClient)(nil)

// NewImageGenClient creates a new ImageGenClient. The httpClient timeout
// bounds a single upstream call; set it from the per-prompt timeout config.
func NewImageGenClient(httpClient *http.Client, cfg ImageGenClientConfig) *ImageGenClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"imagegen",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    1 * time.Second,
			MaxWait:    5 * time.Second,
		},
		"LogoForge/1.0",
	)

	return &ImageGenClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		logger:  logger,
	}
}

// NewImageGenClientWithBase creates an ImageGenClient with a pre-configured
// BaseClient, useful for tests that need to control retry behavior.
func NewImageGenClientWithBase(base *BaseClient, cfg ImageGenClientConfig) *ImageGenClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ImageGenClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		logger:  logger,
	}
}

// Generate submits one prompt to the provider and returns the hosted image
// URL. All failures surface as upstream AppErrors.
func (c *ImageGenClient) Generate(ctx context.Context, genReq GenerationRequest) (string, error) {
	reqBody := imageGenRequest{
		Model:  c.model,
		Prompt: genReq.Prompt,
	}
	for _, ref := range genReq.ReferenceImages {
		reqBody.ReferenceImages = append(reqBody.ReferenceImages, referencePayload{
			Data:     ref.Data,
			MimeType: ref.MimeType,
		})
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize generation payload",
			err,
		)
	}

	url := c.baseURL + "/v1/images/generations"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create generation request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", c.wrapError("Generate", err)
	}
	defer resp.Body.Close()

	// BaseClient returns 4xx responses (other than 429) as-is without error.
	if resp.StatusCode >= 400 {
		return "", c.handleErrorResponse(resp, "Generate")
	}

	var genResp imageGenResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			"failed to decode generation response",
			err,
		)
	}

	if len(genResp.Data) == 0 || genResp.Data[0].URL == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			"generation provider returned no image",
			nil,
		)
	}

	return genResp.Data[0].URL, nil
}

// handleErrorResponse reads and logs the error body from a non-2xx response,
// then returns an appropriate AppError.
func (c *ImageGenClient) handleErrorResponse(resp *http.Response, operation string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.Error("generation provider API error",
		slog.String("operation", operation),
		slog.Int("status_code", resp.StatusCode),
		slog.String("response_body", bodyStr),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			"generation provider authentication failed (401)",
			fmt.Errorf("%s returned 401: %s", operation, bodyStr),
		)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			fmt.Sprintf("generation provider rejected the request (%d)", resp.StatusCode),
			fmt.Errorf("%s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			fmt.Sprintf("generation provider server error (%d)", resp.StatusCode),
			fmt.Errorf("%s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	}
}

// wrapError converts errors from BaseClient.Do into generation-domain errors
// while preserving upstream rate-limit codes.
func (c *ImageGenClient) wrapError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if appErr.Code == types.ErrCodeUpstreamRateLimit {
			return appErr
		}
		return types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			fmt.Sprintf("%s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamGeneration,
		fmt.Sprintf("%s failed", operation),
		err,
	)
}
