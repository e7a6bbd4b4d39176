// Package generation orchestrates logo generation rounds: fan-out to the
// image provider, placeholder degradation for per-prompt failures, and the
// quota bookkeeping around each round.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"logoforge/internal/external"
	"logoforge/internal/types"
)

// Result is the outcome of one prompt within a round. Placeholder marks
// results that fell back to the placeholder image after a provider failure.
type Result struct {
	Prompt      string
	ImageURL    string
	Placeholder bool
}

// Dispatcher fans a round's prompts out to the image provider concurrently.
// Individual failures never fail the round; the failed slot degrades to the
// placeholder URL so the response always carries one result per prompt, in
// prompt order.
type Dispatcher struct {
	generator        external.ImageGenerator
	placeholderURL   string
	perPromptTimeout time.Duration
	logger           *slog.Logger
}

// DispatcherConfig holds the dependencies for creating a Dispatcher.
type DispatcherConfig struct {
	Generator        external.ImageGenerator
	PlaceholderURL   string
	PerPromptTimeout time.Duration
	Logger           *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		generator:        cfg.Generator,
		placeholderURL:   cfg.PlaceholderURL,
		perPromptTimeout: cfg.PerPromptTimeout,
		logger:           logger,
	}
}

// Dispatch generates one image per prompt concurrently and returns exactly
// len(prompts) results in prompt order. A prompt whose generation fails or
// times out yields a placeholder result instead of an error.
func (d *Dispatcher) Dispatch(ctx context.Context, prompts []string, refs []types.ReferenceImage) []Result {
	results := make([]Result, len(prompts))

	g, gctx := errgroup.WithContext(ctx)
	for i, prompt := range prompts {
		g.Go(func() error {
			results[i] = d.generateOne(gctx, prompt, refs)
			// Never propagate an error: one failed slot must not cancel
			// the siblings.
			return nil
		})
	}
	// All goroutines return nil.
	_ = g.Wait()

	return results
}

func (d *Dispatcher) generateOne(ctx context.Context, prompt string, refs []types.ReferenceImage) (res Result) {
	// A panicking generator degrades the slot just like an error would.
	res = Result{Prompt: prompt, ImageURL: d.placeholderURL, Placeholder: true}
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "panic during image generation",
				slog.String("prompt", prompt),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	callCtx := ctx
	if d.perPromptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.perPromptTimeout)
		defer cancel()
	}

	url, err := d.generator.Generate(callCtx, external.GenerationRequest{
		Prompt:          prompt,
		ReferenceImages: refs,
	})
	if err != nil {
		d.logger.WarnContext(ctx, "prompt degraded to placeholder",
			slog.String("prompt", prompt),
			slog.String("error", err.Error()),
		)
		return res
	}

	return Result{Prompt: prompt, ImageURL: url, Placeholder: false}
}
