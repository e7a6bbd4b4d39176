package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"logoforge/internal/quota"
	"logoforge/internal/types"
)

// releaseTimeout bounds the detached ledger call that returns the
// reservation of an abandoned round.
const releaseTimeout = 5 * time.Second

// BatchDispatcher fans a round's prompts out to the provider. Satisfied by
// *Dispatcher; an interface so service tests can script outcomes.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, prompts []string, refs []types.ReferenceImage) []Result
}

// LogoStore persists generated logos for authenticated users.
type LogoStore interface {
	Save(ctx context.Context, logo *types.Logo) error
}

// BatchRequest is one user-initiated generation round.
type BatchRequest struct {
	Prompts         []string
	BusinessName    string
	ReferenceImages []types.ReferenceImage
}

// Usage is the quota snapshot returned with every round and by the usage
// endpoint. Premium accounts report Unlimited for Remaining and Total.
type Usage struct {
	Used      int
	Remaining int
	Total     int
}

// BatchResult is a completed round: one result per prompt, in prompt order,
// plus the usage state after the round was charged.
type BatchResult struct {
	Results []Result
	Usage   Usage
}

// Service runs generation rounds under quota control. The sequence for
// metered tiers is reserve, dispatch, commit: the reservation counts against
// the limit while the round is in flight, which makes the gate atomic under
// concurrency, and the counted charge lands only after the round completes.
type Service struct {
	anonLedger quota.Ledger
	userLedger quota.Ledger
	policy     quota.Policy
	dispatcher BatchDispatcher
	logos      LogoStore
	logger     *slog.Logger
	now        func() time.Time
}

// ServiceConfig holds the dependencies for creating a generation Service.
type ServiceConfig struct {
	// AnonLedger meters anonymous callers (per-IP, daily).
	AnonLedger quota.Ledger
	// UserLedger meters free-tier accounts (per-user, lifetime).
	UserLedger quota.Ledger
	Policy     quota.Policy
	Dispatcher BatchDispatcher
	// Logos may be nil when saved-logo persistence is disabled.
	Logos  LogoStore
	Logger *slog.Logger
	// Now overrides the clock; nil means time.Now. For tests.
	Now func() time.Time
}

// NewService creates a new generation Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		anonLedger: cfg.AnonLedger,
		userLedger: cfg.UserLedger,
		policy:     cfg.Policy,
		dispatcher: cfg.Dispatcher,
		logos:      cfg.Logos,
		logger:     logger,
		now:        now,
	}
}

// GenerateBatch runs one generation round for the caller described by state.
//
// The round costs exactly one quota unit no matter how many prompts it
// carries or how many of them degrade to placeholders. Premium accounts skip
// the ledger entirely. Quota denial surfaces as ErrCodeQuotaExceeded with
// remaining/total details before any provider call is made; a ledger that
// cannot be read or written surfaces as ErrCodeInternalLedger. A round whose
// caller disconnects before completion is abandoned: the reservation is
// released and nothing is charged.
func (s *Service) GenerateBatch(ctx context.Context, state quota.AuthState, req BatchRequest) (*BatchResult, error) {
	claim := quota.Resolve(state, s.now())

	if claim.Tier == quota.TierPremium {
		results := s.dispatcher.Dispatch(ctx, req.Prompts, req.ReferenceImages)
		s.saveResults(ctx, state, req.BusinessName, results)
		return &BatchResult{
			Results: results,
			Usage:   Usage{Used: 0, Remaining: quota.Unlimited, Total: quota.Unlimited},
		}, nil
	}

	ledger := s.ledgerFor(claim.Tier)
	limit := s.policy.Limit(claim.Tier)

	res, err := ledger.Reserve(ctx, claim.Identity, claim.Period, limit)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			s.logger.InfoContext(ctx, "generation denied by quota",
				slog.String("tier", string(claim.Tier)),
				slog.String("identity", claim.Identity),
				slog.Int("limit", limit),
			)
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeQuotaExceeded,
				denialMessage(claim.Tier),
				nil,
				map[string]any{"remaining": 0, "total": limit},
			)
		}
		return nil, types.NewAppError(
			types.ErrCodeInternalLedger,
			"usage ledger unavailable",
			err,
		)
	}

	results := s.dispatcher.Dispatch(ctx, req.Prompts, req.ReferenceImages)

	if cause := ctx.Err(); cause != nil {
		// The caller is gone; an abandoned round is never charged. The
		// release runs on a detached context because the request context is
		// already dead.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := ledger.Release(releaseCtx, res); relErr != nil {
			s.logger.WarnContext(releaseCtx, "failed to release reservation for abandoned round",
				slog.String("tier", string(claim.Tier)),
				slog.String("identity", claim.Identity),
				slog.String("error", relErr.Error()),
			)
		}
		return nil, cause
	}

	count, err := ledger.Commit(ctx, res)
	if err != nil {
		// The images exist but the charge could not be recorded. Surfacing
		// a 5xx keeps the ledger authoritative; the reservation is left to
		// the backend's rollover/expiry rather than released, since a
		// release here could hand out a free round.
		return nil, types.NewAppError(
			types.ErrCodeInternalLedger,
			"failed to record usage for the completed round",
			err,
		)
	}

	s.saveResults(ctx, state, req.BusinessName, results)

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &BatchResult{
		Results: results,
		Usage:   Usage{Used: count, Remaining: remaining, Total: limit},
	}, nil
}

// Snapshot reports the caller's current usage without charging anything.
// The count is advisory; it may race with in-flight rounds.
func (s *Service) Snapshot(ctx context.Context, state quota.AuthState) (Usage, error) {
	claim := quota.Resolve(state, s.now())

	if claim.Tier == quota.TierPremium {
		return Usage{Used: 0, Remaining: quota.Unlimited, Total: quota.Unlimited}, nil
	}

	ledger := s.ledgerFor(claim.Tier)
	count, err := ledger.Count(ctx, claim.Identity, claim.Period)
	if err != nil {
		return Usage{}, types.NewAppError(
			types.ErrCodeInternalLedger,
			"usage ledger unavailable",
			err,
		)
	}

	d := quota.CheckGate(claim.Tier, count, s.policy)
	return Usage{Used: d.Used, Remaining: d.Remaining, Total: d.Total}, nil
}

func (s *Service) ledgerFor(tier quota.Tier) quota.Ledger {
	if tier == quota.TierFree {
		return s.userLedger
	}
	return s.anonLedger
}

// saveResults persists the round's logos for authenticated callers.
// Placeholder slots are not saved; a persistence failure is logged and the
// round still succeeds, since the caller already has the image URLs.
func (s *Service) saveResults(ctx context.Context, state quota.AuthState, businessName string, results []Result) {
	if s.logos == nil || !state.Authenticated {
		return
	}

	now := s.now().UTC()
	for _, r := range results {
		if r.Placeholder {
			continue
		}
		logo := &types.Logo{
			UserID:       state.AccountID,
			Prompt:       r.Prompt,
			ImageURL:     r.ImageURL,
			BusinessName: businessName,
			CreatedAt:    now,
		}
		if err := s.logos.Save(ctx, logo); err != nil {
			s.logger.WarnContext(ctx, "failed to save generated logo",
				slog.String("user_id", state.AccountID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func denialMessage(tier quota.Tier) string {
	if tier == quota.TierAnonymous {
		return "Daily free generation limit reached. Sign in or upgrade for more."
	}
	return "Free generation limit reached. Upgrade for unlimited generations."
}
