// Package quota implements the usage-gating core: tier resolution, period
// bookkeeping, the allow/deny gate, and the usage ledger that meters
// generation rounds. One user-initiated generation round consumes exactly one
// unit of quota regardless of how many images it produces.
package quota

import "math"

// Tier is the quota class a requester belongs to.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierFree      Tier = "free"
	TierPremium   Tier = "premium"
)

// Unlimited is the sentinel quota value reported for premium accounts.
// It is JSON-safe (fits in a float64 without loss).
const Unlimited = math.MaxInt32

// Policy defines the per-tier generation limits. It is built once from
// configuration and never mutated at runtime.
type Policy struct {
	limits map[Tier]int
}

// NewPolicy creates a Policy with the given anonymous and free-tier limits.
// Premium is always unlimited.
func NewPolicy(anonymousLimit, freeLimit int) Policy {
	return Policy{limits: map[Tier]int{
		TierAnonymous: anonymousLimit,
		TierFree:      freeLimit,
		TierPremium:   Unlimited,
	}}
}

// Limit returns the generation limit for the given tier. Unknown tiers
// receive the anonymous limit, the most restrictive, to fail safely.
func (p Policy) Limit(tier Tier) int {
	if limit, ok := p.limits[tier]; ok {
		return limit
	}
	return p.limits[TierAnonymous]
}

// Decision is the outcome of a gate check, computed from the count prior to
// the request being served.
type Decision struct {
	Allowed   bool
	Used      int
	Remaining int
	Total     int
}

// CheckGate decides whether a generation round may proceed. The boundary is
// inclusive: a count equal to the limit is denied, so an identity gets
// exactly `limit` successful rounds per period, never limit+1.
func CheckGate(tier Tier, count int, policy Policy) Decision {
	if tier == TierPremium {
		return Decision{Allowed: true, Used: count, Remaining: Unlimited, Total: Unlimited}
	}

	total := policy.Limit(tier)
	remaining := total - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   remaining > 0,
		Used:      count,
		Remaining: remaining,
		Total:     total,
	}
}
