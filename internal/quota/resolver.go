package quota

import "time"

// AuthState is the caller's authentication and entitlement state as observed
// by the HTTP layer. The resolver is a pure function of this plus the clock.
type AuthState struct {
	Authenticated bool
	AccountID     string
	Premium       bool
	ClientIP      string
}

// Claim is the resolved quota identity of one request: which tier applies,
// which ledger key to meter against, and which period the count lives in.
type Claim struct {
	Tier     Tier
	Identity string
	Period   PeriodKey
}

// Resolve determines the tier, ledger identity, and period for a request.
//
//   - Anonymous callers are keyed by network address with a daily period.
//   - Authenticated free accounts are keyed by account ID with a lifetime
//     counter.
//   - Premium accounts always resolve to the unlimited tier; their claim
//     still carries the account identity for logging.
//
// No side effects; the clock is only consulted for the anonymous period key.
func Resolve(state AuthState, now time.Time) Claim {
	if !state.Authenticated {
		return Claim{
			Tier:     TierAnonymous,
			Identity: "ip:" + state.ClientIP,
			Period:   DailyPeriod(now),
		}
	}

	claim := Claim{
		Identity: "user:" + state.AccountID,
		Period:   PeriodLifetime,
	}
	if state.Premium {
		claim.Tier = TierPremium
	} else {
		claim.Tier = TierFree
	}
	return claim
}
