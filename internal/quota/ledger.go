package quota

import (
	"context"

	"logoforge/internal/types"
)

// ErrQuotaExceeded is returned by Ledger.Reserve when the identity has no
// allowance left in the current period. Callers test with errors.Is.
var ErrQuotaExceeded = types.NewAppError(
	types.ErrCodeQuotaExceeded,
	"generation quota exhausted for the current period",
	nil,
)

// Reservation is an in-flight unit of quota held between the gate check and
// the completion of a generation round. It counts against the limit while
// outstanding, which is what closes the check-then-increment race: two
// concurrent requests from the same identity cannot both pass the gate when
// only one unit remains.
type Reservation struct {
	ID       string
	Identity string
	Period   PeriodKey
}

// Ledger tracks per-identity usage within a period. Implementations must make
// Reserve a single atomic compare-and-reserve; Count is advisory (display
// only) and may race with concurrent reservations.
//
// The contract across all implementations:
//
//   - A stored record whose period differs from the requested one reads as
//     zero and is reset on the next Reserve (implicit rollover).
//   - Reserve returns ErrQuotaExceeded when count+outstanding >= limit.
//   - Commit converts a reservation into a counted unit and returns the new
//     committed count. Release abandons a reservation without charging.
//   - Counts are charged only through Commit, never speculatively.
type Ledger interface {
	Count(ctx context.Context, identity string, period PeriodKey) (int, error)
	Reserve(ctx context.Context, identity string, period PeriodKey, limit int) (Reservation, error)
	Commit(ctx context.Context, res Reservation) (int, error)
	Release(ctx context.Context, res Reservation) error
}
