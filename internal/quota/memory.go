package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memorySweepInterval is how often stale records are pruned. Anonymous
// traffic produces one record per IP per day; without pruning the map grows
// for the life of the process.
const memorySweepInterval = time.Hour

// MemoryLedger is a process-local Ledger guarded by a mutex. It backs the
// anonymous tier (acceptable to lose on restart) and local development.
// Records from earlier periods with no outstanding reservations are swept
// opportunistically on Reserve.
type MemoryLedger struct {
	mu           sync.Mutex
	records      map[string]*memoryRecord
	reservations map[string]string // reservation ID -> record key
	now          func() time.Time
	lastSweep    time.Time
}

type memoryRecord struct {
	period   PeriodKey
	count    int
	reserved int
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records:      make(map[string]*memoryRecord),
		reservations: make(map[string]string),
		now:          time.Now,
		lastSweep:    time.Now(),
	}
}

// Count returns the committed count for the identity in the given period.
// A missing record or a stale period reads as zero.
func (l *MemoryLedger) Count(_ context.Context, identity string, period PeriodKey) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identity]
	if !ok || rec.period != period {
		return 0, nil
	}
	return rec.count, nil
}

// Reserve atomically claims one unit of quota if count+reserved is under the
// limit. A record with a stale period is reset before the check.
func (l *MemoryLedger) Reserve(_ context.Context, identity string, period PeriodKey, limit int) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now := l.now(); now.Sub(l.lastSweep) >= memorySweepInterval {
		l.sweepLocked(now)
		l.lastSweep = now
	}

	rec, ok := l.records[identity]
	if !ok {
		rec = &memoryRecord{period: period}
		l.records[identity] = rec
	} else if rec.period != period {
		rec.period = period
		rec.count = 0
		rec.reserved = 0
	}

	if rec.count+rec.reserved >= limit {
		return Reservation{}, ErrQuotaExceeded
	}
	rec.reserved++

	res := Reservation{ID: uuid.New().String(), Identity: identity, Period: period}
	l.reservations[res.ID] = identity
	return res, nil
}

// Commit converts the reservation into a committed unit and returns the new
// count. Commits against unknown or already-settled reservations are no-ops
// returning the current count.
func (l *MemoryLedger) Commit(_ context.Context, res Reservation) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[res.Identity]
	if !ok {
		return 0, nil
	}

	if _, held := l.reservations[res.ID]; held {
		delete(l.reservations, res.ID)
		// Rollover while the reservation was in flight drops the hold but
		// still charges the round to the new period.
		if rec.reserved > 0 {
			rec.reserved--
		}
		rec.count++
	}
	return rec.count, nil
}

// sweepLocked drops records from earlier periods with no outstanding
// reservations. Lifetime records are always current and never swept.
// Caller holds l.mu.
func (l *MemoryLedger) sweepLocked(now time.Time) {
	for identity, rec := range l.records {
		if rec.reserved == 0 && !rec.period.IsCurrent(now) {
			delete(l.records, identity)
		}
	}
}

// Release abandons the reservation without charging quota.
func (l *MemoryLedger) Release(_ context.Context, res Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.reservations[res.ID]; !held {
		return nil
	}
	delete(l.reservations, res.ID)
	if rec, ok := l.records[res.Identity]; ok && rec.reserved > 0 {
		rec.reserved--
	}
	return nil
}
