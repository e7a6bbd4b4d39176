package quota

import "time"

// PeriodKey identifies the window a usage count belongs to. Comparing keys is
// the reset mechanism: a stored record whose key differs from the current one
// reads as zero. Using an explicit value type (rather than ad hoc date
// strings) keeps the format in one place and avoids timezone drift.
type PeriodKey string

// PeriodLifetime is the non-resetting period used for authenticated free
// accounts: their allowance is a lifetime counter, not a daily one.
const PeriodLifetime PeriodKey = "lifetime"

// dailyLayout is the canonical daily key format. Always UTC.
const dailyLayout = "2006-01-02"

// DailyPeriod returns the daily PeriodKey for the given instant, evaluated
// in UTC.
func DailyPeriod(now time.Time) PeriodKey {
	return PeriodKey(now.UTC().Format(dailyLayout))
}

// IsCurrent reports whether this key identifies the period containing now.
// The lifetime period is always current.
func (k PeriodKey) IsCurrent(now time.Time) bool {
	if k == PeriodLifetime {
		return true
	}
	return k == DailyPeriod(now)
}
