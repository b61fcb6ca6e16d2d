package threshold

import "time"

// Session is the recurring trading-activity regime used to scale expected
// baseline activity. Boundaries are UTC.
type Session int

const (
	SessionAsian Session = iota
	SessionEuropean
	SessionUS
	SessionWeekend
)

func (s Session) String() string {
	switch s {
	case SessionAsian:
		return "ASIAN"
	case SessionEuropean:
		return "EUROPEAN"
	case SessionUS:
		return "US"
	default:
		return "WEEKEND"
	}
}

// CurrentSession buckets a point in time into a session. Weekends override
// the hourly split; weekday hours are [0,8) Asian, [8,13) European,
// [13,21) US, [21,24) Asian.
func CurrentSession(t time.Time) Session {
	t = t.UTC()
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return SessionWeekend
	}
	switch h := t.Hour(); {
	case h < 8:
		return SessionAsian
	case h < 13:
		return SessionEuropean
	case h < 21:
		return SessionUS
	default:
		return SessionAsian
	}
}

// Multiplier scales the base threshold for the session: thin sessions lower
// the bar for what counts as notable, the US session raises it.
func (s Session) Multiplier() float64 {
	switch s {
	case SessionUS:
		return 1.2
	case SessionEuropean:
		return 1.0
	case SessionAsian:
		return 0.7
	default: // weekend
		return 0.6
	}
}

// RiskScore is the session-context factor for the cascade risk calculator,
// normalized to [0,1]: thin-liquidity sessions score higher because the same
// burst moves price further.
func (s Session) RiskScore() float64 {
	switch s {
	case SessionWeekend:
		return 1.0
	case SessionAsian:
		return 0.8
	case SessionEuropean:
		return 0.5
	default: // US
		return 0.4
	}
}

// ConfidenceBonus feeds the threshold confidence heuristic: high-liquidity
// sessions make the computed thresholds more trustworthy.
func (s Session) ConfidenceBonus() float64 {
	switch s {
	case SessionUS:
		return 0.10
	case SessionEuropean:
		return 0.05
	case SessionAsian:
		return 0
	default: // weekend
		return -0.05
	}
}
