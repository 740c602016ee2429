package subscription

import (
	"fmt"
	"strings"
	"time"
)

type Interval string

const (
	Monthly Interval = "monthly"
	Yearly  Interval = "yearly"
)

// ParseInterval accepts both local names and the gateway's "month"/"year".
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monthly", "month":
		return Monthly, nil
	case "yearly", "year", "annual":
		return Yearly, nil
	}
	return "", fmt.Errorf("unknown billing interval %q", s)
}

// GatewayInterval is the recurring interval name the payment gateway expects.
func (i Interval) GatewayInterval() string {
	if i == Yearly {
		return "year"
	}
	return "month"
}

// AddTo advances t by one billing interval. Anything not yearly is monthly.
func (i Interval) AddTo(t time.Time) time.Time {
	if i == Yearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// DerivePeriodEnd returns reportedEnd when it is set and after start,
// otherwise start plus one interval. The gateway has been observed to
// omit the period end or report one at or before the start.
func DerivePeriodEnd(start time.Time, interval Interval, reportedEnd time.Time) time.Time {
	if !reportedEnd.IsZero() && reportedEnd.After(start) {
		return reportedEnd
	}
	return interval.AddTo(start)
}

// UnixTime converts a gateway unix timestamp, treating 0 and negatives as unset.
func UnixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
