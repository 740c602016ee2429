package subscription

import "strings"

type Status string

// Both cancel spellings are accepted: the gateway reports "canceled",
// local transitions write "cancelled".
const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusCancelled         Status = "cancelled"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// CancelledStatuses is used in queries that must match either spelling.
var CancelledStatuses = []string{string(StatusCanceled), string(StatusCancelled)}

// EntitlingStatuses are the statuses the expiry sweep considers live.
var EntitlingStatuses = []string{string(StatusActive), string(StatusTrialing)}

func ParseStatus(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

func (s Status) IsCancelled() bool {
	return s == StatusCanceled || s == StatusCancelled
}

func (s Status) IsEntitling() bool {
	return s == StatusActive || s == StatusTrialing
}

// IsTerminal reports whether the gateway will never move the subscription again.
func (s Status) IsTerminal() bool {
	return s.IsCancelled() || s == StatusIncompleteExpired
}
