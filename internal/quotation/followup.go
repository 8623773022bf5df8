package quotation

import "time"

// FollowUpLevel grades how stale a quotation is.
type FollowUpLevel string

const (
	FollowUpGood    FollowUpLevel = "good"
	FollowUpWarning FollowUpLevel = "warning"
	FollowUpDanger  FollowUpLevel = "danger"
)

const (
	followUpGoodDays   = 3
	followUpDangerDays = 7
)

// FollowUpStatus is derived on every read and never stored.
type FollowUpStatus struct {
	Level     FollowUpLevel `json:"level"`
	Label     string        `json:"label"`
	DaysSince *int          `json:"days_since,omitempty"`
}

// FollowUp grades last against now in whole elapsed days: up to 3 is good,
// 4 to 6 is warning, 7 or more is danger.
func FollowUp(last *time.Time, now time.Time) FollowUpStatus {
	if last == nil || last.IsZero() {
		return FollowUpStatus{Level: FollowUpDanger, Label: "Never Followed Up"}
	}
	days := int(now.Sub(*last) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	switch {
	case days <= followUpGoodDays:
		return FollowUpStatus{Level: FollowUpGood, Label: "On Track", DaysSince: &days}
	case days < followUpDangerDays:
		return FollowUpStatus{Level: FollowUpWarning, Label: "Follow Up Soon", DaysSince: &days}
	default:
		return FollowUpStatus{Level: FollowUpDanger, Label: "Overdue", DaysSince: &days}
	}
}

// StaleBefore is the cutoff below which a follow-up date counts as danger.
func StaleBefore(now time.Time) time.Time {
	return now.Add(-followUpDangerDays * 24 * time.Hour)
}
