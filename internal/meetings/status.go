package meetings

import (
	"time"

	"github.com/campusconf/backend/internal/models"
)

// Meetings open for joining this long before their scheduled start.
const earlyOpenWindow = 20 * time.Minute

// Past this long beyond the availability window a meeting is ancient
// history rather than merely over.
const longPastThreshold = 24 * time.Hour

// TimeStatus derives the scheduling state of a meeting at now. A live
// session always reads as in progress regardless of the clock.
func TimeStatus(m *models.Meeting, grace time.Duration, now time.Time) models.TimeStatus {
	if m.Status == models.MeetingInProgress {
		return models.TimeInProgress
	}
	if now.Before(m.StartTime.Add(-earlyOpenWindow)) {
		return models.TimeUpcoming
	}
	end := m.StartTime.Add(time.Duration(m.Duration)*time.Minute + grace)
	if now.After(end) {
		if now.After(end.Add(longPastThreshold)) {
			return models.TimeLongPast
		}
		return models.TimePast
	}
	return models.TimeAvailable
}

// IsAvailable reports whether a user may act on the meeting right now.
// Hosts may prepare a session ahead of its window; everyone else has to
// wait for it to open.
func IsAvailable(m *models.Meeting, grace time.Duration, asHost bool, now time.Time) bool {
	switch TimeStatus(m, grace, now) {
	case models.TimeInProgress, models.TimeAvailable:
		return true
	case models.TimeUpcoming:
		return asHost
	default:
		return false
	}
}

// CoerceStartTime applies the scheduling rule for requested start times.
// A session whose current start already passed keeps it unchanged (it
// cannot be un-started); otherwise a past or near-past request degrades to
// shortly after now.
func CoerceStartTime(current, requested, now time.Time) time.Time {
	if !current.IsZero() && current.Before(now) {
		return current
	}
	floor := now.Add(60 * time.Second)
	if requested.Before(floor) {
		return floor
	}
	return requested
}
