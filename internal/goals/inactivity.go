package goals

import (
	"math"
	"sort"
	"time"
)

// DefaultInactivityDays is the gap after which a reader counts as inactive.
const DefaultInactivityDays = 5

// DetectInactivity reports, per user, the last session and the whole days
// elapsed since it at asOf. A user is inactive once that gap reaches
// thresholdDays. Results are ordered by user id.
func DetectInactivity(sessions []Session, thresholdDays int, asOf time.Time) []InactivityStatus {
	last := make(map[int64]time.Time)
	for _, s := range sessions {
		if t, ok := last[s.UserID]; !ok || s.ReadAt.After(t) {
			last[s.UserID] = s.ReadAt
		}
	}

	out := make([]InactivityStatus, 0, len(last))
	for userID, t := range last {
		days := DaysBetween(t, asOf)
		out = append(out, InactivityStatus{
			UserID:            userID,
			LastRead:          t,
			DaysSinceLastRead: days,
			Inactive:          days >= thresholdDays,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// DaysBetween returns the whole days from 'from' to 'to', rounded down, so
// a last session in the future yields a negative count.
func DaysBetween(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / 24))
}
