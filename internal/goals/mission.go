package goals

import (
	"fmt"
	"math"
	"sort"
)

const (
	coldStartWeeklyMinutes = 60
	minWeeklyMinutes       = 10
	maxWeeklyMinutes       = 2000
	successWindow          = 3

	lowSuccess  = 0.6
	highSuccess = 0.9
)

// Mission rationales without a success rate.
const (
	RationaleColdStart  = "cold_start_default"
	RationaleNoGoalInfo = "no_goal_info"
)

// RecommendMission sizes a user's weekly reading mission from that user's
// sessions. The base is the mean weekly total over the four newest ISO
// weeks; the default is base+10%.
// With goal history, the mean minutes success rate of the three newest
// periods with a positive target moves the mission down (< 0.6, to 90% of
// base) or up (> 0.9, to 120% of base). The result is clamped to
// [10, 2000]. Goal rows are ordered by (Year, Month) before the window is
// taken; rows for other users are ignored.
func RecommendMission(sessions []Session, goals []GoalRecord) MissionRecommendation {
	if len(sessions) == 0 {
		return MissionRecommendation{
			RecommendedWeeklyMinutes: coldStartWeeklyMinutes,
			Rationale:                RationaleColdStart,
		}
	}

	var base int
	if weekly := weeklyTotals(sessions, recentWeeks, func(s Session) float64 { return s.MinutesRead }); len(weekly) > 0 {
		base = round(mean(weekly))
	} else {
		minutes := make([]float64, len(sessions))
		for i, s := range sessions {
			minutes[i] = s.MinutesRead
		}
		base = round(median(minutes) * 3)
	}

	rec := MissionRecommendation{
		RecommendedWeeklyMinutes: round(float64(base) * sessionLengthFactor),
		Rationale:                RationaleNoGoalInfo,
	}

	if rate, ok := recentSuccessRate(sessions[0].UserID, goals); ok {
		rec.SuccessRate = floatPtr(rate)
		switch {
		case rate < lowSuccess:
			rec.RecommendedWeeklyMinutes = max(minWeeklyMinutes, round(float64(base)*0.9))
			rec.Rationale = fmt.Sprintf("low_success_rate(%.2f)_reduce", rate)
		case rate > highSuccess:
			rec.RecommendedWeeklyMinutes = round(float64(base) * 1.2)
			rec.Rationale = fmt.Sprintf("high_success_rate(%.2f)_increase", rate)
		default:
			rec.Rationale = fmt.Sprintf("avg_success_rate(%.2f)_small_inc", rate)
		}
	}

	rec.RecommendedWeeklyMinutes = clamp(rec.RecommendedWeeklyMinutes, minWeeklyMinutes, maxWeeklyMinutes)
	return rec
}

// recentSuccessRate averages completed/target minutes over the newest
// periods with a positive target.
func recentSuccessRate(userID int64, goals []GoalRecord) (float64, bool) {
	var rows []GoalRecord
	for _, g := range goals {
		if g.UserID == userID {
			rows = append(rows, g)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Year != rows[j].Year {
			return rows[i].Year < rows[j].Year
		}
		return rows[i].Month < rows[j].Month
	})

	var rates []float64
	for _, g := range rows {
		if !(g.TargetMinutes > 0) {
			continue
		}
		r := g.CompletedMinutes / g.TargetMinutes
		if math.IsNaN(r) {
			continue
		}
		rates = append(rates, r)
	}
	if len(rates) == 0 {
		return 0, false
	}
	if len(rates) > successWindow {
		rates = rates[len(rates)-successWindow:]
	}
	return mean(rates), true
}
