package goals

import "sort"

const (
	minRuleSessions     = 3
	recentWeeks         = 4
	sessionLengthFactor = 1.1
	minSessionMinutes   = 5
	defaultSessionMins  = 20
)

// ColdStartRule is returned for users with too few sessions to infer habits.
var ColdStartRule = RuleRecommendation{
	Reason:          ReasonColdStart,
	PreferredPeriod: PeriodEvening,
	Hour:            20,
	SessionMinutes:  defaultSessionMins,
	DaysPerWeek:     3,
}

// PeriodOfHour buckets an hour of day.
func PeriodOfHour(h int) Period {
	switch {
	case h >= 5 && h < 11:
		return PeriodMorning
	case h >= 11 && h < 15:
		return PeriodAfternoon
	case h >= 15 && h < 19:
		return PeriodLateAfternoon
	case h >= 19 && h < 23:
		return PeriodEvening
	default:
		return PeriodNight
	}
}

// RecommendTime infers a user's preferred reading period, hour, session
// length and weekly frequency from their sessions. Fewer than three sessions
// yield ColdStartRule.
func RecommendTime(sessions []Session) RuleRecommendation {
	if len(sessions) < minRuleSessions {
		return ColdStartRule
	}

	periods := make([]string, len(sessions))
	hours := make([]int, len(sessions))
	minutes := make([]float64, len(sessions))
	for i, s := range sessions {
		hours[i] = s.Hour()
		periods[i] = string(PeriodOfHour(hours[i]))
		minutes[i] = s.MinutesRead
	}

	typical := median(minutes)
	if typical == 0 {
		typical = mean(minutes)
	}
	if typical == 0 {
		typical = defaultSessionMins
	}
	sessionMinutes := round(typical * sessionLengthFactor)
	if sessionMinutes < minSessionMinutes {
		sessionMinutes = minSessionMinutes
	}

	daysPerWeek := 3
	if counts := weeklyTotals(sessions, recentWeeks, func(Session) float64 { return 1 }); len(counts) > 0 {
		daysPerWeek = clamp(round(mean(counts)), 1, 7)
	}

	return RuleRecommendation{
		Reason:          ReasonRuleBased,
		PreferredPeriod: Period(modeString(periods)),
		Hour:            modeInt(hours),
		SessionMinutes:  sessionMinutes,
		DaysPerWeek:     daysPerWeek,
	}
}

// modeString returns the most frequent value, the smallest on ties.
func modeString(xs []string) string {
	counts := make(map[string]int, len(xs))
	for _, x := range xs {
		counts[x]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}

// modeInt returns the most frequent value, the smallest on ties.
func modeInt(xs []int) int {
	counts := make(map[int]int, len(xs))
	for _, x := range xs {
		counts[x]++
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
