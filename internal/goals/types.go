// Package goals derives reading-goal coaching from session logs and goal
// history: trend prediction, preferred reading time, weekly mission sizing,
// inactivity detection and a monthly report.
//
// Every analysis is a pure function of its inputs. Nothing here performs
// I/O; callers load rows through their own sources and pass them in.
package goals

import (
	"errors"
	"time"
)

// ErrMissingTimestampColumn is returned when a session log has neither a
// read_at nor a created_at column. It aborts the whole invocation.
var ErrMissingTimestampColumn = errors.New("session log requires a read_at or created_at column")

// Column names recognised in a session log.
const (
	ColumnReadAt    = "read_at"
	ColumnCreatedAt = "created_at"
)

// RawSession is one reading_logs row as text. Empty strings are missing
// values. Numbers and timestamps are parsed leniently by Preprocess.
type RawSession struct {
	LogID       int64
	UserID      int64
	ReadAt      string
	CreatedAt   string
	MinutesRead string
	PagesRead   string
}

// SessionLog is the reading_logs table: the columns it was read with and
// its rows.
type SessionLog struct {
	Columns []string
	Rows    []RawSession
}

// HasColumn reports whether the log was read with the named column.
func (l SessionLog) HasColumn(name string) bool {
	for _, c := range l.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Session is a cleaned reading session.
type Session struct {
	LogID       int64
	UserID      int64
	ReadAt      time.Time
	MinutesRead float64
	PagesRead   float64
}

// Hour is the local hour of day the session started.
func (s Session) Hour() int { return s.ReadAt.Hour() }

// Weekday is the local day of week of the session.
func (s Session) Weekday() time.Weekday { return s.ReadAt.Weekday() }

// IsWeekend reports whether the session fell on Saturday or Sunday.
func (s Session) IsWeekend() bool {
	wd := s.ReadAt.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// PagesPerMinute is pages/minutes, or 0 for zero-minute sessions.
func (s Session) PagesPerMinute() float64 {
	if s.MinutesRead <= 0 {
		return 0
	}
	return s.PagesRead / s.MinutesRead
}

// Week is an ISO year/week pair.
type Week struct {
	Year int
	Week int
}

// ISOWeek returns the ISO calendar week of the session.
func (s Session) ISOWeek() Week {
	y, w := s.ReadAt.ISOWeek()
	return Week{Year: y, Week: w}
}

func (w Week) after(o Week) bool {
	if w.Year != o.Year {
		return w.Year > o.Year
	}
	return w.Week > o.Week
}

// GoalRecord is one user's goal for one reporting period. NaN marks a
// missing counter.
type GoalRecord struct {
	UserID           int64
	Year             int
	Month            int
	TargetMinutes    float64
	CompletedMinutes float64
	TargetBooks      float64
	CompletedBooks   float64
	TargetReviews    float64
	CompletedReviews float64
}

// GoalPrediction holds next-period targets extrapolated from goal history.
// A field is nil when its model could not be fitted; Error explains why.
type GoalPrediction struct {
	RecommendedMinutes *int   `json:"recommended_minutes,omitempty"`
	RecommendedBooks   *int   `json:"recommended_books,omitempty"`
	RecommendedReviews *int   `json:"recommended_reviews,omitempty"`
	Error              string `json:"error,omitempty"`
}

// Period is a coarse time-of-day bucket.
type Period string

const (
	PeriodMorning       Period = "morning"
	PeriodAfternoon     Period = "afternoon"
	PeriodLateAfternoon Period = "late_afternoon"
	PeriodEvening       Period = "evening"
	PeriodNight         Period = "night"
)

// Reason tags how a rule recommendation was produced.
type Reason string

const (
	ReasonColdStart Reason = "cold_start"
	ReasonRuleBased Reason = "rule_based"
)

// RuleRecommendation is the preferred reading time and cadence.
type RuleRecommendation struct {
	Reason          Reason `json:"reason"`
	PreferredPeriod Period `json:"preferred_period"`
	Hour            int    `json:"hour"`
	SessionMinutes  int    `json:"session_minutes"`
	DaysPerWeek     int    `json:"days_per_week"`
}

// MissionRecommendation is the suggested weekly reading volume.
type MissionRecommendation struct {
	RecommendedWeeklyMinutes int      `json:"recommended_weekly_minutes"`
	Rationale                string   `json:"rationale"`
	SuccessRate              *float64 `json:"success_rate,omitempty"`
}

// InactivityStatus is a user's time since their last session.
type InactivityStatus struct {
	UserID            int64     `json:"user_id"`
	LastRead          time.Time `json:"last_read"`
	DaysSinceLastRead int       `json:"days_since_last_read"`
	Inactive          bool      `json:"inactive"`
}

// ReportRow aggregates one user's sessions and goals for a report window.
type ReportRow struct {
	UserID           int64    `json:"user_id"`
	TotalMinutes     float64  `json:"total_minutes"`
	Sessions         int      `json:"sessions"`
	AvgMinutes       float64  `json:"avg_minutes"`
	TargetMinutes    float64  `json:"target_minutes"`
	CompletedMinutes float64  `json:"completed_minutes"`
	TargetBooks      float64  `json:"target_books"`
	CompletedBooks   float64  `json:"completed_books"`
	TimeSuccessRate  *float64 `json:"time_success_rate"`
	BookSuccessRate  *float64 `json:"book_success_rate"`
}

// Bundle is every analysis for one user.
type Bundle struct {
	GoalPrediction        *GoalPrediction       `json:"goal_prediction"`
	RuleRecommendation    RuleRecommendation    `json:"rule_recommendation"`
	MissionRecommendation MissionRecommendation `json:"mission_recommendation"`
	Inactivity            InactivityStatus      `json:"inactivity"`
}

// UserBundle pairs a bundle with its user.
type UserBundle struct {
	UserID int64 `json:"user_id"`
	Bundle
}
