package goals

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidReportFilter is returned for a month outside 1-12 or a negative
// year.
var ErrInvalidReportFilter = errors.New("invalid report filter")

// ReportFilter narrows a monthly report. Zero fields do not filter.
type ReportFilter struct {
	Year  int
	Month int
}

// Validate checks the filter fields.
func (f ReportFilter) Validate() error {
	if f.Year < 0 {
		return fmt.Errorf("%w: year %d", ErrInvalidReportFilter, f.Year)
	}
	if f.Month < 0 || f.Month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidReportFilter, f.Month)
	}
	return nil
}

func (f ReportFilter) matches(year, month int) bool {
	if f.Year != 0 && year != f.Year {
		return false
	}
	if f.Month != 0 && month != f.Month {
		return false
	}
	return true
}

// MonthlyReport aggregates sessions and goals per user, keeping users that
// appear on either side. Sessions are filtered on their read time and goals
// on their period. Success rates are nil where the target sums to zero.
func MonthlyReport(goals []GoalRecord, sessions []Session, filter ReportFilter) []ReportRow {
	rows := make(map[int64]*ReportRow)
	minutes := make(map[int64][]float64)
	row := func(userID int64) *ReportRow {
		r, ok := rows[userID]
		if !ok {
			r = &ReportRow{UserID: userID}
			rows[userID] = r
		}
		return r
	}

	for _, s := range sessions {
		if !filter.matches(s.ReadAt.Year(), int(s.ReadAt.Month())) {
			continue
		}
		r := row(s.UserID)
		r.TotalMinutes += s.MinutesRead
		r.Sessions++
		minutes[s.UserID] = append(minutes[s.UserID], s.MinutesRead)
	}
	for _, g := range goals {
		if !filter.matches(g.Year, g.Month) {
			continue
		}
		r := row(g.UserID)
		r.TargetMinutes += sumFinite(g.TargetMinutes)
		r.CompletedMinutes += sumFinite(g.CompletedMinutes)
		r.TargetBooks += sumFinite(g.TargetBooks)
		r.CompletedBooks += sumFinite(g.CompletedBooks)
	}

	out := make([]ReportRow, 0, len(rows))
	for userID, r := range rows {
		if m := minutes[userID]; len(m) > 0 {
			r.AvgMinutes = median(m)
		}
		if r.TargetMinutes > 0 {
			r.TimeSuccessRate = floatPtr(r.CompletedMinutes / r.TargetMinutes)
		}
		if r.TargetBooks > 0 {
			r.BookSuccessRate = floatPtr(r.CompletedBooks / r.TargetBooks)
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
