package goals

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when parsing session timestamps.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Preprocess turns raw reading_logs rows into sessions. The read_at column
// is used when the log has it, otherwise created_at. Rows whose chosen
// timestamp is empty or unparseable are dropped. Missing or non-numeric
// minutes and pages become 0. Timestamps without a zone are read in loc.
func Preprocess(log SessionLog, loc *time.Location) ([]Session, error) {
	var pick func(RawSession) string
	switch {
	case log.HasColumn(ColumnReadAt):
		pick = func(r RawSession) string { return r.ReadAt }
	case log.HasColumn(ColumnCreatedAt):
		pick = func(r RawSession) string { return r.CreatedAt }
	default:
		return nil, ErrMissingTimestampColumn
	}
	if loc == nil {
		loc = time.UTC
	}

	sessions := make([]Session, 0, len(log.Rows))
	for _, row := range log.Rows {
		ts, ok := ParseTimestamp(pick(row), loc)
		if !ok {
			continue
		}
		sessions = append(sessions, Session{
			LogID:       row.LogID,
			UserID:      row.UserID,
			ReadAt:      ts,
			MinutesRead: parseNumber(row.MinutesRead),
			PagesRead:   parseNumber(row.PagesRead),
		})
	}
	return sessions, nil
}

// ParseTimestamp parses a session timestamp, reporting false when s is empty
// or matches no known layout.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
