package goals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureLog() SessionLog {
	return SessionLog{
		Columns: []string{"log_id", "user_id", "read_at", "minutes_read", "pages_read"},
		Rows: []RawSession{
			{LogID: 1, UserID: 2, ReadAt: "2024-05-01 20:00:00", MinutesRead: "30", PagesRead: "12"},
			{LogID: 2, UserID: 2, ReadAt: "2024-05-02 20:30:00", MinutesRead: "30", PagesRead: "10"},
			{LogID: 3, UserID: 2, ReadAt: "2024-05-03 21:00:00", MinutesRead: "40", PagesRead: "20"},
			{LogID: 4, UserID: 1, ReadAt: "2024-05-10 08:00:00", MinutesRead: "15", PagesRead: "5"},
			{LogID: 5, UserID: 3, ReadAt: "garbage", MinutesRead: "15"},
		},
	}
}

func fixtureGoals() []GoalRecord {
	return []GoalRecord{
		{UserID: 2, Year: 2024, Month: 3, TargetMinutes: 100, CompletedMinutes: 50, TargetBooks: 2, CompletedBooks: 1, TargetReviews: 1, CompletedReviews: 1},
		{UserID: 2, Year: 2024, Month: 4, TargetMinutes: 200, CompletedMinutes: 100, TargetBooks: 4, CompletedBooks: 2, TargetReviews: 2, CompletedReviews: 1},
		{UserID: 9, Year: 2024, Month: 4, TargetMinutes: 60, CompletedMinutes: 30},
	}
}

func fixedPipeline() *Pipeline {
	asOf := time.Date(2024, 5, 11, 12, 0, 0, 0, time.UTC)
	return NewPipeline(PipelineConfig{Now: func() time.Time { return asOf }, Workers: 2}, nil)
}

func TestPipeline_ComputeAll(t *testing.T) {
	p := fixedPipeline()
	res, err := p.ComputeAll(context.Background(), fixtureLog(), fixtureGoals())
	require.NoError(t, err)

	require.Len(t, res.Bundles, 2)
	assert.Equal(t, int64(1), res.Bundles[0].UserID)
	assert.Equal(t, int64(2), res.Bundles[1].UserID)

	u1 := res.Bundles[0]
	assert.Nil(t, u1.GoalPrediction)
	assert.Equal(t, ColdStartRule, u1.RuleRecommendation)
	assert.Equal(t, 1, u1.Inactivity.DaysSinceLastRead)
	assert.False(t, u1.Inactivity.Inactive)

	u2 := res.Bundles[1]
	require.NotNil(t, u2.GoalPrediction)
	require.NotNil(t, u2.GoalPrediction.RecommendedMinutes)
	assert.Equal(t, 150, *u2.GoalPrediction.RecommendedMinutes)
	assert.Equal(t, PeriodEvening, u2.RuleRecommendation.PreferredPeriod)
	assert.Equal(t, 20, u2.RuleRecommendation.Hour)
	assert.Equal(t, "low_success_rate(0.50)_reduce", u2.MissionRecommendation.Rationale)
	assert.Equal(t, 90, u2.MissionRecommendation.RecommendedWeeklyMinutes)
	assert.True(t, u2.Inactivity.Inactive)
	assert.Equal(t, 7, u2.Inactivity.DaysSinceLastRead)

	assert.Equal(t, 1, res.InactiveCount())
	assert.Len(t, res.Inactivity, 2)
	assert.Len(t, res.Report, 3)
}

func TestPipeline_Deterministic(t *testing.T) {
	p := fixedPipeline()
	a, err := p.ComputeAll(context.Background(), fixtureLog(), fixtureGoals())
	require.NoError(t, err)
	b, err := p.ComputeAll(context.Background(), fixtureLog(), fixtureGoals())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPipeline_MissingTimestampIsFatal(t *testing.T) {
	p := fixedPipeline()
	log := SessionLog{Columns: []string{"log_id", "user_id"}, Rows: []RawSession{{LogID: 1, UserID: 1}}}

	_, err := p.ComputeAll(context.Background(), log, nil)
	assert.ErrorIs(t, err, ErrMissingTimestampColumn)

	_, err = p.ComputeForUser(context.Background(), 1, log, nil)
	assert.ErrorIs(t, err, ErrMissingTimestampColumn)
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fixedPipeline().ComputeAll(ctx, fixtureLog(), fixtureGoals())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_ComputeForUser(t *testing.T) {
	p := fixedPipeline()

	t.Run("known user", func(t *testing.T) {
		res, err := p.ComputeForUser(context.Background(), 2, fixtureLog(), fixtureGoals())
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.UserID)
		require.Len(t, res.Inactivity, 1)
		assert.True(t, res.Inactivity[0].Inactive)
		assert.Equal(t, ReasonRuleBased, res.RuleRecommendation.Reason)
	})

	t.Run("user without sessions", func(t *testing.T) {
		res, err := p.ComputeForUser(context.Background(), 9, fixtureLog(), fixtureGoals())
		require.NoError(t, err)
		assert.Empty(t, res.Inactivity)
		assert.Nil(t, res.GoalPrediction)
		assert.Equal(t, ColdStartRule, res.RuleRecommendation)
		assert.Equal(t, RationaleColdStart, res.MissionRecommendation.Rationale)
	})
}

func TestPipeline_MonthlyReport(t *testing.T) {
	rows, err := fixedPipeline().MonthlyReport(fixtureLog(), fixtureGoals(), ReportFilter{Year: 2024, Month: 4})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].Sessions)
	assert.Equal(t, 200.0, rows[0].TargetMinutes)
}

func TestReportFilter_Validate(t *testing.T) {
	assert.NoError(t, ReportFilter{}.Validate())
	assert.NoError(t, ReportFilter{Year: 2024, Month: 12}.Validate())
	assert.ErrorIs(t, ReportFilter{Month: 13}.Validate(), ErrInvalidReportFilter)
	assert.ErrorIs(t, ReportFilter{Year: -1}.Validate(), ErrInvalidReportFilter)

	_, err := fixedPipeline().MonthlyReport(fixtureLog(), fixtureGoals(), ReportFilter{Month: 0, Year: -2024})
	assert.ErrorIs(t, err, ErrInvalidReportFilter)
}
