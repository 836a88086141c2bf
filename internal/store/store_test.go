package store

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/config"
	"github.com/fyrsmithlabs/bookrec/internal/goals"
)

const testSchema = `
CREATE TABLE books (
	book_id INTEGER PRIMARY KEY,
	title TEXT,
	author TEXT,
	category_name TEXT,
	cover TEXT
);
CREATE TABLE reviews (
	review_id INTEGER PRIMARY KEY,
	user_id INTEGER,
	book_id INTEGER,
	rating REAL
);
CREATE TABLE reading_logs (
	log_id INTEGER PRIMARY KEY,
	user_id INTEGER,
	book_id INTEGER,
	read_at TEXT,
	minutes_read INTEGER,
	pages_read INTEGER
);
CREATE TABLE reading_goals (
	goal_id INTEGER PRIMARY KEY,
	user_id INTEGER,
	year INTEGER,
	month INTEGER,
	target_minutes INTEGER,
	completed_minutes INTEGER,
	target_books INTEGER,
	completed_books INTEGER,
	target_reviews INTEGER,
	completed_reviews INTEGER
);
CREATE TABLE book_recommend (
	id INTEGER PRIMARY KEY,
	user_id INTEGER,
	book_title TEXT,
	author TEXT,
	book_cover_url TEXT,
	hybrid_score REAL
);
CREATE TABLE goal_recommend (
	id INTEGER PRIMARY KEY,
	user_id INTEGER,
	recommended_books INTEGER,
	recommended_minutes INTEGER,
	recommended_reviews INTEGER,
	preferred_period TEXT,
	preferred_hour INTEGER,
	session_minutes INTEGER,
	days_per_week INTEGER,
	recommended_weekly_minutes INTEGER,
	rationale TEXT,
	days_since_last_read INTEGER,
	inactive_flag INTEGER,
	created_at TEXT
);
`

const testFixtures = `
INSERT INTO books (book_id, title, author, category_name, cover) VALUES
	(1, 'Dune', 'Frank Herbert', 'SF', 'http://img/1'),
	(2, 'Emma', 'Jane Austen', 'Classic', NULL),
	(3, 'Ubik', 'Philip K. Dick', 'SF', 'http://img/3');
INSERT INTO reviews (user_id, book_id, rating) VALUES
	(10, 1, 5),
	(10, 2, NULL),
	(11, 3, 3.5),
	(11, NULL, 4);
INSERT INTO reading_logs (log_id, user_id, book_id, read_at, minutes_read, pages_read) VALUES
	(1, 10, 1, '2024-03-01 08:00:00', 30, 20),
	(2, 10, 2, '2024-03-05 21:00:00', 45, NULL),
	(3, 11, 3, '2024-03-02 12:00:00', 15, 10),
	(4, NULL, 3, '2024-03-03 12:00:00', 15, 10);
INSERT INTO reading_goals (user_id, year, month, target_minutes, completed_minutes, target_books, completed_books, target_reviews, completed_reviews) VALUES
	(10, 2024, 2, 600, 450, 2, 1, 1, NULL),
	(11, 2024, 3, 300, 300, 1, 1, NULL, NULL);
`

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	_, err = db.Exec(testFixtures)
	require.NoError(t, err)

	return New(db, 5*time.Second, nil)
}

func TestRepository_Ratings(t *testing.T) {
	repo := newTestRepository(t)

	got, err := repo.Ratings(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2, "null ratings and null book ids are excluded")

	byUser := map[int64]catalog.Rating{}
	for _, r := range got {
		byUser[r.UserID] = r
	}
	assert.Equal(t, "Dune", byUser[10].Book.Title)
	assert.Equal(t, "http://img/1", byUser[10].Book.CoverURL)
	assert.InDelta(t, 5.0, byUser[10].Rating, 1e-9)
	assert.Equal(t, int64(3), byUser[11].Book.ID)
	assert.InDelta(t, 3.5, byUser[11].Rating, 1e-9)
}

func TestRepository_RecentBooks(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	got, err := repo.RecentBooks(ctx, 10, 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Emma", got[0].Title, "newest first")
	assert.Empty(t, got[0].CoverURL)
	assert.Equal(t, "Dune", got[1].Title)

	got, err = repo.RecentBooks(ctx, 10, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = repo.RecentBooks(ctx, 999, 4)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRepository_ReadingUsers(t *testing.T) {
	repo := newTestRepository(t)

	got, err := repo.ReadingUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, got)
}

func TestRepository_SessionLog(t *testing.T) {
	repo := newTestRepository(t)

	log, err := repo.SessionLog(context.Background())
	require.NoError(t, err)
	assert.True(t, log.HasColumn(goals.ColumnReadAt))
	assert.False(t, log.HasColumn(goals.ColumnCreatedAt))
	require.Len(t, log.Rows, 3, "rows without a user id are dropped")

	first := log.Rows[0]
	assert.Equal(t, int64(1), first.LogID)
	assert.Equal(t, int64(10), first.UserID)
	assert.Equal(t, "2024-03-01 08:00:00", first.ReadAt)
	assert.Equal(t, "30", first.MinutesRead)
	assert.Equal(t, "20", first.PagesRead)
	assert.Empty(t, log.Rows[1].PagesRead, "NULL reads as empty")
}

func TestRepository_Goals(t *testing.T) {
	repo := newTestRepository(t)

	got, err := repo.Goals(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	g := got[0]
	assert.Equal(t, int64(10), g.UserID)
	assert.Equal(t, 2024, g.Year)
	assert.Equal(t, 2, g.Month)
	assert.InDelta(t, 600.0, g.TargetMinutes, 1e-9)
	assert.InDelta(t, 1.0, g.TargetReviews, 1e-9)
	assert.True(t, math.IsNaN(g.CompletedReviews))
	assert.True(t, math.IsNaN(got[1].TargetReviews))
}

func TestRepository_SaveRecommendations(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	recs := []catalog.HybridResult{
		{BookTitle: "Dune", Author: "Frank Herbert", BookCoverURL: "http://img/1", HybridScore: 0.8},
		{BookTitle: "Emma", Author: "Jane Austen", HybridScore: 0.72},
	}
	require.NoError(t, repo.SaveRecommendations(ctx, 10, recs))
	require.NoError(t, repo.SaveRecommendations(ctx, 10, nil))

	rows, err := repo.db.Query(`SELECT user_id, book_title, book_cover_url, hybrid_score FROM book_recommend ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var titles []string
	var covers []sql.NullString
	for rows.Next() {
		var (
			user  int64
			title string
			cover sql.NullString
			score float64
		)
		require.NoError(t, rows.Scan(&user, &title, &cover, &score))
		assert.Equal(t, int64(10), user)
		titles = append(titles, title)
		covers = append(covers, cover)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"Dune", "Emma"}, titles)
	assert.True(t, covers[0].Valid)
	assert.False(t, covers[1].Valid, "empty cover stored as NULL")
}

func TestRepository_SaveGoalBundles(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	books := 3
	bundles := []goals.UserBundle{
		{
			UserID: 10,
			Bundle: goals.Bundle{
				GoalPrediction: &goals.GoalPrediction{RecommendedBooks: &books},
				RuleRecommendation: goals.RuleRecommendation{
					Reason: goals.ReasonRuleBased, PreferredPeriod: goals.PeriodEvening,
					Hour: 21, SessionMinutes: 40, DaysPerWeek: 3,
				},
				MissionRecommendation: goals.MissionRecommendation{RecommendedWeeklyMinutes: 150, Rationale: "steady"},
				Inactivity:            goals.InactivityStatus{UserID: 10, DaysSinceLastRead: 9, Inactive: true},
			},
		},
		{UserID: 11},
	}
	createdAt := time.Date(2024, 3, 10, 9, 30, 0, 0, time.FixedZone("KST", 9*3600))
	require.NoError(t, repo.SaveGoalBundles(ctx, bundles, createdAt))

	var (
		recBooks, recMinutes, hour, inactive int
		period, stamp                        string
	)
	err := repo.db.QueryRow(`SELECT recommended_books, recommended_minutes, preferred_period, preferred_hour, inactive_flag, created_at
		FROM goal_recommend WHERE user_id = 10`).Scan(&recBooks, &recMinutes, &period, &hour, &inactive, &stamp)
	require.NoError(t, err)
	assert.Equal(t, 3, recBooks)
	assert.Equal(t, 0, recMinutes, "missing prediction stored as 0")
	assert.Equal(t, "evening", period)
	assert.Equal(t, 21, hour)
	assert.Equal(t, 1, inactive)
	assert.Equal(t, "2024-03-10 09:30:00", stamp)

	var count int
	require.NoError(t, repo.db.QueryRow(`SELECT COUNT(*) FROM goal_recommend`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRepository_QueryErrorsWrapped(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := New(db, time.Second, nil)

	_, err = repo.Ratings(context.Background())
	assert.ErrorContains(t, err, "querying ratings")

	_, err = repo.SessionLog(context.Background())
	assert.ErrorContains(t, err, "loading reading logs")
}

func TestDriverDSN(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "url form",
			raw:  "mysql://reader:secret@db:3306/books",
			want: "reader:secret@tcp(db:3306)/books",
		},
		{
			name: "url with options",
			raw:  "mysql://reader:secret@db:3306/books?charset=utf8mb4",
			want: "reader:secret@tcp(db:3306)/books?charset=utf8mb4",
		},
		{
			name: "parseTime forced off",
			raw:  "reader@tcp(db:3306)/books?parseTime=true",
			want: "reader@tcp(db:3306)/books",
		},
		{
			name:    "missing database",
			raw:     "mysql://reader@db:3306/",
			wantErr: true,
		},
		{
			name:    "malformed",
			raw:     "not a dsn",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DriverDSN(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_NoDSN(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoDSN)
}
