package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/goals"
)

const (
	ratingsQuery = `
		SELECT r.user_id, r.book_id, r.rating, b.title, b.author, b.category_name, b.cover AS book_cover_url
		FROM reviews r
		JOIN books b ON r.book_id = b.book_id
		WHERE r.rating IS NOT NULL AND r.book_id IS NOT NULL`

	recentBooksQuery = `
		SELECT b.title, b.author, b.category_name AS category, b.cover AS book_cover_url
		FROM reading_logs r
		JOIN books b ON r.book_id = b.book_id
		WHERE r.user_id = ?
		ORDER BY r.read_at DESC
		LIMIT ?`

	readingUsersQuery = `SELECT DISTINCT user_id FROM reading_logs WHERE user_id IS NOT NULL ORDER BY user_id`

	sessionLogQuery = `SELECT * FROM reading_logs`

	goalsQuery = `SELECT * FROM reading_goals`
)

// Ratings loads every non-null review rating joined with its book.
func (r *Repository) Ratings(ctx context.Context) ([]catalog.Rating, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, ratingsQuery)
	if err != nil {
		return nil, fmt.Errorf("querying ratings: %w", err)
	}
	defer rows.Close()

	var out []catalog.Rating
	for rows.Next() {
		var (
			rt                              catalog.Rating
			title, author, category, cover sql.NullString
		)
		if err := rows.Scan(&rt.UserID, &rt.Book.ID, &rt.Rating, &title, &author, &category, &cover); err != nil {
			return nil, fmt.Errorf("scanning rating: %w", err)
		}
		rt.Book.Title = title.String
		rt.Book.Author = author.String
		rt.Book.Category = category.String
		rt.Book.CoverURL = cover.String
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ratings: %w", err)
	}
	return out, nil
}

// RecentBooks returns the user's most recently read books, newest first.
func (r *Repository) RecentBooks(ctx context.Context, userID int64, limit int) ([]catalog.SeedBook, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, recentBooksQuery, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent books for user %d: %w", userID, err)
	}
	defer rows.Close()

	out := []catalog.SeedBook{}
	for rows.Next() {
		var title, author, category, cover sql.NullString
		if err := rows.Scan(&title, &author, &category, &cover); err != nil {
			return nil, fmt.Errorf("scanning recent book: %w", err)
		}
		out = append(out, catalog.SeedBook{
			Title:    title.String,
			Author:   author.String,
			Category: category.String,
			CoverURL: cover.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recent books: %w", err)
	}
	return out, nil
}

// ReadingUsers returns every user with at least one reading log, ascending.
func (r *Repository) ReadingUsers(ctx context.Context) ([]int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, readingUsersQuery)
	if err != nil {
		return nil, fmt.Errorf("querying reading users: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SessionLog loads reading_logs as text, keeping the column list so the
// pipeline can tell which timestamp column exists.
func (r *Repository) SessionLog(ctx context.Context) (goals.SessionLog, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cols, records, err := r.queryTable(ctx, sessionLogQuery)
	if err != nil {
		return goals.SessionLog{}, fmt.Errorf("loading reading logs: %w", err)
	}

	log := goals.SessionLog{Columns: cols, Rows: make([]goals.RawSession, 0, len(records))}
	skipped := 0
	for _, rec := range records {
		userID, ok := parseID(rec["user_id"])
		if !ok {
			skipped++
			continue
		}
		logID, _ := parseID(rec["log_id"])
		log.Rows = append(log.Rows, goals.RawSession{
			LogID:       logID,
			UserID:      userID,
			ReadAt:      rec[goals.ColumnReadAt].String,
			CreatedAt:   rec[goals.ColumnCreatedAt].String,
			MinutesRead: rec["minutes_read"].String,
			PagesRead:   rec["pages_read"].String,
		})
	}
	if skipped > 0 {
		r.logger.Warn("skipped reading logs without user id", zap.Int("rows", skipped))
	}
	return log, nil
}

// Goals loads reading_goals. NULL counters become NaN; a missing year or
// month column reads as 0.
func (r *Repository) Goals(ctx context.Context) ([]goals.GoalRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, records, err := r.queryTable(ctx, goalsQuery)
	if err != nil {
		return nil, fmt.Errorf("loading reading goals: %w", err)
	}

	out := make([]goals.GoalRecord, 0, len(records))
	for _, rec := range records {
		userID, ok := parseID(rec["user_id"])
		if !ok {
			continue
		}
		year, _ := parseID(rec["year"])
		month, _ := parseID(rec["month"])
		out = append(out, goals.GoalRecord{
			UserID:           userID,
			Year:             int(year),
			Month:            int(month),
			TargetMinutes:    parseCounter(rec["target_minutes"]),
			CompletedMinutes: parseCounter(rec["completed_minutes"]),
			TargetBooks:      parseCounter(rec["target_books"]),
			CompletedBooks:   parseCounter(rec["completed_books"]),
			TargetReviews:    parseCounter(rec["target_reviews"]),
			CompletedReviews: parseCounter(rec["completed_reviews"]),
		})
	}
	return out, nil
}

// queryTable runs a SELECT * and returns each row keyed by lowercase column
// name.
func (r *Repository) queryTable(ctx context.Context, query string) ([]string, []map[string]sql.NullString, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	for i, c := range cols {
		cols[i] = strings.ToLower(c)
	}

	var out []map[string]sql.NullString
	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, err
		}
		rec := make(map[string]sql.NullString, len(cols))
		for i, c := range cols {
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	return cols, out, rows.Err()
}

func parseID(v sql.NullString) (int64, bool) {
	if !v.Valid {
		return 0, false
	}
	s := strings.TrimSpace(v.String)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, true
	}
	// DECIMAL or float-typed id columns.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

func parseCounter(v sql.NullString) float64 {
	if !v.Valid {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.String), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
