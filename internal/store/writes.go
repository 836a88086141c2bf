package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/goals"
)

const (
	insertBookRecommend = `
		INSERT INTO book_recommend (user_id, book_title, author, book_cover_url, hybrid_score)
		VALUES (?, ?, ?, ?, ?)`

	insertGoalRecommend = `
		INSERT INTO goal_recommend (
			user_id,
			recommended_books, recommended_minutes, recommended_reviews,
			preferred_period, preferred_hour, session_minutes, days_per_week,
			recommended_weekly_minutes, rationale,
			days_since_last_read, inactive_flag,
			created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAtLayout = "2006-01-02 15:04:05"
)

// SaveRecommendations appends one book_recommend row per recommendation in
// a single transaction.
func (r *Repository) SaveRecommendations(ctx context.Context, userID int64, recs []catalog.HybridResult) error {
	if len(recs) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.inTx(ctx, insertBookRecommend, func(stmt *sql.Stmt) error {
		for _, rec := range recs {
			if _, err := stmt.ExecContext(ctx, userID, rec.BookTitle, rec.Author, nullIfEmpty(rec.BookCoverURL), rec.HybridScore); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving recommendations for user %d: %w", userID, err)
	}
	r.logger.Debug("book recommendations saved", zap.Int64("user.id", userID), zap.Int("rows", len(recs)))
	return nil
}

// SaveGoalBundles appends one goal_recommend row per user bundle. Absent
// prediction fields are written as 0 and createdAt is written in its own
// zone.
func (r *Repository) SaveGoalBundles(ctx context.Context, bundles []goals.UserBundle, createdAt time.Time) error {
	if len(bundles) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	stamp := createdAt.Format(createdAtLayout)
	err := r.inTx(ctx, insertGoalRecommend, func(stmt *sql.Stmt) error {
		for _, b := range bundles {
			var books, minutes, reviews int
			if p := b.GoalPrediction; p != nil {
				books = derefOrZero(p.RecommendedBooks)
				minutes = derefOrZero(p.RecommendedMinutes)
				reviews = derefOrZero(p.RecommendedReviews)
			}
			inactive := 0
			if b.Inactivity.Inactive {
				inactive = 1
			}
			rule := b.RuleRecommendation
			mission := b.MissionRecommendation
			if _, err := stmt.ExecContext(ctx,
				b.UserID,
				books, minutes, reviews,
				string(rule.PreferredPeriod), rule.Hour, rule.SessionMinutes, rule.DaysPerWeek,
				mission.RecommendedWeeklyMinutes, mission.Rationale,
				b.Inactivity.DaysSinceLastRead, inactive,
				stamp,
			); err != nil {
				return fmt.Errorf("user %d: %w", b.UserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving goal bundles: %w", err)
	}
	r.logger.Info("goal bundles saved", zap.Int("rows", len(bundles)))
	return nil
}

func (r *Repository) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func derefOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
