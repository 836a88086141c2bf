// Package hybrid blends content similarity and collaborative predictions
// into one ranked list.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/logging"
)

// DefaultAlpha weights content similarity against collaborative prediction.
const DefaultAlpha = 0.8

// ErrInvalidAlpha is returned for an alpha outside [0,1].
var ErrInvalidAlpha = errors.New("alpha must be within [0, 1]")

var tracer = otel.Tracer("bookrec.hybrid")

// ContentRecommender returns the k catalog books nearest to a seed.
type ContentRecommender interface {
	Recommend(ctx context.Context, seed catalog.SeedBook, k int) ([]catalog.Recommendation, error)
}

// CollaborativeRecommender returns up to topN predicted items for a user.
type CollaborativeRecommender interface {
	Recommend(ctx context.Context, userID int64, topN int) ([]catalog.Recommendation, error)
}

// Config sizes each stage of the blend.
type Config struct {
	MaxSeeds       int // default 4
	ContentK       int // default 10
	CollaborativeN int // default 5
	Limit          int // default 12
}

func (c *Config) applyDefaults() {
	if c.MaxSeeds <= 0 {
		c.MaxSeeds = 4
	}
	if c.ContentK <= 0 {
		c.ContentK = 10
	}
	if c.CollaborativeN <= 0 {
		c.CollaborativeN = 5
	}
	if c.Limit <= 0 {
		c.Limit = 12
	}
}

// Blender merges the two recommenders.
type Blender struct {
	content       ContentRecommender
	collaborative CollaborativeRecommender
	cfg           Config
	logger        *zap.Logger
}

// NewBlender creates a Blender.
func NewBlender(content ContentRecommender, collaborative CollaborativeRecommender, cfg Config, logger *zap.Logger) (*Blender, error) {
	if content == nil || collaborative == nil {
		return nil, errors.New("hybrid: content and collaborative recommenders are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Blender{content: content, collaborative: collaborative, cfg: cfg, logger: logger}, nil
}

// Recommend blends content neighbours of the first MaxSeeds seeds with the
// user's collaborative predictions. Titles are deduplicated exactly, first
// occurrence wins, content results first. Content entries score
// alpha×similarity and collaborative-only entries (1-alpha)×predicted
// rating; the two scales are not reconciled. The result is sorted stably by
// score descending and cut to Limit.
//
// A content failure for one seed drops that seed. A collaborative failure
// is returned.
func (b *Blender) Recommend(ctx context.Context, userID int64, seeds []catalog.SeedBook, alpha float64) ([]catalog.Recommendation, error) {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}

	ctx, span := tracer.Start(ctx, "Blender.Recommend")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int("seeds", len(seeds)),
		attribute.Float64("alpha", alpha),
	)

	if len(seeds) > b.cfg.MaxSeeds {
		seeds = seeds[:b.cfg.MaxSeeds]
	}

	var contentRecs []catalog.Recommendation
	for _, seed := range seeds {
		recs, err := b.content.Recommend(ctx, seed, b.cfg.ContentK)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.RecordError(ctxErr)
				span.SetStatus(codes.Error, ctxErr.Error())
				return nil, ctxErr
			}
			b.logger.Warn("content lookup failed, skipping seed",
				zap.Int64("user.id", userID),
				zap.String("title", seed.Title),
				zap.Error(err))
			continue
		}
		contentRecs = append(contentRecs, recs...)
	}

	collabRecs, err := b.collaborative.Recommend(ctx, userID, b.cfg.CollaborativeN)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("collaborative recommendations for user %d: %w", userID, err)
	}

	merged := Merge(contentRecs, collabRecs, alpha, b.cfg.Limit)
	if b.logger.Core().Enabled(logging.TraceLevel) {
		for i, r := range merged {
			b.logger.Log(logging.TraceLevel, "blended entry",
				zap.Int64("user.id", userID),
				zap.Int("rank", i+1),
				zap.String("title", r.Book.Title),
				zap.String("source", string(r.Source)),
				zap.Float64("score", r.Score))
		}
	}
	span.SetAttributes(attribute.Int("results", len(merged)))
	span.SetStatus(codes.Ok, "success")
	b.logger.Debug("hybrid recommendations blended",
		zap.Int64("user.id", userID),
		zap.Int("content", len(contentRecs)),
		zap.Int("collaborative", len(collabRecs)),
		zap.Int("results", len(merged)))
	return merged, nil
}

// Merge is the pure blending step of Recommend.
func Merge(contentRecs, collabRecs []catalog.Recommendation, alpha float64, limit int) []catalog.Recommendation {
	seen := make(map[string]struct{}, len(contentRecs)+len(collabRecs))
	merged := make([]catalog.Recommendation, 0, len(contentRecs)+len(collabRecs))

	for _, r := range contentRecs {
		if _, dup := seen[r.Book.Title]; dup {
			continue
		}
		seen[r.Book.Title] = struct{}{}
		r.Source = catalog.SourceContent
		r.Score = alpha * r.Similarity
		merged = append(merged, r)
	}
	for _, r := range collabRecs {
		if _, dup := seen[r.Book.Title]; dup {
			continue
		}
		seen[r.Book.Title] = struct{}{}
		r.Source = catalog.SourceCollaborative
		r.Score = (1 - alpha) * r.PredictedRating
		merged = append(merged, r)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
