package collaborative

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/logging"
)

// predictionEpsilon keeps the weighted average finite when similarities sum
// to zero.
const predictionEpsilon = 1e-9

// RatingsSource loads the full ratings history.
type RatingsSource interface {
	Ratings(ctx context.Context) ([]catalog.Rating, error)
}

// Filter produces rating predictions for a user from similar users.
type Filter struct {
	source RatingsSource
	logger *zap.Logger
}

// NewFilter creates a Filter over source.
func NewFilter(source RatingsSource, logger *zap.Logger) (*Filter, error) {
	if source == nil {
		return nil, errors.New("ratings source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{source: source, logger: logger}, nil
}

// Recommend returns up to topN unrated items for userID ranked by predicted
// rating. The rating matrix and similarity are rebuilt on every call. A user
// without rating history gets an empty, non-nil slice.
func (f *Filter) Recommend(ctx context.Context, userID int64, topN int) ([]catalog.Recommendation, error) {
	ratings, err := f.source.Ratings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ratings: %w", err)
	}
	recs := Predict(BuildMatrix(ratings), userID, topN)
	if f.logger.Core().Enabled(logging.TraceLevel) {
		for _, r := range recs {
			f.logger.Log(logging.TraceLevel, "collaborative prediction",
				zap.Int64("user_id", userID),
				zap.Int64("book_id", r.Book.ID),
				zap.Float64("predicted_rating", r.PredictedRating))
		}
	}
	f.logger.Debug("collaborative predictions computed",
		zap.Int64("user_id", userID),
		zap.Int("ratings", len(ratings)),
		zap.Int("results", len(recs)))
	return recs, nil
}

// Neighbors returns the n users most similar to userID.
func (f *Filter) Neighbors(ctx context.Context, userID int64, n int) ([]Neighbor, error) {
	ratings, err := f.source.Ratings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ratings: %w", err)
	}
	neighbors := SimilarityMatrix(ratings).Neighbors(userID)
	if n >= 0 && len(neighbors) > n {
		neighbors = neighbors[:n]
	}
	return neighbors, nil
}

// Predict scores every item the user has not rated as the similarity
// weighted average of the other users' ratings,
//
//	pred(i) = Σ sim(u,v)·r(v,i) / (Σ sim(u,v) + 1e-9)
//
// over all other users v, and returns the topN best. Ties are broken by
// ascending item id.
func Predict(m *Matrix, userID int64, topN int) []catalog.Recommendation {
	if topN <= 0 || !m.HasUser(userID) {
		return []catalog.Recommendation{}
	}

	neighbors := ComputeSimilarity(m).Neighbors(userID)
	var simSum float64
	weighted := make([]float64, len(m.items))
	for _, nb := range neighbors {
		simSum += nb.Similarity
		row := m.values[m.userIndex[nb.UserID]]
		for j, r := range row {
			weighted[j] += nb.Similarity * r
		}
	}

	own := m.values[m.userIndex[userID]]
	type scored struct {
		item int64
		pred float64
	}
	candidates := make([]scored, 0, len(m.items))
	for j, item := range m.items {
		if own[j] > 0 {
			continue
		}
		candidates = append(candidates, scored{item: item, pred: weighted[j] / (simSum + predictionEpsilon)})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].pred != candidates[b].pred {
			return candidates[a].pred > candidates[b].pred
		}
		return candidates[a].item < candidates[b].item
	})
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	recs := make([]catalog.Recommendation, 0, len(candidates))
	for _, c := range candidates {
		book, _ := m.Book(c.item)
		book.ID = c.item
		recs = append(recs, catalog.Recommendation{
			Book:            book,
			Score:           c.pred,
			Source:          catalog.SourceCollaborative,
			PredictedRating: c.pred,
		})
	}
	return recs
}
