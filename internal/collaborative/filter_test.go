package collaborative

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/logging"
)

type staticRatings struct {
	ratings []catalog.Rating
	err     error
}

func (s staticRatings) Ratings(context.Context) ([]catalog.Rating, error) {
	return s.ratings, s.err
}

func rating(user, item int64, r float64) catalog.Rating {
	return catalog.Rating{
		UserID: user,
		Book:   catalog.Book{ID: item, Title: titleFor(item), Author: "author"},
		Rating: r,
	}
}

func titleFor(item int64) string {
	return map[int64]string{
		10: "Almond", 11: "Pachinko", 12: "Kim Jiyoung", 13: "The Vegetarian", 14: "Human Acts",
	}[item]
}

func sampleRatings() []catalog.Rating {
	return []catalog.Rating{
		rating(1, 10, 5), rating(1, 11, 4),
		rating(2, 10, 5), rating(2, 11, 4), rating(2, 12, 5),
		rating(3, 10, 1), rating(3, 13, 5), rating(3, 14, 4),
		rating(4, 14, 3),
	}
}

func TestBuildMatrix(t *testing.T) {
	t.Run("zero fill and ordering", func(t *testing.T) {
		m := BuildMatrix(sampleRatings())
		assert.Equal(t, []int64{1, 2, 3, 4}, m.Users())
		assert.Equal(t, []int64{10, 11, 12, 13, 14}, m.Items())
		assert.Equal(t, 5.0, m.Rating(1, 10))
		assert.Equal(t, 0.0, m.Rating(1, 12))
		assert.Equal(t, 0.0, m.Rating(99, 10))
	})

	t.Run("duplicates are averaged", func(t *testing.T) {
		m := BuildMatrix([]catalog.Rating{rating(1, 10, 4), rating(1, 10, 2)})
		assert.Equal(t, 3.0, m.Rating(1, 10))
	})

	t.Run("keeps first book metadata", func(t *testing.T) {
		m := BuildMatrix(sampleRatings())
		b, ok := m.Book(13)
		require.True(t, ok)
		assert.Equal(t, "The Vegetarian", b.Title)
	})
}

func TestSimilarity_Symmetric(t *testing.T) {
	sim := SimilarityMatrix(sampleRatings())
	users := []int64{1, 2, 3, 4}
	for _, u := range users {
		for _, v := range users {
			assert.Equal(t, sim.Between(u, v), sim.Between(v, u), "sim(%d,%d)", u, v)
		}
	}
	assert.InDelta(t, 1.0, sim.Between(1, 1), 1e-12)
	assert.Equal(t, 0.0, sim.Between(1, 4))
}

func TestSimilarity_ZeroRow(t *testing.T) {
	sim := SimilarityMatrix([]catalog.Rating{rating(1, 10, 0), rating(2, 10, 3)})
	assert.Equal(t, 0.0, sim.Between(1, 2))
	assert.Equal(t, 0.0, sim.Between(1, 1))
}

func TestSimilarity_NeighborsExcludeSelf(t *testing.T) {
	sim := SimilarityMatrix(sampleRatings())
	for _, u := range []int64{1, 2, 3, 4} {
		nbs := sim.Neighbors(u)
		assert.Len(t, nbs, 3)
		for i, nb := range nbs {
			assert.NotEqual(t, u, nb.UserID)
			if i > 0 {
				assert.GreaterOrEqual(t, nbs[i-1].Similarity, nb.Similarity)
			}
		}
	}
	assert.Equal(t, int64(2), sim.Neighbors(1)[0].UserID)
	assert.Nil(t, sim.Neighbors(42))
}

func TestPredict(t *testing.T) {
	m := BuildMatrix(sampleRatings())

	t.Run("excludes rated items", func(t *testing.T) {
		recs := Predict(m, 1, 10)
		for _, r := range recs {
			assert.NotContains(t, []int64{10, 11}, r.Book.ID)
			assert.Equal(t, catalog.SourceCollaborative, r.Source)
			assert.Equal(t, r.Score, r.PredictedRating)
		}
		assert.Len(t, recs, 3)
	})

	t.Run("weighted average", func(t *testing.T) {
		sim := ComputeSimilarity(m)
		s2, s3, s4 := sim.Between(1, 2), sim.Between(1, 3), sim.Between(1, 4)
		want := (s2*5 + s3*0 + s4*0) / (s2 + s3 + s4 + 1e-9)

		recs := Predict(m, 1, 1)
		require.Len(t, recs, 1)
		assert.Equal(t, int64(12), recs[0].Book.ID)
		assert.Equal(t, "Kim Jiyoung", recs[0].Book.Title)
		assert.InDelta(t, want, recs[0].PredictedRating, 1e-12)
	})

	t.Run("ties by item id", func(t *testing.T) {
		m := BuildMatrix([]catalog.Rating{rating(1, 10, 5), rating(2, 10, 5), rating(2, 12, 4), rating(2, 11, 4)})
		recs := Predict(m, 1, 2)
		require.Len(t, recs, 2)
		assert.Equal(t, int64(11), recs[0].Book.ID)
		assert.Equal(t, int64(12), recs[1].Book.ID)
	})

	t.Run("all neighbours dissimilar", func(t *testing.T) {
		m := BuildMatrix([]catalog.Rating{rating(1, 10, 5), rating(2, 11, 5)})
		recs := Predict(m, 1, 5)
		require.Len(t, recs, 1)
		assert.False(t, math.IsNaN(recs[0].PredictedRating))
		assert.Equal(t, 0.0, recs[0].PredictedRating)
	})

	t.Run("non-positive topN", func(t *testing.T) {
		assert.Empty(t, Predict(m, 1, 0))
	})
}

func TestFilter_Recommend(t *testing.T) {
	ctx := context.Background()

	t.Run("cold start user", func(t *testing.T) {
		f, err := NewFilter(staticRatings{ratings: sampleRatings()}, nil)
		require.NoError(t, err)
		recs, err := f.Recommend(ctx, 404, 5)
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
	})

	t.Run("top n bound", func(t *testing.T) {
		f, err := NewFilter(staticRatings{ratings: sampleRatings()}, nil)
		require.NoError(t, err)
		recs, err := f.Recommend(ctx, 4, 2)
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("source failure propagates", func(t *testing.T) {
		boom := errors.New("db down")
		f, err := NewFilter(staticRatings{err: boom}, nil)
		require.NoError(t, err)
		_, err = f.Recommend(ctx, 1, 5)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("neighbors", func(t *testing.T) {
		f, err := NewFilter(staticRatings{ratings: sampleRatings()}, nil)
		require.NoError(t, err)
		nbs, err := f.Neighbors(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, nbs, 1)
		assert.Equal(t, int64(2), nbs[0].UserID)
	})

	t.Run("trace logs each prediction", func(t *testing.T) {
		logger := logging.NewTestLogger()
		f, err := NewFilter(staticRatings{ratings: sampleRatings()}, logger.Underlying())
		require.NoError(t, err)
		recs, err := f.Recommend(ctx, 4, 2)
		require.NoError(t, err)

		entries := logger.FilterMessage("collaborative prediction").All()
		require.Len(t, entries, len(recs))
		assert.Equal(t, logging.TraceLevel, entries[0].Level)
		assert.Equal(t, recs[0].Book.ID, entries[0].ContextMap()["book_id"])
	})

	t.Run("nil source", func(t *testing.T) {
		_, err := NewFilter(nil, nil)
		assert.Error(t, err)
	})
}
