package content

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	mu    sync.Mutex
	calls int
	hits  []vectorstore.SearchResult
	err   error
	delay time.Duration
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func hit(id, title, author string, score float32) vectorstore.SearchResult {
	n, _ := strconv.ParseInt(id, 10, 64)
	return indexEntry(catalog.Book{
		ID:       n,
		Title:    title,
		Author:   author,
		CoverURL: "https://covers.example/" + id + ".jpg",
	}, score)
}

func TestQueryText(t *testing.T) {
	assert.Equal(t, "Dune Frank Herbert", QueryText("Dune", "Frank Herbert"))
	assert.Equal(t, "Dune", QueryText("Dune", ""))
	assert.Equal(t, "Herbert", QueryText("", "Herbert"))
	assert.Equal(t, "", QueryText("", ""))
}

func TestIndex_Nearest(t *testing.T) {
	s := &fakeSearcher{hits: []vectorstore.SearchResult{
		hit("2", "Children of Dune", "Frank Herbert", 0.7),
		hit("1", "Dune", "Frank Herbert", 1.2),
		hit("3", "Emma", "Jane Austen", -0.1),
	}}
	ix, err := NewIndex(s, Config{}, nil)
	require.NoError(t, err)

	got, err := ix.Nearest(context.Background(), "Dune Frank Herbert", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Dune", got[0].Book.Title)
	assert.Equal(t, int64(1), got[0].Book.ID)
	assert.Equal(t, "https://covers.example/1.jpg", got[0].Book.CoverURL)
	assert.Equal(t, 1.0, got[0].Similarity)
	assert.InDelta(t, 0.7, got[1].Similarity, 1e-6)
	assert.Equal(t, 0.0, got[2].Similarity)
}

func TestIndex_Nearest_TruncatesToK(t *testing.T) {
	s := &fakeSearcher{hits: []vectorstore.SearchResult{
		hit("1", "A", "x", 0.9), hit("2", "B", "x", 0.8), hit("3", "C", "x", 0.7),
	}}
	ix, err := NewIndex(s, Config{}, nil)
	require.NoError(t, err)

	got, err := ix.Nearest(context.Background(), "A x", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestIndex_Nearest_BlankQuery(t *testing.T) {
	s := &fakeSearcher{}
	ix, err := NewIndex(s, Config{}, nil)
	require.NoError(t, err)

	got, err := ix.Nearest(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ix.Nearest(context.Background(), "Dune", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, s.callCount())
}

func TestIndex_Nearest_Cache(t *testing.T) {
	s := &fakeSearcher{hits: []vectorstore.SearchResult{hit("1", "Dune", "Frank Herbert", 0.9)}}
	ix, err := NewIndex(s, Config{CacheTTL: time.Minute}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := ix.Nearest(ctx, "Dune", 5)
	require.NoError(t, err)
	first[0].Book.Title = "mutated"

	second, err := ix.Nearest(ctx, "Dune", 5)
	require.NoError(t, err)
	assert.Equal(t, "Dune", second[0].Book.Title)
	assert.Equal(t, 1, s.callCount())

	_, err = ix.Nearest(ctx, "Dune", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, s.callCount(), "k is part of the cache key")
}

func TestIndex_Nearest_Timeout(t *testing.T) {
	s := &fakeSearcher{delay: time.Second}
	ix, err := NewIndex(s, Config{QueryTimeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = ix.Nearest(context.Background(), "Dune", 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIndex_BreakerOpens(t *testing.T) {
	s := &fakeSearcher{err: errors.New("connection refused")}
	ix, err := NewIndex(s, Config{FailureThreshold: 2, OpenTimeout: time.Hour}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := ix.Nearest(ctx, "Dune", 5)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrIndexUnavailable)
	}
	assert.Equal(t, "open", ix.BreakerState())

	_, err = ix.Nearest(ctx, "Dune", 5)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.Equal(t, 2, s.callCount())
}

func TestIndex_Recommend(t *testing.T) {
	s := &fakeSearcher{hits: []vectorstore.SearchResult{
		hit("1", "Dune", "Frank Herbert", 0.9),
		hit("2", "Children of Dune", "Frank Herbert", 0.6),
	}}
	ix, err := NewIndex(s, Config{}, nil)
	require.NoError(t, err)

	recs, err := ix.Recommend(context.Background(), catalog.SeedBook{Title: "Dune", Author: "Frank Herbert"}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, catalog.SourceContent, r.Source)
		assert.Equal(t, r.Similarity, r.Score)
	}
	assert.InDelta(t, 0.9, recs[0].Score, 1e-6)
}

func TestNewIndex_RequiresSearcher(t *testing.T) {
	_, err := NewIndex(nil, Config{}, nil)
	assert.Error(t, err)
}
