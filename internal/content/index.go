// Package content answers "which catalog books are most similar to this
// text" against the shared similarity index.
package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/vectorstore"
	"github.com/patrickmn/go-cache"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrIndexUnavailable is returned while the circuit breaker is open.
var ErrIndexUnavailable = errors.New("similarity index unavailable")

// Metadata keys under which catalog documents carry book fields.
const (
	MetaBookID    = "book_id"
	MetaTitle     = "title"
	MetaAuthor    = "author"
	MetaCoverURL  = "cover_url"
	MetaCategory  = "category"
	MetaPublisher = "publisher"
)

// Searcher is the read side of vectorstore.Store.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error)
}

// Neighbor is a catalog book and its similarity to a query, in [0,1].
type Neighbor struct {
	Book       catalog.Book
	Similarity float64
}

// Config tunes the adapter's boundary protection.
type Config struct {
	// QueryTimeout bounds each index query. Default 5s.
	QueryTimeout time.Duration
	// CacheTTL is how long neighbours stay cached. Zero disables the cache.
	CacheTTL time.Duration
	// FailureThreshold is the consecutive failures that open the breaker. Default 5.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing. Default 30s.
	OpenTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
}

// Index wraps a Searcher with a timeout, a circuit breaker and a
// read-through cache. The underlying index is treated as immutable, so
// cached answers never go stale.
type Index struct {
	searcher Searcher
	cfg      Config
	cache    *cache.Cache
	breaker  *gobreaker.CircuitBreaker[[]vectorstore.SearchResult]
	logger   *zap.Logger
}

// NewIndex creates an Index over searcher.
func NewIndex(searcher Searcher, cfg Config, logger *zap.Logger) (*Index, error) {
	if searcher == nil {
		return nil, errors.New("content: searcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	ix := &Index{searcher: searcher, cfg: cfg, logger: logger}
	if cfg.CacheTTL > 0 {
		ix.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	ix.breaker = gobreaker.NewCircuitBreaker[[]vectorstore.SearchResult](gobreaker.Settings{
		Name:    "similarity-index",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A caller giving up is not an index failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return ix, nil
}

// QueryText builds the similarity query for a book.
func QueryText(title, author string) string {
	return strings.TrimSpace(title + " " + author)
}

// Nearest returns up to k books most similar to query, most similar first.
// A blank query or non-positive k yields no neighbours.
func (ix *Index) Nearest(ctx context.Context, query string, k int) ([]Neighbor, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return []Neighbor{}, nil
	}

	key := cacheKey(query, k)
	if ix.cache != nil {
		if v, ok := ix.cache.Get(key); ok {
			return cloneNeighbors(v.([]Neighbor)), nil
		}
	}

	hits, err := ix.breaker.Execute(func() ([]vectorstore.SearchResult, error) {
		qctx, cancel := context.WithTimeout(ctx, ix.cfg.QueryTimeout)
		defer cancel()
		return ix.searcher.Search(qctx, query, k)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		return nil, fmt.Errorf("searching index for %q: %w", query, err)
	}

	neighbors := toNeighbors(hits, k)
	if ix.cache != nil {
		ix.cache.SetDefault(key, cloneNeighbors(neighbors))
	}
	return neighbors, nil
}

// Recommend returns the k books nearest to seed as content-sourced
// recommendations scored by raw similarity.
func (ix *Index) Recommend(ctx context.Context, seed catalog.SeedBook, k int) ([]catalog.Recommendation, error) {
	neighbors, err := ix.Nearest(ctx, QueryText(seed.Title, seed.Author), k)
	if err != nil {
		return nil, err
	}
	recs := make([]catalog.Recommendation, len(neighbors))
	for i, n := range neighbors {
		recs[i] = catalog.Recommendation{
			Book:       n.Book,
			Score:      n.Similarity,
			Source:     catalog.SourceContent,
			Similarity: n.Similarity,
		}
	}
	return recs, nil
}

// BreakerState reports the circuit breaker state ("closed", "open", "half-open").
func (ix *Index) BreakerState() string {
	return ix.breaker.State().String()
}

func cacheKey(query string, k int) string {
	return strconv.Itoa(k) + "\x00" + query
}

func toNeighbors(hits []vectorstore.SearchResult, k int) []Neighbor {
	out := make([]Neighbor, 0, len(hits))
	for _, h := range hits {
		out = append(out, Neighbor{
			Book:       BookFromMetadata(h.Metadata, h.Content),
			Similarity: clamp01(float64(h.Score)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func cloneNeighbors(in []Neighbor) []Neighbor {
	out := make([]Neighbor, len(in))
	copy(out, in)
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
