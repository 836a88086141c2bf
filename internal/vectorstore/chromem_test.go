package vectorstore_test

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/bookrec/internal/config"
	"github.com/fyrsmithlabs/bookrec/internal/vectorstore"
	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// tokenEmbedder hashes lowercase tokens into buckets and normalizes, so texts
// sharing words land close together.
type tokenEmbedder struct {
	size int
	err  error
}

func (e *tokenEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.embed(text), nil
}

func (e *tokenEmbedder) embed(text string) []float32 {
	v := make([]float32, e.size)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[h.Sum32()%uint32(e.size)]++
	}
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}

const testCollection = "test_catalog"

// seedCatalog writes docs to a chromem database at dir the way an external
// index build would, embedding each document with the test embedder.
func seedCatalog(t *testing.T, dir string, docs []chromem.Document) {
	t.Helper()
	db, err := chromem.NewPersistentDB(dir, false)
	require.NoError(t, err)
	emb := &tokenEmbedder{size: 64}
	col, err := db.GetOrCreateCollection(testCollection, nil, func(ctx context.Context, text string) ([]float32, error) {
		return emb.EmbedQuery(ctx, text)
	})
	require.NoError(t, err)
	for i := range docs {
		docs[i].Embedding = emb.embed(docs[i].Content)
	}
	require.NoError(t, col.AddDocuments(context.Background(), docs, 1))
}

func catalogDocs() []chromem.Document {
	return []chromem.Document{
		{ID: "1", Content: "Dune Frank Herbert", Metadata: map[string]string{"book_id": "1", "title": "Dune", "author": "Frank Herbert"}},
		{ID: "2", Content: "Children of Dune Frank Herbert", Metadata: map[string]string{"book_id": "2", "title": "Children of Dune", "author": "Frank Herbert"}},
		{ID: "3", Content: "Emma Jane Austen", Metadata: map[string]string{"book_id": "3", "title": "Emma", "author": "Jane Austen"}},
	}
}

func openTestStore(t *testing.T, dir string, embedder vectorstore.Embedder) *vectorstore.ChromemStore {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       dir,
		Collection: testCollection,
		VectorSize: 64,
	}, embedder, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newSeededStore opens a store over a freshly seeded catalog.
func newSeededStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()
	dir := t.TempDir()
	seedCatalog(t, dir, catalogDocs())
	return openTestStore(t, dir, &tokenEmbedder{size: 64})
}

func TestChromemConfig_ApplyDefaults(t *testing.T) {
	var c vectorstore.ChromemConfig
	c.ApplyDefaults()
	assert.Equal(t, "data/catalog_index", c.Path)
	assert.Equal(t, "book_catalog", c.Collection)
	assert.Equal(t, 384, c.VectorSize)
}

func TestChromemConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     vectorstore.ChromemConfig
		wantErr error
	}{
		{"valid", vectorstore.ChromemConfig{Collection: "book_catalog", VectorSize: 384}, nil},
		{"zero vector size", vectorstore.ChromemConfig{Collection: "book_catalog", VectorSize: -1}, vectorstore.ErrInvalidConfig},
		{"path traversal", vectorstore.ChromemConfig{Collection: "../etc", VectorSize: 384}, vectorstore.ErrInvalidCollectionName},
		{"uppercase", vectorstore.ChromemConfig{Collection: "Books", VectorSize: 384}, vectorstore.ErrInvalidCollectionName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewChromemStore_NilEmbedder(t *testing.T) {
	_, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: t.TempDir()}, nil, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}

func TestNewChromemStore_ExpandsHomePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	_, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       "~/index",
		Collection: "test_catalog",
		VectorSize: 64,
	}, &tokenEmbedder{size: 64}, nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(home, "index"))
	assert.NoError(t, err)
}

func TestChromemStore_Search(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := store.Search(ctx, "Dune Frank Herbert", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "Dune", results[0].Metadata["title"])
	assert.Equal(t, "Dune Frank Herbert", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestChromemStore_Search_KCappedAtCount(t *testing.T) {
	results, err := newSeededStore(t).Search(context.Background(), "Emma", 50)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, "3", results[0].ID)
}

func TestChromemStore_Search_Errors(t *testing.T) {
	store := openTestStore(t, t.TempDir(), &tokenEmbedder{size: 64})
	ctx := context.Background()

	_, err := store.Search(ctx, "Dune", 5)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	_, err = store.Search(ctx, "Dune", 0)
	assert.Error(t, err)

	_, err = store.Search(ctx, "", 5)
	assert.Error(t, err)
}

func TestChromemStore_Search_EmbedderFailures(t *testing.T) {
	dir := t.TempDir()
	seedCatalog(t, dir, catalogDocs())
	ctx := context.Background()

	offline := openTestStore(t, dir, &tokenEmbedder{size: 64, err: errors.New("model offline")})
	_, err := offline.Search(ctx, "Dune", 2)
	assert.ErrorContains(t, err, "model offline")

	wrongModel := openTestStore(t, dir, &tokenEmbedder{size: 32})
	_, err = wrongModel.Search(ctx, "Dune", 2)
	assert.ErrorContains(t, err, "index expects 64")
}

func TestChromemStore_Count_NoCollection(t *testing.T) {
	store := openTestStore(t, t.TempDir(), &tokenEmbedder{size: 64})
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChromemStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	seedCatalog(t, dir, catalogDocs())
	require.NoError(t, openTestStore(t, dir, &tokenEmbedder{size: 64}).Close())

	results, err := openTestStore(t, dir, &tokenEmbedder{size: 64}).Search(context.Background(), "Jane Austen", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Emma", results[0].Metadata["title"])
}

func TestNewStore_Providers(t *testing.T) {
	cfg := config.Default()
	cfg.VectorStore.Chromem.Path = t.TempDir()
	cfg.VectorStore.VectorSize = 64

	store, err := vectorstore.NewStore(cfg, &tokenEmbedder{size: 64}, zap.NewNop())
	require.NoError(t, err)
	_, ok := store.(*vectorstore.ChromemStore)
	assert.True(t, ok)

	cfg.VectorStore.Provider = "pinecone"
	_, err = vectorstore.NewStore(cfg, &tokenEmbedder{size: 64}, zap.NewNop())
	assert.Error(t, err)
}

func TestQdrantConfig_Validate(t *testing.T) {
	valid := vectorstore.QdrantConfig{Host: "localhost", Port: 6334, Collection: "book_catalog", VectorSize: 384}
	assert.NoError(t, valid.Validate())

	noHost := valid
	noHost.Host = ""
	assert.ErrorIs(t, noHost.Validate(), vectorstore.ErrInvalidConfig)

	badPort := valid
	badPort.Port = 70000
	assert.ErrorIs(t, badPort.Validate(), vectorstore.ErrInvalidConfig)

	badName := valid
	badName.Collection = "Book Catalog"
	assert.ErrorIs(t, badName.Validate(), vectorstore.ErrInvalidCollectionName)
}

func TestIsTransientError(t *testing.T) {
	assert.False(t, vectorstore.IsTransientError(nil))
	assert.False(t, vectorstore.IsTransientError(errors.New("plain")))
}
