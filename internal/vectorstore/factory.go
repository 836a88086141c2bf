package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/bookrec/internal/config"
	"go.uber.org/zap"
)

// NewStore creates the catalog index selected by cfg.VectorStore.Provider:
//   - "chromem" (default): embedded store under vectorstore.chromem.path
//   - "qdrant": external Qdrant server
//
// The store is meant to be opened once per process and shared.
func NewStore(cfg *config.Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.VectorStore.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.VectorStore.Chromem.Path,
			Compress:   cfg.VectorStore.Chromem.Compress,
			Collection: cfg.VectorStore.Chromem.Collection,
			VectorSize: cfg.VectorStore.VectorSize,
		}, embedder, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			Collection: cfg.VectorStore.Qdrant.Collection,
			VectorSize: uint64(cfg.VectorStore.VectorSize),
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
		}, embedder, logger)

	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant)", cfg.VectorStore.Provider)
	}
}
