package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bookrec/internal/collaborative"
	"github.com/fyrsmithlabs/bookrec/internal/config"
	"github.com/fyrsmithlabs/bookrec/internal/content"
	"github.com/fyrsmithlabs/bookrec/internal/embeddings"
	"github.com/fyrsmithlabs/bookrec/internal/events"
	"github.com/fyrsmithlabs/bookrec/internal/goals"
	"github.com/fyrsmithlabs/bookrec/internal/hybrid"
	"github.com/fyrsmithlabs/bookrec/internal/logging"
	"github.com/fyrsmithlabs/bookrec/internal/service"
	"github.com/fyrsmithlabs/bookrec/internal/store"
	"github.com/fyrsmithlabs/bookrec/internal/telemetry"
	"github.com/fyrsmithlabs/bookrec/internal/vectorstore"
)

// dependencies holds everything a command needs, in construction order.
type dependencies struct {
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
	repo      *store.Repository
	embedder  embeddings.Provider
	vectors   vectorstore.Store
	index     *content.Index
	publisher events.Publisher
	svc       *service.Service
}

// Close releases resources in reverse construction order.
func (d *dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.publisher != nil {
		errs = append(errs, d.publisher.Close())
	}
	if d.vectors != nil {
		errs = append(errs, d.vectors.Close())
	}
	if d.embedder != nil {
		errs = append(errs, d.embedder.Close())
	}
	if d.repo != nil {
		errs = append(errs, d.repo.Close())
	}
	if d.telemetry != nil {
		errs = append(errs, d.telemetry.Shutdown(ctx))
	}
	if d.logger != nil {
		_ = d.logger.Sync() // Best-effort sync
	}
	return errors.Join(errs...)
}

// initDependencies builds the full recommendation stack:
//  1. Telemetry and logger
//  2. MySQL repository
//  3. Embedder and similarity index
//  4. Collaborative filter, hybrid blender and goal pipeline
//  5. Event publisher and Prometheus metrics
//  6. The orchestrating service
//
// On failure, whatever was already built is closed.
func initDependencies(ctx context.Context, cfg *config.Config) (_ *dependencies, err error) {
	d := &dependencies{}
	defer func() {
		if err != nil {
			_ = d.Close(context.Background())
		}
	}()

	d.telemetry, err = telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return nil, err
	}
	d.logger, err = logging.NewLogger(&cfg.Logging, d.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	zl := d.logger.Underlying()
	if health := d.telemetry.Health(); health.Degraded {
		zl.Warn("telemetry degraded", zap.Strings("reasons", health.Reasons))
	}

	d.repo, err = store.Open(ctx, cfg.Database, zl)
	if err != nil {
		return nil, err
	}

	d.embedder, err = embeddings.NewProvider(cfg.Embeddings, zl)
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = d.embedder.Dimension()
	}
	vectors, err := vectorstore.NewStore(cfg, d.embedder, zl)
	if err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}
	d.vectors = vectors

	d.index, err = content.NewIndex(d.vectors, content.Config{
		QueryTimeout: cfg.Recommend.QueryTimeout,
		CacheTTL:     cfg.Recommend.CacheTTL,
	}, zl)
	if err != nil {
		return nil, err
	}
	filter, err := collaborative.NewFilter(d.repo, zl)
	if err != nil {
		return nil, err
	}
	blender, err := hybrid.NewBlender(d.index, filter, hybrid.Config{
		MaxSeeds:       cfg.Recommend.MaxSeeds,
		ContentK:       cfg.Recommend.ContentK,
		CollaborativeN: cfg.Recommend.CollaborativeN,
		Limit:          cfg.Recommend.Limit,
	}, zl)
	if err != nil {
		return nil, err
	}
	pipeline := goals.NewPipeline(goals.PipelineConfig{
		InactivityDays: cfg.Goals.InactivityDays,
		Location:       cfg.Goals.Location(),
		Workers:        cfg.Service.Workers,
	}, zl)

	d.publisher = events.Nop{}
	if cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, zl)
		if err != nil {
			return nil, err
		}
		d.publisher = nc
	}

	d.svc, err = service.New(service.Options{
		Seeds:       d.repo,
		GoalData:    d.repo,
		Sink:        d.repo,
		Recommender: blender,
		Goals:       pipeline,
		Publisher:   d.publisher,
		Metrics:     newMetrics(),
		Config: service.Config{
			Alpha:      cfg.Recommend.Alpha,
			MaxSeeds:   cfg.Recommend.MaxSeeds,
			BatchSeeds: cfg.Recommend.BatchSeeds,
			Workers:    cfg.Service.Workers,
			Location:   cfg.Goals.Location(),
		},
		Logger: zl,
	})
	if err != nil {
		return nil, err
	}

	zl.Info("dependencies initialized",
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("telemetry", d.telemetry.IsEnabled()))
	return d, nil
}

var (
	metricsOnce   sync.Once
	sharedMetrics *service.Metrics
)

// newMetrics registers the flow metrics with the default registry once,
// which is what /metrics serves.
func newMetrics() *service.Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = service.NewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}
