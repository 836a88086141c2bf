// Package service orchestrates the recommendation flows: it loads seeds and
// history from the store, runs the recommenders, persists the results and
// announces them.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/events"
	"github.com/fyrsmithlabs/bookrec/internal/goals"
	"github.com/fyrsmithlabs/bookrec/internal/logging"
)

var tracer = otel.Tracer("bookrec.service")

// SeedSource supplies recently read books and the set of active readers.
type SeedSource interface {
	RecentBooks(ctx context.Context, userID int64, limit int) ([]catalog.SeedBook, error)
	ReadingUsers(ctx context.Context) ([]int64, error)
}

// GoalDataSource supplies the raw inputs of the goal pipeline.
type GoalDataSource interface {
	SessionLog(ctx context.Context) (goals.SessionLog, error)
	Goals(ctx context.Context) ([]goals.GoalRecord, error)
}

// Sink persists computed recommendations.
type Sink interface {
	SaveRecommendations(ctx context.Context, userID int64, recs []catalog.HybridResult) error
	SaveGoalBundles(ctx context.Context, bundles []goals.UserBundle, createdAt time.Time) error
}

// Recommender blends seeds and rating history into a ranked list.
type Recommender interface {
	Recommend(ctx context.Context, userID int64, seeds []catalog.SeedBook, alpha float64) ([]catalog.Recommendation, error)
}

// GoalEngine computes goal bundles.
type GoalEngine interface {
	ComputeAll(ctx context.Context, log goals.SessionLog, records []goals.GoalRecord) (*goals.Result, error)
	ComputeForUser(ctx context.Context, userID int64, log goals.SessionLog, records []goals.GoalRecord) (*goals.UserResult, error)
	MonthlyReport(log goals.SessionLog, records []goals.GoalRecord, filter goals.ReportFilter) ([]goals.ReportRow, error)
}

// Config tunes the flows.
type Config struct {
	// Alpha is the content weight passed to the recommender.
	Alpha float64
	// MaxSeeds is the seed count for single-user requests. Default 4.
	MaxSeeds int
	// BatchSeeds is the seed count for all-users runs. Default 3.
	BatchSeeds int
	// Workers bounds all-users parallelism. Default 4.
	Workers int
	// Location is the zone of batch timestamps. Default UTC.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Options wires a Service.
type Options struct {
	Seeds       SeedSource
	GoalData    GoalDataSource
	Sink        Sink
	Recommender Recommender
	Goals       GoalEngine
	Publisher   events.Publisher
	Metrics     *Metrics
	Config      Config
	Logger      *zap.Logger
}

// Service runs the book and goal recommendation flows.
type Service struct {
	seeds       SeedSource
	goalData    GoalDataSource
	sink        Sink
	recommender Recommender
	goals       GoalEngine
	publisher   events.Publisher
	metrics     *Metrics
	cfg         Config
	logger      *zap.Logger
	log         *logging.Logger
}

// BooksBatchResult summarises an all-users book run.
type BooksBatchResult struct {
	RunID     string
	UserCount int
	Skipped   int
	Failed    int
	At        time.Time
}

// GoalsBatchResult summarises an all-users goal run.
type GoalsBatchResult struct {
	RunID  string
	Result *goals.Result
	At     time.Time
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	switch {
	case opts.Seeds == nil:
		return nil, errors.New("seed source is required")
	case opts.GoalData == nil:
		return nil, errors.New("goal data source is required")
	case opts.Sink == nil:
		return nil, errors.New("sink is required")
	case opts.Recommender == nil:
		return nil, errors.New("recommender is required")
	case opts.Goals == nil:
		return nil, errors.New("goal engine is required")
	}

	cfg := opts.Config
	if cfg.MaxSeeds <= 0 {
		cfg.MaxSeeds = 4
	}
	if cfg.BatchSeeds <= 0 {
		cfg.BatchSeeds = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		seeds:       opts.Seeds,
		goalData:    opts.GoalData,
		sink:        opts.Sink,
		recommender: opts.Recommender,
		goals:       opts.Goals,
		publisher:   publisher,
		metrics:     opts.Metrics,
		cfg:         cfg,
		logger:      logger,
		log:         logging.Wrap(logger),
	}, nil
}

// Now returns the current time in the configured zone.
func (s *Service) Now() time.Time {
	return s.cfg.Now().In(s.cfg.Location)
}

// RecommendBooks seeds the blender with the user's MaxSeeds most recent
// books and returns the blended list. With persist the list is saved before
// it is returned.
func (s *Service) RecommendBooks(ctx context.Context, userID int64, persist bool) ([]catalog.HybridResult, error) {
	ctx, span := tracer.Start(ctx, "Service.RecommendBooks")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Bool("persist", persist))

	runID := uuid.NewString()
	ctx = logging.WithUserID(logging.WithRunID(ctx, runID), userID)

	results, err := s.recommendUser(ctx, runID, userID, s.cfg.MaxSeeds, persist, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// errNoSeeds marks a user skipped in batch runs.
var errNoSeeds = errors.New("no recent books")

func (s *Service) recommendUser(ctx context.Context, runID string, userID int64, seedLimit int, persist, requireSeeds bool) ([]catalog.HybridResult, error) {
	start := time.Now()
	seeds, err := s.seeds.RecentBooks(ctx, userID, seedLimit)
	if err != nil {
		s.metrics.observeBooks(outcomeError, time.Since(start))
		return nil, fmt.Errorf("loading recent books: %w", err)
	}
	if requireSeeds && len(seeds) == 0 {
		return nil, errNoSeeds
	}

	recs, err := s.recommender.Recommend(ctx, userID, seeds, s.cfg.Alpha)
	if err != nil {
		s.metrics.observeBooks(outcomeError, time.Since(start))
		return nil, err
	}
	results := catalog.Results(recs)

	if persist {
		if err := s.sink.SaveRecommendations(ctx, userID, results); err != nil {
			s.metrics.observeBooks(outcomeError, time.Since(start))
			return nil, fmt.Errorf("persisting recommendations: %w", err)
		}
	}
	s.metrics.observeBooks(outcomeSuccess, time.Since(start))
	s.metrics.addResults(len(results))

	if err := s.publisher.BooksRecommended(ctx, events.BooksRecommended{
		RunID:           runID,
		UserID:          userID,
		Recommendations: results,
		Persisted:       persist,
		At:              s.Now(),
	}); err != nil {
		s.log.Warn(ctx, "publishing book recommendations failed", zap.Error(err))
	}
	return results, nil
}

// RecommendBooksAll recommends and persists books for every reading user
// using BatchSeeds seeds each. Users without recent books are skipped. A
// failure for one user is logged and counted; the run continues.
func (s *Service) RecommendBooksAll(ctx context.Context) (*BooksBatchResult, error) {
	ctx, span := tracer.Start(ctx, "Service.RecommendBooksAll")
	defer span.End()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	users, err := s.seeds.ReadingUsers(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading reading users: %w", err)
	}

	var done, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, userID := range users {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			userCtx := logging.WithUserID(gctx, userID)
			_, err := s.recommendUser(userCtx, runID, userID, s.cfg.BatchSeeds, true, true)
			switch {
			case errors.Is(err, errNoSeeds):
				skipped.Add(1)
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				s.log.Warn(userCtx, "book recommendation failed", zap.Error(err))
			default:
				done.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res := &BooksBatchResult{
		RunID:     runID,
		UserCount: int(done.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
		At:        s.Now(),
	}
	s.metrics.observeBatch(batchBooks, res.Failed)
	span.SetAttributes(
		attribute.Int("users", res.UserCount),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("failed", res.Failed))
	span.SetStatus(codes.Ok, "success")
	s.log.Info(ctx, "book recommendation batch finished",
		zap.Int("users", res.UserCount),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// GoalsAll computes and persists goal bundles for every user with sessions.
func (s *Service) GoalsAll(ctx context.Context) (*GoalsBatchResult, error) {
	ctx, span := tracer.Start(ctx, "Service.GoalsAll")
	defer span.End()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	start := time.Now()

	log, records, err := s.loadGoalData(ctx)
	if err != nil {
		s.metrics.observeGoals(outcomeError, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result, err := s.goals.ComputeAll(ctx, log, records)
	if err != nil {
		s.metrics.observeGoals(outcomeError, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	at := s.Now()
	if err := s.sink.SaveGoalBundles(ctx, result.Bundles, at); err != nil {
		s.metrics.observeGoals(outcomeError, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persisting goal bundles: %w", err)
	}
	s.metrics.observeGoals(outcomeSuccess, time.Since(start))
	s.metrics.observeBatch(batchGoals, 0)
	s.metrics.setInactive(result.InactiveCount())

	if err := s.publisher.GoalsComputed(ctx, events.GoalsComputed{
		RunID:         runID,
		UserCount:     len(result.Bundles),
		InactiveCount: result.InactiveCount(),
		ReportRows:    len(result.Report),
		At:            at,
	}); err != nil {
		s.log.Warn(ctx, "publishing goal run failed", zap.Error(err))
	}

	span.SetAttributes(attribute.Int("users", len(result.Bundles)))
	span.SetStatus(codes.Ok, "success")
	return &GoalsBatchResult{RunID: runID, Result: result, At: at}, nil
}

// GoalsForUser computes one user's bundle. With persist it is saved as a
// single goal_recommend row.
func (s *Service) GoalsForUser(ctx context.Context, userID int64, persist bool) (*goals.UserResult, error) {
	ctx, span := tracer.Start(ctx, "Service.GoalsForUser")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	start := time.Now()
	log, records, err := s.loadGoalData(ctx)
	if err != nil {
		s.metrics.observeGoals(outcomeError, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result, err := s.goals.ComputeForUser(ctx, userID, log, records)
	if err != nil {
		s.metrics.observeGoals(outcomeError, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if persist {
		if err := s.sink.SaveGoalBundles(ctx, []goals.UserBundle{bundleOf(result)}, s.Now()); err != nil {
			s.metrics.observeGoals(outcomeError, time.Since(start))
			return nil, fmt.Errorf("persisting goal bundle: %w", err)
		}
		uid := userID
		inactive := 0
		for _, st := range result.Inactivity {
			if st.Inactive {
				inactive++
			}
		}
		if err := s.publisher.GoalsComputed(ctx, events.GoalsComputed{
			RunID:         uuid.NewString(),
			UserID:        &uid,
			UserCount:     1,
			InactiveCount: inactive,
			At:            s.Now(),
		}); err != nil {
			s.logger.Warn("publishing goal run failed", zap.Int64("user.id", userID), zap.Error(err))
		}
	}
	s.metrics.observeGoals(outcomeSuccess, time.Since(start))
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

func (s *Service) loadGoalData(ctx context.Context) (goals.SessionLog, []goals.GoalRecord, error) {
	var (
		log     goals.SessionLog
		records []goals.GoalRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		log, err = s.goalData.SessionLog(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = s.goalData.Goals(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return goals.SessionLog{}, nil, err
	}
	return log, records, nil
}

// MonthlyReport builds the reading report for the filtered window without
// persisting anything.
func (s *Service) MonthlyReport(ctx context.Context, filter goals.ReportFilter) ([]goals.ReportRow, error) {
	ctx, span := tracer.Start(ctx, "Service.MonthlyReport")
	defer span.End()
	span.SetAttributes(attribute.Int("year", filter.Year), attribute.Int("month", filter.Month))

	if err := filter.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	log, records, err := s.loadGoalData(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	rows, err := s.goals.MonthlyReport(log, records, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	span.SetStatus(codes.Ok, "success")
	return rows, nil
}

// bundleOf flattens a single-user result into its persisted shape. A user
// without sessions has no inactivity row and is stored as active.
func bundleOf(r *goals.UserResult) goals.UserBundle {
	b := goals.UserBundle{
		UserID: r.UserID,
		Bundle: goals.Bundle{
			GoalPrediction:        r.GoalPrediction,
			RuleRecommendation:    r.RuleRecommendation,
			MissionRecommendation: r.MissionRecommendation,
			Inactivity:            goals.InactivityStatus{UserID: r.UserID},
		},
	}
	if len(r.Inactivity) > 0 {
		b.Inactivity = r.Inactivity[0]
	}
	return b
}
