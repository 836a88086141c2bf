package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bookrec/internal/config"
	"github.com/fyrsmithlabs/bookrec/internal/goals"
	"github.com/fyrsmithlabs/bookrec/internal/service"
)

type fakeRunner struct {
	books    atomic.Int32
	goals    atomic.Int32
	booksErr error
}

func (f *fakeRunner) RecommendBooksAll(context.Context) (*service.BooksBatchResult, error) {
	f.books.Add(1)
	if f.booksErr != nil {
		return nil, f.booksErr
	}
	return &service.BooksBatchResult{RunID: "run-1", UserCount: 3}, nil
}

func (f *fakeRunner) GoalsAll(context.Context) (*service.GoalsBatchResult, error) {
	f.goals.Add(1)
	return &service.GoalsBatchResult{RunID: "run-2", Result: &goals.Result{}}, nil
}

var nightly = config.SchedulerConfig{Enabled: true, BooksCron: "0 3 * * *", GoalsCron: "30 3 * * *"}

func newTestScheduler(t *testing.T, runner BatchRunner) *Scheduler {
	t.Helper()
	s, err := New(runner, nightly, Options{Timeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestNew(t *testing.T) {
	t.Run("requires a runner", func(t *testing.T) {
		_, err := New(nil, nightly, Options{}, zap.NewNop())
		assert.ErrorContains(t, err, "batch runner is required")
	})

	t.Run("rejects a bad cron expression", func(t *testing.T) {
		cfg := nightly
		cfg.GoalsCron = "every night"
		_, err := New(&fakeRunner{}, cfg, Options{}, nil)
		assert.ErrorContains(t, err, GoalsJob)
	})
}

func TestScheduler_NextRun(t *testing.T) {
	seoul := time.FixedZone("KST", 9*3600)
	s, err := New(&fakeRunner{}, nightly, Options{Location: seoul}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	s.Start()

	next, err := s.NextRun(BooksJob)
	require.NoError(t, err)
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 3, next.In(seoul).Hour())
	assert.Equal(t, 0, next.In(seoul).Minute())

	next, err = s.NextRun(GoalsJob)
	require.NoError(t, err)
	assert.Equal(t, 30, next.In(seoul).Minute())

	_, err = s.NextRun("reindex")
	assert.ErrorContains(t, err, "unknown job")
}

func TestScheduler_Trigger(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner)
	s.Start()

	require.NoError(t, s.Trigger(BooksJob))
	require.NoError(t, s.Trigger(GoalsJob))

	assert.Eventually(t, func() bool {
		return runner.books.Load() == 1 && runner.goals.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorContains(t, s.Trigger("reindex"), "unknown job")
}

func TestScheduler_RunBooks(t *testing.T) {
	runner := &fakeRunner{booksErr: errors.New("loading ratings: timeout")}
	s := newTestScheduler(t, runner)

	assert.ErrorContains(t, s.RunBooks(context.Background()), "timeout")
	assert.NoError(t, s.RunGoals(context.Background()))
	assert.Equal(t, int32(1), runner.books.Load())
	assert.Equal(t, int32(1), runner.goals.Load())
}
