package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"

	batchBooks = "books"
	batchGoals = "goals"
)

// Metrics holds Prometheus metrics for the recommendation flows.
//
// Metrics:
//   - bookrec_book_recommendations_total{outcome}
//   - bookrec_book_recommendation_duration_seconds{outcome}
//   - bookrec_book_results_total
//   - bookrec_goal_runs_total{outcome}
//   - bookrec_goal_run_duration_seconds{outcome}
//   - bookrec_batch_runs_total{batch}
//   - bookrec_batch_user_failures_total{batch}
//   - bookrec_inactive_users
//
// A nil *Metrics records nothing.
type Metrics struct {
	BookRequests  *prometheus.CounterVec
	BookDuration  *prometheus.HistogramVec
	BookResults   prometheus.Counter
	GoalRuns      *prometheus.CounterVec
	GoalDuration  *prometheus.HistogramVec
	BatchRuns     *prometheus.CounterVec
	BatchFailures *prometheus.CounterVec
	InactiveUsers prometheus.Gauge
}

// NewMetrics registers the metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics
// handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookrec_book_recommendations_total",
			Help: "Per-user book recommendation runs by outcome",
		}, []string{"outcome"}),
		BookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookrec_book_recommendation_duration_seconds",
			Help:    "Duration of a per-user book recommendation in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		BookResults: f.NewCounter(prometheus.CounterOpts{
			Name: "bookrec_book_results_total",
			Help: "Total recommended books returned",
		}),
		GoalRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookrec_goal_runs_total",
			Help: "Goal pipeline runs by outcome",
		}, []string{"outcome"}),
		GoalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookrec_goal_run_duration_seconds",
			Help:    "Duration of a goal pipeline run in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		BatchRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookrec_batch_runs_total",
			Help: "Completed all-users batch runs",
		}, []string{"batch"}),
		BatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookrec_batch_user_failures_total",
			Help: "Users that failed inside an otherwise completed batch run",
		}, []string{"batch"}),
		InactiveUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "bookrec_inactive_users",
			Help: "Users flagged inactive by the last goals batch",
		}),
	}
}

func (m *Metrics) observeBooks(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BookRequests.WithLabelValues(outcome).Inc()
	m.BookDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) addResults(n int) {
	if m == nil {
		return
	}
	m.BookResults.Add(float64(n))
}

func (m *Metrics) observeGoals(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GoalRuns.WithLabelValues(outcome).Inc()
	m.GoalDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) observeBatch(batch string, failures int) {
	if m == nil {
		return
	}
	m.BatchRuns.WithLabelValues(batch).Inc()
	m.BatchFailures.WithLabelValues(batch).Add(float64(failures))
}

func (m *Metrics) setInactive(n int) {
	if m == nil {
		return
	}
	m.InactiveUsers.Set(float64(n))
}
