// Package http exposes the recommendation flows over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/goals"
	"github.com/fyrsmithlabs/bookrec/internal/service"
)

// timestampLayout is the format of batch response timestamps.
const timestampLayout = "2006-01-02 15:04:05"

// Recommender is the set of flows the server exposes.
type Recommender interface {
	RecommendBooks(ctx context.Context, userID int64, persist bool) ([]catalog.HybridResult, error)
	RecommendBooksAll(ctx context.Context) (*service.BooksBatchResult, error)
	GoalsAll(ctx context.Context) (*service.GoalsBatchResult, error)
	GoalsForUser(ctx context.Context, userID int64, persist bool) (*goals.UserResult, error)
	MonthlyReport(ctx context.Context, filter goals.ReportFilter) ([]goals.ReportRow, error)
}

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP endpoints for bookrec.
type Server struct {
	echo   *echo.Echo
	svc    Recommender
	index  DocumentCounter
	db     Pinger
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RateLimit is requests per second per client IP. 0 disables limiting.
	RateLimit float64
	RateBurst int
	// Index and DB are reported on /health when set.
	Index DocumentCounter
	DB    Pinger
}

// NewServer creates a new HTTP server.
func NewServer(svc Recommender, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("recommender cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = JSONSerializer{}
	e.HTTPErrorHandler = errorHandler(logger)

	// Recover runs inside the observer; recovered panics are recorded as 500s.
	e.Use(middleware.RequestID())
	e.Use(newRequestObserver(otel.Meter(httpInstrumentationName), logger).middleware())
	e.Use(middleware.Recover())
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			}),
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/health" || c.Path() == "/metrics"
			},
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			},
		}))
	}

	s := &Server{
		echo:   e,
		svc:    svc,
		index:  cfg.Index,
		db:     cfg.DB,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// Echo exposes the router, for tests and extra routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	rec := s.echo.Group("/recommend")
	rec.POST("/books", s.handleRecommendBooks)
	rec.GET("/books/all", s.handleRecommendBooksAll)
	rec.GET("/goals/all", s.handleGoalsAll)
	rec.GET("/goals/user/:user_id", s.handleGoalsForUser)
	rec.GET("/goals/report", s.handleGoalsReport)
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.String(http.StatusOK, "Recommendation API is running")
}

// handleHealth reports liveness plus the state of the database and the
// similarity index when they are configured.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", IndexDocuments: CountDocuments(ctx, s.index)}
	if s.db != nil {
		resp.Database = "ok"
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("database health check failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Database = "unreachable"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleRecommendBooks recommends, persists and returns books for one user.
func (s *Server) handleRecommendBooks(c echo.Context) error {
	var req RecommendBooksRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid recommend request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}

	results, err := s.svc.RecommendBooks(c.Request().Context(), *req.UserID, true)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleRecommendBooksAll(c echo.Context) error {
	res, err := s.svc.RecommendBooksAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BooksBatchResponse{
		Status:    "success",
		UserCount: res.UserCount,
		Timestamp: res.At.Format(timestampLayout),
	})
}

func (s *Server) handleGoalsAll(c echo.Context) error {
	res, err := s.svc.GoalsAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GoalsBatchResponse{
		Status:        "success",
		UserCount:     len(res.Result.Bundles),
		InactiveCount: res.Result.InactiveCount(),
		ReportRows:    len(res.Result.Report),
		Timestamp:     res.At.Format(timestampLayout),
	})
}

func (s *Server) handleGoalsForUser(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id must be an integer")
	}

	res, err := s.svc.GoalsForUser(c.Request().Context(), userID, false)
	if err != nil {
		return err
	}
	if res.Inactivity == nil {
		res.Inactivity = []goals.InactivityStatus{}
	}
	return c.JSON(http.StatusOK, res)
}

// handleGoalsReport returns the monthly reading report. The optional year
// and month query parameters narrow it; absent ones do not filter.
func (s *Server) handleGoalsReport(c echo.Context) error {
	var filter goals.ReportFilter
	if err := echo.QueryParamsBinder(c).
		Int("year", &filter.Year).
		Int("month", &filter.Month).
		BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "year and month must be integers")
	}

	rows, err := s.svc.MonthlyReport(c.Request().Context(), filter)
	if errors.Is(err, goals.ErrInvalidReportFilter) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []goals.ReportRow{}
	}
	return c.JSON(http.StatusOK, rows)
}

// errorHandler renders every error as {"status":"error","message":...}.
// Errors that are not echo.HTTPError become 500s.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			message = fmt.Sprint(he.Message)
		} else {
			logger.Error("request failed",
				zap.String("uri", c.Request().RequestURI),
				zap.Error(err))
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, ErrorResponse{Status: "error", Message: message})
		}
		if writeErr != nil {
			logger.Warn("writing error response failed", zap.Error(writeErr))
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
