package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"github.com/fyrsmithlabs/bookrec/internal/goals"
	httpserver "github.com/fyrsmithlabs/bookrec/internal/http"
	"github.com/fyrsmithlabs/bookrec/internal/service"
)

type staticRecommender struct{}

func (staticRecommender) RecommendBooks(context.Context, int64, bool) ([]catalog.HybridResult, error) {
	return []catalog.HybridResult{}, nil
}

func (staticRecommender) RecommendBooksAll(context.Context) (*service.BooksBatchResult, error) {
	return &service.BooksBatchResult{At: time.Now()}, nil
}

func (staticRecommender) GoalsAll(context.Context) (*service.GoalsBatchResult, error) {
	return &service.GoalsBatchResult{Result: &goals.Result{}, At: time.Now()}, nil
}

func (staticRecommender) GoalsForUser(_ context.Context, userID int64, _ bool) (*goals.UserResult, error) {
	return &goals.UserResult{UserID: userID}, nil
}

func (staticRecommender) MonthlyReport(context.Context, goals.ReportFilter) ([]goals.ReportRow, error) {
	return []goals.ReportRow{}, nil
}

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := &httpserver.Config{
		Host:      "localhost",
		Port:      0,
		RateLimit: 10,
		RateBurst: 20,
	}

	server, err := httpserver.NewServer(staticRecommender{}, logger, cfg)
	if err != nil {
		panic(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Debug("server stopped", zap.Error(err))
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
