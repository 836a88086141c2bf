package goals

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Reference inputs the trend models are evaluated at.
const (
	referenceMinutes = 300
	referenceBooks   = 5
	referenceReviews = 3

	minGoalRows = 2
)

var errNonFinite = errors.New("input contains NaN or infinity")

// PredictGoals fits completed = a + b*target for minutes, books and reviews
// over the user's goal history and evaluates each at the reference input,
// truncating toward zero. It returns nil when the user has fewer than two
// goal rows. Each model is fitted independently; a failure leaves its field
// nil and is described in Error.
func PredictGoals(userID int64, goals []GoalRecord) *GoalPrediction {
	var rows []GoalRecord
	for _, g := range goals {
		if g.UserID == userID {
			rows = append(rows, g)
		}
	}
	if len(rows) < minGoalRows {
		return nil
	}

	models := []struct {
		name  string
		x, y  func(GoalRecord) float64
		at    float64
		field **int
	}{
		{"minutes", func(g GoalRecord) float64 { return g.TargetMinutes }, func(g GoalRecord) float64 { return g.CompletedMinutes }, referenceMinutes, nil},
		{"books", func(g GoalRecord) float64 { return g.TargetBooks }, func(g GoalRecord) float64 { return g.CompletedBooks }, referenceBooks, nil},
		{"reviews", func(g GoalRecord) float64 { return g.TargetReviews }, func(g GoalRecord) float64 { return g.CompletedReviews }, referenceReviews, nil},
	}

	pred := &GoalPrediction{}
	models[0].field = &pred.RecommendedMinutes
	models[1].field = &pred.RecommendedBooks
	models[2].field = &pred.RecommendedReviews

	var errs []string
	for _, m := range models {
		xs := make([]float64, len(rows))
		ys := make([]float64, len(rows))
		for i, r := range rows {
			xs[i], ys[i] = m.x(r), m.y(r)
		}
		v, err := extrapolate(xs, ys, m.at)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", m.name, err))
			continue
		}
		*m.field = intPtr(v)
	}
	pred.Error = strings.Join(errs, "; ")
	return pred
}

// extrapolate fits an ordinary least squares line and evaluates it at x.
// A constant feature has no slope; the fit then predicts mean(ys), as a
// minimum-norm least squares solution would.
func extrapolate(xs, ys []float64, x float64) (int, error) {
	for i := range xs {
		if !isFinite(xs[i]) || !isFinite(ys[i]) {
			return 0, errNonFinite
		}
	}

	var y float64
	if stat.Variance(xs, nil) == 0 {
		y = stat.Mean(ys, nil)
	} else {
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		y = alpha + beta*x
	}
	if !isFinite(y) || math.Abs(y) > math.MaxInt32 {
		return 0, fmt.Errorf("prediction out of range: %v", y)
	}
	return int(math.Trunc(y)), nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
