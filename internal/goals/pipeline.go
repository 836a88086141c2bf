package goals

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// InactivityDays is the inactivity threshold. Default 5.
	InactivityDays int
	// Location is the zone naive timestamps are read in. Default UTC.
	Location *time.Location
	// Workers bounds per-user parallelism. Default 4.
	Workers int
	// Now supplies the "as of" instant. Default time.Now.
	Now func() time.Time
}

// Pipeline composes the goal analyses for one or all users.
type Pipeline struct {
	cfg    PipelineConfig
	logger *zap.Logger
}

// Result is the output of an all-users run.
type Result struct {
	AsOf       time.Time          `json:"as_of"`
	Bundles    []UserBundle       `json:"recommendations"`
	Report     []ReportRow        `json:"report"`
	Inactivity []InactivityStatus `json:"inactivity"`
}

// InactiveCount returns how many users are flagged inactive.
func (r *Result) InactiveCount() int {
	n := 0
	for _, s := range r.Inactivity {
		if s.Inactive {
			n++
		}
	}
	return n
}

// UserResult is the output of a single-user run. Inactivity is empty when the
// user has no sessions.
type UserResult struct {
	UserID                int64                 `json:"user_id"`
	GoalPrediction        *GoalPrediction       `json:"goal_prediction"`
	RuleRecommendation    RuleRecommendation    `json:"rule_recommendation"`
	MissionRecommendation MissionRecommendation `json:"mission_recommendation"`
	Inactivity            []InactivityStatus    `json:"inactivity"`
}

// NewPipeline creates a Pipeline, filling config defaults.
func NewPipeline(cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if cfg.InactivityDays <= 0 {
		cfg.InactivityDays = DefaultInactivityDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// ComputeAll runs every analysis for every user that has sessions, plus the
// unfiltered monthly report and inactivity table. Bundles are ordered by
// user id.
func (p *Pipeline) ComputeAll(ctx context.Context, log SessionLog, goals []GoalRecord) (*Result, error) {
	sessions, err := Preprocess(log, p.cfg.Location)
	if err != nil {
		return nil, err
	}
	asOf := p.cfg.Now().In(p.cfg.Location)

	byUser := groupByUser(sessions)
	goalsByUser := make(map[int64][]GoalRecord)
	for _, g := range goals {
		goalsByUser[g.UserID] = append(goalsByUser[g.UserID], g)
	}
	users := make([]int64, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	inactivity := DetectInactivity(sessions, p.cfg.InactivityDays, asOf)
	inactivityByUser := make(map[int64]InactivityStatus, len(inactivity))
	for _, s := range inactivity {
		inactivityByUser[s.UserID] = s
	}

	bundles := make([]UserBundle, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, userID := range users {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			userGoals := goalsByUser[userID]
			bundles[i] = UserBundle{
				UserID: userID,
				Bundle: Bundle{
					GoalPrediction:        PredictGoals(userID, userGoals),
					RuleRecommendation:    RecommendTime(byUser[userID]),
					MissionRecommendation: RecommendMission(byUser[userID], userGoals),
					Inactivity:            inactivityByUser[userID],
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("computing goal bundles: %w", err)
	}

	res := &Result{
		AsOf:       asOf,
		Bundles:    bundles,
		Report:     MonthlyReport(goals, sessions, ReportFilter{}),
		Inactivity: inactivity,
	}
	p.logger.Info("goal bundles computed",
		zap.Int("users", len(bundles)),
		zap.Int("sessions", len(sessions)),
		zap.Int("inactive", res.InactiveCount()),
		zap.Int("report_rows", len(res.Report)))
	return res, nil
}

// ComputeForUser runs the analyses for a single user. A user without
// sessions still gets a result: cold-start rule and mission, a prediction
// if their goal history allows one, and no inactivity row.
func (p *Pipeline) ComputeForUser(ctx context.Context, userID int64, log SessionLog, goals []GoalRecord) (*UserResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessions, err := Preprocess(log, p.cfg.Location)
	if err != nil {
		return nil, err
	}
	asOf := p.cfg.Now().In(p.cfg.Location)

	userSessions := groupByUser(sessions)[userID]
	var userGoals []GoalRecord
	for _, g := range goals {
		if g.UserID == userID {
			userGoals = append(userGoals, g)
		}
	}

	return &UserResult{
		UserID:                userID,
		GoalPrediction:        PredictGoals(userID, userGoals),
		RuleRecommendation:    RecommendTime(userSessions),
		MissionRecommendation: RecommendMission(userSessions, userGoals),
		Inactivity:            DetectInactivity(userSessions, p.cfg.InactivityDays, asOf),
	}, nil
}

// MonthlyReport builds the report for one window over freshly preprocessed
// sessions.
func (p *Pipeline) MonthlyReport(log SessionLog, goals []GoalRecord, filter ReportFilter) ([]ReportRow, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	sessions, err := Preprocess(log, p.cfg.Location)
	if err != nil {
		return nil, err
	}
	return MonthlyReport(goals, sessions, filter), nil
}

func groupByUser(sessions []Session) map[int64][]Session {
	out := make(map[int64][]Session)
	for _, s := range sessions {
		out[s.UserID] = append(out[s.UserID], s)
	}
	return out
}
