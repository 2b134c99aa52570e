package ensemble

import (
	"time"

	"github.com/YuminosukeSato/microforest/metrics"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// GridEnv describes the search state after one grid point.
type GridEnv struct {
	RunID     string
	Iteration int
	Total     int
	Point     GridPoint
	Report    metrics.Report
	Best      GridResult
	BeginTime time.Time
	EndTime   time.Time
	// StopSearch ends the search after this point; the best point so far is kept.
	StopSearch bool
}

// Callback runs after every grid point. A returned error aborts Fit.
type Callback func(env *GridEnv) error

// LogEvaluation logs every period-th grid point at info level.
func LogEvaluation(logger log.Logger, period int) Callback {
	if period < 1 {
		period = 1
	}
	return func(env *GridEnv) error {
		if env.Iteration%period != 0 && env.Iteration != env.Total-1 {
			return nil
		}
		logger.Info("grid point evaluated",
			log.RunIDKey, env.RunID,
			"search.iteration", env.Iteration+1,
			"search.total", env.Total,
			log.MinSplitKey, env.Point.MinSplit,
			log.MinLeafKey, env.Point.MinLeaf,
			log.MaxDepthKey, env.Point.MaxDepth,
			log.ScoreKey, env.Report.Score,
			log.ThresholdKey, env.Report.Threshold,
			log.CoverageKey, env.Report.Coverage,
			log.DurationKey, env.EndTime.Sub(env.BeginTime).Milliseconds(),
		)
		return nil
	}
}

// RecordEvaluation appends every grid result to history.
func RecordEvaluation(history *[]GridResult) Callback {
	return func(env *GridEnv) error {
		*history = append(*history, GridResult{
			GridPoint: env.Point,
			Report:    env.Report,
			Duration:  env.EndTime.Sub(env.BeginTime),
		})
		return nil
	}
}

// EarlyStopping stops the search after rounds consecutive grid points that
// do not improve the best score.
func EarlyStopping(rounds int) Callback {
	bestScore := -1.0
	noImprove := 0
	return func(env *GridEnv) error {
		if env.Report.Score > bestScore+1e-6 {
			bestScore = env.Report.Score
			noImprove = 0
			return nil
		}
		noImprove++
		if noImprove >= rounds {
			env.StopSearch = true
		}
		return nil
	}
}

// TargetScore stops the search once a grid point reaches target.
func TargetScore(target float64) Callback {
	return func(env *GridEnv) error {
		if env.Best.Report.Score >= target {
			env.StopSearch = true
		}
		return nil
	}
}

// TimeLimit stops the search once maxDuration has elapsed since the first
// grid point began.
func TimeLimit(maxDuration time.Duration) Callback {
	var start time.Time
	return func(env *GridEnv) error {
		if start.IsZero() {
			start = env.BeginTime
		}
		if env.EndTime.Sub(start) > maxDuration {
			env.StopSearch = true
		}
		return nil
	}
}

// CallbackList runs callbacks in order.
type CallbackList struct {
	callbacks []Callback
}

// NewCallbackList creates a callback list.
func NewCallbackList(callbacks ...Callback) *CallbackList {
	return &CallbackList{callbacks: callbacks}
}

// AfterPoint runs every callback and reports whether the search should stop.
func (cl *CallbackList) AfterPoint(env *GridEnv) (bool, error) {
	for _, cb := range cl.callbacks {
		if err := cb(env); err != nil {
			return true, err
		}
	}
	return env.StopSearch, nil
}
