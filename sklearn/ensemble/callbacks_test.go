package ensemble

import (
	"testing"
	"time"

	"github.com/YuminosukeSato/microforest/metrics"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

func envWithScore(i int, score, best float64) *GridEnv {
	return &GridEnv{
		Iteration: i,
		Total:     10,
		Report:    metrics.Report{Score: score},
		Best:      GridResult{Report: metrics.Report{Score: best}},
	}
}

func TestEarlyStopping(t *testing.T) {
	cb := EarlyStopping(2)
	scores := []float64{0.5, 0.7, 0.6, 0.7}
	for i, s := range scores {
		env := envWithScore(i, s, 0.7)
		if err := cb(env); err != nil {
			t.Fatal(err)
		}
		wantStop := i == 3
		if env.StopSearch != wantStop {
			t.Errorf("point %d: StopSearch = %v, want %v", i, env.StopSearch, wantStop)
		}
	}
}

func TestTargetScore(t *testing.T) {
	cb := TargetScore(0.9)
	env := envWithScore(0, 0.8, 0.8)
	_ = cb(env)
	if env.StopSearch {
		t.Error("stopped below target")
	}
	env = envWithScore(1, 0.95, 0.95)
	_ = cb(env)
	if !env.StopSearch {
		t.Error("did not stop at target")
	}
}

func TestTimeLimit(t *testing.T) {
	cb := TimeLimit(time.Second)
	begin := time.Now()
	env := &GridEnv{BeginTime: begin, EndTime: begin.Add(500 * time.Millisecond)}
	_ = cb(env)
	if env.StopSearch {
		t.Error("stopped before the limit")
	}
	env = &GridEnv{BeginTime: begin, EndTime: begin.Add(2 * time.Second)}
	_ = cb(env)
	if !env.StopSearch {
		t.Error("did not stop after the limit")
	}
}

func TestLogEvaluation(t *testing.T) {
	logger, buf := log.NewTestLogger(log.LevelInfo)
	cb := LogEvaluation(logger, 2)
	for i := 0; i < 4; i++ {
		if err := cb(envWithScore(i, 0.5, 0.5)); err != nil {
			t.Fatal(err)
		}
	}
	if buf.Len() == 0 {
		t.Error("LogEvaluation wrote nothing")
	}
}

func TestRecordEvaluation(t *testing.T) {
	var history []GridResult
	cb := RecordEvaluation(&history)
	env := envWithScore(0, 0.4, 0.4)
	env.Point = GridPoint{MinSplit: 2, MinLeaf: 1, MaxDepth: 3}
	_ = cb(env)
	if len(history) != 1 || history[0].GridPoint != env.Point || history[0].Report.Score != 0.4 {
		t.Errorf("history = %+v", history)
	}
}
