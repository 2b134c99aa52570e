package metrics

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

// sampleEvals: two correct and two wrong predictions at decreasing
// consensus, plus one sample no tree voted on.
func sampleEvals() []Evaluation {
	return []Evaluation{
		{Actual: 0, Predicted: 0, Votes: 4, Total: 4, Consensus: 1.0},
		{Actual: 1, Predicted: 1, Votes: 3, Total: 4, Consensus: 0.75},
		{Actual: 0, Predicted: 1, Votes: 2, Total: 4, Consensus: 0.5},
		{Actual: 1, Predicted: 0, Votes: 1, Total: 4, Consensus: 0.25},
		{Actual: 1, Predicted: 255, Total: 0},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		flags     Flags
		want      Report
	}{
		{
			name:      "all accepted",
			threshold: 0,
			flags:     FlagAccuracy,
			want:      Report{Accuracy: 0.5, Precision: 0.5, Recall: 0.5, F1: 0.5, Coverage: 1, Score: 0.5, Predicted: 4, Samples: 4},
		},
		{
			name:      "half threshold",
			threshold: 0.5,
			flags:     FlagPrecision,
			want:      Report{Accuracy: 0.5, Precision: 0.75, Recall: 0.5, F1: 7.0 / 12, Coverage: 0.75, Score: 0.75, Predicted: 3, Samples: 4},
		},
		{
			name:      "combined objective",
			threshold: 0.75,
			flags:     FlagAccuracy | FlagPrecision,
			want:      Report{Accuracy: 0.5, Precision: 1, Recall: 0.5, F1: 2.0 / 3, Coverage: 0.5, Score: 0.75, Predicted: 2, Samples: 4},
		},
		{
			name:      "zero flags means accuracy",
			threshold: 1,
			flags:     0,
			want:      Report{Accuracy: 0.25, Precision: 1, Recall: 0.25, F1: 1.0 / 3, Coverage: 0.25, Score: 0.25, Predicted: 1, Samples: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(sampleEvals(), 2, tt.threshold, tt.flags)
			tt.want.Threshold = tt.threshold
			if !reportClose(got, tt.want) {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func reportClose(a, b Report) bool {
	near := func(x, y float64) bool { return math.Abs(x-y) < 1e-9 }
	return near(a.Threshold, b.Threshold) && near(a.Accuracy, b.Accuracy) &&
		near(a.Precision, b.Precision) && near(a.Recall, b.Recall) && near(a.F1, b.F1) &&
		near(a.Coverage, b.Coverage) && near(a.Score, b.Score) &&
		a.Predicted == b.Predicted && a.Samples == b.Samples
}

func TestCandidates(t *testing.T) {
	got := Candidates(sampleEvals())
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	if len(got) != len(want) {
		t.Fatalf("Candidates() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Candidates()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSearchThreshold(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  float64
	}{
		// Accuracy is flat until 1; full coverage then the lowest threshold wins.
		{"accuracy prefers coverage", FlagAccuracy, 0},
		// Precision peaks at 0.75 and 1; 0.75 keeps more coverage.
		{"precision tie broken by coverage", FlagPrecision, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, curve := SearchThreshold(sampleEvals(), 2, tt.flags)
			if best.Threshold != tt.want {
				t.Errorf("threshold = %v, want %v (best %+v)", best.Threshold, tt.want, best)
			}
			if len(curve) != 5 {
				t.Errorf("len(curve) = %d, want 5", len(curve))
			}
			for _, r := range curve {
				if r.Score > best.Score+epsilon {
					t.Errorf("curve point %+v beats chosen %+v", r, best)
				}
			}
		})
	}

	t.Run("no votes", func(t *testing.T) {
		best, _ := SearchThreshold([]Evaluation{{Actual: 0, Total: 0}}, 2, FlagAccuracy)
		if best.Samples != 0 || best.Score != 0 {
			t.Errorf("best = %+v, want empty report", best)
		}
	})
}

func TestFlagsValidate(t *testing.T) {
	if err := (FlagAccuracy | FlagF1).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Flags(16).Validate(); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestConfusionUnknownCountsAsWrong(t *testing.T) {
	c := NewConfusion(3)
	c.Add(0, 0, true)
	c.Add(1, 255, false)
	c.Add(2, 2, true)
	c.Add(1, 255, false)
	r := c.Report(0)
	if r.Accuracy != 0.5 {
		t.Errorf("Accuracy = %v, want 0.5", r.Accuracy)
	}
	if r.Coverage != 0.5 {
		t.Errorf("Coverage = %v, want 0.5", r.Coverage)
	}
}

func TestPlotThresholdCurve(t *testing.T) {
	best, curve := SearchThreshold(sampleEvals(), 2, FlagAccuracy)
	path := filepath.Join(t.TempDir(), "report", "threshold.png")
	if err := PlotThresholdCurve(curve, best, path); err != nil {
		t.Fatalf("PlotThresholdCurve() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("plot file is empty")
	}

	if err := PlotThresholdCurve(nil, best, path); err == nil {
		t.Error("expected error for empty curve")
	}
}

func BenchmarkSearchThreshold(b *testing.B) {
	evals := make([]Evaluation, 1000)
	for i := range evals {
		evals[i] = Evaluation{
			Actual:    uint8(i % 3),
			Predicted: uint8((i / 2) % 3),
			Votes:     1 + i%20,
			Total:     20,
			Consensus: float64(1+i%20) / 20,
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SearchThreshold(evals, 3, FlagAccuracy|FlagF1)
	}
}
