package metrics

import (
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// PlotThresholdCurve draws score, accuracy and coverage against the
// consensus threshold and saves the image to path (format from extension).
func PlotThresholdCurve(curve []Report, best Report, path string) error {
	if len(curve) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "plot threshold curve")
	}

	score := make(plotter.XYs, len(curve))
	accuracy := make(plotter.XYs, len(curve))
	coverage := make(plotter.XYs, len(curve))
	for i, r := range curve {
		score[i].X, score[i].Y = r.Threshold, r.Score
		accuracy[i].X, accuracy[i].Y = r.Threshold, r.Accuracy
		coverage[i].X, coverage[i].Y = r.Threshold, r.Coverage
	}

	p := plot.New()
	p.Title.Text = "Consensus threshold"
	p.X.Label.Text = "threshold"
	p.Y.Label.Text = "value"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Legend.Top = true

	if err := plotutil.AddLinePoints(p,
		"score", score,
		"accuracy", accuracy,
		"coverage", coverage,
	); err != nil {
		return errors.Wrap(err, "add curve lines")
	}

	chosen, err := plotter.NewScatter(plotter.XYs{{X: best.Threshold, Y: best.Score}})
	if err != nil {
		return errors.Wrap(err, "add chosen threshold")
	}
	chosen.GlyphStyle.Radius = vg.Points(4)
	p.Add(chosen)
	p.Legend.Add("chosen", chosen)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError("create directory", dir, err)
		}
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.NewIOError("save plot", path, err)
	}
	return nil
}
