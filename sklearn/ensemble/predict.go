package ensemble

import (
	"context"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/core/forest"
	"github.com/YuminosukeSato/microforest/metrics"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// Prediction outcomes recorded in telemetry.
const (
	OutcomeLabelled = "labelled"
	OutcomeUnknown  = "unknown"
)

func (c *RandomForestClassifier) checkFeatures(feat dataset.Features) error {
	if feat.Len() != c.numFeatures {
		return errors.NewValidationError("features", "feature count does not match the model", feat.Len())
	}
	if feat.Bits() != c.bits {
		return errors.NewValidationError("features", "quantization bits do not match the model", feat.Bits())
	}
	return nil
}

// PredictSample votes one sample and applies the calibrated threshold.
func (c *RandomForestClassifier) PredictSample(feat dataset.Features) (forest.Vote, error) {
	if err := c.state.RequireFitted(modelName, "PredictSample"); err != nil {
		return forest.Vote{}, err
	}
	if err := c.checkFeatures(feat); err != nil {
		return forest.Vote{}, err
	}
	v := c.forest.PredictSample(feat, nil)
	c.observe(v)
	return v, nil
}

// Predict returns the label of one sample, or tree.UnknownLabel.
func (c *RandomForestClassifier) Predict(feat dataset.Features) (uint8, error) {
	v, err := c.PredictSample(feat)
	if err != nil {
		return 0, err
	}
	return v.Label, nil
}

// PredictDataset votes every sample of ds. Votes follow the order of
// ds.Samples(). A released dataset is loaded for the call and released again.
func (c *RandomForestClassifier) PredictDataset(ctx context.Context, ds *dataset.Dataset) ([]dataset.Sample, []forest.Vote, error) {
	if err := c.state.RequireFitted(modelName, "PredictDataset"); err != nil {
		return nil, nil, err
	}
	var (
		samples []dataset.Sample
		votes   []forest.Vote
	)
	err := dataset.Acquire(ds, func(ds *dataset.Dataset) error {
		if ds.NumFeatures() != c.numFeatures || ds.Bits() != c.bits {
			return errors.NewValidationError("dataset", "shape does not match the model", ds.NumFeatures())
		}
		var err error
		samples, err = ds.Samples()
		if err != nil {
			return err
		}
		votes, err = c.forest.PredictBatch(ctx, samples)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	for _, v := range votes {
		c.observe(v)
	}
	return samples, votes, nil
}

// Score evaluates the fitted forest on test at its calibrated threshold.
func (c *RandomForestClassifier) Score(ctx context.Context, test *dataset.Dataset) (metrics.Report, error) {
	samples, votes, err := c.PredictDataset(ctx, test)
	if err != nil {
		return metrics.Report{}, err
	}
	evals := make([]metrics.Evaluation, len(votes))
	for i, v := range votes {
		evals[i] = evaluation(samples[i].Label, v)
	}
	numLabels := max(c.forest.NumLabels, test.NumLabels())
	return metrics.Evaluate(evals, numLabels, c.forest.Threshold, c.Metric), nil
}

func (c *RandomForestClassifier) observe(v forest.Vote) {
	if v.Known() {
		c.telemetry.ObservePrediction(OutcomeLabelled)
		return
	}
	c.telemetry.ObservePrediction(OutcomeUnknown)
}
