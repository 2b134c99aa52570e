package model

import (
	"testing"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	err := s.RequireFitted("RandomForestClassifier", "Predict")
	var nf *errors.NotFittedError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFittedError, got %v", err)
	}

	s.SetFitted(4, 20)
	if err := s.RequireFitted("RandomForestClassifier", "Predict"); err != nil {
		t.Fatalf("unexpected error after SetFitted: %v", err)
	}
	if s.NFeatures != 4 || s.NSamples != 20 {
		t.Errorf("dimensions = (%d, %d), want (4, 20)", s.NFeatures, s.NSamples)
	}

	s.Reset()
	if s.IsFitted() {
		t.Error("Reset should clear fitted state")
	}
}

func TestResidencyState(t *testing.T) {
	var r ResidencyState
	if err := r.Require("Dataset.Sample"); err != nil {
		t.Fatalf("zero value should be resident: %v", err)
	}

	r.Set(Released, "train.bin")
	err := r.Require("Dataset.Sample")
	if !errors.IsState(err) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if r.Path() != "train.bin" {
		t.Errorf("Path() = %q", r.Path())
	}

	r.Set(Resident, "")
	if r.Path() != "train.bin" {
		t.Error("empty path must not clear the recorded file")
	}
}
