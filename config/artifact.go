package config

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/microforest/core/tree"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/preprocessing"
)

// ArtifactVersion is bumped when the artifact fields change meaning.
const ArtifactVersion = 1

// Artifact records everything a reader needs besides the forest file: the
// chosen hyperparameters and threshold, the packed node layout and the
// data shape.
type Artifact struct {
	Version   int    `yaml:"version"`
	RunID     string `yaml:"run_id"`
	CreatedAt string `yaml:"created_at"`

	NumTrees          int     `yaml:"num_trees"`
	MinSplit          int     `yaml:"min_split"`
	MinLeaf           int     `yaml:"min_leaf"`
	MaxDepth          int     `yaml:"max_depth"`
	Criterion         string  `yaml:"criterion"`
	Bootstrap         bool    `yaml:"bootstrap"`
	BootstrapRatio    float64 `yaml:"bootstrap_ratio"`
	ImpurityThreshold float64 `yaml:"impurity_threshold"`
	MaxFeatures       int     `yaml:"max_features"`
	NodeBudget        int     `yaml:"node_budget"`
	Seed              uint64  `yaml:"seed"`
	Evaluation        string  `yaml:"evaluation"`
	Metric            int     `yaml:"metric"`

	Threshold float64 `yaml:"threshold"`
	Score     float64 `yaml:"score"`

	Bits        int         `yaml:"bits"`
	NumFeatures int         `yaml:"num_features"`
	NumLabels   int         `yaml:"num_labels"`
	Layout      tree.Layout `yaml:"layout"`

	// Quantizer is set when the model was trained from raw CSV values.
	Quantizer *preprocessing.Quantizer `yaml:"quantizer,omitempty"`
}

// WriteArtifact writes a as YAML.
func WriteArtifact(path string, a *Artifact) error {
	if a.Version == 0 {
		a.Version = ArtifactVersion
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(a); err != nil {
		return errors.Wrap(err, "encode artifact")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "encode artifact")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError("create directory", dir, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.NewIOError("write artifact", path, err)
	}
	return nil
}

// ReadArtifact reads and checks an artifact written by WriteArtifact.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("read artifact", path, err)
	}
	var a Artifact
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&a); err != nil {
		return nil, errors.NewIOError("decode artifact", path, err)
	}
	if a.Version != ArtifactVersion {
		return nil, errors.NewFormatError("check artifact version", path, ArtifactVersion, a.Version)
	}
	if a.Bits < 1 || a.Bits > 8 {
		return nil, errors.NewValidationError("bits", "must be between 1 and 8", a.Bits)
	}
	if err := a.Layout.Validate(); err != nil {
		return nil, errors.Wrapf(err, "artifact %s", path)
	}
	if a.Quantizer != nil {
		if err := a.Quantizer.Validate(uint8(a.Bits), a.NumFeatures); err != nil {
			return nil, errors.Wrapf(err, "artifact %s", path)
		}
	}
	return &a, nil
}
