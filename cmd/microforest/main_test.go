package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/microforest/core/rng"
)

// writeCSV writes n rows where feature 0 encodes the label and the others
// are noise, plus one out-of-range row.
func writeCSV(t *testing.T, path string, n int) {
	t.Helper()
	r := rng.New(3)
	var b strings.Builder
	for i := 0; i < n; i++ {
		label := i % 3
		fmt.Fprintf(&b, "%d,%d,%d,%d\n", label, label, r.Bounded(4), r.Bounded(4))
	}
	b.WriteString("1,9,0,0\n")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

// writeRawCSV writes a header and n rows of named labels with float
// features: ax separates the labels, ay is noise.
func writeRawCSV(t *testing.T, path string, n int) {
	t.Helper()
	names := []string{"walk", "run", "sit"}
	r := rng.New(5)
	var b strings.Builder
	b.WriteString("activity,ax,ay\n")
	for i := 0; i < n; i++ {
		label := i % 3
		fmt.Fprintf(&b, "%s,%.3f,%.3f\n", names[label], float64(label)*10+r.Float(), r.Float()*5)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	writeCSV(t, csvPath, 30)

	out, err := execute(t, "convert", "--csv", csvPath, "--out", filepath.Join(dir, "data.bin"), "--bits", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "30 samples")
	assert.Contains(t, out, "1 rejected")
	assert.FileExists(t, filepath.Join(dir, "data.bin"))

	_, err = execute(t, "convert", "--csv", csvPath, "--out", filepath.Join(dir, "x.bin"), "--bits", "9")
	assert.Error(t, err)
}

func TestTrainPredictInspect(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	writeCSV(t, csvPath, 150)
	modelDir := filepath.Join(dir, "model")

	cfg := fmt.Sprintf(`data:
  path: %s
  csv: %s
  features: 3
  bits: 2
  train_ratio: 0.7
  test_ratio: 0.15
  valid_ratio: 0.15
forest:
  num_trees: 7
search:
  min_split: [2, 4]
  min_leaf: [1]
  max_depth: [3]
output:
  dir: %s
log:
  level: error
`, filepath.Join(dir, "data.bin"), csvPath, modelDir)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	out, err := execute(t, "train", "--config", cfgPath,
		"--plot", filepath.Join(dir, "curve.png"),
		"--bags-db", filepath.Join(dir, "bags"),
		"--page-trees")
	require.NoError(t, err)
	assert.Contains(t, out, "best min_split=")
	assert.Contains(t, out, "test accuracy=")
	assert.FileExists(t, filepath.Join(modelDir, "forest.bin"))
	assert.FileExists(t, filepath.Join(modelDir, "artifact.yaml"))
	assert.FileExists(t, filepath.Join(dir, "curve.png"))

	resident, err := execute(t, "predict", "--model", modelDir, "--csv", csvPath,
		"--out", filepath.Join(dir, "pred.csv"))
	require.NoError(t, err)
	assert.Contains(t, resident, "samples=150")
	assert.FileExists(t, filepath.Join(dir, "pred.csv"))

	streamed, err := execute(t, "predict", "--model", modelDir, "--csv", csvPath, "--stream", "--cache-mb", "1")
	require.NoError(t, err)
	assert.Equal(t, resident, streamed, "streaming and resident inference must agree")

	out, err = execute(t, "inspect", "--model", modelDir, "--bags-db", filepath.Join(dir, "bags"))
	require.NoError(t, err)
	assert.Contains(t, out, "trees=7")
	assert.Contains(t, out, "tree   0")
	assert.Contains(t, out, "hash=")
}

func TestConvertRaw(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "raw.csv")
	writeRawCSV(t, csvPath, 60)

	out, err := execute(t, "convert", "--raw", "--csv", csvPath, "--out", filepath.Join(dir, "data.bin"), "--bits", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote quantizer")
	assert.Contains(t, out, "60 samples")
	assert.Contains(t, out, "3 labels")
	assert.FileExists(t, filepath.Join(dir, "data.bin.quantizer.yaml"))
}

func TestTrainPredictRaw(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "raw.csv")
	writeRawCSV(t, csvPath, 120)
	modelDir := filepath.Join(dir, "model")

	cfg := fmt.Sprintf(`data:
  path: %s
  csv: %s
  raw: true
  bits: 2
forest:
  num_trees: 5
search:
  min_split: [2]
  min_leaf: [1]
  max_depth: [3]
output:
  dir: %s
log:
  level: error
`, filepath.Join(dir, "data.bin"), csvPath, modelDir)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	_, err := execute(t, "train", "--config", cfgPath)
	require.NoError(t, err)
	artifact, err := os.ReadFile(filepath.Join(modelDir, "artifact.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "quantizer:")

	predPath := filepath.Join(dir, "pred.csv")
	out, err := execute(t, "predict", "--model", modelDir, "--csv", csvPath, "--out", predPath)
	require.NoError(t, err)
	assert.Contains(t, out, "samples=120")
	pred, err := os.ReadFile(predPath)
	require.NoError(t, err)
	assert.Contains(t, string(pred), ",walk,")
}

func TestPredictRequiresData(t *testing.T) {
	_, err := execute(t, "predict", "--model", t.TempDir())
	assert.Error(t, err)
}

func TestTrainBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("forest:\n  num_trees: 0\n"), 0o644))
	_, err := execute(t, "train", "--config", cfgPath)
	assert.Error(t, err)
}
