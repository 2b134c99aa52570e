package preprocessing

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

func TestFitDiscreteAndQuantile(t *testing.T) {
	// 列0: 3種類の値 → Discrete, 列1: 8種類 → Quantile (2ビット = 4ビン)
	rows := [][]float64{
		{0, 1}, {5, 2}, {5, 3}, {2, 4},
		{0, 5}, {2, 6}, {5, 7}, {0, 8},
	}
	q := NewQuantizer(2)
	if err := q.Fit(rows); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if got := q.Features[0]; got.Kind != Discrete || !reflect.DeepEqual(got.Values, []float64{0, 2, 5}) {
		t.Errorf("feature 0 = %+v", got)
	}
	if got := q.Features[1]; got.Kind != Quantile || !reflect.DeepEqual(got.Edges, []float64{3, 5, 7}) {
		t.Errorf("feature 1 = %+v", got)
	}
}

func TestBin(t *testing.T) {
	discrete := FeatureBins{Kind: Discrete, Values: []float64{0, 2, 5}}
	quantile := FeatureBins{Kind: Quantile, Edges: []float64{3, 5, 7}}
	tests := []struct {
		name string
		bins FeatureBins
		v    float64
		want uint8
	}{
		{"discrete exact", discrete, 2, 1},
		{"discrete below range", discrete, -4, 0},
		{"discrete above range", discrete, 9, 2},
		{"discrete nearest lower", discrete, 3, 1},
		{"discrete nearest upper", discrete, 4.5, 2},
		{"quantile first bin", quantile, 1, 0},
		{"quantile on edge", quantile, 3, 1},
		{"quantile middle", quantile, 6.5, 2},
		{"quantile last bin", quantile, 100, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bins.Bin(tt.v); got != tt.want {
				t.Errorf("Bin(%v) = %d, want %d", tt.v, got, tt.want)
			}
		})
	}
}

func TestFitLabels(t *testing.T) {
	q := NewQuantizer(2)
	if err := q.FitLabels([]string{"run", "walk", "run", "sit"}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(q.Labels, []string{"run", "walk", "sit"}) {
		t.Errorf("Labels = %v", q.Labels)
	}
	if id, err := q.LabelID("sit"); err != nil || id != 2 {
		t.Errorf("LabelID(sit) = %d, %v", id, err)
	}
	if _, err := q.LabelID("jump"); !errors.IsValidation(err) {
		t.Errorf("LabelID(jump) error = %v, want ValidationError", err)
	}
	if got := q.LabelName(255); got != "unknown" {
		t.Errorf("LabelName(255) = %q", got)
	}

	many := make([]string, dataset.MaxLabel+2)
	for i := range many {
		many[i] = "l" + string(rune('a'+i%26)) + string(rune('a'+i/26))
	}
	if err := NewQuantizer(2).FitLabels(many); !errors.IsCapacity(err) {
		t.Errorf("FitLabels(256 labels) error = %v, want CapacityError", err)
	}
}

func TestTransform(t *testing.T) {
	table, report, err := ReadRawCSV(strings.NewReader(
		"activity,ax,ay\n"+
			"walk,0.5,1\n"+
			"run,9.5,2\n"+
			"walk,0.7,3\n"+
			"run,9.1,NaN\n"+
			"sit,5.0\n"+
			"run,8.8,4\n"), "mem", 0)
	if err != nil {
		t.Fatalf("ReadRawCSV() error = %v", err)
	}
	if report.Accepted != 4 || report.Rejected != 2 {
		t.Errorf("report = %+v, want 4 accepted and 2 rejected", report)
	}

	q := NewQuantizer(1)
	if err := q.FitLabels(table.Labels[:2]); err != nil {
		t.Fatal(err)
	}
	if err := q.Fit(table.Rows); err != nil {
		t.Fatal(err)
	}
	ds, treport, err := q.Transform(table)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if ds.Len() != 4 || treport.Rejected != 0 {
		t.Errorf("Len() = %d, rejected = %d", ds.Len(), treport.Rejected)
	}
	s, err := ds.Sample(1)
	if err != nil {
		t.Fatal(err)
	}
	if s.Label != 1 || s.Features.At(0) != 1 {
		t.Errorf("sample 1 = label %d feature0 %d", s.Label, s.Features.At(0))
	}

	// 学習時に無かったラベルは除外される
	unseen := &RawTable{Source: "mem", Labels: []string{"walk", "jump"}, Rows: [][]float64{{0.5, 1}, {0.5, 1}}, Lines: []int{1, 2}}
	ds, treport, err = q.Transform(unseen)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 1 || treport.Rejected != 1 {
		t.Errorf("Len() = %d, rejected = %d", ds.Len(), treport.Rejected)
	}
}

func TestTransformNotFitted(t *testing.T) {
	q := NewQuantizer(2)
	if _, err := q.TransformRow([]float64{1}, nil); err == nil {
		t.Error("expected NotFittedError")
	}
	if _, _, err := q.Transform(&RawTable{}); err == nil {
		t.Error("expected NotFittedError")
	}
}

func TestQuantizerSaveLoad(t *testing.T) {
	q := NewQuantizer(2)
	if err := q.FitLabels([]string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Fit([][]float64{{1, 10}, {2, 20}, {3, 30}, {4, 40}, {5, 50}}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "q.yaml")
	if err := q.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := LoadQuantizer(path)
	if err != nil {
		t.Fatalf("LoadQuantizer() error = %v", err)
	}
	if !reflect.DeepEqual(got.Features, q.Features) || !reflect.DeepEqual(got.Labels, q.Labels) {
		t.Errorf("loaded %+v, want %+v", got, q)
	}
	if err := got.Validate(3, 2); !errors.IsValidation(err) {
		t.Errorf("Validate(bits 3) error = %v", err)
	}
}
