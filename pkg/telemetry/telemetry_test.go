package telemetry

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func gathered(t *testing.T, m *Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range metric.GetLabel() {
				name += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[name] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[name] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[name] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetrics(t *testing.T) {
	m := New()
	m.ObserveTree(15, 2)
	m.ObserveTree(7, 0)
	m.ObserveRejected(3)
	m.ObserveRejected(0)
	m.ObserveRestore(nil)
	m.ObserveRestore(errors.New("lost"))
	m.ObserveGridPoint(50 * time.Millisecond)
	m.SetBestScore(0.91)
	m.ObservePrediction("correct")

	got := gathered(t, m)
	want := map[string]float64{
		"microforest_train_trees_built_total":               2,
		"microforest_train_forced_leaves_total":             2,
		"microforest_train_tree_nodes":                      2,
		"microforest_data_rejected_records_total":           3,
		"microforest_forest_restores_total{status=success}": 1,
		"microforest_forest_restores_total{status=error}":   1,
		"microforest_search_grid_points_total":              1,
		"microforest_search_grid_point_duration_seconds":    1,
		"microforest_search_best_score":                     0.91,
		"microforest_predict_samples_total{outcome=correct}": 1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %v, want %v", name, got[name], v)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveTree(1, 1)
	m.ObserveRejected(1)
	m.ObserveRestore(nil)
	m.ObserveGridPoint(time.Second)
	m.SetBestScore(1)
	m.ObservePrediction("unknown")
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveTree(3, 0)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "microforest_train_trees_built_total 1") {
		t.Errorf("exposition missing counter:\n%s", body)
	}
}
