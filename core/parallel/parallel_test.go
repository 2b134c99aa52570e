package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestParallelize(t *testing.T) {
	tests := []struct {
		name      string
		items     int
		threshold int
	}{
		{"empty", 0, 0},
		{"single", 1, 0},
		{"sequential", 50, 100},
		{"parallel", 1000, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make([]int32, tt.items)
			err := ParallelizeWithThreshold(context.Background(), tt.items, tt.threshold, func(_ context.Context, start, end int) error {
				for i := start; i < end; i++ {
					atomic.AddInt32(&seen[i], 1)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i, n := range seen {
				if n != 1 {
					t.Errorf("index %d visited %d times", i, n)
				}
			}
		})
	}
}

func TestParallelizeError(t *testing.T) {
	boom := errors.New("boom")
	err := Parallelize(context.Background(), 100, func(_ context.Context, start, end int) error {
		if start == 0 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}

func TestParallelizeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Parallelize(ctx, 10, func(context.Context, int, int) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
