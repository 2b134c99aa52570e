package performance

import (
	"testing"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

func TestMemoryBudget(t *testing.T) {
	b := NewMemoryBudget(100)

	if err := b.Allocate(60); err != nil {
		t.Fatalf("Allocate(60) error: %v", err)
	}
	if b.CanAllocate(50) {
		t.Error("CanAllocate(50) should be false with 60/100 used")
	}
	if err := b.Allocate(50); !errors.IsCapacity(err) {
		t.Errorf("expected CapacityError, got %v", err)
	}

	b.Free(60)
	if used, limit := b.Usage(); used != 0 || limit != 100 {
		t.Errorf("Usage() = (%d, %d), want (0, 100)", used, limit)
	}
	peak, refusals := b.Stats()
	if peak != 60 || refusals != 1 {
		t.Errorf("Stats() = (%d, %d), want (60, 1)", peak, refusals)
	}
}

func TestMemoryBudgetUnlimited(t *testing.T) {
	tests := []struct {
		name   string
		budget *MemoryBudget
	}{
		{"zero limit", NewMemoryBudget(0)},
		{"nil budget", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.budget.CanAllocate(1 << 40) {
				t.Error("unlimited budget refused an allocation")
			}
			if err := tt.budget.Allocate(1 << 40); err != nil {
				t.Errorf("Allocate() error: %v", err)
			}
			tt.budget.Free(1 << 40)
		})
	}
}
