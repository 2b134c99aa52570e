package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("feature[3]", "exceeds 2^bits-1", 4)

	want := "microforest: validation failed for 'feature[3]': exceeds 2^bits-1 (got: 4)"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	// スタックトレースの存在確認
	formatted := fmt.Sprintf("%+v", err)
	if !strings.Contains(formatted, "errors_test.go") {
		t.Error("Expected stack trace to contain test file name")
	}

	if !IsValidation(err) {
		t.Error("IsValidation() = false")
	}
	if IsIO(err) || IsCapacity(err) || IsState(err) {
		t.Error("validation error misclassified")
	}
}

func TestIOError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "wrapped cause",
			err:     NewIOError("open", "train.bin", fmt.Errorf("no such file")),
			wantMsg: "microforest: open train.bin: no such file",
		},
		{
			name:    "format mismatch",
			err:     NewFormatError("read forest", "forest.bin", "0x54524545", "0x00000000"),
			wantMsg: "microforest: read forest forest.bin: expected 0x54524545, found 0x00000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.wantMsg)
			}
			if !IsIO(tt.err) {
				t.Error("IsIO() = false")
			}
		})
	}
}

func TestCapacityAndStateErrors(t *testing.T) {
	capErr := NewCapacityError("node word bits", 32, 35)
	if !strings.Contains(capErr.Error(), "requested 35, limit 32") {
		t.Errorf("unexpected message: %s", capErr)
	}
	var ce *CapacityError
	if !As(capErr, &ce) || ce.Resource != "node word bits" {
		t.Error("Error should be castable to *CapacityError")
	}

	stateErr := NewStateError("Dataset.Sample", "released")
	if !IsState(stateErr) {
		t.Error("IsState() = false")
	}
	if !strings.Contains(stateErr.Error(), "Dataset.Sample: data is released") {
		t.Errorf("unexpected message: %s", stateErr)
	}
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrapf(ErrSubsetUnsorted, "load subset of %s", "train.bin")
	if !Is(wrapped, ErrSubsetUnsorted) {
		t.Error("Is() should find the sentinel through Wrapf")
	}
	if !strings.Contains(wrapped.Error(), "load subset of train.bin") {
		t.Errorf("unexpected message: %s", wrapped)
	}
}

func TestWarn(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(nil)

	Warn(NewRejectedRecordWarning("train.csv", 7, "value 4 exceeds 3"))
	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}
	if got[0].Error() != "record rejected at train.csv:7: value 4 exceeds 3" {
		t.Errorf("unexpected warning: %v", got[0])
	}
}
