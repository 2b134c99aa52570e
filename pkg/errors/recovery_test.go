package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRecover(t *testing.T) {
	t.Run("panic becomes PanicError", func(t *testing.T) {
		fn := func() (err error) {
			defer Recover(&err, "Forest.Build")
			panic("node index out of range")
		}

		err := fn()
		var panicErr *PanicError
		if !errors.As(err, &panicErr) {
			t.Fatalf("Expected PanicError, got %T", err)
		}
		if panicErr.Operation != "Forest.Build" {
			t.Errorf("Operation = %q, want Forest.Build", panicErr.Operation)
		}
		if panicErr.StackTrace == "" {
			t.Error("Expected non-empty stack trace")
		}
		if !strings.Contains(panicErr.String(), "Stack trace") {
			t.Error("String() should include the stack trace")
		}
	})

	t.Run("no panic keeps nil", func(t *testing.T) {
		fn := func() (err error) {
			defer Recover(&err, "noop")
			return nil
		}
		if err := fn(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("existing error is preserved", func(t *testing.T) {
		original := fmt.Errorf("truncated record")
		fn := func() (err error) {
			defer Recover(&err, "Dataset.Load")
			err = original
			panic("boom")
		}

		err := fn()
		if !errors.Is(err, original) {
			t.Error("original error should remain reachable through errors.Is")
		}
		if !strings.Contains(err.Error(), "panic in Dataset.Load") {
			t.Errorf("missing panic info: %s", err)
		}
	})
}

func TestSafeExecute(t *testing.T) {
	want := fmt.Errorf("function error")
	if err := SafeExecute("op", func() error { return want }); err != want {
		t.Fatalf("SafeExecute() = %v, want %v", err, want)
	}

	err := SafeExecute("op", func() error { panic("bad") })
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}
}

func TestGuard(t *testing.T) {
	tests := []struct {
		name       string
		fn         func() error
		releaseErr error
		wantErr    bool
		wantPanic  bool
	}{
		{name: "success", fn: func() error { return nil }},
		{name: "fn error", fn: func() error { return fmt.Errorf("fail") }, wantErr: true},
		{name: "fn panic", fn: func() error { panic("boom") }, wantErr: true, wantPanic: true},
		{name: "release error", fn: func() error { return nil }, releaseErr: fmt.Errorf("flush"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			released := false
			err := Guard("scoped", tt.fn, func() error {
				released = true
				return tt.releaseErr
			})

			if !released {
				t.Error("release was not called")
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Guard() error = %v, wantErr %v", err, tt.wantErr)
			}
			var panicErr *PanicError
			if tt.wantPanic && !errors.As(err, &panicErr) {
				t.Errorf("expected PanicError, got %T", err)
			}
		})
	}
}
