package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

func TestTestLogger(t *testing.T) {
	logger, buffer := NewTestLogger(LevelInfo)

	logger.Debug("hidden")
	logger.Info("tree built", NodesKey, 7, DepthKey, 3)
	logger.With(RunIDKey, "run-1").Warn("forced leaf", TreeIndexKey, 2)
	logger.Error("load failed", errors.New("truncated"), PathKey, "train.bin")

	if strings.Contains(buffer.String(), "hidden") {
		t.Error("debug record should be filtered at info level")
	}
	if !logger.ContainsField(NodesKey, 7.0) {
		t.Error("expected tree.nodes=7")
	}
	if !logger.ContainsField(RunIDKey, "run-1") {
		t.Error("With() fields missing")
	}
	if !logger.ContainsField(ErrorKey, "truncated") {
		t.Error("leading error field missing")
	}

	entries, err := logger.Entries()
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	if logger.Enabled(context.Background(), LevelDebug) {
		t.Error("debug should be disabled")
	}
	if !logger.Enabled(context.Background(), LevelWarn) {
		t.Error("warn should be enabled")
	}

	logger.With(ComponentKey, "dataset").Error("record rejected",
		errors.NewValidationError("feature[0]", "exceeds 2^bits-1", 4),
		PathKey, "train.csv",
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON output %q: %v", buf.String(), err)
	}
	if entry[ComponentKey] != "dataset" {
		t.Errorf("component = %v, want dataset", entry[ComponentKey])
	}
	if entry[PathKey] != "train.csv" {
		t.Errorf("path = %v", entry[PathKey])
	}
	typed, ok := entry[ErrorTypeKey].(map[string]interface{})
	if !ok || typed["type"] != "ValidationError" {
		t.Errorf("error.type = %v, want ValidationError object", entry[ErrorTypeKey])
	}
}

func TestToLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"WARN", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToLogLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ToLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestProvider(t *testing.T) {
	p, logger := NewTestLoggerProvider(LevelDebug)
	SetProvider(p)
	defer SetProvider(newZerologProvider(zerolog.Nop(), LevelInfo))

	GetLoggerWithName("forest.trainer").Debug("grid point", MinSplitKey, 2)
	if !logger.ContainsField(ComponentKey, "forest.trainer") {
		t.Error("component name missing")
	}

	SetLevel(LevelError)
	GetLogger().Info("dropped")
	if logger.ContainsMessage("dropped") {
		t.Error("SetLevel should filter info records")
	}
}
