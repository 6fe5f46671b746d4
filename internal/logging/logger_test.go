package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONWithFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatsyncd.log")
	logger, err := New(path, "5511", zapcore.InfoLevel)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	logger.Info("poll applied messages", zap.Int("applied", 2))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", data, err)
	}
	if entry["msg"] != "poll applied messages" || entry["conversation"] != "5511" || entry["applied"] != float64(2) {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts field")
	}
}
