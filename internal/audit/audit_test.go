package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(DefaultConfig(path))
	if err != nil {
		t.Fatal(err)
	}

	logger.Record("run-1", EventRunStarted, zap.Int("events", 100))
	logger.Record("run-1", EventRunCompleted, zap.Float64("percentage_removed", 4.2))
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		lines = append(lines, entry)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["event"] != string(EventRunStarted) {
		t.Errorf("first event = %v, want %s", lines[0]["event"], EventRunStarted)
	}
	if lines[0]["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", lines[0]["run_id"])
	}
	if lines[1]["percentage_removed"] != 4.2 {
		t.Errorf("percentage_removed = %v, want 4.2", lines[1]["percentage_removed"])
	}
}

func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	l.Record("run-1", EventRunFailed) // must not panic
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestLoggerRecordAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(DefaultConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	logger.Record("run-1", EventRunStarted) // dropped, not a panic
}

func TestNewLoggerRequiresPath(t *testing.T) {
	if _, err := NewLogger(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
