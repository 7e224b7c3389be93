package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggerWritesJSONLRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sift.jsonl")

	logger, err := NewLogger(LevelDebug, path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("resolver", "resolved package", "name", "echo", "version", "1.2.3")
	logger.Warn("scope", "skipping client", "client", "gemini-cli")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("invalid JSONL line: %v", err)
		}
		records = append(records, rec)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["component"] != "resolver" {
		t.Errorf("component = %v", records[0]["component"])
	}
	fields, ok := records[0]["fields"].(map[string]any)
	if !ok || fields["name"] != "echo" {
		t.Errorf("fields = %v", records[0]["fields"])
	}
	if records[1]["level"] != "warn" {
		t.Errorf("level = %v", records[1]["level"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sift.jsonl")

	logger, err := NewLogger(LevelWarn, path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("cache", "filtered")
	logger.Info("cache", "filtered too")
	logger.Error("cache", "kept")
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q", data)
	}
	if rec["msg"] != "kept" {
		t.Errorf("expected only the error record, got %v", rec)
	}
}

func TestEventCarriesOpID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sift.jsonl")

	logger, err := NewLogger(LevelInfo, path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	ctx := WithOpID(context.Background())
	logger.Event(ctx, "install.commit", map[string]any{"resources": 3})
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["event"] != "sift.install.commit" {
		t.Errorf("event = %v", rec["event"])
	}
	if rec["op_id"] == "" || rec["op_id"] != OpID(ctx) {
		t.Errorf("op_id = %v, want %v", rec["op_id"], OpID(ctx))
	}
}

func TestOpIDsAreUnique(t *testing.T) {
	a := OpID(WithOpID(context.Background()))
	b := OpID(WithOpID(context.Background()))
	if a == "" || a == b {
		t.Errorf("op ids must be fresh per invocation: %q %q", a, b)
	}
}

func TestLoggerFromDefaultsToDiscard(t *testing.T) {
	l := LoggerFrom(context.Background())
	// Must be safe without a configured logger.
	l.Info("x", "y")
	if err := l.Close(); err != nil {
		t.Errorf("discard Close: %v", err)
	}
}

func TestStartSpanWithoutTracerIsNoop(t *testing.T) {
	ctx, end := StartSpan(context.Background(), "sift.install")
	if ctx == nil {
		t.Fatal("context must pass through")
	}
	end()
}
