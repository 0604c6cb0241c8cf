package obs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLogWritesJSONLLine(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Enabled: true, Dir: dir, Sampling: 1.0})

	score := 0.8
	logger.Log(Event{Lane: "speed", TopK: 5, GroundingScore: &score, Query: "test query", Flags: Flags{RAGEnabled: true}})

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v (err=%v)", entries, err)
	}
}

func TestLogDisabledIsNoOp(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Enabled: false, Dir: dir})
	logger.Log(Event{Lane: "speed"})

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files written when disabled, got %v", entries)
	}
}

func TestLogRedactsQueryWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Enabled: true, Dir: dir, Sampling: 1.0, Redact: true})
	logger.Log(Event{Lane: "speed", Query: "sensitive text"})

	events, err := logger.Tail(context.Background(), 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	m, ok := events[0].Query.(map[string]interface{})
	if !ok {
		t.Fatalf("expected redacted query object, got %T", events[0].Query)
	}
	if _, ok := m["hash"]; !ok {
		t.Error("expected redacted query to carry a hash field")
	}
}

func TestNewRequestIDFlagsFirstThreeAsWarmup(t *testing.T) {
	logger := New(Config{Enabled: false})
	for i := 0; i < 3; i++ {
		_, warmup := logger.NewRequestID()
		if !warmup {
			t.Errorf("call %d: expected warmup=true", i)
		}
	}
	_, warmup := logger.NewRequestID()
	if warmup {
		t.Error("4th call: expected warmup=false")
	}
}

func TestTailReturnsMostRecentNEvents(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Enabled: true, Dir: dir, Sampling: 1.0})
	for i := 0; i < 5; i++ {
		logger.Log(Event{Lane: "speed", TopK: i})
	}

	events, err := logger.Tail(context.Background(), 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].TopK != 3 || events[1].TopK != 4 {
		t.Errorf("got topk values %d,%d, want 3,4 (most recent)", events[0].TopK, events[1].TopK)
	}
}

func TestTailMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Enabled: true, Dir: dir, File: filepath.Join(dir, "missing.jsonl")})
	events, err := logger.Tail(context.Background(), 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if events != nil {
		t.Errorf("expected nil events for missing file, got %v", events)
	}
}
