package audit

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit_log.jsonl")
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	log, err := NewLog(path, 1, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return log
}

func TestAppendWritesOneLinePerEntry(t *testing.T) {
	log := newTestLog(t)
	score := 4.2
	entries := []Entry{
		{Target: "10.0.0.5", DecisionState: StateScoredNormal, Score: &score},
		{Target: "10.0.0.5", DecisionState: StateScoredAnomalous, Score: &score},
		{Target: "10.0.0.6", DecisionState: StateInputRejected, Error: "target required"},
	}
	for _, entry := range entries {
		if err := log.Append(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != len(entries) {
		t.Fatalf("expected %d lines got %d", len(entries), len(lines))
	}
}

func TestAppendAssignsMonotonicTimestamps(t *testing.T) {
	log := newTestLog(t)
	for i := 0; i < 20; i++ {
		if err := log.Append(Entry{Target: "10.0.0.5", DecisionState: StateScoredNormal}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	entries, err := Tail(log.Path(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("timestamps out of order at %d", i)
		}
	}
}

func TestAppendConcurrent(t *testing.T) {
	log := newTestLog(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = log.Append(Entry{Target: "10.0.0.5", DecisionState: StateScoredNormal})
			}
		}()
	}
	wg.Wait()
	entries, err := Tail(log.Path(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 200 {
		t.Fatalf("expected 200 entries got %d", len(entries))
	}
}

func TestTailLimit(t *testing.T) {
	log := newTestLog(t)
	for i := 0; i < 10; i++ {
		score := float64(i)
		if err := log.Append(Entry{Target: "10.0.0.5", DecisionState: StateScoredNormal, Score: &score}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	entries, err := Tail(log.Path(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries got %d", len(entries))
	}
	if *entries[2].Score != 9 {
		t.Fatalf("expected newest entry last got %v", *entries[2].Score)
	}
}

func TestTailMissingFile(t *testing.T) {
	entries, err := Tail(filepath.Join(t.TempDir(), "missing.jsonl"), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries got %d", len(entries))
	}
}

func TestTailSkipsTruncatedLine(t *testing.T) {
	log := newTestLog(t)
	if err := log.Append(Entry{Target: "10.0.0.5", DecisionState: StateScoredNormal}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	file, err := os.OpenFile(log.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := file.WriteString(`{"timestamp":"2025-01-02T1`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = file.Close()
	entries, err := Tail(log.Path(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected truncated line skipped, got %d entries", len(entries))
	}
}

func TestAppendAfterCloseEscalates(t *testing.T) {
	log := newTestLog(t)
	if err := log.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := log.Append(Entry{Target: "10.0.0.5", DecisionState: StateScoredNormal}); err == nil {
		t.Fatalf("expected append on closed log to fail")
	}
}
