package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"soclite-backend/internal/respond"
)

const (
	StateInputRejected    = "input-rejected"
	StateScoredNormal     = "scored-normal"
	StateScoredAnomalous  = "scored-anomalous"
	StateActionInvoked    = "action-invoked"
	StateActionResult     = "action-result"
	StateConfigError      = "config-error"
	StatePersistenceError = "persistence-error"
)

type Entry struct {
	Timestamp     time.Time             `json:"timestamp"`
	Target        string                `json:"target"`
	DecisionState string                `json:"decision_state"`
	ObservationID string                `json:"observation_id,omitempty"`
	AlertID       string                `json:"alert_id,omitempty"`
	Score         *float64              `json:"score,omitempty"`
	Action        string                `json:"action,omitempty"`
	ActionResult  *respond.ActionResult `json:"action_result,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// Log is an append-only JSONL file. Appends are serialized under one
// mutex and the timestamp is assigned while it is held, so line order
// in the file is also time order. Entries are never rewritten.
type Log struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	logger   *slog.Logger
	attempts int
}

func NewLog(path string, attempts int, logger *slog.Logger) (*Log, error) {
	if attempts < 1 {
		attempts = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{path: path, file: file, logger: logger, attempts: attempts}, nil
}

// Append writes one entry. A failed write is retried with doubling
// backoff; after the final attempt the entry is escalated to the
// process logger so it is never silently lost.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.Timestamp = time.Now().UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		l.escalate(entry, err)
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line := append(data, '\n')
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < l.attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if _, err := l.file.Write(line); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	l.escalate(entry, lastErr)
	return fmt.Errorf("append audit entry: %w", lastErr)
}

func (l *Log) escalate(entry Entry, cause error) {
	if l.logger == nil {
		return
	}
	l.logger.Error("audit append failed",
		slog.String("error", cause.Error()),
		slog.String("target", entry.Target),
		slog.String("decision_state", entry.DecisionState),
	)
}

func (l *Log) Path() string {
	return l.path
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Tail returns the last limit entries. Lines that fail to parse, such
// as a line truncated by a crash, are skipped.
func Tail(path string, limit int) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	entries := []Entry{}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
