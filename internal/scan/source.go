package scan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"soclite-backend/internal/observation"
)

// Source hands batches of observations to the pipeline runner. Commit
// is called once the batch has been fully processed.
type Source interface {
	Drain(ctx context.Context) ([]observation.ScanObservation, error)
	Commit(ctx context.Context) error
	Close() error
}

const spoolTimeLayout = "20060102T150405.000000000"

// SpoolSource reads scanner records from a spool directory in filename
// order. The directory belongs to the scanner and is never modified; a
// separate cursor file remembers the last consumed record so restarts
// do not replay the whole spool.
type SpoolSource struct {
	dir        string
	cursorPath string
	logger     *slog.Logger

	mu      sync.Mutex
	cursor  string
	pending string
}

func NewSpoolSource(dir, cursorPath string, logger *slog.Logger) (*SpoolSource, error) {
	if err := os.MkdirAll(filepath.Dir(cursorPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cursor dir: %w", err)
	}
	src := &SpoolSource{dir: dir, cursorPath: cursorPath, logger: logger}
	data, err := os.ReadFile(cursorPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read spool cursor: %w", err)
	}
	src.cursor = strings.TrimSpace(string(data))
	return src, nil
}

func (s *SpoolSource) Drain(ctx context.Context) ([]observation.ScanObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read spool dir: %w", err)
	}
	names := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if name <= s.cursor {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	observations := make([]observation.ScanObservation, 0, len(names))
	pending := s.pending
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			// Commit must not advance past records this drain never
			// delivered.
			return nil, fmt.Errorf("read spool record %s: %w", name, err)
		}
		obs, err := observation.Decode(data)
		if err != nil && s.logger != nil {
			s.logger.Warn("invalid spool record", slog.String("file", name), slog.String("error", err.Error()))
		}
		// Partial decodes flow through so the pipeline audits the rejection.
		observations = append(observations, obs)
		pending = name
	}
	s.pending = pending
	return observations, nil
}

func (s *SpoolSource) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == "" || s.pending == s.cursor {
		return nil
	}
	if err := os.WriteFile(s.cursorPath, []byte(s.pending+"\n"), 0o644); err != nil {
		return fmt.Errorf("write spool cursor: %w", err)
	}
	s.cursor = s.pending
	return nil
}

func (s *SpoolSource) Close() error {
	return nil
}

// WriteSpool drops one observation into the spool directory using a
// sortable record name, so readers consume records in timestamp order.
func WriteSpool(dir string, obs observation.ScanObservation) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	data, err := observation.Encode(obs)
	if err != nil {
		return "", fmt.Errorf("encode observation: %w", err)
	}
	name := fmt.Sprintf("scan_%sZ_%s.json", obs.Timestamp.UTC().Format(spoolTimeLayout), sanitizeTarget(obs.Target))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write spool record: %w", err)
	}
	return path, nil
}

func sanitizeTarget(target string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '-'
		}
	}, target)
}
