package respond

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"soclite-backend/internal/alert"
)

var ErrUnknownAction = errors.New("unknown action")

type ActionResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

type Responder interface {
	Invoke(ctx context.Context, rec alert.Record) (ActionResult, error)
}

// Registry resolves an action kind to its responder. An unresolvable
// kind is a configuration error, never a crash.
type Registry struct {
	responders map[string]Responder
}

func NewRegistry(responders map[string]Responder) *Registry {
	return &Registry{responders: responders}
}

func (r *Registry) Invoke(ctx context.Context, kind string, rec alert.Record) (ActionResult, error) {
	responder, ok := r.responders[kind]
	if !ok {
		return ActionResult{}, fmt.Errorf("%w %q", ErrUnknownAction, kind)
	}
	return responder.Invoke(ctx, rec)
}

func (r *Registry) Known(kind string) bool {
	_, ok := r.responders[kind]
	return ok
}

// DefaultRegistry wires the four built-in simulated responders. The
// snapshot responders leave a JSON artefact per invocation under
// responseDir so the simulated action is reviewable afterwards.
func DefaultRegistry(responseDir string, logger *slog.Logger) *Registry {
	return NewRegistry(map[string]Responder{
		"log-only":         &LogResponder{Logger: logger},
		"ticket":           &SnapshotResponder{Action: "ticket", Dir: responseDir},
		"simulated-block":  &SnapshotResponder{Action: "simulated-block", Dir: responseDir},
		"simulated-notify": &SnapshotResponder{Action: "simulated-notify", Dir: responseDir},
	})
}

type LogResponder struct {
	Logger *slog.Logger
}

func (r *LogResponder) Invoke(ctx context.Context, rec alert.Record) (ActionResult, error) {
	if r.Logger != nil {
		r.Logger.Info("alert action",
			slog.String("action", "log-only"),
			slog.String("alert_id", rec.AlertID),
			slog.String("target", rec.Target),
			slog.String("severity", rec.Severity),
		)
	}
	return ActionResult{Success: true, Detail: "logged alert " + rec.AlertID}, nil
}

type SnapshotResponder struct {
	Action string
	Dir    string
}

func (r *SnapshotResponder) Invoke(ctx context.Context, rec alert.Record) (ActionResult, error) {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return ActionResult{Success: false, Detail: err.Error()}, fmt.Errorf("create response dir: %w", err)
	}
	payload := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"action":    r.Action,
		"alert":     rec,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return ActionResult{Success: false, Detail: err.Error()}, fmt.Errorf("marshal response snapshot: %w", err)
	}
	path := filepath.Join(r.Dir, rec.AlertID+"_"+r.Action+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ActionResult{Success: false, Detail: err.Error()}, fmt.Errorf("write response snapshot: %w", err)
	}
	return ActionResult{Success: true, Detail: r.Action + " recorded at " + path}, nil
}

// FailingResponder simulates a broken integration for tests and drills.
type FailingResponder struct {
	Err error
}

func (r *FailingResponder) Invoke(ctx context.Context, rec alert.Record) (ActionResult, error) {
	err := r.Err
	if err == nil {
		err = errors.New("responder failed")
	}
	return ActionResult{Success: false, Detail: err.Error()}, err
}
