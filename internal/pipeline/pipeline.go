package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"soclite-backend/internal/alert"
	"soclite-backend/internal/audit"
	"soclite-backend/internal/baseline"
	"soclite-backend/internal/bus"
	"soclite-backend/internal/detect"
	"soclite-backend/internal/explain"
	"soclite-backend/internal/feature"
	"soclite-backend/internal/observation"
	"soclite-backend/internal/respond"
)

const (
	StateReceived         = "RECEIVED"
	StateExtracted        = "EXTRACTED"
	StateScored           = "SCORED"
	StateNormalTerminal   = "NORMAL_TERMINAL"
	StateAnomalous        = "ANOMALOUS"
	StateExplained        = "EXPLAINED"
	StateAlerted          = "ALERTED"
	StateActionDispatched = "ACTION_DISPATCHED"
	StateTerminal         = "TERMINAL"
)

const (
	lockStripes  = 32
	retryBackoff = 100 * time.Millisecond

	severityUnclassified = "unclassified"
)

type Publisher interface {
	Publish(subject string, payload any) error
}

type Outcome struct {
	State     string
	Score     float64
	Anomalous bool
	AlertID   string
}

type actionEvent struct {
	AlertID string `json:"alert_id"`
	Target  string `json:"target"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// Pipeline runs every observation through the same decision sequence:
// validate, extract, score against the target baseline, update the
// baseline, then explain, alert and dispatch when anomalous. Audit is
// required; Publisher and Logger may be nil.
type Pipeline struct {
	Schema     feature.Schema
	Baselines  baseline.Store
	Params     detect.Params
	Explainer  explain.Explainer
	Alerts     alert.Store
	Buckets    []alert.Bucket
	Responders *respond.Registry
	Audit      *audit.Log
	Publisher  Publisher
	Logger     *slog.Logger

	// IncludeAnomalies controls whether anomalous observations feed the
	// baseline. Leaving them out resists baseline poisoning at the cost
	// of never adapting to a changed normal.
	IncludeAnomalies  bool
	PersistAttempts   int
	ResponderAttempts int
	Cooldown          time.Duration

	locks [lockStripes]sync.Mutex

	cooldownMu sync.Mutex
	cooldowns  map[string]time.Time
}

// Process takes one observation to a terminal decision. The per-target
// mutex is held from baseline read through baseline update so a
// target's observations never interleave. Every call writes exactly
// one audit entry describing the observation's outcome, a decision
// state on success or a persistence error when a store stays down
// through its retries.
func (p *Pipeline) Process(ctx context.Context, obs observation.ScanObservation) (Outcome, error) {
	outcome := Outcome{State: StateReceived}
	if err := obs.Validate(); err != nil {
		p.audit(audit.Entry{
			Target:        obs.Target,
			DecisionState: audit.StateInputRejected,
			ObservationID: obs.ID,
			Error:         err.Error(),
		})
		outcome.State = StateTerminal
		return outcome, nil
	}

	obsID := obs.DerivedID()
	vec := feature.Extract(p.Schema, obs)
	outcome.State = StateExtracted

	mu := p.lockTarget(obs.Target)
	mu.Lock()
	prior, err := p.readBaseline(ctx, obs.Target)
	if err != nil {
		mu.Unlock()
		p.audit(audit.Entry{
			Target:        obs.Target,
			DecisionState: audit.StatePersistenceError,
			ObservationID: obsID,
			Error:         fmt.Sprintf("baseline read: %v", err),
		})
		return outcome, fmt.Errorf("read baseline for %s: %w", obs.Target, err)
	}

	score := detect.Score(vec, prior, p.Params)
	outcome.State = StateScored
	outcome.Score = score.Aggregate
	outcome.Anomalous = score.Anomalous
	aggregate := score.Aggregate

	if !score.Anomalous || p.IncludeAnomalies {
		err := retry(ctx, p.PersistAttempts, func() error {
			_, err := p.Baselines.Update(ctx, obs.Target, obsID, vec)
			return err
		})
		if err != nil {
			mu.Unlock()
			p.audit(audit.Entry{
				Target:        obs.Target,
				DecisionState: audit.StatePersistenceError,
				ObservationID: obsID,
				Score:         &aggregate,
				Error:         fmt.Sprintf("baseline update: %v", err),
			})
			return outcome, fmt.Errorf("update baseline for %s: %w", obs.Target, err)
		}
	}
	mu.Unlock()
	decision := audit.StateScoredNormal
	if score.Anomalous {
		decision = audit.StateScoredAnomalous
	}
	p.audit(audit.Entry{
		Target:        obs.Target,
		DecisionState: decision,
		ObservationID: obsID,
		Score:         &aggregate,
	})

	if !score.Anomalous {
		outcome.State = StateNormalTerminal
		return outcome, nil
	}
	outcome.State = StateAnomalous

	insights, err := p.Explainer.Explain(vec, prior, score)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("explainer failed, falling back to z contributions",
				slog.String("target", obs.Target),
				slog.String("error", err.Error()),
			)
		}
		insights, _ = explain.ZContribution{}.Explain(vec, prior, score)
	}
	outcome.State = StateExplained

	bucket, matched := alert.ResolveSeverity(p.Buckets, score.Aggregate)
	severity := bucket.Severity
	if !matched {
		severity = severityUnclassified
	}
	rec := alert.NewRecord(obs, vec, score, severity, insights)

	if err := retry(ctx, p.PersistAttempts, func() error { return p.Alerts.Save(ctx, rec) }); err != nil {
		p.audit(audit.Entry{
			Target:        obs.Target,
			DecisionState: audit.StatePersistenceError,
			ObservationID: obsID,
			AlertID:       rec.AlertID,
			Error:         fmt.Sprintf("alert save: %v", err),
		})
		return outcome, fmt.Errorf("save alert for %s: %w", obs.Target, err)
	}
	outcome.State = StateAlerted
	outcome.AlertID = rec.AlertID
	p.publish(bus.SubjectAlertCreated, rec)

	if !matched {
		p.audit(audit.Entry{
			Target:        obs.Target,
			DecisionState: audit.StateConfigError,
			ObservationID: obsID,
			AlertID:       rec.AlertID,
			Error:         fmt.Sprintf("no severity bucket matches score %.3f", score.Aggregate),
		})
		outcome.State = StateTerminal
		return outcome, nil
	}

	outcome.State = StateActionDispatched
	for _, action := range bucket.Actions {
		p.dispatch(ctx, action, rec, obsID)
	}
	outcome.State = StateTerminal
	return outcome, nil
}

func (p *Pipeline) dispatch(ctx context.Context, action string, rec alert.Record, obsID string) {
	if !p.Responders.Known(action) {
		p.audit(audit.Entry{
			Target:        rec.Target,
			DecisionState: audit.StateConfigError,
			ObservationID: obsID,
			AlertID:       rec.AlertID,
			Action:        action,
			Error:         "unknown action kind",
		})
		return
	}
	if !p.allowAction(rec.Target, action) {
		result := respond.ActionResult{Success: false, Detail: "suppressed: cooldown"}
		p.audit(audit.Entry{
			Target:        rec.Target,
			DecisionState: audit.StateActionResult,
			ObservationID: obsID,
			AlertID:       rec.AlertID,
			Action:        action,
			ActionResult:  &result,
		})
		return
	}

	p.audit(audit.Entry{
		Target:        rec.Target,
		DecisionState: audit.StateActionInvoked,
		ObservationID: obsID,
		AlertID:       rec.AlertID,
		Action:        action,
	})
	var result respond.ActionResult
	err := retry(ctx, p.ResponderAttempts, func() error {
		var invokeErr error
		result, invokeErr = p.Responders.Invoke(ctx, action, rec)
		return invokeErr
	})
	if err != nil && result.Detail == "" {
		result.Detail = err.Error()
	}
	entry := audit.Entry{
		Target:        rec.Target,
		DecisionState: audit.StateActionResult,
		ObservationID: obsID,
		AlertID:       rec.AlertID,
		Action:        action,
		ActionResult:  &result,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	p.audit(entry)
	p.publish(bus.SubjectActionResult, actionEvent{
		AlertID: rec.AlertID,
		Target:  rec.Target,
		Action:  action,
		Success: result.Success,
		Detail:  result.Detail,
	})
}

func (p *Pipeline) readBaseline(ctx context.Context, target string) (baseline.State, error) {
	var state baseline.State
	err := retry(ctx, p.PersistAttempts, func() error {
		var readErr error
		state, readErr = p.Baselines.Read(ctx, target)
		return readErr
	})
	return state, err
}

func (p *Pipeline) lockTarget(target string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(target))
	return &p.locks[h.Sum32()%lockStripes]
}

// allowAction stamps the cooldown window at invocation time, so a
// failing action is not retried any sooner than a succeeding one.
func (p *Pipeline) allowAction(target, action string) bool {
	if p.Cooldown <= 0 {
		return true
	}
	key := target + "|" + action
	p.cooldownMu.Lock()
	defer p.cooldownMu.Unlock()
	if p.cooldowns == nil {
		p.cooldowns = make(map[string]time.Time)
	}
	if last, ok := p.cooldowns[key]; ok && time.Since(last) < p.Cooldown {
		return false
	}
	p.cooldowns[key] = time.Now()
	return true
}

func (p *Pipeline) audit(entry audit.Entry) {
	// Append escalates its own failures to the process logger.
	_ = p.Audit.Append(entry)
}

func (p *Pipeline) publish(subject string, payload any) {
	if p.Publisher == nil {
		return
	}
	if err := p.Publisher.Publish(subject, payload); err != nil && p.Logger != nil {
		p.Logger.Warn("bus publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}

func retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := retryBackoff
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
