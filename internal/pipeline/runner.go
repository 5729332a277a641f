package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"soclite-backend/internal/observation"
	"soclite-backend/internal/scan"
)

// Runner drives the pipeline in cycles: drain every source, process
// each target's observations in timestamp order on one worker, wait
// for all workers, then commit the sources. A new cycle never starts
// while the previous one is still writing.
type Runner struct {
	pipeline *Pipeline
	sources  []scan.Source
	interval time.Duration
	workers  int
	logger   *slog.Logger
	trigger  chan struct{}
}

func NewRunner(p *Pipeline, sources []scan.Source, interval time.Duration, workers int, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		pipeline: p,
		sources:  sources,
		interval: interval,
		workers:  workers,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// TriggerCycle requests an immediate cycle without waiting for the
// ticker. Requests arriving while one is already pending coalesce.
func (r *Runner) TriggerCycle() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Cycle(ctx); err != nil {
			r.logger.Error("cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.trigger:
		}
	}
}

func (r *Runner) Cycle(ctx context.Context) error {
	batches := map[string][]observation.ScanObservation{}
	var drainErr error
	for _, src := range r.sources {
		drained, err := src.Drain(ctx)
		if err != nil {
			if drainErr == nil {
				drainErr = err
			}
			r.logger.Error("source drain failed", slog.String("error", err.Error()))
			continue
		}
		for _, obs := range drained {
			batches[obs.Target] = append(batches[obs.Target], obs)
		}
	}

	targets := make([]string, 0, len(batches))
	for target := range batches {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		batch := batches[target]
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].Timestamp.Before(batch[j].Timestamp)
		})
	}

	work := make(chan []observation.ScanObservation)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range work {
				for _, obs := range batch {
					if _, err := r.pipeline.Process(ctx, obs); err != nil {
						r.logger.Error("observation failed",
							slog.String("target", obs.Target),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		}()
	}
	for _, target := range targets {
		work <- batches[target]
	}
	close(work)
	wg.Wait()

	for _, src := range r.sources {
		if err := src.Commit(ctx); err != nil {
			r.logger.Error("source commit failed", slog.String("error", err.Error()))
		}
	}
	return drainErr
}
