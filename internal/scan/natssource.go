package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"soclite-backend/internal/bus"
	"soclite-backend/internal/observation"
)

const natsQueueLimit = 1024

// NATSSource buffers observations published on the scan subject until
// the runner drains them. The buffer is bounded; overflow drops the
// newest message with a warning rather than blocking the bus callback.
type NATSSource struct {
	subscription *nats.Subscription
	logger       *slog.Logger

	mu    sync.Mutex
	queue []observation.ScanObservation
}

func NewNATSSource(subscriber *bus.Subscriber, logger *slog.Logger) (*NATSSource, error) {
	src := &NATSSource{logger: logger}
	subscription, err := subscriber.Subscribe(bus.SubjectObservation, src.enqueue)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", bus.SubjectObservation, err)
	}
	src.subscription = subscription
	return src, nil
}

func (s *NATSSource) enqueue(data []byte) {
	obs, err := observation.Decode(data)
	if err != nil && s.logger != nil {
		s.logger.Warn("invalid observation on bus", slog.String("target", obs.Target), slog.String("error", err.Error()))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= natsQueueLimit {
		if s.logger != nil {
			s.logger.Warn("observation queue full, dropping message", slog.String("target", obs.Target))
		}
		return
	}
	s.queue = append(s.queue, obs)
}

func (s *NATSSource) Drain(ctx context.Context) ([]observation.ScanObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch, nil
}

func (s *NATSSource) Commit(ctx context.Context) error {
	return nil
}

func (s *NATSSource) Close() error {
	if s.subscription != nil {
		return s.subscription.Unsubscribe()
	}
	return nil
}
