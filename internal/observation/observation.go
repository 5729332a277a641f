package observation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrTargetRequired    = errors.New("target required")
	ErrTimestampRequired = errors.New("timestamp required")
)

type ScanObservation struct {
	ID        string             `json:"id,omitempty"`
	Target    string             `json:"target"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

func (o ScanObservation) Validate() error {
	if strings.TrimSpace(o.Target) == "" {
		return ErrTargetRequired
	}
	if o.Timestamp.IsZero() {
		return ErrTimestampRequired
	}
	return nil
}

// DerivedID returns the explicit ID when present, otherwise a stable
// identifier built from target and timestamp so retried updates can be
// recognised by the baseline stores.
func (o ScanObservation) DerivedID() string {
	if o.ID != "" {
		return o.ID
	}
	return o.Target + "@" + o.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Decode parses a wire observation. On error it still returns whatever
// fields were recovered so callers can audit the rejection with context.
func Decode(data []byte) (ScanObservation, error) {
	var wire struct {
		ID        string             `json:"id"`
		Target    string             `json:"target"`
		Timestamp string             `json:"timestamp"`
		Metrics   map[string]float64 `json:"metrics"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return ScanObservation{}, fmt.Errorf("decode observation: %w", err)
	}
	obs := ScanObservation{
		ID:      strings.TrimSpace(wire.ID),
		Target:  strings.TrimSpace(wire.Target),
		Metrics: map[string]float64{},
	}
	for name, value := range wire.Metrics {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		obs.Metrics[name] = value
	}
	if wire.Timestamp != "" {
		ts, err := parseTimestamp(wire.Timestamp)
		if err != nil {
			return obs, err
		}
		obs.Timestamp = ts.UTC()
	}
	if err := obs.Validate(); err != nil {
		return obs, err
	}
	obs.ID = obs.DerivedID()
	return obs, nil
}

func Encode(obs ScanObservation) ([]byte, error) {
	return json.Marshal(obs)
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}
