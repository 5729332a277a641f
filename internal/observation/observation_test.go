package observation

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeValidObservation(t *testing.T) {
	payload := []byte(`{"target":"10.0.0.5","timestamp":"2025-01-02T10:00:00Z","metrics":{"open_ports":3}}`)
	obs, err := Decode(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Target != "10.0.0.5" {
		t.Fatalf("expected target 10.0.0.5 got %q", obs.Target)
	}
	if obs.Metrics["open_ports"] != 3 {
		t.Fatalf("expected open_ports 3 got %v", obs.Metrics["open_ports"])
	}
	if obs.ID == "" {
		t.Fatalf("expected derived id")
	}
}

func TestDecodeMissingTarget(t *testing.T) {
	payload := []byte(`{"timestamp":"2025-01-02T10:00:00Z","metrics":{"open_ports":3}}`)
	_, err := Decode(payload)
	if !errors.Is(err, ErrTargetRequired) {
		t.Fatalf("expected target error got %v", err)
	}
}

func TestDecodeBadTimestampKeepsTarget(t *testing.T) {
	payload := []byte(`{"target":"10.0.0.5","timestamp":"yesterday","metrics":{}}`)
	obs, err := Decode(payload)
	if err == nil {
		t.Fatalf("expected error")
	}
	if obs.Target != "10.0.0.5" {
		t.Fatalf("expected partial decode to keep target, got %q", obs.Target)
	}
}

func TestDecodeAcceptsNanoTimestamps(t *testing.T) {
	payload := []byte(`{"target":"10.0.0.5","timestamp":"2025-01-02T10:00:00.123456789Z","metrics":{}}`)
	obs, err := Decode(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Timestamp.Nanosecond() != 123456789 {
		t.Fatalf("expected nanosecond precision got %v", obs.Timestamp)
	}
}

func TestDerivedIDStable(t *testing.T) {
	ts := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	a := ScanObservation{Target: "10.0.0.5", Timestamp: ts}
	b := ScanObservation{Target: "10.0.0.5", Timestamp: ts}
	if a.DerivedID() != b.DerivedID() {
		t.Fatalf("expected equal ids got %q and %q", a.DerivedID(), b.DerivedID())
	}
	if a.DerivedID() != "10.0.0.5@2025-01-02T10:00:00Z" {
		t.Fatalf("unexpected id format %q", a.DerivedID())
	}
}

func TestDerivedIDPrefersExplicitID(t *testing.T) {
	obs := ScanObservation{ID: "obs-1", Target: "10.0.0.5", Timestamp: time.Now()}
	if obs.DerivedID() != "obs-1" {
		t.Fatalf("expected explicit id got %q", obs.DerivedID())
	}
}

func TestValidateRejectsZeroTimestamp(t *testing.T) {
	obs := ScanObservation{Target: "10.0.0.5"}
	if !errors.Is(obs.Validate(), ErrTimestampRequired) {
		t.Fatalf("expected timestamp error")
	}
}
