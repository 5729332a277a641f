package feature

import (
	"math"
	"testing"
	"time"

	"soclite-backend/internal/observation"
)

func TestSchemaByVersionDefaultsToV1(t *testing.T) {
	schema, err := SchemaByVersion("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema.Version != "v1" {
		t.Fatalf("expected v1 got %q", schema.Version)
	}
	if len(schema.Names) != 5 {
		t.Fatalf("expected 5 features got %d", len(schema.Names))
	}
}

func TestSchemaByVersionUnknown(t *testing.T) {
	if _, err := SchemaByVersion("v99"); err == nil {
		t.Fatalf("expected error for unknown schema")
	}
}

func TestExtractFillsMissingWithZero(t *testing.T) {
	schema, _ := SchemaByVersion("v1")
	obs := observation.ScanObservation{
		Target:    "10.0.0.5",
		Timestamp: time.Now(),
		Metrics:   map[string]float64{"open_ports": 3},
	}
	vec := Extract(schema, obs)
	if vec.Values["open_ports"] != 3 {
		t.Fatalf("expected open_ports 3 got %v", vec.Values["open_ports"])
	}
	if vec.Values["average_port"] != 0 {
		t.Fatalf("expected average_port 0 got %v", vec.Values["average_port"])
	}
	if len(vec.Values) != len(schema.Names) {
		t.Fatalf("expected %d values got %d", len(schema.Names), len(vec.Values))
	}
}

func TestExtractIgnoresUnknownMetrics(t *testing.T) {
	schema, _ := SchemaByVersion("v1")
	obs := observation.ScanObservation{
		Metrics: map[string]float64{"open_ports": 2, "cpu_load": 0.9},
	}
	vec := Extract(schema, obs)
	if _, ok := vec.Values["cpu_load"]; ok {
		t.Fatalf("expected cpu_load to be ignored")
	}
}

func TestExtractDropsNonFinite(t *testing.T) {
	schema, _ := SchemaByVersion("v1")
	obs := observation.ScanObservation{
		Metrics: map[string]float64{"open_ports": math.Inf(1), "average_port": math.NaN()},
	}
	vec := Extract(schema, obs)
	if vec.Values["open_ports"] != 0 || vec.Values["average_port"] != 0 {
		t.Fatalf("expected non-finite metrics to default to zero, got %v", vec.Values)
	}
}

func TestExtractDeterministic(t *testing.T) {
	schema, _ := SchemaByVersion("v1")
	obs := observation.ScanObservation{
		Metrics: map[string]float64{"open_ports": 4, "unique_services": 2},
	}
	a := Extract(schema, obs)
	b := Extract(schema, obs)
	for name := range a.Values {
		if a.Values[name] != b.Values[name] {
			t.Fatalf("expected deterministic extraction for %s", name)
		}
	}
}
