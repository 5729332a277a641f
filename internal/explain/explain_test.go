package explain

import (
	"testing"

	"soclite-backend/internal/baseline"
	"soclite-backend/internal/detect"
	"soclite-backend/internal/feature"
)

func scoredVector(values map[string]float64, stats map[string]baseline.Stats) (feature.Vector, baseline.State, detect.Result) {
	vec := feature.Vector{SchemaVersion: "v1", Values: values}
	state := baseline.State{SchemaVersion: "v1", Features: stats}
	return vec, state, detect.Score(vec, state, detect.Params{ZThreshold: 3})
}

func TestZContributionRanksByAbsoluteZ(t *testing.T) {
	vec, state, score := scoredVector(
		map[string]float64{"open_ports": 40, "unique_services": 2},
		map[string]baseline.Stats{
			"open_ports":      {N: 5, Mean: 3.2, M2: 0.8},
			"unique_services": {N: 5, Mean: 2, M2: 0.5},
		},
	)
	insights, err := ZContribution{}.Explain(vec, state, score)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if insights[0].Feature != "open_ports" {
		t.Fatalf("expected open_ports first got %q", insights[0].Feature)
	}
	if insights[0].Direction != DirectionIncrease {
		t.Fatalf("expected increase got %q", insights[0].Direction)
	}
	if insights[0].Contribution <= insights[1].Contribution {
		t.Fatalf("expected descending contributions: %+v", insights)
	}
}

func TestZContributionTiesBreakByName(t *testing.T) {
	vec, state, score := scoredVector(
		map[string]float64{"bravo": 10, "alpha": 10},
		map[string]baseline.Stats{
			"alpha": {N: 10, Mean: 0, M2: 9},
			"bravo": {N: 10, Mean: 0, M2: 9},
		},
	)
	insights, err := ZContribution{}.Explain(vec, state, score)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if insights[0].Feature != "alpha" || insights[1].Feature != "bravo" {
		t.Fatalf("expected alphabetical tie-break got %+v", insights)
	}
}

func TestZContributionIdempotent(t *testing.T) {
	vec, state, score := scoredVector(
		map[string]float64{"open_ports": 40, "critical_ports": 1, "average_port": 500},
		map[string]baseline.Stats{
			"open_ports":     {N: 5, Mean: 3.2, M2: 0.8},
			"critical_ports": {N: 5, Mean: 1, M2: 0.2},
			"average_port":   {N: 5, Mean: 400, M2: 2000},
		},
	)
	first, _ := ZContribution{}.Explain(vec, state, score)
	second, _ := ZContribution{}.Explain(vec, state, score)
	if len(first) != len(second) {
		t.Fatalf("expected equal length")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected identical insight at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDirectionFlatWhenAtMean(t *testing.T) {
	vec, state, score := scoredVector(
		map[string]float64{"open_ports": 3},
		map[string]baseline.Stats{"open_ports": {N: 5, Mean: 3, M2: 0.8}},
	)
	insights, err := ZContribution{}.Explain(vec, state, score)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if insights[0].Direction != DirectionFlat {
		t.Fatalf("expected flat got %q", insights[0].Direction)
	}
}

func TestDirectionDecrease(t *testing.T) {
	vec, state, score := scoredVector(
		map[string]float64{"open_ports": 1},
		map[string]baseline.Stats{"open_ports": {N: 5, Mean: 3.2, M2: 0.8}},
	)
	insights, err := ZContribution{}.Explain(vec, state, score)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if insights[0].Direction != DirectionDecrease {
		t.Fatalf("expected decrease got %q", insights[0].Direction)
	}
}
