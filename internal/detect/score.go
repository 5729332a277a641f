package detect

import (
	"math"
	"sort"

	"soclite-backend/internal/baseline"
	"soclite-backend/internal/feature"
)

const defaultEpsilon = 1e-9

const (
	AggregateMaxAbs      = "max_abs"
	AggregateWeightedSum = "weighted_sum"
)

type Params struct {
	ZThreshold float64
	Aggregate  string
	Weights    map[string]float64
}

type FeatureScore struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Z       float64 `json:"z"`
}

type Result struct {
	PerFeature []FeatureScore `json:"per_feature"`
	Aggregate  float64        `json:"aggregate"`
	Anomalous  bool           `json:"anomalous"`
}

// Score is a pure function of the vector, the baseline state and the
// params. Features with fewer than two baseline samples score zero, and
// the sigma floor keeps a zero-variance baseline from dividing by zero.
func Score(vec feature.Vector, state baseline.State, params Params) Result {
	names := make([]string, 0, len(vec.Values))
	for name := range vec.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	scores := make([]FeatureScore, 0, len(names))
	for _, name := range names {
		value := vec.Values[name]
		stats := state.Features[name]
		fs := FeatureScore{Feature: name, Value: value, Mean: stats.Mean, StdDev: stats.StdDev()}
		if stats.N >= 2 {
			sigma := fs.StdDev
			if sigma < defaultEpsilon {
				sigma = defaultEpsilon
			}
			fs.Z = (value - stats.Mean) / sigma
		}
		scores = append(scores, fs)
	}

	agg := aggregate(scores, params)
	return Result{PerFeature: scores, Aggregate: agg, Anomalous: agg > params.ZThreshold}
}

func aggregate(scores []FeatureScore, params Params) float64 {
	switch params.Aggregate {
	case AggregateWeightedSum:
		total := 0.0
		for _, fs := range scores {
			weight := 1.0
			if w, ok := params.Weights[fs.Feature]; ok {
				weight = w
			}
			if weight < 0 {
				weight = 0
			}
			total += weight * math.Abs(fs.Z)
		}
		return total
	default:
		max := 0.0
		for _, fs := range scores {
			if abs := math.Abs(fs.Z); abs > max {
				max = abs
			}
		}
		return max
	}
}
