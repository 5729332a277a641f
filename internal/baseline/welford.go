package baseline

import (
	"math"
	"time"

	"soclite-backend/internal/feature"
)

// Stats is one feature's running baseline in Welford form. Mean and M2
// together with the count are enough to recover variance without keeping
// the raw history.
type Stats struct {
	N    int64   `json:"n"`
	Mean float64 `json:"mean"`
	M2   float64 `json:"m2"`
}

func (s Stats) Observe(value float64) Stats {
	n := s.N + 1
	delta := value - s.Mean
	mean := s.Mean + delta/float64(n)
	return Stats{N: n, Mean: mean, M2: s.M2 + delta*(value-mean)}
}

// Variance is the sample variance M2/(n-1), zero while fewer than two
// observations have been absorbed.
func (s Stats) Variance() float64 {
	if s.N < 2 {
		return 0
	}
	v := s.M2 / float64(s.N-1)
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (s Stats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

type State struct {
	SchemaVersion     string           `json:"schema_version"`
	Features          map[string]Stats `json:"features"`
	LastObservationID string           `json:"last_observation_id,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Apply folds one vector into the state and returns the successor. The
// receiver is not modified. A schema version change discards the learned
// features and starts over.
func (s State) Apply(obsID string, vec feature.Vector, now time.Time) State {
	next := State{
		SchemaVersion:     vec.SchemaVersion,
		Features:          make(map[string]Stats, len(vec.Values)),
		LastObservationID: obsID,
		UpdatedAt:         now,
	}
	if s.SchemaVersion == vec.SchemaVersion {
		for name, stats := range s.Features {
			next.Features[name] = stats
		}
	}
	for name, value := range vec.Values {
		next.Features[name] = next.Features[name].Observe(value)
	}
	return next
}
