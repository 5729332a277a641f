package alert

import (
	"fmt"
	"math"
	"sort"
)

// Bucket maps an aggregate score interval [MinScore, MaxScore) to a
// severity and the actions dispatched for it. A nil MaxScore leaves the
// bucket open-ended.
type Bucket struct {
	MinScore float64  `yaml:"min_score" json:"min_score"`
	MaxScore *float64 `yaml:"max_score" json:"max_score,omitempty"`
	Severity string   `yaml:"severity" json:"severity"`
	Actions  []string `yaml:"actions" json:"actions"`
}

func (b Bucket) contains(score float64) bool {
	if score < b.MinScore {
		return false
	}
	return b.MaxScore == nil || score < *b.MaxScore
}

// DefaultBuckets mirrors the shipped severity policy: every anomalous
// score from the default threshold upwards lands in exactly one bucket.
func DefaultBuckets() []Bucket {
	five := 5.0
	eight := 8.0
	return []Bucket{
		{MinScore: 3, MaxScore: &five, Severity: "medium", Actions: []string{"log-only", "ticket"}},
		{MinScore: 5, MaxScore: &eight, Severity: "high", Actions: []string{"ticket", "simulated-notify"}},
		{MinScore: 8, MaxScore: nil, Severity: "critical", Actions: []string{"simulated-block", "simulated-notify", "ticket"}},
	}
}

// ValidateBuckets requires ascending, contiguous, non-overlapping
// buckets with an open-ended final bucket, so severity resolution is
// total over every score at or above the first bucket.
func ValidateBuckets(buckets []Bucket) error {
	if len(buckets) == 0 {
		return fmt.Errorf("at least one severity bucket required")
	}
	if !sort.SliceIsSorted(buckets, func(i, j int) bool { return buckets[i].MinScore < buckets[j].MinScore }) {
		return fmt.Errorf("severity buckets must be sorted by min_score")
	}
	for i, b := range buckets {
		if math.IsNaN(b.MinScore) || math.IsInf(b.MinScore, 0) {
			return fmt.Errorf("bucket %d: min_score must be finite", i)
		}
		if b.Severity == "" {
			return fmt.Errorf("bucket %d: severity required", i)
		}
		last := i == len(buckets)-1
		if last {
			if b.MaxScore != nil {
				return fmt.Errorf("bucket %d: final bucket must be open-ended", i)
			}
			continue
		}
		if b.MaxScore == nil {
			return fmt.Errorf("bucket %d: only the final bucket may be open-ended", i)
		}
		if *b.MaxScore <= b.MinScore {
			return fmt.Errorf("bucket %d: max_score must exceed min_score", i)
		}
		if *b.MaxScore != buckets[i+1].MinScore {
			return fmt.Errorf("bucket %d: gap or overlap at score %v", i, *b.MaxScore)
		}
	}
	return nil
}

func ResolveSeverity(buckets []Bucket, score float64) (Bucket, bool) {
	for _, b := range buckets {
		if b.contains(score) {
			return b, true
		}
	}
	return Bucket{}, false
}
