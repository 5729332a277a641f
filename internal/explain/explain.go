package explain

import (
	"math"
	"sort"

	"soclite-backend/internal/baseline"
	"soclite-backend/internal/detect"
	"soclite-backend/internal/feature"
)

const (
	DirectionIncrease = "increase"
	DirectionDecrease = "decrease"
	DirectionFlat     = "flat"
)

type Insight struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
	Direction    string  `json:"direction"`
}

// Explainer turns a scored observation into ranked insights. The
// pipeline depends only on this capability, never on a concrete
// implementation.
type Explainer interface {
	Explain(vec feature.Vector, state baseline.State, score detect.Result) ([]Insight, error)
}

// ZContribution is the default explainer: contribution is the absolute
// z-score, direction follows the sign of value minus baseline mean.
// Equal contributions rank by feature name so output is reproducible.
type ZContribution struct{}

func (ZContribution) Explain(vec feature.Vector, state baseline.State, score detect.Result) ([]Insight, error) {
	insights := make([]Insight, 0, len(score.PerFeature))
	for _, fs := range score.PerFeature {
		insights = append(insights, Insight{
			Feature:      fs.Feature,
			Contribution: math.Abs(fs.Z),
			Direction:    direction(fs.Value - fs.Mean),
		})
	}
	sortInsights(insights)
	return insights, nil
}

func direction(delta float64) string {
	switch {
	case delta > 0:
		return DirectionIncrease
	case delta < 0:
		return DirectionDecrease
	default:
		return DirectionFlat
	}
}

func sortInsights(insights []Insight) {
	sort.Slice(insights, func(i, j int) bool {
		if insights[i].Contribution != insights[j].Contribution {
			return insights[i].Contribution > insights[j].Contribution
		}
		return insights[i].Feature < insights[j].Feature
	})
}
