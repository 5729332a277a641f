package alert

import (
	"time"

	"github.com/google/uuid"

	"soclite-backend/internal/detect"
	"soclite-backend/internal/explain"
	"soclite-backend/internal/feature"
	"soclite-backend/internal/observation"
)

const ClassificationAnomalous = "anomalous"

// Record is written once when an observation classifies anomalous and
// never modified afterwards.
type Record struct {
	AlertID        string             `json:"alert_id"`
	Target         string             `json:"target"`
	Timestamp      time.Time          `json:"timestamp"`
	SchemaVersion  string             `json:"schema_version"`
	FeatureVector  map[string]float64 `json:"feature_vector"`
	AggregateScore float64            `json:"aggregate_score"`
	Classification string             `json:"classification"`
	Severity       string             `json:"severity"`
	Insights       []explain.Insight  `json:"insight"`
}

func NewRecord(obs observation.ScanObservation, vec feature.Vector, score detect.Result, severity string, insights []explain.Insight) Record {
	vector := make(map[string]float64, len(vec.Values))
	for name, value := range vec.Values {
		vector[name] = value
	}
	return Record{
		AlertID:        uuid.NewString(),
		Target:         obs.Target,
		Timestamp:      obs.Timestamp.UTC(),
		SchemaVersion:  vec.SchemaVersion,
		FeatureVector:  vector,
		AggregateScore: score.Aggregate,
		Classification: ClassificationAnomalous,
		Severity:       severity,
		Insights:       insights,
	}
}
