package feature

import (
	"fmt"
	"math"

	"soclite-backend/internal/observation"
)

// Schema fixes the set and order of features produced by extraction.
// Scoring and explanation both assume vectors of the same schema version.
type Schema struct {
	Version string
	Names   []string
}

var schemaV1 = Schema{
	Version: "v1",
	Names: []string{
		"open_ports",
		"unique_services",
		"high_risk_services",
		"critical_ports",
		"average_port",
	},
}

func SchemaByVersion(version string) (Schema, error) {
	switch version {
	case "", "v1":
		return schemaV1, nil
	default:
		return Schema{}, fmt.Errorf("unknown feature schema %q", version)
	}
}

type Vector struct {
	SchemaVersion string             `json:"schema_version"`
	Values        map[string]float64 `json:"values"`
}

// Extract builds a vector holding every schema feature. Metrics missing
// from the observation default to zero, metrics outside the schema are
// ignored, and non-finite values are treated as absent.
func Extract(schema Schema, obs observation.ScanObservation) Vector {
	values := make(map[string]float64, len(schema.Names))
	for _, name := range schema.Names {
		value := obs.Metrics[name]
		if math.IsNaN(value) || math.IsInf(value, 0) {
			value = 0
		}
		values[name] = value
	}
	return Vector{SchemaVersion: schema.Version, Values: values}
}
