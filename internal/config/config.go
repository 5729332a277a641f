package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"soclite-backend/internal/alert"
	"soclite-backend/internal/detect"
	"soclite-backend/internal/feature"
)

type Config struct {
	FeatureSchemaVersion string             `yaml:"feature_schema_version"`
	ZThreshold           float64            `yaml:"z_threshold"`
	Aggregate            string             `yaml:"aggregate"`
	FeatureWeights       map[string]float64 `yaml:"feature_weights"`

	// Nil means unset; anomalies join the baseline unless explicitly
	// disabled, which trades adaptivity for poisoning resistance.
	IncludeAnomaliesInBaseline *bool `yaml:"include_anomalies_in_baseline"`

	SeverityBuckets []alert.Bucket `yaml:"severity_buckets"`

	BaselineStore           string `yaml:"baseline_store"`
	BaselinePersistencePath string `yaml:"baseline_persistence_path"`
	AlertStore              string `yaml:"alert_store"`
	AlertDir                string `yaml:"alert_dir"`
	ResponseDir             string `yaml:"response_dir"`
	AuditLogPath            string `yaml:"audit_log_path"`

	ActionCooldownSeconds    int `yaml:"action_cooldown_seconds"`
	PersistenceRetryAttempts int `yaml:"persistence_retry_attempts"`
	ResponderRetryAttempts   int `yaml:"responder_retry_attempts"`

	Explainer          string `yaml:"explainer"`
	ExplainerModelPath string `yaml:"explainer_model_path"`
	OnnxLibraryPath    string `yaml:"onnx_library_path"`

	ScanSpoolDir        string `yaml:"scan_spool_dir"`
	ScanIntervalSeconds int    `yaml:"scan_interval_seconds"`
	Workers             int    `yaml:"workers"`
}

func Default() Config {
	return Config{
		FeatureSchemaVersion:     "v1",
		ZThreshold:               3,
		Aggregate:                detect.AggregateMaxAbs,
		SeverityBuckets:          alert.DefaultBuckets(),
		BaselineStore:            "file",
		BaselinePersistencePath:  "data/baselines.json",
		AlertStore:               "file",
		AlertDir:                 "data/alerts",
		ResponseDir:              "data/responses",
		AuditLogPath:             "data/audit_log.jsonl",
		PersistenceRetryAttempts: 3,
		ResponderRetryAttempts:   2,
		Explainer:                "z_contribution",
		ScanSpoolDir:             "data/scans",
		ScanIntervalSeconds:      30,
		Workers:                  4,
	}
}

// Load reads the yaml config at path on top of the defaults. An empty
// path yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	base := Default()
	if c.Aggregate == "" {
		c.Aggregate = base.Aggregate
	}
	if c.BaselineStore == "" {
		c.BaselineStore = base.BaselineStore
	}
	if c.AlertStore == "" {
		c.AlertStore = base.AlertStore
	}
	if c.Explainer == "" {
		c.Explainer = base.Explainer
	}
	if len(c.SeverityBuckets) == 0 {
		c.SeverityBuckets = base.SeverityBuckets
	}
	if c.PersistenceRetryAttempts < 1 {
		c.PersistenceRetryAttempts = base.PersistenceRetryAttempts
	}
	if c.ResponderRetryAttempts < 1 {
		c.ResponderRetryAttempts = base.ResponderRetryAttempts
	}
	if c.ScanIntervalSeconds < 1 {
		c.ScanIntervalSeconds = base.ScanIntervalSeconds
	}
	if c.Workers < 1 {
		c.Workers = base.Workers
	}
}

func (c Config) Validate() error {
	if _, err := feature.SchemaByVersion(c.FeatureSchemaVersion); err != nil {
		return err
	}
	if math.IsNaN(c.ZThreshold) || math.IsInf(c.ZThreshold, 0) || c.ZThreshold <= 0 {
		return fmt.Errorf("z_threshold must be a positive finite number, got %v", c.ZThreshold)
	}
	switch c.Aggregate {
	case detect.AggregateMaxAbs, detect.AggregateWeightedSum:
	default:
		return fmt.Errorf("unsupported aggregate %q", c.Aggregate)
	}
	for name, weight := range c.FeatureWeights {
		if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
			return fmt.Errorf("feature_weights[%s] must be a non-negative finite number, got %v", name, weight)
		}
	}
	if err := alert.ValidateBuckets(c.SeverityBuckets); err != nil {
		return err
	}
	if first := c.SeverityBuckets[0].MinScore; first > c.ZThreshold {
		return fmt.Errorf("first severity bucket starts at %v, above z_threshold %v", first, c.ZThreshold)
	}
	switch c.BaselineStore {
	case "memory", "file", "postgres", "redis":
	default:
		return fmt.Errorf("unsupported baseline_store %q", c.BaselineStore)
	}
	if c.BaselineStore == "file" && c.BaselinePersistencePath == "" {
		return fmt.Errorf("baseline_persistence_path required for the file baseline store")
	}
	switch c.AlertStore {
	case "file", "postgres":
	default:
		return fmt.Errorf("unsupported alert_store %q", c.AlertStore)
	}
	if c.AlertStore == "file" && c.AlertDir == "" {
		return fmt.Errorf("alert_dir required for the file alert store")
	}
	if c.AuditLogPath == "" {
		return fmt.Errorf("audit_log_path required")
	}
	if c.ActionCooldownSeconds < 0 {
		return fmt.Errorf("action_cooldown_seconds must not be negative")
	}
	switch c.Explainer {
	case "z_contribution":
	case "onnx":
		if c.ExplainerModelPath == "" {
			return fmt.Errorf("explainer_model_path required for the onnx explainer")
		}
		if c.OnnxLibraryPath == "" {
			return fmt.Errorf("onnx_library_path required for the onnx explainer")
		}
	default:
		return fmt.Errorf("unsupported explainer %q", c.Explainer)
	}
	return nil
}

func (c Config) IncludeAnomalies() bool {
	return c.IncludeAnomaliesInBaseline == nil || *c.IncludeAnomaliesInBaseline
}

func (c Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

func (c Config) ActionCooldown() time.Duration {
	return time.Duration(c.ActionCooldownSeconds) * time.Second
}

func (c Config) DetectParams() detect.Params {
	return detect.Params{
		ZThreshold: c.ZThreshold,
		Aggregate:  c.Aggregate,
		Weights:    c.FeatureWeights,
	}
}
