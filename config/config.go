// Package config defines the YAML configuration tree.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Segflow SegflowConfig `yaml:"segflow"`
}

// SegflowConfig is the project configuration.
type SegflowConfig struct {
	SourceID   string           `yaml:"source_id"`
	Input      InputConfig      `yaml:"input"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Sketch     SketchConfig     `yaml:"sketch"`
	Features   FeaturesConfig   `yaml:"features"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Labeling   LabelingConfig   `yaml:"labeling"`
	Tags       TagsConfig       `yaml:"tags"`
	Policy     PolicyConfig     `yaml:"policy"`
	Identity   IdentityConfig   `yaml:"identity"`
	Overrides  OverridesConfig  `yaml:"overrides"`
	Output     OutputConfig     `yaml:"output"`
	Sync       SyncConfig       `yaml:"sync"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Queue        string        `yaml:"queue"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls the streaming flow path.
type PipelineConfig struct {
	Workers        int `yaml:"workers"`
	WindowCapacity int `yaml:"window_capacity"`
}

// SketchConfig sizes the per-endpoint estimators.
type SketchConfig struct {
	PeerPrecision    int `yaml:"peer_precision"`
	ServicePrecision int `yaml:"service_precision"`
	PortPrecision    int `yaml:"port_precision"`
	CMSWidth         int `yaml:"cms_width"`
	CMSDepth         int `yaml:"cms_depth"`
}

// FeaturesConfig controls feature normalization.
type FeaturesConfig struct {
	PeerSaturation    float64 `yaml:"peer_saturation"`
	ServiceSaturation float64 `yaml:"service_saturation"`
	PortSaturation    float64 `yaml:"port_saturation"`
}

// ClusteringConfig controls the batch and incremental clustering paths.
type ClusteringConfig struct {
	Interval          time.Duration `yaml:"interval"`
	AssignInterval    time.Duration `yaml:"assign_interval"`
	Eps               float64       `yaml:"eps"`
	MinSamples        int           `yaml:"min_samples"`
	MinClusterSize    int           `yaml:"min_cluster_size"`
	ContinuityMaxDist float64       `yaml:"continuity_max_dist"`
	ClosenessGap      float64       `yaml:"closeness_gap"`
	LowConfidence     float64       `yaml:"low_confidence"`
}

// LabelingConfig controls the semantic labeling chain.
type LabelingConfig struct {
	MajorityThreshold float64 `yaml:"majority_threshold"`
}

// TagsConfig maps label categories to tag value bands.
type TagsConfig struct {
	Identity TagRange `yaml:"identity"`
	Device   TagRange `yaml:"device"`
	Behavior TagRange `yaml:"behavior"`
}

// TagRange is one numeric tag band.
type TagRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// PolicyConfig controls rule generation.
type PolicyConfig struct {
	MinRuleConfidence float64 `yaml:"min_rule_confidence"`
}

// IdentityConfig controls the identity directory source.
type IdentityConfig struct {
	Enabled   bool   `yaml:"enabled"`
	File      string `yaml:"file"`
	CacheSize int    `yaml:"cache_size"`
}

// OverridesConfig controls the manual override store.
type OverridesConfig struct {
	File string `yaml:"file"`
}

// OutputConfig controls snapshot export.
type OutputConfig struct {
	Mode string           `yaml:"mode"` // file|nats|both
	File FileOutputConfig `yaml:"file"`
	NATS NATSOutputConfig `yaml:"nats"`
}

// FileOutputConfig config for local JSONL output.
type FileOutputConfig struct {
	ClustersPath string `yaml:"clusters_path"`
	PolicyPath   string `yaml:"policy_path"`
}

// NATSOutputConfig config for NATS snapshot publication.
type NATSOutputConfig struct {
	URL            string `yaml:"url"`
	ClusterSubject string `yaml:"cluster_subject"`
	PolicySubject  string `yaml:"policy_subject"`
}

// SyncConfig controls sketch-delta synchronization between nodes.
type SyncConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
