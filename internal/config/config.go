// Package config provides configuration loading and validation for snapgc.
// Supports YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the snapgc daemon.
type Config struct {
	Catalog       CatalogConfig       `yaml:"catalog"`
	Storage       StorageConfig       `yaml:"storage"`
	Leader        LeaderConfig        `yaml:"leader"`
	GC            GCConfig            `yaml:"gc"`
	Policy        PolicyConfig        `yaml:"policy"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// CatalogConfig selects and configures the snapshot catalog.
type CatalogConfig struct {
	// Type is one of "journal", "sqlite", "oxia".
	Type string `yaml:"type" env:"SNAPGC_CATALOG_TYPE"`
	// Path is the journal or sqlite file path.
	Path string `yaml:"path" env:"SNAPGC_CATALOG_PATH"`
	Oxia OxiaConfig `yaml:"oxia"`
}

// OxiaConfig configures the Oxia catalog and elector.
type OxiaConfig struct {
	ServiceAddress string `yaml:"serviceAddress" env:"SNAPGC_OXIA_ENDPOINT"`
	Namespace      string `yaml:"namespace" env:"SNAPGC_OXIA_NAMESPACE"`
}

// StorageConfig selects and configures the payload backend.
type StorageConfig struct {
	// Type is one of "fs", "s3".
	Type string `yaml:"type" env:"SNAPGC_STORAGE_TYPE"`
	// Root is the payload directory for the fs backend.
	Root string   `yaml:"root" env:"SNAPGC_STORAGE_ROOT"`
	S3   S3Config `yaml:"s3"`
}

// S3Config configures the S3 payload backend.
type S3Config struct {
	Bucket       string `yaml:"bucket" env:"SNAPGC_S3_BUCKET"`
	KeyPrefix    string `yaml:"keyPrefix" env:"SNAPGC_S3_KEY_PREFIX"`
	Region       string `yaml:"region" env:"SNAPGC_S3_REGION"`
	Endpoint     string `yaml:"endpoint" env:"SNAPGC_S3_ENDPOINT"`
	AccessKey    string `yaml:"accessKey" env:"SNAPGC_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secretKey" env:"SNAPGC_S3_SECRET_KEY"`
	UsePathStyle bool   `yaml:"usePathStyle" env:"SNAPGC_S3_PATH_STYLE"`
}

// LeaderConfig selects the leader elector.
type LeaderConfig struct {
	// Type is one of "none", "file", "oxia".
	Type string `yaml:"type" env:"SNAPGC_LEADER_TYPE"`
	// LockPath is the lock file for the file elector.
	LockPath string `yaml:"lockPath" env:"SNAPGC_LEADER_LOCK_PATH"`
}

// GCConfig holds engine options. Durations are milliseconds.
type GCConfig struct {
	ScanIntervalMs                    int64 `yaml:"scanIntervalMs" env:"SNAPGC_SCAN_INTERVAL_MS"`
	DryRun                            bool  `yaml:"dryRun" env:"SNAPGC_DRY_RUN"`
	EnableTombstoneStage              bool  `yaml:"enableTombstoneStage"`
	EnableHardDeleteStage             bool  `yaml:"enableHardDeleteStage"`
	InactiveTimeoutMs                 int64 `yaml:"inactiveTimeoutMs"`
	GracePeriodMs                     int64 `yaml:"gracePeriodMs" env:"SNAPGC_GRACE_PERIOD_MS"`
	MaxDeletesPerRun                  int   `yaml:"maxDeletesPerRun"`
	BatchDeleteSize                   int   `yaml:"batchDeleteSize"`
	MaxDeleteFailuresBeforeQuarantine int   `yaml:"maxDeleteFailuresBeforeQuarantine"`
	BaseRetryBackoffMs                int64 `yaml:"baseRetryBackoffMs"`
}

// PolicyConfig holds the retention policy.
type PolicyConfig struct {
	KeepLastN            int    `yaml:"keepLastN" env:"SNAPGC_KEEP_LAST_N"`
	MaxAgeHours          int    `yaml:"maxAgeHours" env:"SNAPGC_MAX_AGE_HOURS"`
	EnableCheckpointing  bool   `yaml:"enableCheckpointing"`
	CheckpointIntervalMs int64  `yaml:"checkpointIntervalMs"`
	CheckpointPath       string `yaml:"checkpointPath"`
	CheckpointCodec      string `yaml:"checkpointCodec"`
}

// AuditConfig configures the optional event sinks.
type AuditConfig struct {
	ParquetDir            string      `yaml:"parquetDir" env:"SNAPGC_AUDIT_PARQUET_DIR"`
	ParquetFlushThreshold int         `yaml:"parquetFlushThreshold"`
	Kafka                 KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the Kafka event publisher.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers" env:"SNAPGC_KAFKA_BROKERS"`
	Topic       string   `yaml:"topic" env:"SNAPGC_KAFKA_TOPIC"`
	EnsureTopic bool     `yaml:"ensureTopic"`
}

// ObservabilityConfig configures metrics and logging.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"SNAPGC_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"SNAPGC_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"SNAPGC_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Type: "journal",
			Path: "./catalog.log",
		},
		Storage: StorageConfig{
			Type: "fs",
			Root: "./snapshots",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Leader: LeaderConfig{
			Type:     "file",
			LockPath: "./gc.lock",
		},
		GC: GCConfig{
			ScanIntervalMs:                    5 * 60 * 1000, // 5 minutes
			EnableTombstoneStage:              true,
			EnableHardDeleteStage:             true,
			InactiveTimeoutMs:                 7 * 24 * 3600 * 1000, // 7 days
			GracePeriodMs:                     7 * 24 * 3600 * 1000, // 7 days
			MaxDeletesPerRun:                  1000,
			BatchDeleteSize:                   50,
			MaxDeleteFailuresBeforeQuarantine: 5,
			BaseRetryBackoffMs:                10000, // 10 seconds
		},
		Policy: PolicyConfig{
			KeepLastN:            10,
			MaxAgeHours:          30 * 24, // 30 days
			CheckpointIntervalMs: 7 * 24 * 3600 * 1000,
			CheckpointCodec:      "zstd",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the configuration from the path in SNAPGC_CONFIG, or the
// defaults when unset. Environment overrides apply either way.
func Load() (*Config, error) {
	if path := os.Getenv("SNAPGC_CONFIG"); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// LoadFromPath reads YAML from path on top of the defaults, then applies
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv applies the environment overrides named in the struct tags.
func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt64 := func(dst *int64, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString(&c.Catalog.Type, "SNAPGC_CATALOG_TYPE")
	setString(&c.Catalog.Path, "SNAPGC_CATALOG_PATH")
	setString(&c.Catalog.Oxia.ServiceAddress, "SNAPGC_OXIA_ENDPOINT")
	setString(&c.Catalog.Oxia.Namespace, "SNAPGC_OXIA_NAMESPACE")
	setString(&c.Storage.Type, "SNAPGC_STORAGE_TYPE")
	setString(&c.Storage.Root, "SNAPGC_STORAGE_ROOT")
	setString(&c.Storage.S3.Bucket, "SNAPGC_S3_BUCKET")
	setString(&c.Storage.S3.KeyPrefix, "SNAPGC_S3_KEY_PREFIX")
	setString(&c.Storage.S3.Region, "SNAPGC_S3_REGION")
	setString(&c.Storage.S3.Endpoint, "SNAPGC_S3_ENDPOINT")
	setString(&c.Storage.S3.AccessKey, "SNAPGC_S3_ACCESS_KEY")
	setString(&c.Storage.S3.SecretKey, "SNAPGC_S3_SECRET_KEY")
	setBool(&c.Storage.S3.UsePathStyle, "SNAPGC_S3_PATH_STYLE")
	setString(&c.Leader.Type, "SNAPGC_LEADER_TYPE")
	setString(&c.Leader.LockPath, "SNAPGC_LEADER_LOCK_PATH")
	setInt64(&c.GC.ScanIntervalMs, "SNAPGC_SCAN_INTERVAL_MS")
	setBool(&c.GC.DryRun, "SNAPGC_DRY_RUN")
	setInt64(&c.GC.GracePeriodMs, "SNAPGC_GRACE_PERIOD_MS")
	setInt(&c.Policy.KeepLastN, "SNAPGC_KEEP_LAST_N")
	setInt(&c.Policy.MaxAgeHours, "SNAPGC_MAX_AGE_HOURS")
	setString(&c.Audit.ParquetDir, "SNAPGC_AUDIT_PARQUET_DIR")
	if v := os.Getenv("SNAPGC_KAFKA_BROKERS"); v != "" {
		c.Audit.Kafka.Brokers = strings.Split(v, ",")
	}
	setString(&c.Audit.Kafka.Topic, "SNAPGC_KAFKA_TOPIC")
	setString(&c.Observability.MetricsAddr, "SNAPGC_METRICS_ADDR")
	setString(&c.Observability.LogLevel, "SNAPGC_LOG_LEVEL")
	setString(&c.Observability.LogFormat, "SNAPGC_LOG_FORMAT")
}

// Validate rejects configurations the daemon cannot assemble.
func (c *Config) Validate() error {
	switch c.Catalog.Type {
	case "journal", "sqlite":
		if c.Catalog.Path == "" {
			return fmt.Errorf("config: catalog.path is required for %s catalog", c.Catalog.Type)
		}
	case "oxia":
		if c.Catalog.Oxia.ServiceAddress == "" || c.Catalog.Oxia.Namespace == "" {
			return fmt.Errorf("config: catalog.oxia.serviceAddress and namespace are required")
		}
	default:
		return fmt.Errorf("config: unknown catalog type %q", c.Catalog.Type)
	}

	switch c.Storage.Type {
	case "fs":
		if c.Storage.Root == "" {
			return fmt.Errorf("config: storage.root is required for fs storage")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("config: storage.s3.bucket is required")
		}
	default:
		return fmt.Errorf("config: unknown storage type %q", c.Storage.Type)
	}

	switch c.Leader.Type {
	case "none", "file", "oxia":
	default:
		return fmt.Errorf("config: unknown leader type %q", c.Leader.Type)
	}
	if c.Leader.Type == "file" && c.Leader.LockPath == "" {
		return fmt.Errorf("config: leader.lockPath is required for file elector")
	}
	if c.Leader.Type == "oxia" && c.Catalog.Oxia.ServiceAddress == "" {
		return fmt.Errorf("config: oxia elector requires catalog.oxia settings")
	}
	return nil
}
