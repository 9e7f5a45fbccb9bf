package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Invocation disciplines for the edge router's cache-miss path.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Configuration represents the complete application configuration. It is
// constructed once at invocation entry and threaded into both components;
// nothing reads environment state after startup.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Storage    StorageConfig    `yaml:"storage"`
	Transform  TransformConfig  `yaml:"transform"`
	Edge       EdgeConfig       `yaml:"edge"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// StorageConfig represents the object storage settings shared by both
// components. Originals and renditions are distinct namespaces.
type StorageConfig struct {
	Region           string `yaml:"region"`
	Endpoint         string `yaml:"endpoint"`
	OriginalsBucket  string `yaml:"originals_bucket"`
	RenditionsBucket string `yaml:"renditions_bucket"`
	ForcePathStyle   bool   `yaml:"force_path_style"`

	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TransformConfig represents transform engine settings
type TransformConfig struct {
	DefaultQuality int `yaml:"default_quality"`

	// MaxDimension rejects absurd resize targets before any decode work.
	MaxDimension int `yaml:"max_dimension"`

	// Timeout is the hard wall-clock budget for one transform, sized for
	// the worst case (RAW decode).
	Timeout time.Duration `yaml:"timeout"`

	WriteRetries int `yaml:"write_retries"`
}

// EdgeConfig represents edge router settings
type EdgeConfig struct {
	// FunctionName identifies the transform function to invoke.
	FunctionName string `yaml:"function_name"`

	// InvocationMode selects the cache-miss discipline: "sync" waits for
	// the transform and serves its bytes, "async" fires and forgets and
	// serves the original. The mode is an explicit flag, never inferred.
	InvocationMode string `yaml:"invocation_mode"`

	SyncTimeout time.Duration `yaml:"sync_timeout"`

	// MaxInlineBytes caps the response body generated at the edge; larger
	// sync results are served by rewriting to the fresh rendition.
	MaxInlineBytes int64 `yaml:"max_inline_bytes"`

	// RenditionsOrigin is the S3 domain of the renditions bucket. Cache
	// hits retarget the request origin here, since the distribution's
	// default origin is the originals bucket. Empty means derive it from
	// the renditions bucket and region.
	RenditionsOrigin string `yaml:"renditions_origin"`
}

// DeriveRenditionsOrigin fills RenditionsOrigin from the storage settings
// when no explicit domain is configured.
func (c *Configuration) DeriveRenditionsOrigin() {
	if c.Edge.RenditionsOrigin == "" {
		c.Edge.RenditionsOrigin = fmt.Sprintf("%s.s3.%s.amazonaws.com",
			c.Storage.RenditionsBucket, c.Storage.Region)
	}
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPort    int    `yaml:"metrics_port"`
	Namespace      string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
		},
		Storage: StorageConfig{
			Region:           "us-east-1",
			OriginalsBucket:  "galerly-originals",
			RenditionsBucket: "galerly-renditions",
			MaxRetries:       3,
			RequestTimeout:   30 * time.Second,
		},
		Transform: TransformConfig{
			DefaultQuality: 85,
			MaxDimension:   10000,
			Timeout:        25 * time.Second,
			WriteRetries:   3,
		},
		Edge: EdgeConfig{
			FunctionName:   "galerly-transform",
			InvocationMode: ModeAsync,
			SyncTimeout:    5 * time.Second,
			MaxInlineBytes: 1 << 20, // Lambda@Edge generated-response cap
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: false,
			MetricsPort:    8080,
			Namespace:      "galerly",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("GALERLY_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}

	// Storage settings
	if val := os.Getenv("GALERLY_REGION"); val != "" {
		c.Storage.Region = val
	}
	if val := os.Getenv("GALERLY_S3_ENDPOINT"); val != "" {
		c.Storage.Endpoint = val
	}
	if val := os.Getenv("GALERLY_ORIGINALS_BUCKET"); val != "" {
		c.Storage.OriginalsBucket = val
	}
	if val := os.Getenv("GALERLY_RENDITIONS_BUCKET"); val != "" {
		c.Storage.RenditionsBucket = val
	}
	if val := os.Getenv("GALERLY_FORCE_PATH_STYLE"); val != "" {
		c.Storage.ForcePathStyle = strings.ToLower(val) == "true"
	}

	// Transform settings
	if val := os.Getenv("GALERLY_DEFAULT_QUALITY"); val != "" {
		if quality, err := strconv.Atoi(val); err == nil {
			c.Transform.DefaultQuality = quality
		}
	}
	if val := os.Getenv("GALERLY_TRANSFORM_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Transform.Timeout = duration
		}
	}

	// Edge settings
	if val := os.Getenv("GALERLY_TRANSFORM_FUNCTION"); val != "" {
		c.Edge.FunctionName = val
	}
	if val := os.Getenv("GALERLY_INVOCATION_MODE"); val != "" {
		c.Edge.InvocationMode = strings.ToLower(val)
	}
	if val := os.Getenv("GALERLY_SYNC_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Edge.SyncTimeout = duration
		}
	}
	if val := os.Getenv("GALERLY_RENDITIONS_ORIGIN"); val != "" {
		c.Edge.RenditionsOrigin = val
	}

	// Monitoring settings
	if val := os.Getenv("GALERLY_METRICS_ENABLED"); val != "" {
		c.Monitoring.MetricsEnabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("GALERLY_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.MetricsPort = port
		}
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Storage.OriginalsBucket == "" {
		return fmt.Errorf("originals_bucket must not be empty")
	}
	if c.Storage.RenditionsBucket == "" {
		return fmt.Errorf("renditions_bucket must not be empty")
	}
	if c.Storage.OriginalsBucket == c.Storage.RenditionsBucket {
		return fmt.Errorf("originals_bucket and renditions_bucket must be distinct namespaces")
	}

	if c.Transform.DefaultQuality < 1 || c.Transform.DefaultQuality > 100 {
		return fmt.Errorf("default_quality must be between 1 and 100, got %d", c.Transform.DefaultQuality)
	}
	if c.Transform.Timeout <= 0 {
		return fmt.Errorf("transform timeout must be positive")
	}
	if c.Transform.MaxDimension <= 0 {
		return fmt.Errorf("max_dimension must be positive")
	}

	if c.Edge.InvocationMode != ModeSync && c.Edge.InvocationMode != ModeAsync {
		return fmt.Errorf("invalid invocation_mode: %s (must be %s or %s)",
			c.Edge.InvocationMode, ModeSync, ModeAsync)
	}
	if c.Edge.SyncTimeout <= 0 {
		return fmt.Errorf("sync_timeout must be positive")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
