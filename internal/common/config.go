package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment" yaml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server" yaml:"server"`
	Queue       QueueConfig      `toml:"queue" yaml:"queue"`
	Storage     StorageConfig    `toml:"storage" yaml:"storage"`
	Logging     LoggingConfig    `toml:"logging" yaml:"logging"`
	Extraction  ExtractionConfig `toml:"extraction" yaml:"extraction"`
	Comparison  ComparisonConfig `toml:"comparison" yaml:"comparison"`
	Extractors  ExtractorsConfig `toml:"extractors" yaml:"extractors"`
	Resources   ResourcesConfig  `toml:"resources" yaml:"resources"`
	Webhook     WebhookConfig    `toml:"webhook" yaml:"webhook"`
	Retention   RetentionConfig  `toml:"retention" yaml:"retention"`
}

type ServerConfig struct {
	Port int    `toml:"port" yaml:"port"`
	Host string `toml:"host" yaml:"host"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval" yaml:"poll_interval"`           // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency" yaml:"concurrency"`               // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout" yaml:"visibility_timeout"` // Must be >= the job timeout so in-flight jobs are not redelivered
	MaxReceive        int    `toml:"max_receive" yaml:"max_receive"`               // Max times a message can be received before dead-letter
	QueueName         string `toml:"queue_name" yaml:"queue_name"`                 // Queue name prefix in Badger
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger" yaml:"badger"`
	Output OutputConfig `toml:"output" yaml:"output"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" yaml:"path"`                         // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup" yaml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// OutputConfig controls where per-job artifact directories are written.
type OutputConfig struct {
	Dir string `toml:"dir" yaml:"dir"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" yaml:"level"`   // "debug", "info", "warn", "error"
	Format string   `toml:"format" yaml:"format"` // "json" or "text"
	Output []string `toml:"output" yaml:"output"` // "stdout", "file"
}

// ExtractionConfig holds job scheduling defaults and timeouts.
type ExtractionConfig struct {
	DefaultStrategy     string `toml:"default_strategy" yaml:"default_strategy"`
	MaxParallel         int    `toml:"max_parallel" yaml:"max_parallel"`                   // Bounded fan-out for parallel strategies
	PerExtractorTimeout string `toml:"per_extractor_timeout" yaml:"per_extractor_timeout"` // e.g., "300s"
	JobTimeout          string `toml:"job_timeout" yaml:"job_timeout"`                     // e.g., "600s"
	MaxUploadBytes      int64  `toml:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// ComparisonConfig holds the comparator thresholds.
type ComparisonConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold" yaml:"similarity_threshold"` // Below this a cluster is a divergence
	AutoMergeThreshold  float64 `toml:"auto_merge_threshold" yaml:"auto_merge_threshold"` // At or above this a cluster is consensus
}

// ExtractorsConfig gates the built-in extractors.
type ExtractorsConfig struct {
	Docling DoclingConfig `toml:"docling" yaml:"docling"`
	MinerU  MinerUConfig  `toml:"mineru" yaml:"mineru"`
	Mistral MistralConfig `toml:"mistral" yaml:"mistral"`
}

type DoclingConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Binary  string `toml:"binary" yaml:"binary"` // CLI binary name or path
}

type MinerUConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Binary  string `toml:"binary" yaml:"binary"`
}

type MistralConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	APIKey   string `toml:"api_key" yaml:"api_key"`
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	Timeout  string `toml:"timeout" yaml:"timeout"`
}

// ResourcesConfig tunes the advisory admission gate.
type ResourcesConfig struct {
	MinFreeMemoryPct int `toml:"min_free_memory_pct" yaml:"min_free_memory_pct"` // Below this, parallel strategies downgrade
}

// WebhookConfig tunes terminal event delivery.
type WebhookConfig struct {
	Attempts       int     `toml:"attempts" yaml:"attempts"`
	InitialBackoff string  `toml:"initial_backoff" yaml:"initial_backoff"` // Doubles per attempt
	RequestTimeout string  `toml:"request_timeout" yaml:"request_timeout"`
	RatePerSecond  float64 `toml:"rate_per_second" yaml:"rate_per_second"` // Outbound delivery rate cap
}

// RetentionConfig controls the background sweeper.
type RetentionConfig struct {
	Schedule      string `toml:"schedule" yaml:"schedule"` // Cron schedule
	CompletedDays int    `toml:"completed_days" yaml:"completed_days"`
	FailedDays    int    `toml:"failed_days" yaml:"failed_days"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in quorum.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "11m", // Job timeout (10m) plus a grace period
			MaxReceive:        3,
			QueueName:         "quorum_jobs",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Output: OutputConfig{
				Dir: "./data/output",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Extraction: ExtractionConfig{
			DefaultStrategy:     "fallback",
			MaxParallel:         3,
			PerExtractorTimeout: "300s",
			JobTimeout:          "600s",
			MaxUploadBytes:      100 * 1024 * 1024, // 100MB
		},
		Comparison: ComparisonConfig{
			SimilarityThreshold: 0.90,
			AutoMergeThreshold:  0.95,
		},
		Extractors: ExtractorsConfig{
			Docling: DoclingConfig{Enabled: true, Binary: "docling"},
			MinerU:  MinerUConfig{Enabled: true, Binary: "mineru"},
			Mistral: MistralConfig{
				Enabled:  true,
				Endpoint: "https://api.mistral.ai/v1/ocr",
				Timeout:  "120s",
			},
		},
		Resources: ResourcesConfig{
			MinFreeMemoryPct: 25,
		},
		Webhook: WebhookConfig{
			Attempts:       3,
			InitialBackoff: "5s",
			RequestTimeout: "30s",
			RatePerSecond:  10,
		},
		Retention: RetentionConfig{
			Schedule:      "0 3 * * *", // Daily at 03:00
			CompletedDays: 7,
			FailedDays:    30,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files. TOML and YAML files are both accepted, decided by extension, so a
// deployment YAML overlay can sit on top of the base TOML.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("QUORUM_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("QUORUM_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("QUORUM_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("QUORUM_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("QUORUM_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("QUORUM_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("QUORUM_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}
	if queueName := os.Getenv("QUORUM_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	// Storage configuration
	if badgerPath := os.Getenv("QUORUM_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if outputDir := os.Getenv("QUORUM_OUTPUT_DIR"); outputDir != "" {
		config.Storage.Output.Dir = outputDir
	}

	// Logging configuration
	if level := os.Getenv("QUORUM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("QUORUM_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("QUORUM_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Extraction configuration
	if strategy := os.Getenv("QUORUM_DEFAULT_STRATEGY"); strategy != "" {
		config.Extraction.DefaultStrategy = strategy
	}
	if maxParallel := os.Getenv("QUORUM_MAX_PARALLEL"); maxParallel != "" {
		if mp, err := strconv.Atoi(maxParallel); err == nil {
			config.Extraction.MaxParallel = mp
		}
	}
	if timeout := os.Getenv("QUORUM_PER_EXTRACTOR_TIMEOUT"); timeout != "" {
		config.Extraction.PerExtractorTimeout = timeout
	}
	if timeout := os.Getenv("QUORUM_JOB_TIMEOUT"); timeout != "" {
		config.Extraction.JobTimeout = timeout
	}

	// Extractor gating
	if binary := os.Getenv("QUORUM_DOCLING_BINARY"); binary != "" {
		config.Extractors.Docling.Binary = binary
	}
	if binary := os.Getenv("QUORUM_MINERU_BINARY"); binary != "" {
		config.Extractors.MinerU.Binary = binary
	}
	if apiKey := os.Getenv("QUORUM_MISTRAL_API_KEY"); apiKey != "" {
		config.Extractors.Mistral.APIKey = apiKey
	} else if apiKey := os.Getenv("MISTRAL_API_KEY"); apiKey != "" {
		config.Extractors.Mistral.APIKey = apiKey
	}
	if endpoint := os.Getenv("QUORUM_MISTRAL_ENDPOINT"); endpoint != "" {
		config.Extractors.Mistral.Endpoint = endpoint
	}

	// Webhook configuration
	if attempts := os.Getenv("QUORUM_WEBHOOK_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Webhook.Attempts = a
		}
	}
	if backoff := os.Getenv("QUORUM_WEBHOOK_INITIAL_BACKOFF"); backoff != "" {
		config.Webhook.InitialBackoff = backoff
	}

	// Retention configuration
	if schedule := os.Getenv("QUORUM_RETENTION_SCHEDULE"); schedule != "" {
		config.Retention.Schedule = schedule
	}
	if days := os.Getenv("QUORUM_RETENTION_COMPLETED_DAYS"); days != "" {
		if d, err := strconv.Atoi(days); err == nil {
			config.Retention.CompletedDays = d
		}
	}
	if days := os.Getenv("QUORUM_RETENTION_FAILED_DAYS"); days != "" {
		if d, err := strconv.Atoi(days); err == nil {
			config.Retention.FailedDays = d
		}
	}
}

// validateConfig rejects configurations that would violate scheduling
// guarantees at startup rather than at runtime.
func validateConfig(config *Config) error {
	jobTimeout, err := time.ParseDuration(config.Extraction.JobTimeout)
	if err != nil {
		return fmt.Errorf("invalid job_timeout %q: %w", config.Extraction.JobTimeout, err)
	}
	visibility, err := time.ParseDuration(config.Queue.VisibilityTimeout)
	if err != nil {
		return fmt.Errorf("invalid visibility_timeout %q: %w", config.Queue.VisibilityTimeout, err)
	}
	if visibility < jobTimeout {
		return fmt.Errorf("queue visibility_timeout (%s) must be >= job_timeout (%s)", visibility, jobTimeout)
	}
	if config.Comparison.SimilarityThreshold > config.Comparison.AutoMergeThreshold {
		return fmt.Errorf("similarity_threshold (%.2f) must be <= auto_merge_threshold (%.2f)",
			config.Comparison.SimilarityThreshold, config.Comparison.AutoMergeThreshold)
	}
	if config.Extraction.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be >= 1, got %d", config.Extraction.MaxParallel)
	}
	return nil
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDurationOr parses a duration string, falling back to a default when
// the value is empty or malformed.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
