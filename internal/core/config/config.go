package config

import (
	"time"

	"github.com/vietddude/relay/internal/alerting"
	"github.com/vietddude/relay/internal/infra/redisq"
	"github.com/vietddude/relay/internal/infra/sink/postgres"
	"github.com/vietddude/relay/internal/infra/source/httpapi"
	"github.com/vietddude/relay/internal/resilience"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Source    httpapi.Config   `yaml:"source"`
	Database  postgres.Config  `yaml:"database"`
	Redis     redisq.Config    `yaml:"redis"`
	Alerting  AlertingConfig   `yaml:"alerting"`
	Pipelines []PipelineConfig `yaml:"pipelines"`

	DLQ         DLQConfig        `yaml:"dlq"`
	Checkpoints CheckpointConfig `yaml:"checkpoints"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DLQConfig holds dead letter queue settings.
type DLQConfig struct {
	Dir string `yaml:"dir"`
	// Retention bounds how long dead letter files are kept. Zero
	// keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// CheckpointConfig holds checkpoint storage settings.
type CheckpointConfig struct {
	Dir   string `yaml:"dir"`
	Every int64  `yaml:"every"` // rows between checkpoints
	Keep  int    `yaml:"keep"`  // checkpoints surviving cleanup
}

// AlertingConfig holds alert thresholds and delivery settings.
type AlertingConfig struct {
	Rules alerting.Config      `yaml:"rules"`
	Kafka alerting.KafkaConfig `yaml:"kafka"`
}

// PipelineConfig holds settings for one pipeline.
type PipelineConfig struct {
	Name    string `yaml:"name"`
	Dataset string `yaml:"dataset"`
	Filter  string `yaml:"filter"`
	Target  string `yaml:"target"`

	PageSize         int           `yaml:"page_size"`
	Workers          int           `yaml:"workers"`
	ChunksPerSecond  float64       `yaml:"chunks_per_second"`
	MemoryLimitMB    uint64        `yaml:"memory_limit_mb"`
	QualityThreshold float64       `yaml:"quality_threshold"`
	QualityPolicy    string        `yaml:"quality_policy"` // log, dlq
	Transformations  []string      `yaml:"transformations"`
	Schedule         time.Duration `yaml:"schedule"` // 0 = run once

	Retry   resilience.RetryConfig   `yaml:"retry"`
	Breaker resilience.BreakerConfig `yaml:"breaker"`
	Rules   []RuleConfig             `yaml:"rules"`
}

// RuleConfig declares one validation rule for a field.
type RuleConfig struct {
	Field    string   `yaml:"field"`
	Kind     string   `yaml:"kind"` // not_null, range, pattern
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Pattern  string   `yaml:"pattern"`
	Severity string   `yaml:"severity"` // error (default), warning
}
