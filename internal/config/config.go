// Package config loads the ingestion core's configuration surface from
// YAML, following the teacher's config-loading shape: a typed struct
// tree and a Load(path) function returning (*T, error). Defaults are
// filled in first and the file is unmarshalled over them.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration surface enumerated in the
// specification's external-interfaces section.
type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Session   SessionConfig   `yaml:"session"`
	Edge      EdgeConfig      `yaml:"edge"`
	ClockCfg  ClockConfig     `yaml:"clock"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Symbols   []string        `yaml:"symbols"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	SymbolTablePath string    `yaml:"symbol_table_path"`

	// SymbolTableRedisAddr, when set, publishes the resolved SymbolId
	// registry to Redis via internal/symboltable.Publisher so other
	// ingestion processes on the host agree on ordinal assignment.
	SymbolTableRedisAddr string `yaml:"symbol_table_redis_addr"`
	SymbolTableRedisKey  string `yaml:"symbol_table_redis_key"`
}

// ExchangeConfig names the upstream endpoints.
type ExchangeConfig struct {
	WSURL       string  `yaml:"ws_url"`
	RESTBaseURL string  `yaml:"rest_base_url"`
	RESTRequestsPerSecond float64 `yaml:"rest_requests_per_second"`
	RESTBurst             int     `yaml:"rest_burst"`
}

// SessionConfig tunes the Session Manager's reconnect/heartbeat behavior.
type SessionConfig struct {
	PingIntervalMS int `yaml:"ping_interval_ms"`
	PongTimeoutMS  int `yaml:"pong_timeout_ms"`
	BackoffBaseMS  int `yaml:"backoff_base_ms"`
	BackoffCapMS   int `yaml:"backoff_cap_ms"`
}

// EdgeConfig configures the two-tier edge forwarder, used only by the
// edge receiver / consumer binaries.
type EdgeConfig struct {
	DestinationHostPort string `yaml:"destination_host_port"`
	SourceBind          string `yaml:"source_bind"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int    `yaml:"heartbeat_timeout_ms"`
	ReorderCapacity     int    `yaml:"reorder_capacity"`
	ReorderTimeoutMS    int    `yaml:"reorder_timeout_ms"`
}

// ClockConfig tunes the Clock Health Monitor.
type ClockConfig struct {
	StepThresholdUS int `yaml:"step_threshold_us"`
	StepCooldownMS  int `yaml:"step_cooldown_ms"`
	SyncThresholdUS int `yaml:"sync_threshold_us"`
}

// SamplingConfig controls the Latency Harness's sample rate.
type SamplingConfig struct {
	Rate       int    `yaml:"sample_rate"` // 1, 10, or 100
	SampleCap  int    `yaml:"sample_cap"`
	CSVDir     string `yaml:"csv_dir"`
}

// MetricsConfig toggles the Prometheus telemetry surface.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig configures the structured logger bootstrap.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// Defaults returns the configuration surface's documented defaults.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RESTRequestsPerSecond: 5,
			RESTBurst:             1,
		},
		Session: SessionConfig{
			PingIntervalMS: 30_000,
			PongTimeoutMS:  10_000,
			BackoffBaseMS:  1_000,
			BackoffCapMS:   60_000,
		},
		Edge: EdgeConfig{
			HeartbeatIntervalMS: 100,
			HeartbeatTimeoutMS:  500,
			ReorderCapacity:     16,
			ReorderTimeoutMS:    5,
		},
		ClockCfg: ClockConfig{
			StepThresholdUS: 1_000,
			StepCooldownMS:  5_000,
			SyncThresholdUS: 1_000,
		},
		Sampling: SamplingConfig{
			Rate:      1,
			SampleCap: 1_000_000,
			CSVDir:    ".",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		SymbolTableRedisKey: "tickcore:symbols",
	}
}

// Load reads and parses a YAML configuration file over the documented
// defaults: a field the file does not mention keeps its default, while a
// field the file sets explicitly (even to zero) takes the file's value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate performs startup-time checks; failures here are Fatal per the
// error-handling design — the affected subsystem refuses to start rather
// than run with nonsensical tuning.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}
	if c.Sampling.Rate != 1 && c.Sampling.Rate != 10 && c.Sampling.Rate != 100 {
		return fmt.Errorf("sample_rate must be 1, 10, or 100, got %d", c.Sampling.Rate)
	}
	if c.Exchange.WSURL == "" {
		return fmt.Errorf("exchange.ws_url must be set")
	}
	return nil
}

func (c SessionConfig) PingInterval() time.Duration { return time.Duration(c.PingIntervalMS) * time.Millisecond }
func (c SessionConfig) PongTimeout() time.Duration  { return time.Duration(c.PongTimeoutMS) * time.Millisecond }
func (c SessionConfig) BackoffBase() time.Duration  { return time.Duration(c.BackoffBaseMS) * time.Millisecond }
func (c SessionConfig) BackoffCap() time.Duration   { return time.Duration(c.BackoffCapMS) * time.Millisecond }

func (c EdgeConfig) HeartbeatInterval() time.Duration { return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond }
func (c EdgeConfig) HeartbeatTimeout() time.Duration  { return time.Duration(c.HeartbeatTimeoutMS) * time.Millisecond }
func (c EdgeConfig) ReorderTimeout() time.Duration    { return time.Duration(c.ReorderTimeoutMS) * time.Millisecond }

func (c ClockConfig) StepThreshold() time.Duration { return time.Duration(c.StepThresholdUS) * time.Microsecond }
func (c ClockConfig) StepCooldown() time.Duration  { return time.Duration(c.StepCooldownMS) * time.Millisecond }
func (c ClockConfig) SyncThreshold() time.Duration { return time.Duration(c.SyncThresholdUS) * time.Microsecond }
