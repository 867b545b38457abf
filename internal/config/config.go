// Package config loads the relay's configuration in three layers: compiled
// defaults, an optional YAML file, then environment variable overrides
// (SAILRELAY_ prefix), validated per-concern with one validation method
// composing the overall result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full set of relay-recognized configuration, matching the
// table in the external interfaces section plus the ambient knobs the
// ingest/broadcast/recorder subsystems need.
type Config struct {
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Server    ServerConfig    `yaml:"server"`
	Classify  ClassifyConfig  `yaml:"classify"`
	StartLine StartLineConfig `yaml:"start_line"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Queues    QueueConfig     `yaml:"queues"`
}

type UpstreamConfig struct {
	PositionEndpoint string `yaml:"position_endpoint"`
	GateEndpoint     string `yaml:"gate_endpoint"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ClassifyConfig struct {
	ThresholdDistanceM float64       `yaml:"threshold_distance_m"`
	ThresholdTimeS     float64       `yaml:"threshold_time_s"`
	ThresholdStaleS    float64       `yaml:"threshold_stale_s"`
	HysteresisMs       int           `yaml:"hysteresis_ms"`
	GateSignFlip       bool          `yaml:"gate_sign_flip"`
}

type StartLineConfig struct {
	AnchorLeftDeviceID     int     `yaml:"anchor_left_device_id"`
	AnchorRightDeviceID    int     `yaml:"anchor_right_device_id"`
	GeometryChangeM        float64 `yaml:"geometry_change_m"`
	FreshnessWindowS       float64 `yaml:"freshness_window_s"`
}

type SessionConfig struct {
	SessionDir     string `yaml:"session_dir"`
	AthletesConfig string `yaml:"athletes_config"`
}

type TelemetryConfig struct {
	HeartbeatIntervalS int     `yaml:"heartbeat_interval_s"`
	MetricsBackend     string  `yaml:"metrics_backend"`
	MetricsEnabled     bool    `yaml:"metrics_enabled"`
	HealthEnabled      bool    `yaml:"health_enabled"`
	TracingEnabled     bool    `yaml:"tracing_enabled"`
	TraceSamplePercent float64 `yaml:"trace_sample_percent"`
	LogLevel           string  `yaml:"log_level"`
	MetricsAddr        string  `yaml:"metrics_addr"`
}

type QueueConfig struct {
	UpstreamInbound int `yaml:"upstream_inbound"`
	Recorder        int `yaml:"recorder"`
	PerClient       int `yaml:"per_client"`
}

// Default returns the compiled-in configuration matching the table in the
// external interfaces section, plus the ambient defaults the rest of the
// repository needs.
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			PositionEndpoint: "tcp://localhost:5000",
			GateEndpoint:     "tcp://localhost:5001",
		},
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000},
		Classify: ClassifyConfig{
			ThresholdDistanceM: 50,
			ThresholdTimeS:     5,
			ThresholdStaleS:    3,
			HysteresisMs:       300,
			GateSignFlip:       false,
		},
		StartLine: StartLineConfig{
			AnchorLeftDeviceID:  101,
			AnchorRightDeviceID: 102,
			GeometryChangeM:     0.5,
			FreshnessWindowS:    2,
		},
		Session: SessionConfig{
			SessionDir:     "./data/session_packs",
			AthletesConfig: "./data/athletes.json",
		},
		Telemetry: TelemetryConfig{
			HeartbeatIntervalS: 5,
			MetricsBackend:     "prom",
			MetricsEnabled:     true,
			HealthEnabled:      true,
			TracingEnabled:     false,
			TraceSamplePercent: 20,
			LogLevel:           "info",
			MetricsAddr:        "",
		},
		Queues: QueueConfig{
			UpstreamInbound: 256,
			Recorder:        1024,
			PerClient:       64,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file at path (skipped
// if path is empty or missing), then SAILRELAY_ environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyYAMLFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config: load yaml %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv("SAILRELAY_" + key); ok {
			*dst = v
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := os.LookupEnv("SAILRELAY_" + key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	intv := func(key string, dst *int) {
		if v, ok := os.LookupEnv("SAILRELAY_" + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolv := func(key string, dst *bool) {
		if v, ok := os.LookupEnv("SAILRELAY_" + key); ok {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	str("POSITION_ENDPOINT", &cfg.Upstream.PositionEndpoint)
	str("GATE_ENDPOINT", &cfg.Upstream.GateEndpoint)
	str("HOST", &cfg.Server.Host)
	intv("PORT", &cfg.Server.Port)
	flt("THRESHOLD_DISTANCE_M", &cfg.Classify.ThresholdDistanceM)
	flt("THRESHOLD_TIME_S", &cfg.Classify.ThresholdTimeS)
	flt("THRESHOLD_STALE_S", &cfg.Classify.ThresholdStaleS)
	boolv("GATE_SIGN_FLIP", &cfg.Classify.GateSignFlip)
	intv("ANCHOR_LEFT_DEVICE_ID", &cfg.StartLine.AnchorLeftDeviceID)
	intv("ANCHOR_RIGHT_DEVICE_ID", &cfg.StartLine.AnchorRightDeviceID)
	str("SESSION_DIR", &cfg.Session.SessionDir)
	str("ATHLETES_CONFIG", &cfg.Session.AthletesConfig)
	intv("HEARTBEAT_INTERVAL_S", &cfg.Telemetry.HeartbeatIntervalS)
	str("METRICS_BACKEND", &cfg.Telemetry.MetricsBackend)
	boolv("METRICS_ENABLED", &cfg.Telemetry.MetricsEnabled)
	boolv("HEALTH_ENABLED", &cfg.Telemetry.HealthEnabled)
	boolv("TRACING_ENABLED", &cfg.Telemetry.TracingEnabled)
	flt("TRACE_SAMPLE_PERCENT", &cfg.Telemetry.TraceSamplePercent)
	str("LOG_LEVEL", &cfg.Telemetry.LogLevel)
	str("METRICS_ADDR", &cfg.Telemetry.MetricsAddr)
}

// Validate runs one validation method per concern and fails fast at
// startup on the first problem found.
func (c *Config) Validate() error {
	if err := c.validateUpstream(); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.validateClassify(); err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if err := c.validateStartLine(); err != nil {
		return fmt.Errorf("start_line: %w", err)
	}
	if err := c.validateSession(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.validateTelemetry(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.validateQueues(); err != nil {
		return fmt.Errorf("queues: %w", err)
	}
	return nil
}

func (c *Config) validateUpstream() error {
	if strings.TrimSpace(c.Upstream.PositionEndpoint) == "" {
		return fmt.Errorf("position_endpoint cannot be empty")
	}
	if strings.TrimSpace(c.Upstream.GateEndpoint) == "" {
		return fmt.Errorf("gate_endpoint cannot be empty")
	}
	return nil
}

func (c *Config) validateServer() error {
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateClassify() error {
	if c.Classify.ThresholdDistanceM <= 0 {
		return fmt.Errorf("threshold_distance_m must be positive: %v", c.Classify.ThresholdDistanceM)
	}
	if c.Classify.ThresholdTimeS <= 0 {
		return fmt.Errorf("threshold_time_s must be positive: %v", c.Classify.ThresholdTimeS)
	}
	if c.Classify.ThresholdStaleS <= 0 {
		return fmt.Errorf("threshold_stale_s must be positive: %v", c.Classify.ThresholdStaleS)
	}
	if c.Classify.HysteresisMs < 0 {
		return fmt.Errorf("hysteresis_ms cannot be negative: %d", c.Classify.HysteresisMs)
	}
	return nil
}

func (c *Config) validateStartLine() error {
	if c.StartLine.AnchorLeftDeviceID < 101 || c.StartLine.AnchorLeftDeviceID > 199 {
		return fmt.Errorf("anchor_left_device_id out of anchor range [101,199]: %d", c.StartLine.AnchorLeftDeviceID)
	}
	if c.StartLine.AnchorRightDeviceID < 101 || c.StartLine.AnchorRightDeviceID > 199 {
		return fmt.Errorf("anchor_right_device_id out of anchor range [101,199]: %d", c.StartLine.AnchorRightDeviceID)
	}
	if c.StartLine.AnchorLeftDeviceID == c.StartLine.AnchorRightDeviceID {
		return fmt.Errorf("anchor_left_device_id and anchor_right_device_id must differ")
	}
	if c.StartLine.GeometryChangeM < 0 {
		return fmt.Errorf("geometry_change_m cannot be negative: %v", c.StartLine.GeometryChangeM)
	}
	return nil
}

func (c *Config) validateSession() error {
	if strings.TrimSpace(c.Session.SessionDir) == "" {
		return fmt.Errorf("session_dir cannot be empty")
	}
	if strings.TrimSpace(c.Session.AthletesConfig) == "" {
		return fmt.Errorf("athletes_config cannot be empty")
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	if c.Telemetry.HeartbeatIntervalS <= 0 {
		return fmt.Errorf("heartbeat_interval_s must be positive: %d", c.Telemetry.HeartbeatIntervalS)
	}
	switch c.Telemetry.MetricsBackend {
	case "prom", "otel", "noop", "":
	default:
		return fmt.Errorf("invalid metrics_backend: %s", c.Telemetry.MetricsBackend)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Telemetry.LogLevel)] {
		return fmt.Errorf("invalid log_level: %s", c.Telemetry.LogLevel)
	}
	if c.Telemetry.TraceSamplePercent < 0 || c.Telemetry.TraceSamplePercent > 100 {
		return fmt.Errorf("trace_sample_percent out of range [0,100]: %v", c.Telemetry.TraceSamplePercent)
	}
	return nil
}

func (c *Config) validateQueues() error {
	if c.Queues.UpstreamInbound <= 0 {
		return fmt.Errorf("upstream_inbound must be positive: %d", c.Queues.UpstreamInbound)
	}
	if c.Queues.Recorder <= 0 {
		return fmt.Errorf("recorder must be positive: %d", c.Queues.Recorder)
	}
	if c.Queues.PerClient <= 0 {
		return fmt.Errorf("per_client must be positive: %d", c.Queues.PerClient)
	}
	return nil
}
