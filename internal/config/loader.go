// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "a2a-agent.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Host, "A2A_HOST")
	setInt(&cfg.Server.Port, "A2A_PORT")
	setDuration(&cfg.Server.ReadHeaderTimeout, "A2A_READ_HEADER_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "A2A_SHUTDOWN_TIMEOUT")
	setInt64(&cfg.Server.MaxRequestBytes, "A2A_MAX_REQUEST_BYTES")
	setInt(&cfg.Queue.HighWaterMark, "A2A_QUEUE_HIGH_WATER_MARK")
	setInt(&cfg.Store.MaxTerminalTasks, "A2A_STORE_MAX_TERMINAL_TASKS")
	setBool(&cfg.Push.Enabled, "A2A_PUSH_ENABLED")
	setDuration(&cfg.Push.Timeout, "A2A_PUSH_TIMEOUT")
	setInt(&cfg.Push.VerifyCacheSize, "A2A_PUSH_VERIFY_CACHE_SIZE")
	setDuration(&cfg.Push.VerifyCacheTTL, "A2A_PUSH_VERIFY_CACHE_TTL")
	setString(&cfg.Agent.Kind, "A2A_AGENT_KIND")
	setString(&cfg.Agent.DSN, "A2A_AGENT_DSN")
	setInt(&cfg.Agent.MaxRows, "A2A_AGENT_MAX_ROWS")
	setString(&cfg.Agent.Corpus, "A2A_AGENT_CORPUS")
	setString(&cfg.Agent.Name, "A2A_AGENT_NAME")
	setString(&cfg.Log.Level, "A2A_LOG_LEVEL")
	setString(&cfg.Log.Format, "A2A_LOG_FORMAT")
	setBool(&cfg.Metrics.Enabled, "A2A_METRICS_ENABLED")
}

// Validate reports the first invalid setting of cfg.
func (cfg *Config) Validate() error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be > 0")
	}
	if cfg.Queue.HighWaterMark < 1 {
		return errors.New("queue.high_water_mark must be >= 1")
	}
	if cfg.Store.MaxTerminalTasks < 0 {
		return errors.New("store.max_terminal_tasks must be >= 0")
	}
	if cfg.Push.Enabled && cfg.Push.Timeout <= 0 {
		return errors.New("push.timeout must be > 0")
	}

	switch strings.ToLower(cfg.Agent.Kind) {
	case AgentEcho:
	case AgentSQL:
		if cfg.Agent.DSN == "" {
			return errors.New("agent.dsn is required for the sql agent")
		}
	case AgentSearch:
		if cfg.Agent.Corpus == "" {
			return errors.New("agent.corpus is required for the search agent")
		}
	default:
		return fmt.Errorf("agent.kind %q is not one of echo, sql, search", cfg.Agent.Kind)
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", cfg.Log.Format)
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
