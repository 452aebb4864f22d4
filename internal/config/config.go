// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides hierarchical configuration loading for the agent
// server. Precedence: defaults < YAML file < environment variables.
package config

import (
	"net"
	"strconv"
	"time"
)

// Agent kinds selectable in [Agent.Kind].
const (
	AgentEcho   = "echo"
	AgentSQL    = "sql"
	AgentSearch = "search"
)

// Config holds all runtime configuration of the agent server.
type Config struct {
	Server  Server  `yaml:"server"`
	Queue   Queue   `yaml:"queue"`
	Store   Store   `yaml:"store"`
	Push    Push    `yaml:"push"`
	Agent   Agent   `yaml:"agent"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBytes   int64         `yaml:"max_request_bytes"`
}

// Addr returns the listen address of the server.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the base URL advertised in the agent card.
func (s Server) URL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + "/"
}

// Queue holds event queue configuration.
type Queue struct {
	HighWaterMark int `yaml:"high_water_mark"` // Events buffered per subscriber (default: 256)
}

// Store holds task store configuration.
type Store struct {
	MaxTerminalTasks int `yaml:"max_terminal_tasks"` // 0 keeps every task
}

// Push holds push notification configuration.
type Push struct {
	Enabled         bool          `yaml:"enabled"`
	Timeout         time.Duration `yaml:"timeout"`
	VerifyCacheSize int           `yaml:"verify_cache_size"`
	VerifyCacheTTL  time.Duration `yaml:"verify_cache_ttl"`
}

// Agent selects and configures the agent behind the server.
type Agent struct {
	Kind        string `yaml:"kind"`     // "echo" | "sql" | "search"
	DSN         string `yaml:"dsn"`      // SQLite database of the sql agent
	MaxRows     int    `yaml:"max_rows"` // Rows rendered by the sql agent
	Corpus      string `yaml:"corpus"`   // YAML corpus of the search agent
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// Log holds structured logging configuration.
type Log struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format"` // "json" | "text"
}

// Metrics holds metrics exposition configuration.
type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: Server{
			Host:              "localhost",
			Port:              10000,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			MaxRequestBytes:   1 << 20,
		},
		Queue: Queue{
			HighWaterMark: 256,
		},
		Push: Push{
			Enabled:         true,
			Timeout:         10 * time.Second,
			VerifyCacheSize: 1024,
			VerifyCacheTTL:  10 * time.Minute,
		},
		Agent: Agent{
			Kind:    AgentEcho,
			MaxRows: 10,
			Name:    "A2A Agent",
			Version: "1.0.0",
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}
