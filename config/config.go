// Package config loads Amelia's bootstrap configuration. Per spec, only the
// bind address, port, and database URL are environment-driven; every other
// knob lives in the server_settings row and is read through the store once
// the process is up.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bootstrap holds the handful of settings needed before the State Store is
// reachable.
type Bootstrap struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
}

const (
	defaultHost = "127.0.0.1"
	defaultPort = 8420
)

// FromEnv builds a Bootstrap from AMELIA_HOST / AMELIA_PORT / AMELIA_DATABASE_URL,
// falling back to the documented defaults.
func FromEnv() Bootstrap {
	b := Bootstrap{Host: defaultHost, Port: defaultPort}
	if h := os.Getenv("AMELIA_HOST"); h != "" {
		b.Host = h
	}
	if p := os.Getenv("AMELIA_PORT"); p != "" {
		fmt.Sscanf(p, "%d", &b.Port)
	}
	b.DatabaseURL = os.Getenv("AMELIA_DATABASE_URL")
	return b
}

// ServerSettings is the mutable, store-resident configuration surfaced by
// `amelia config server {show|set|reset}` and the /api/settings endpoint.
type ServerSettings struct {
	MaxConcurrent            int     `yaml:"max_concurrent"`
	WorkflowStartTimeoutSec  int     `yaml:"workflow_start_timeout_seconds"`
	RequestTimeoutSec        int     `yaml:"request_timeout_seconds"`
	WebsocketIdleTimeoutSec  int     `yaml:"websocket_idle_timeout_seconds"`
	MaxReviewIterations      int     `yaml:"max_review_iterations"`
	RetryMaxAttempts         int     `yaml:"retry_max_attempts"`
	RetryBaseDelayMs         int     `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs          int     `yaml:"retry_max_delay_ms"`
	RetryBackoffCoefficient  float64 `yaml:"retry_backoff_coefficient"`
}

// DefaultServerSettings mirrors the Open Question decision recorded in
// SPEC_FULL.md §9: 3 attempts, 500ms base, 2x coefficient, 8s cap.
func DefaultServerSettings() ServerSettings {
	return ServerSettings{
		MaxConcurrent:           4,
		WorkflowStartTimeoutSec: 30,
		RequestTimeoutSec:       60,
		WebsocketIdleTimeoutSec: 300,
		MaxReviewIterations:     3,
		RetryMaxAttempts:        3,
		RetryBaseDelayMs:        500,
		RetryMaxDelayMs:         8000,
		RetryBackoffCoefficient: 2.0,
	}
}

// LoadYAML reads a ServerSettings override file, layering it over
// DefaultServerSettings.
func LoadYAML(path string) (ServerSettings, error) {
	s := DefaultServerSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}
