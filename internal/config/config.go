// Package config provides the gateway configuration schema, loading and
// validation. Configuration comes from a YAML file, environment variables
// with the MCPGATE_ prefix, and CLI flags, in ascending precedence.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Server configures the HTTP listener and endpoint surface.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Child configures the MCP server subprocess the gateway bridges to.
	Child ChildConfig `yaml:"child" mapstructure:"child"`

	// Gateway configures message routing behavior.
	Gateway GatewayConfig `yaml:"gateway" mapstructure:"gateway"`

	// Audit configures where message audit records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Telemetry configures optional tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Port is the TCP port to listen on. Defaults to 3000.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// Endpoint is the MCP endpoint path (e.g. "/mcp").
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,startswith=/"`

	// SessionHeader is the header carrying the session id.
	// Defaults to "Mcp-Session-Id".
	SessionHeader string `yaml:"session_header" mapstructure:"session_header"`

	// CORSOrigin is the Access-Control-Allow-Origin value. Defaults to "*".
	CORSOrigin string `yaml:"cors_origin" mapstructure:"cors_origin"`

	// HealthPaths are paths answering health probes with 200 "ok".
	// Empty disables the health surface.
	HealthPaths []string `yaml:"health_paths" mapstructure:"health_paths" validate:"omitempty,dive,startswith=/"`

	// StaticHeaders are fixed headers set on every response.
	StaticHeaders map[string]string `yaml:"static_headers" mapstructure:"static_headers"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error". Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// ChildConfig configures the subprocess speaking MCP over stdio.
type ChildConfig struct {
	// Command is the executable to spawn.
	Command string `yaml:"command" mapstructure:"command" validate:"required"`

	// Args are the arguments passed to the command.
	Args []string `yaml:"args" mapstructure:"args"`
}

// GatewayConfig configures message routing.
type GatewayConfig struct {
	// ResponseMode selects how replies travel back to clients.
	// "batch" answers each POST with one JSON body; "stream" delivers
	// replies as SSE events on the session's open streams.
	ResponseMode string `yaml:"response_mode" mapstructure:"response_mode" validate:"omitempty,oneof=batch stream"`

	// BatchTimeout is how long a request waits for the child's reply
	// (e.g. "30s"). Defaults to "30s".
	BatchTimeout string `yaml:"batch_timeout" mapstructure:"batch_timeout" validate:"omitempty"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Output specifies where audit records are written.
	// Valid values: "" (disabled), "stdout", "file://<absolute-path>"
	// or "sqlite://<path>".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,audit_output"`

	// ChannelSize is the audit channel buffer size. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Traces enables span export for HTTP requests.
	Traces bool `yaml:"traces" mapstructure:"traces"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.Endpoint == "" {
		c.Server.Endpoint = "/mcp"
	}
	if c.Server.SessionHeader == "" {
		c.Server.SessionHeader = "Mcp-Session-Id"
	}
	if c.Server.CORSOrigin == "" {
		c.Server.CORSOrigin = "*"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Gateway.ResponseMode == "" {
		c.Gateway.ResponseMode = "batch"
	}
	if c.Gateway.BatchTimeout == "" {
		c.Gateway.BatchTimeout = "30s"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
}

// BatchTimeoutDuration parses the configured batch timeout.
func (c *Config) BatchTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Gateway.BatchTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid gateway.batch_timeout: %w", err)
	}
	return d, nil
}

// ListenAddr returns the server listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Sample renders a commented example configuration as YAML.
func Sample() ([]byte, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:          3000,
			Endpoint:      "/mcp",
			SessionHeader: "Mcp-Session-Id",
			CORSOrigin:    "*",
			HealthPaths:   []string{"/health", "/healthz"},
			LogLevel:      "info",
		},
		Child: ChildConfig{
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-everything"},
		},
		Gateway: GatewayConfig{
			ResponseMode: "batch",
			BatchTimeout: "30s",
		},
		Audit: AuditConfig{
			Output:      "stdout",
			ChannelSize: 1000,
		},
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("render sample config: %w", err)
	}
	return out, nil
}
