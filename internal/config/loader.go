package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, standard locations are searched for
// mcpgate.yaml/.yml. The search requires an explicit YAML extension so the
// binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found; ReadInConfig will return
		// ConfigFileNotFoundError, handled gracefully by callers.
		viper.SetConfigName("mcpgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: MCPGATE_SERVER_PORT, MCPGATE_CHILD_COMMAND
	viper.SetEnvPrefix("MCPGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for mcpgate.yaml or .yml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".mcpgate"),
		"/etc/mcpgate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mcpgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: MCPGATE_SERVER_PORT overrides server.port.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.port")
	_ = viper.BindEnv("server.endpoint")
	_ = viper.BindEnv("server.session_header")
	_ = viper.BindEnv("server.cors_origin")
	_ = viper.BindEnv("server.log_level")
	// server.health_paths and server.static_headers are composite values;
	// use the config file for those.

	_ = viper.BindEnv("child.command")
	// child.args is an array, handled by Viper's env parsing.

	_ = viper.BindEnv("gateway.response_mode")
	_ = viper.BindEnv("gateway.batch_timeout")

	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.channel_size")

	_ = viper.BindEnv("telemetry.traces")
}

// LoadConfig reads the configuration file, applies environment overrides
// and defaults, and validates the result.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults but does
// not validate. Use when CLI args may override fields before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the loaded configuration file, or an
// empty string when running on env vars only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
