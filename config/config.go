package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Servers ServersConfig `mapstructure:"servers"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds MCP transport configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds execution environment configuration
type SandboxConfig struct {
	Backend            string            `mapstructure:"backend"`
	EnableLocalBackend bool              `mapstructure:"enable_local_backend"`
	Image              string            `mapstructure:"image"`
	ContainerName      string            `mapstructure:"container_name"`
	Workdir            string            `mapstructure:"workdir"`
	CPUQuota           int               `mapstructure:"cpu_quota"`
	Memory             string            `mapstructure:"memory"`
	NetworkMode        string            `mapstructure:"network_mode"`
	AutoRemove         bool              `mapstructure:"auto_remove"`
	RemoveVolumes      bool              `mapstructure:"remove_volumes"`
	Volumes            map[string]string `mapstructure:"volumes"`
	Env                map[string]string `mapstructure:"env"`
	Dockerfile         string            `mapstructure:"dockerfile"`
	BuildContext       string            `mapstructure:"build_context"`
	Keepalive          []string          `mapstructure:"keepalive"`
}

// ServersConfig points at the tool-server configuration file
type ServersConfig struct {
	ConfigPath string `mapstructure:"config_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("sandbox.backend", "docker")
	viper.SetDefault("sandbox.enable_local_backend", false)
	viper.SetDefault("sandbox.image", "sandbox:latest")
	viper.SetDefault("sandbox.container_name", "mcp-sandbox-persistent")
	viper.SetDefault("sandbox.workdir", "/workspace")
	viper.SetDefault("sandbox.cpu_quota", 50000)
	viper.SetDefault("sandbox.memory", "512m")
	viper.SetDefault("sandbox.network_mode", "bridge")
	viper.SetDefault("sandbox.auto_remove", false)
	viper.SetDefault("sandbox.remove_volumes", true)
	viper.SetDefault("sandbox.dockerfile", "docker/sandbox.Dockerfile")
	viper.SetDefault("sandbox.build_context", ".")
	viper.SetDefault("sandbox.keepalive", []string{"sleep", "infinity"})
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// Validate ensures the configuration is valid. It is exported because the
// entry point re-validates after applying CLI flag overrides.
func (c *Config) Validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	supportedBackends := map[string]bool{
		"docker":  true,
		"podman":  true,
		"process": c.Sandbox.EnableLocalBackend, // host process only enabled if specifically allowed
	}
	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}

	if c.Sandbox.ContainerName == "" {
		return fmt.Errorf("sandbox.container_name must not be empty")
	}

	if c.Sandbox.CPUQuota <= 0 {
		return fmt.Errorf("sandbox.cpu_quota must be positive, got: %d", c.Sandbox.CPUQuota)
	}

	if c.Sandbox.Memory == "" {
		return fmt.Errorf("sandbox.memory must not be empty")
	}

	return nil
}
