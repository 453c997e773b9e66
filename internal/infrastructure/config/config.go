package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Workspace WorkspaceConfig
	Kernel    KernelConfig
	Packages  PackagesConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Format    FormatConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string `envconfig:"PORT" default:"2718"`
	Host           string `envconfig:"HOST" default:"0.0.0.0"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""`
}

// WorkspaceConfig holds workspace root and discovery configuration.
type WorkspaceConfig struct {
	Root     string   `envconfig:"WORKSPACE_ROOT" default:"."`
	StateDir string   `envconfig:"STATE_DIR" default:".notebookd"`
	Ignore   []string `envconfig:"WORKSPACE_IGNORE" default:"**/.git/**,**/node_modules/**,**/__pycache__/**,**/.venv/**"`
	Watch    bool     `envconfig:"WORKSPACE_WATCH" default:"true"`
}

// KernelConfig holds kernel runtime configuration.
type KernelConfig struct {
	// Command is run under a pty per session; empty selects the null runtime.
	Command            string        `envconfig:"KERNEL_COMMAND" default:""`
	BreakerMaxFailures uint32        `envconfig:"KERNEL_BREAKER_MAX_FAILURES" default:"5"`
	BreakerTimeout     time.Duration `envconfig:"KERNEL_BREAKER_TIMEOUT" default:"30s"`
	BreakerMaxRequests uint32        `envconfig:"KERNEL_BREAKER_MAX_REQUESTS" default:"1"`
}

// PackagesConfig holds package installer configuration.
type PackagesConfig struct {
	IndexURL string        `envconfig:"PACKAGE_INDEX_URL" default:"https://pypi.org/pypi"`
	Manager  string        `envconfig:"PACKAGE_MANAGER" default:"pip"`
	Timeout  time.Duration `envconfig:"PACKAGE_INDEX_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// FormatConfig holds formatter defaults.
type FormatConfig struct {
	LineLength int `envconfig:"FORMAT_LINE_LENGTH" default:"79"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "2718",
			Host: "0.0.0.0",
		},
		Workspace: WorkspaceConfig{
			Root:     ".",
			StateDir: ".notebookd",
			Ignore:   []string{"**/.git/**", "**/node_modules/**", "**/__pycache__/**", "**/.venv/**"},
			Watch:    true,
		},
		Kernel: KernelConfig{
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
			BreakerMaxRequests: 1,
		},
		Packages: PackagesConfig{
			IndexURL: "https://pypi.org/pypi",
			Manager:  "pip",
			Timeout:  10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Format: FormatConfig{
			LineLength: 79,
		},
	}
}
