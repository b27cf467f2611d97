// Package config loads runtime configuration for the stream processor and
// backend binaries from defaults, an optional CONFIG_FILE YAML overlay, and
// environment variables, with the environment always taking precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BrokerConfig configures the RabbitMQ stream connection.
type BrokerConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Queue    string
}

// StreamProcessorConfig is the full configuration for the stream-processor
// binary.
type StreamProcessorConfig struct {
	Broker     BrokerConfig
	BackendURL string
}

// BackendConfig is the full configuration for the backend binary.
type BackendConfig struct {
	ListenAddr   string
	SQLitePath   string
	GeminiAPIKey string
}

// fileOverlay mirrors the optional CONFIG_FILE YAML document. Every field
// is a pointer so an absent key leaves the built-in default untouched.
type fileOverlay struct {
	Broker struct {
		Host     *string `yaml:"host"`
		Port     *int    `yaml:"port"`
		User     *string `yaml:"user"`
		Password *string `yaml:"password"`
		Queue    *string `yaml:"queue"`
	} `yaml:"broker"`
	BackendURL   *string `yaml:"backend_url"`
	ListenAddr   *string `yaml:"listen_addr"`
	SQLitePath   *string `yaml:"sqlite_path"`
	GeminiAPIKey *string `yaml:"gemini_api_key"`
}

// loadFileOverlay reads CONFIG_FILE if set, expanding ${VAR} references
// against the environment before parsing. A missing or unreadable file
// yields a zero-value overlay rather than an error, since the file is
// optional and env vars remain authoritative either way.
func loadFileOverlay() fileOverlay {
	var overlay fileOverlay
	path := trimmedEnv("CONFIG_FILE")
	if path == "" {
		return overlay
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return overlay
	}
	_ = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &overlay)
	return overlay
}

// LoadStreamProcessorConfig builds a StreamProcessorConfig from defaults,
// an optional CONFIG_FILE overlay, and the environment, in that precedence
// order (environment wins).
func LoadStreamProcessorConfig() StreamProcessorConfig {
	cfg := StreamProcessorConfig{
		Broker: BrokerConfig{
			Host:     "localhost",
			Port:     5672,
			User:     "guest",
			Password: "guest",
			Queue:    "otel-telemetry",
		},
		BackendURL: "http://localhost:8000",
	}

	overlay := loadFileOverlay()
	if overlay.Broker.Host != nil {
		cfg.Broker.Host = *overlay.Broker.Host
	}
	if overlay.Broker.Port != nil {
		cfg.Broker.Port = *overlay.Broker.Port
	}
	if overlay.Broker.User != nil {
		cfg.Broker.User = *overlay.Broker.User
	}
	if overlay.Broker.Password != nil {
		cfg.Broker.Password = *overlay.Broker.Password
	}
	if overlay.Broker.Queue != nil {
		cfg.Broker.Queue = *overlay.Broker.Queue
	}
	if overlay.BackendURL != nil {
		cfg.BackendURL = *overlay.BackendURL
	}

	if v := trimmedEnv("BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := trimmedEnv("BROKER_PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = parsed
		}
	}
	if v := trimmedEnv("BROKER_USER"); v != "" {
		cfg.Broker.User = v
	}
	if v := trimmedEnv("BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := trimmedEnv("BROKER_QUEUE"); v != "" {
		cfg.Broker.Queue = v
	}
	if v := trimmedEnv("BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}

	return cfg
}

// LoadBackendConfig builds a BackendConfig from defaults, an optional
// CONFIG_FILE overlay, and the environment, in that precedence order.
func LoadBackendConfig() BackendConfig {
	cfg := BackendConfig{
		ListenAddr: ":8000",
		SQLitePath: "telemetry.db",
	}

	overlay := loadFileOverlay()
	if overlay.ListenAddr != nil {
		cfg.ListenAddr = *overlay.ListenAddr
	}
	if overlay.SQLitePath != nil {
		cfg.SQLitePath = *overlay.SQLitePath
	}
	if overlay.GeminiAPIKey != nil {
		cfg.GeminiAPIKey = *overlay.GeminiAPIKey
	}

	if v := trimmedEnv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := trimmedEnv("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := trimmedEnv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}

	return cfg
}

// HTTPTimeout is the shared client timeout used across the backend's
// outbound calls that don't have a domain-specific deadline of their own.
const HTTPTimeout = 10 * time.Second

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
