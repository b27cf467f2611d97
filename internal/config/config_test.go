package config

import (
	"os"
	"testing"
)

func TestLoadStreamProcessorConfigAppliesDefaults(t *testing.T) {
	clearEnv(t, "BROKER_HOST", "BROKER_PORT", "BROKER_USER", "BROKER_PASSWORD", "BROKER_QUEUE", "BACKEND_URL", "CONFIG_FILE")

	cfg := LoadStreamProcessorConfig()
	if cfg.Broker.Host != "localhost" || cfg.Broker.Port != 5672 {
		t.Errorf("unexpected broker defaults: %+v", cfg.Broker)
	}
	if cfg.Broker.Queue != "otel-telemetry" {
		t.Errorf("queue = %q, want otel-telemetry", cfg.Broker.Queue)
	}
	if cfg.BackendURL != "http://localhost:8000" {
		t.Errorf("backend url = %q", cfg.BackendURL)
	}
}

func TestLoadStreamProcessorConfigRespectsEnvOverrides(t *testing.T) {
	clearEnv(t, "BROKER_HOST", "BROKER_PORT", "BROKER_QUEUE")
	t.Setenv("BROKER_HOST", "broker.internal")
	t.Setenv("BROKER_PORT", "5673")
	t.Setenv("BROKER_QUEUE", "custom-queue")

	cfg := LoadStreamProcessorConfig()
	if cfg.Broker.Host != "broker.internal" || cfg.Broker.Port != 5673 {
		t.Errorf("unexpected overridden broker config: %+v", cfg.Broker)
	}
	if cfg.Broker.Queue != "custom-queue" {
		t.Errorf("queue = %q, want custom-queue", cfg.Broker.Queue)
	}
}

func TestLoadStreamProcessorConfigIgnoresUnparsablePort(t *testing.T) {
	clearEnv(t, "BROKER_PORT")
	t.Setenv("BROKER_PORT", "not-a-number")

	cfg := LoadStreamProcessorConfig()
	if cfg.Broker.Port != 5672 {
		t.Errorf("port = %d, want default 5672 on parse failure", cfg.Broker.Port)
	}
}

func TestLoadBackendConfigAppliesDefaults(t *testing.T) {
	clearEnv(t, "LISTEN_ADDR", "SQLITE_PATH", "GEMINI_API_KEY", "CONFIG_FILE")

	cfg := LoadBackendConfig()
	if cfg.ListenAddr != ":8000" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.SQLitePath != "telemetry.db" {
		t.Errorf("sqlite path = %q", cfg.SQLitePath)
	}
	if cfg.GeminiAPIKey != "" {
		t.Errorf("expected empty api key by default, got %q", cfg.GeminiAPIKey)
	}
}

func TestLoadBackendConfigRespectsEnvOverrides(t *testing.T) {
	clearEnv(t, "LISTEN_ADDR", "GEMINI_API_KEY")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("GEMINI_API_KEY", "secret-key")

	cfg := LoadBackendConfig()
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.GeminiAPIKey != "secret-key" {
		t.Errorf("api key = %q, want secret-key", cfg.GeminiAPIKey)
	}
}

func TestLoadBackendConfigFileOverlayYieldsToEnv(t *testing.T) {
	clearEnv(t, "LISTEN_ADDR", "SQLITE_PATH", "GEMINI_API_KEY", "CONFIG_FILE")

	dir := t.TempDir()
	path := dir + "/backend.yaml"
	if err := os.WriteFile(path, []byte("listen_addr: \":7070\"\nsqlite_path: /var/lib/overlay.db\n"), 0o644); err != nil {
		t.Fatalf("write overlay file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SQLITE_PATH", "/var/lib/env-wins.db")

	cfg := LoadBackendConfig()
	if cfg.ListenAddr != ":7070" {
		t.Errorf("listen addr = %q, want overlay value :7070", cfg.ListenAddr)
	}
	if cfg.SQLitePath != "/var/lib/env-wins.db" {
		t.Errorf("sqlite path = %q, want env override to win over overlay", cfg.SQLitePath)
	}
}

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, ok := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		if ok {
			t.Cleanup(func() { _ = os.Setenv(k, old) })
		}
	}
}
