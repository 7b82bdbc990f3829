package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AUDIOCHECK_CONFIG", "AUDIOCHECK_API_URL", "VITE_APP_API_URL",
		"AUDIOCHECK_INCLUDE_CREDENTIALS", "AUDIOCHECK_REQUEST_TIMEOUT",
		"AUDIOCHECK_FIELD_REAL", "AUDIOCHECK_FIELD_FAKE", "AUDIOCHECK_FIELD_LABEL",
		"KAFKA_BROKERS", "TELEGRAM_CHAT_ID", "JWT_SECRET", "AUDIOCHECK_SHARE_SERVER_RESULTS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFallsBackToDefaultBaseURL(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != DefaultBaseURL {
		t.Fatalf("expected %s, got %s", DefaultBaseURL, cfg.API.BaseURL)
	}
	if got := cfg.UploadURL(); got != "http://localhost:5000/api/upload" {
		t.Fatalf("unexpected upload url: %s", got)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "audiocheck.yaml")
	content := []byte(`
api:
  base_url: https://file.example/api/
  include_credentials: true
  request_timeout: 15s
fields:
  real_probability: [data.real]
bands:
  very_high: 95
  high: 80
  moderate: 65
  low: 45
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUDIOCHECK_CONFIG", path)
	t.Setenv("AUDIOCHECK_FIELD_FAKE", "data.fake, data.synthetic")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UploadURL() != "https://file.example/api/upload" {
		t.Fatalf("unexpected upload url: %s", cfg.UploadURL())
	}
	if !cfg.API.IncludeCredentials || cfg.API.RequestTimeout != 15*time.Second {
		t.Fatalf("unexpected api config: %+v", cfg.API)
	}
	if len(cfg.Fields.RealProbability) != 1 || cfg.Fields.RealProbability[0] != "data.real" {
		t.Fatalf("unexpected real mapping: %v", cfg.Fields.RealProbability)
	}
	if len(cfg.Fields.FakeProbability) != 2 || cfg.Fields.FakeProbability[1] != "data.synthetic" {
		t.Fatalf("unexpected fake mapping: %v", cfg.Fields.FakeProbability)
	}
	if cfg.Bands.VeryHigh != 95 {
		t.Fatalf("unexpected bands: %+v", cfg.Bands)
	}
	if len(cfg.Events.KafkaBrokers) != 2 {
		t.Fatalf("unexpected brokers: %v", cfg.Events.KafkaBrokers)
	}

	t.Setenv("AUDIOCHECK_API_URL", "http://env.example")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "http://env.example" {
		t.Fatalf("expected env to win, got %s", cfg.API.BaseURL)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(c *Config){
		"scheme":      func(c *Config) { c.API.BaseURL = "ftp://example" },
		"bands order": func(c *Config) { c.Bands.High = 95 },
		"no mapping":  func(c *Config) { c.Fields.FakeProbability = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadFromExplicitFileIgnoresEnvPath(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "explicit.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUDIOCHECK_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected file log level, got %s", cfg.LogLevel)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing AUDIOCHECK_CONFIG file to fail")
	}
}

func TestServerRequiresJWTSecret(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.JWTSecret != "" {
		t.Fatalf("expected no default secret, got %q", cfg.Server.JWTSecret)
	}
	if err := cfg.ValidateServer(); err == nil {
		t.Fatal("expected serving without a secret to be rejected")
	}
	if cfg.Export.ShareServerResults {
		t.Fatal("expected server results to stay out of the share chat by default")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err = LoadFrom("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("unexpected error with secret set: %v", err)
	}
}
