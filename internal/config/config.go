// Package config resolves process-wide settings from the environment, an
// optional YAML file and hardcoded fallbacks. The result is read-only after Load.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is used when no deployment setting is present.
const DefaultBaseURL = "http://localhost:5000/api"

// Config is the complete runtime configuration.
type Config struct {
	LogLevel        string       `yaml:"log_level"`
	PreferencesPath string       `yaml:"preferences_path"`
	API             APIConfig    `yaml:"api"`
	Fields          FieldsConfig `yaml:"fields"`
	Bands           BandsConfig  `yaml:"bands"`
	Server          ServerConfig `yaml:"server"`
	Export          ExportConfig `yaml:"export"`
	Events          EventsConfig `yaml:"events"`
}

// APIConfig describes the remote classification service.
type APIConfig struct {
	BaseURL            string        `yaml:"base_url"`
	IncludeCredentials bool          `yaml:"include_credentials"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// FieldsConfig lists, per value, the JSON paths tried in order on a response.
type FieldsConfig struct {
	RealProbability []string `yaml:"real_probability"`
	FakeProbability []string `yaml:"fake_probability"`
	Label           []string `yaml:"label"`
}

// BandsConfig holds the exclusive lower bounds of the confidence bands.
type BandsConfig struct {
	VeryHigh float64 `yaml:"very_high"`
	High     float64 `yaml:"high"`
	Moderate float64 `yaml:"moderate"`
	Low      float64 `yaml:"low"`
}

// ServerConfig is only used by the HTTP front end.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	DatabaseDSN    string `yaml:"database_dsn"`
	RedisAddr      string `yaml:"redis_addr"`
	JWTSecret      string `yaml:"jwt_secret"`
	JWTAudience    string `yaml:"jwt_audience"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// ExportConfig controls where captured results go.
//
// Telegram shares into a single chat. The CLI always uses it when a token is
// set. The server only does so with ShareServerResults, because every user's
// result would then be posted into that one operator chat.
type ExportConfig struct {
	Dir                string `yaml:"dir"`
	TelegramToken      string `yaml:"telegram_token"`
	TelegramChatID     int64  `yaml:"telegram_chat_id"`
	ShareServerResults bool   `yaml:"share_server_results"`
}

// EventsConfig enables the verdict event stream when brokers are set.
type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LogLevel:        "info",
		PreferencesPath: defaultPreferencesPath(),
		API: APIConfig{
			BaseURL:        DefaultBaseURL,
			RequestTimeout: 60 * time.Second,
		},
		Fields: FieldsConfig{
			RealProbability: []string{"realProbability", "real_probability"},
			FakeProbability: []string{"fakeProbability", "fake_probability"},
			Label:           []string{"label", "resultLabel", "result_label"},
		},
		Bands: BandsConfig{VeryHigh: 90, High: 75, Moderate: 60, Low: 40},
		Server: ServerConfig{
			Addr:           ":8080",
			DatabaseDSN:    "host=postgres user=postgres password=postgres dbname=audiocheck port=5432 sslmode=disable",
			RedisAddr:      "redis:6379",
			MaxUploadBytes: 25 << 20,
		},
		Export: ExportConfig{Dir: "."},
		Events: EventsConfig{KafkaTopic: "audio-verdicts"},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// AUDIOCHECK_CONFIG, then individual environment variables.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("AUDIOCHECK_CONFIG"))
}

// LoadFrom is Load with an explicit YAML file; an empty path skips the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.API.BaseURL = getEnv("AUDIOCHECK_API_URL", getEnv("VITE_APP_API_URL", c.API.BaseURL))
	c.LogLevel = getEnv("AUDIOCHECK_LOG_LEVEL", c.LogLevel)
	c.PreferencesPath = getEnv("AUDIOCHECK_PREFERENCES", c.PreferencesPath)

	c.Server.Addr = getEnv("AUDIOCHECK_ADDR", c.Server.Addr)
	c.Server.DatabaseDSN = getEnv("DATABASE_DSN", c.Server.DatabaseDSN)
	c.Server.RedisAddr = getEnv("REDIS_ADDR", c.Server.RedisAddr)
	c.Server.JWTSecret = getEnv("JWT_SECRET", c.Server.JWTSecret)
	c.Server.JWTAudience = getEnv("JWT_AUDIENCE", c.Server.JWTAudience)

	c.Export.Dir = getEnv("AUDIOCHECK_EXPORT_DIR", c.Export.Dir)
	c.Export.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Export.TelegramToken)
	c.Events.KafkaTopic = getEnv("KAFKA_TOPIC", c.Events.KafkaTopic)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Events.KafkaBrokers = splitList(brokers)
	}

	if v := os.Getenv("AUDIOCHECK_INCLUDE_CREDENTIALS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUDIOCHECK_INCLUDE_CREDENTIALS: %w", err)
		}
		c.API.IncludeCredentials = b
	}
	if v := os.Getenv("AUDIOCHECK_SHARE_SERVER_RESULTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUDIOCHECK_SHARE_SERVER_RESULTS: %w", err)
		}
		c.Export.ShareServerResults = b
	}
	if v := os.Getenv("AUDIOCHECK_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AUDIOCHECK_REQUEST_TIMEOUT: %w", err)
		}
		c.API.RequestTimeout = d
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		c.Export.TelegramChatID = id
	}
	if v := os.Getenv("AUDIOCHECK_FIELD_REAL"); v != "" {
		c.Fields.RealProbability = splitList(v)
	}
	if v := os.Getenv("AUDIOCHECK_FIELD_FAKE"); v != "" {
		c.Fields.FakeProbability = splitList(v)
	}
	if v := os.Getenv("AUDIOCHECK_FIELD_LABEL"); v != "" {
		c.Fields.Label = splitList(v)
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid api base url %q: %w", c.API.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api base url %q: scheme must be http or https", c.API.BaseURL)
	}
	if c.API.RequestTimeout < 0 {
		return errors.New("request timeout must not be negative")
	}
	if len(c.Fields.RealProbability) == 0 || len(c.Fields.FakeProbability) == 0 {
		return errors.New("field mapping must name at least one key for each probability")
	}
	b := c.Bands
	if !(b.VeryHigh > b.High && b.High > b.Moderate && b.Moderate > b.Low) {
		return fmt.Errorf("confidence bands must be strictly descending, got %v/%v/%v/%v", b.VeryHigh, b.High, b.Moderate, b.Low)
	}
	return nil
}

// ValidateServer checks the settings only the HTTP front end needs. There
// is no fallback signing secret: tokens are only accepted once JWT_SECRET
// or server.jwt_secret is set.
func (c *Config) ValidateServer() error {
	if strings.TrimSpace(c.Server.JWTSecret) == "" {
		return errors.New("server.jwt_secret (JWT_SECRET) must be set to serve the API")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	return nil
}

// UploadURL is the submission endpoint derived from the base URL.
func (c *Config) UploadURL() string {
	return strings.TrimRight(c.API.BaseURL, "/") + "/upload"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultPreferencesPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".", ".audiocheck", "preferences.yaml")
	}
	return filepath.Join(dir, "audiocheck", "preferences.yaml")
}
