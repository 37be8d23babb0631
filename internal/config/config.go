package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all user-facing configuration for quakesafe.
type Config struct {
	Data     DataConfig     `toml:"data"`
	Server   ServerConfig   `toml:"server"`
	API      APIConfig      `toml:"api"`
	Analysis AnalysisConfig `toml:"analysis"`
	Storage  StorageConfig  `toml:"storage"`
	Map      MapConfig      `toml:"map"`
	Log      LogConfig      `toml:"log"`
}

type DataConfig struct {
	Dir string `toml:"dir"`
}

type ServerConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MaxUploadMB int64  `toml:"max_upload_mb"`
}

// APIConfig configures the client side of the backend API.
type APIConfig struct {
	BaseURL   string   `toml:"base_url"`
	RateLimit float64  `toml:"rate_limit"`
	Timeout   Duration `toml:"timeout"`
}

type AnalysisConfig struct {
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

// StorageConfig points at an S3-compatible bucket. Credentials are read from
// the environment, never from the file.
type StorageConfig struct {
	Endpoint      string   `toml:"endpoint"`
	Bucket        string   `toml:"bucket"`
	Region        string   `toml:"region"`
	UseSSL        bool     `toml:"use_ssl"`
	PresignExpiry Duration `toml:"presign_expiry"`
}

type MapConfig struct {
	UserID       string   `toml:"user_id"`
	FetchTimeout Duration `toml:"fetch_timeout"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string ("15s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with built-in default values.
func Defaults() *Config {
	return &Config{
		Data:     DataConfig{Dir: "data"},
		Server:   ServerConfig{Host: "localhost", Port: 8000, MaxUploadMB: 10},
		API:      APIConfig{BaseURL: "http://localhost:8000", RateLimit: 5, Timeout: Duration{30 * time.Second}},
		Analysis: AnalysisConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 1024},
		Storage: StorageConfig{
			Endpoint:      "localhost:9000",
			Bucket:        "quakesafe-images",
			PresignExpiry: Duration{5 * time.Minute},
		},
		Map: MapConfig{FetchTimeout: Duration{15 * time.Second}},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads a TOML config file. If the file does not exist, built-in
// defaults are returned without error. QUAKESAFE_API_URL, when set,
// overrides api.base_url.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if url := os.Getenv("QUAKESAFE_API_URL"); url != "" {
		cfg.API.BaseURL = url
	}

	return cfg, nil
}

// LoadEnv loads variables from a .env file if one exists. Variables already
// present in the environment win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}
