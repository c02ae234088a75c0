// Package config loads .mailreport/config.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/daviddao/mailreport/internal/budget"
)

// FileName is the config file kept next to the database.
const FileName = "config.toml"

type TasksConfig struct {
	MaxConcurrent        int `toml:"max_concurrent"`
	RecordTTLSeconds     int `toml:"record_ttl_seconds"`
	StaleAfterSeconds    int `toml:"stale_after_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

type ExternalConfig struct {
	LLMTimeoutSeconds   int `toml:"llm_timeout_seconds"`
	FetchTimeoutSeconds int `toml:"fetch_timeout_seconds"`
	RequestsPerMinute   int `toml:"requests_per_minute"`
	BatchSize           int `toml:"batch_size"`
	MaxResults          int `toml:"max_results"`
}

type Config struct {
	Model                   string         `toml:"model"`
	OutputReservationTokens int            `toml:"output_reservation_tokens"`
	SummaryModel            string         `toml:"summary_model"`
	EmbeddingModel          string         `toml:"embedding_model"`
	APIKeyEnv               string         `toml:"api_key_env"`
	BaseURL                 string         `toml:"base_url"`
	Budget                  budget.Config  `toml:"budget"`
	Tasks                   TasksConfig    `toml:"tasks"`
	External                ExternalConfig `toml:"external"`
}

func Default() Config {
	return Config{
		Model:                   "gpt-4o",
		OutputReservationTokens: 4000,
		SummaryModel:            "gpt-4o-mini",
		EmbeddingModel:          "text-embedding-3-small",
		APIKeyEnv:               "OPENAI_API_KEY",
		Budget:                  budget.DefaultConfig(),
		Tasks: TasksConfig{
			MaxConcurrent:        4,
			RecordTTLSeconds:     86400,
			StaleAfterSeconds:    600,
			SweepIntervalSeconds: 60,
		},
		External: ExternalConfig{
			LLMTimeoutSeconds:   60,
			FetchTimeoutSeconds: 120,
			RequestsPerMinute:   120,
			BatchSize:           25,
			MaxResults:          500,
		},
	}
}

// LoadOrCreate reads path, writing the defaults there first if it does
// not exist. Keys missing from the file keep their default values.
func LoadOrCreate(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.APIKeyEnv = strings.TrimSpace(cfg.APIKeyEnv)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.OutputReservationTokens < 0 {
		return errors.New("output_reservation_tokens must not be negative")
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if c.Tasks.MaxConcurrent <= 0 {
		return errors.New("tasks.max_concurrent must be positive")
	}
	if c.External.BatchSize <= 0 {
		return errors.New("external.batch_size must be positive")
	}
	if c.External.RequestsPerMinute < 0 || c.External.LLMTimeoutSeconds < 0 || c.External.FetchTimeoutSeconds < 0 {
		return errors.New("external limits must not be negative")
	}
	return nil
}

// APIKey reads the key from the environment variable named in the config.
func (c Config) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

func (t TasksConfig) RecordTTL() time.Duration     { return seconds(t.RecordTTLSeconds) }
func (t TasksConfig) StaleAfter() time.Duration    { return seconds(t.StaleAfterSeconds) }
func (t TasksConfig) SweepInterval() time.Duration { return seconds(t.SweepIntervalSeconds) }

func (e ExternalConfig) LLMTimeout() time.Duration   { return seconds(e.LLMTimeoutSeconds) }
func (e ExternalConfig) FetchTimeout() time.Duration { return seconds(e.FetchTimeoutSeconds) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
