// Package config loads server configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// Empty DATABASE_URL selects the in-memory state store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	FHIRBaseURL string `mapstructure:"FHIR_BASE_URL"`
	FHIRToken   string `mapstructure:"FHIR_TOKEN"`

	// Empty ANTHROPIC_API_KEY selects the deterministic rule analyzer.
	AnthropicAPIKey string `mapstructure:"ANTHROPIC_API_KEY"`
	AnalysisModel   string `mapstructure:"ANALYSIS_MODEL"`

	DefaultProcedureCode      string `mapstructure:"DEFAULT_PROCEDURE_CODE"`
	ObservationLookbackMonths int    `mapstructure:"OBSERVATION_LOOKBACK_MONTHS"`
	ProcedureLookbackMonths   int    `mapstructure:"PROCEDURE_LOOKBACK_MONTHS"`
	CASMaxRetries             int    `mapstructure:"CAS_MAX_RETRIES"`

	SlackToken   string `mapstructure:"SLACK_TOKEN"`
	SlackChannel string `mapstructure:"SLACK_CHANNEL"`

	// Cron expression; empty disables the stale-item sweeper.
	SweepSchedule   string `mapstructure:"SWEEP_SCHEDULE"`
	SweepStaleAfter string `mapstructure:"SWEEP_STALE_AFTER"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

var boundKeys = []string{
	"PORT", "ENV",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"FHIR_BASE_URL", "FHIR_TOKEN",
	"ANTHROPIC_API_KEY", "ANALYSIS_MODEL",
	"DEFAULT_PROCEDURE_CODE", "OBSERVATION_LOOKBACK_MONTHS", "PROCEDURE_LOOKBACK_MONTHS",
	"CAS_MAX_RETRIES",
	"SLACK_TOKEN", "SLACK_CHANNEL",
	"SWEEP_SCHEDULE", "SWEEP_STALE_AFTER",
	"CORS_ORIGINS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_PROCEDURE_CODE", "72148")
	v.SetDefault("OBSERVATION_LOOKBACK_MONTHS", 6)
	v.SetDefault("PROCEDURE_LOOKBACK_MONTHS", 12)
	v.SetDefault("CAS_MAX_RETRIES", 10)
	v.SetDefault("SWEEP_STALE_AFTER", "30m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range boundKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.FHIRBaseURL == "" {
		return nil, fmt.Errorf("FHIR_BASE_URL is required")
	}
	if cfg.CASMaxRetries < 1 {
		return nil, fmt.Errorf("CAS_MAX_RETRIES must be at least 1")
	}
	if cfg.ObservationLookbackMonths < 1 || cfg.ProcedureLookbackMonths < 1 {
		return nil, fmt.Errorf("lookback windows must be at least one month")
	}
	if _, err := time.ParseDuration(cfg.SweepStaleAfter); err != nil {
		return nil, fmt.Errorf("SWEEP_STALE_AFTER: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UseMemoryStore reports whether the in-memory state store backs the server.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}

// ObservationLookback returns the observation search window as a duration.
func (c *Config) ObservationLookback() time.Duration {
	return time.Duration(c.ObservationLookbackMonths) * 30 * 24 * time.Hour
}

// ProcedureLookback returns the procedure search window as a duration.
func (c *Config) ProcedureLookback() time.Duration {
	return time.Duration(c.ProcedureLookbackMonths) * 30 * 24 * time.Hour
}

// StaleAfter returns the parsed sweeper threshold. Load validated the value.
func (c *Config) StaleAfter() time.Duration {
	d, _ := time.ParseDuration(c.SweepStaleAfter)
	return d
}
