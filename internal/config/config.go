package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the prep service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	SessionTTL      time.Duration
	JanitorInterval time.Duration

	// Timezone overrides the region lookup; empty means system local time.
	Timezone string

	RequestTimeout time.Duration
	SpeechTimeout  time.Duration
	StreamDeadline time.Duration
	MaxAttempts    int

	// PurchaseVerifierMode selects the receipt verifier: "fake" or "http".
	PurchaseVerifierMode string
	PurchaseBackendURL   string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("PREP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("PREP_METRICS_NAMESPACE", "prep"),
		AllowAnyOrigin:       false,
		Timezone:             stringsTrimSpace("PREP_TIMEZONE"),
		PurchaseVerifierMode: envOrDefault("PREP_PURCHASE_VERIFIER", "fake"),
		PurchaseBackendURL:   stringsTrimSpace("PREP_PURCHASE_BACKEND_URL"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:      15 * time.Second,
		SessionTTL:           time.Hour,
		JanitorInterval:      30 * time.Second,
		RequestTimeout:       10 * time.Second,
		SpeechTimeout:        20 * time.Second,
		StreamDeadline:       30 * time.Second,
		MaxAttempts:          3,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("PREP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("PREP_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("PREP_SESSION_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.RequestTimeout, err = durationFromEnv("PREP_REQUEST_TIMEOUT", cfg.RequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechTimeout, err = durationFromEnv("PREP_SPEECH_TIMEOUT", cfg.SpeechTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamDeadline, err = durationFromEnv("PREP_STREAM_DEADLINE", cfg.StreamDeadline)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAttempts, err = intFromEnv("PREP_MAX_ATTEMPTS", cfg.MaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("PREP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTTL < time.Minute {
		return Config{}, fmt.Errorf("PREP_SESSION_TTL must be at least 1m")
	}
	if cfg.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("PREP_MAX_ATTEMPTS must be positive")
	}
	if cfg.StreamDeadline < time.Second {
		return Config{}, fmt.Errorf("PREP_STREAM_DEADLINE must be at least 1s")
	}
	switch cfg.PurchaseVerifierMode {
	case "fake", "http":
	default:
		return Config{}, fmt.Errorf("PREP_PURCHASE_VERIFIER must be fake or http")
	}
	if cfg.PurchaseVerifierMode == "http" && cfg.PurchaseBackendURL == "" {
		return Config{}, fmt.Errorf("PREP_PURCHASE_BACKEND_URL is required in http mode")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
