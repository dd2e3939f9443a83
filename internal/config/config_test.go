package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("SessionTTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.RequestTimeout != 10*time.Second || cfg.SpeechTimeout != 20*time.Second {
		t.Fatalf("timeouts = %v/%v, want 10s/20s", cfg.RequestTimeout, cfg.SpeechTimeout)
	}
	if cfg.PurchaseVerifierMode != "fake" {
		t.Fatalf("PurchaseVerifierMode = %q, want fake", cfg.PurchaseVerifierMode)
	}
	if cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin should default false")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PREP_BIND_ADDR", ":9090")
	t.Setenv("PREP_SESSION_TTL", "30m")
	t.Setenv("PREP_MAX_ATTEMPTS", "5")
	t.Setenv("PREP_TIMEZONE", "Asia/Singapore")
	t.Setenv("PREP_ALLOW_ANY_ORIGIN", "true")
	t.Setenv("DATABASE_URL", "postgres://localhost/prep")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d", cfg.MaxAttempts)
	}
	if cfg.Timezone != "Asia/Singapore" {
		t.Fatalf("Timezone = %q", cfg.Timezone)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.DatabaseURL != "postgres://localhost/prep" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "PREP_SESSION_TTL", "soon"},
		{"ttl too short", "PREP_SESSION_TTL", "10s"},
		{"bad attempts", "PREP_MAX_ATTEMPTS", "zero"},
		{"attempts not positive", "PREP_MAX_ATTEMPTS", "0"},
		{"bad bool", "PREP_ALLOW_ANY_ORIGIN", "maybe"},
		{"bad verifier mode", "PREP_PURCHASE_VERIFIER", "carrier-pigeon"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() should fail for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadHTTPVerifierNeedsBackendURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PREP_PURCHASE_VERIFIER", "http")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should require PREP_PURCHASE_BACKEND_URL in http mode")
	}

	t.Setenv("PREP_PURCHASE_BACKEND_URL", "https://store.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PurchaseVerifierMode != "http" {
		t.Fatalf("PurchaseVerifierMode = %q", cfg.PurchaseVerifierMode)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"PREP_BIND_ADDR",
		"PREP_SHUTDOWN_TIMEOUT",
		"PREP_METRICS_NAMESPACE",
		"PREP_ALLOW_ANY_ORIGIN",
		"PREP_SESSION_TTL",
		"PREP_SESSION_JANITOR_INTERVAL",
		"PREP_TIMEZONE",
		"PREP_REQUEST_TIMEOUT",
		"PREP_SPEECH_TIMEOUT",
		"PREP_STREAM_DEADLINE",
		"PREP_MAX_ATTEMPTS",
		"PREP_PURCHASE_VERIFIER",
		"PREP_PURCHASE_BACKEND_URL",
		"DATABASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
