package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"WARMLINE_ADDR",
	"WARMLINE_AUTH_MODE",
	"WARMLINE_JWT_SECRET",
	"WARMLINE_CARTESIA_API_KEY",
	"WARMLINE_ELEVENLABS_API_KEY",
	"WARMLINE_LLM_API_KEY",
	"WARMLINE_LLM_BASE_URL",
	"WARMLINE_LLM_MODEL",
	"WARMLINE_GEMINI_API_KEY",
	"WARMLINE_STRIPE_API_KEY",
	"WARMLINE_WORKOS_API_KEY",
	"WARMLINE_DATABASE_URL",
	"WARMLINE_AUTO_MIGRATE",
	"WARMLINE_FREE_DAILY_SECONDS",
	"WARMLINE_WARNING_THRESHOLD_SECONDS",
	"WARMLINE_MAX_CALL_DURATION",
	"WARMLINE_PREMIUM_GRACE_PERIOD",
	"WARMLINE_MAX_BODY_BYTES",
	"WARMLINE_AUDIO_OUTPUT_FORMAT",
	"WARMLINE_CORS_ORIGINS",
	"WARMLINE_RATE_LIMIT_RPS",
	"WARMLINE_RATE_LIMIT_BURST",
	"WARMLINE_LIVE_MAX_DURATION",
	"WARMLINE_LIVE_MAX_AUDIO_FRAME_BYTES",
	"WARMLINE_LIVE_MAX_JSON_MESSAGE_BYTES",
	"WARMLINE_LIVE_WS_PING_INTERVAL",
	"WARMLINE_LIVE_WS_WRITE_TIMEOUT",
	"WARMLINE_READ_HEADER_TIMEOUT",
	"WARMLINE_READ_TIMEOUT",
	"WARMLINE_TOTAL_REQUEST_TIMEOUT",
	"WARMLINE_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("WARMLINE_JWT_SECRET", "test-secret")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Errorf("AuthMode = %q", cfg.AuthMode)
	}
	if cfg.FreeDailySeconds != 1800 {
		t.Errorf("FreeDailySeconds = %d", cfg.FreeDailySeconds)
	}
	if cfg.WarningThresholdSeconds != 60 {
		t.Errorf("WarningThresholdSeconds = %d", cfg.WarningThresholdSeconds)
	}
	if cfg.MaxCallDuration != 30*time.Minute {
		t.Errorf("MaxCallDuration = %v", cfg.MaxCallDuration)
	}
	if cfg.AudioOutputFormat != "mp3" {
		t.Errorf("AudioOutputFormat = %q", cfg.AudioOutputFormat)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
}

func TestLoadFromEnvRequiresSecretWhenAuthRequired(t *testing.T) {
	clearGatewayEnv(t)

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error when WARMLINE_JWT_SECRET unset")
	}
	if !strings.Contains(err.Error(), "WARMLINE_JWT_SECRET") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadFromEnvAuthDisabledNeedsNoSecret(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("WARMLINE_AUTH_MODE", "disabled")

	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("WARMLINE_AUTH_MODE", "disabled")
	t.Setenv("WARMLINE_FREE_DAILY_SECONDS", "3600")
	t.Setenv("WARMLINE_MAX_CALL_DURATION", "10m")
	t.Setenv("WARMLINE_CORS_ORIGINS", "https://app.example.com, https://staging.example.com")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.FreeDailySeconds != 3600 {
		t.Errorf("FreeDailySeconds = %d", cfg.FreeDailySeconds)
	}
	if cfg.MaxCallDuration != 10*time.Minute {
		t.Errorf("MaxCallDuration = %v", cfg.MaxCallDuration)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://app.example.com"]; !ok {
		t.Error("missing first origin")
	}
}

func TestLoadFromEnvValidation(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"WARMLINE_AUTH_MODE", "maybe"},
		{"WARMLINE_FREE_DAILY_SECONDS", "0"},
		{"WARMLINE_WARNING_THRESHOLD_SECONDS", "1800"},
		{"WARMLINE_AUDIO_OUTPUT_FORMAT", "flac"},
		{"WARMLINE_MAX_BODY_BYTES", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv("WARMLINE_JWT_SECRET", "s")
			t.Setenv(tc.key, tc.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("expected validation error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
