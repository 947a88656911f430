package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode  AuthMode
	JWTSecret string

	// Upstream provider credentials.
	CartesiaAPIKey   string
	ElevenLabsAPIKey string
	LLMAPIKey        string
	LLMBaseURL       string // OpenAI-compatible endpoint
	LLMModel         string
	GeminiAPIKey     string // realtime live sessions

	// Premium entitlement and user directory.
	StripeAPIKey string
	WorkOSAPIKey string

	// Usage ledger. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string
	AutoMigrate bool

	// Daily time budget for non-premium users, in seconds.
	FreeDailySeconds int
	// Seconds of budget left at which the client is warned.
	WarningThresholdSeconds int
	// Hard ceiling on a single recorded call, clamps reported durations.
	MaxCallDuration time.Duration
	// Entitlement grace after a subscription lapses.
	PremiumGracePeriod time.Duration

	MaxBodyBytes int64

	// Synthesis output container returned to clients.
	AudioOutputFormat string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Per-user short-window request limits.
	LimitRPS   float64
	LimitBurst int

	// Per-user concurrency caps. One active call means one turn in flight,
	// so these stay small.
	LimitMaxConcurrentTurns        int
	LimitMaxConcurrentLiveSessions int

	// Live WebSocket mode (/v1/live).
	LiveMaxSessionDuration  time.Duration
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                           envOr("WARMLINE_ADDR", ":8080"),
		AuthMode:                       AuthMode(envOr("WARMLINE_AUTH_MODE", string(AuthModeRequired))),
		JWTSecret:                      strings.TrimSpace(os.Getenv("WARMLINE_JWT_SECRET")),
		CartesiaAPIKey:                 strings.TrimSpace(os.Getenv("WARMLINE_CARTESIA_API_KEY")),
		ElevenLabsAPIKey:               strings.TrimSpace(os.Getenv("WARMLINE_ELEVENLABS_API_KEY")),
		LLMAPIKey:                      strings.TrimSpace(os.Getenv("WARMLINE_LLM_API_KEY")),
		LLMBaseURL:                     envOr("WARMLINE_LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:                       envOr("WARMLINE_LLM_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:                   strings.TrimSpace(os.Getenv("WARMLINE_GEMINI_API_KEY")),
		StripeAPIKey:                   strings.TrimSpace(os.Getenv("WARMLINE_STRIPE_API_KEY")),
		WorkOSAPIKey:                   strings.TrimSpace(os.Getenv("WARMLINE_WORKOS_API_KEY")),
		DatabaseURL:                    strings.TrimSpace(os.Getenv("WARMLINE_DATABASE_URL")),
		AutoMigrate:                    envBoolOr("WARMLINE_AUTO_MIGRATE", false),
		FreeDailySeconds:               envIntOr("WARMLINE_FREE_DAILY_SECONDS", 1800),
		WarningThresholdSeconds:        envIntOr("WARMLINE_WARNING_THRESHOLD_SECONDS", 60),
		MaxCallDuration:                envDurationOr("WARMLINE_MAX_CALL_DURATION", 30*time.Minute),
		PremiumGracePeriod:             envDurationOr("WARMLINE_PREMIUM_GRACE_PERIOD", 72*time.Hour),
		MaxBodyBytes:                   envInt64Or("WARMLINE_MAX_BODY_BYTES", 16<<20), // 16 MiB
		AudioOutputFormat:              envOr("WARMLINE_AUDIO_OUTPUT_FORMAT", "mp3"),
		CORSAllowedOrigins:             make(map[string]struct{}),
		LimitRPS:                       envFloat64Or("WARMLINE_RATE_LIMIT_RPS", 2.0),
		LimitBurst:                     envIntOr("WARMLINE_RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentTurns:        envIntOr("WARMLINE_RATE_LIMIT_MAX_TURNS", 2),
		LimitMaxConcurrentLiveSessions: envIntOr("WARMLINE_RATE_LIMIT_MAX_LIVE_SESSIONS", 1),
		LiveMaxSessionDuration:         envDurationOr("WARMLINE_LIVE_MAX_DURATION", 2*time.Hour),
		LiveMaxAudioFrameBytes:         envIntOr("WARMLINE_LIVE_MAX_AUDIO_FRAME_BYTES", 32768),
		LiveMaxJSONMessageBytes:        envInt64Or("WARMLINE_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:             envDurationOr("WARMLINE_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:             envDurationOr("WARMLINE_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:              envDurationOr("WARMLINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                    envDurationOr("WARMLINE_READ_TIMEOUT", 60*time.Second),
		HandlerTimeout:                 envDurationOr("WARMLINE_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:            envDurationOr("WARMLINE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("WARMLINE_AUTH_MODE must be one of required|disabled")
	}

	for _, origin := range splitCSV(os.Getenv("WARMLINE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("WARMLINE_JWT_SECRET must be set when WARMLINE_AUTH_MODE=required")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.FreeDailySeconds <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_FREE_DAILY_SECONDS must be > 0")
	}
	if cfg.WarningThresholdSeconds < 0 {
		return Config{}, fmt.Errorf("WARMLINE_WARNING_THRESHOLD_SECONDS must be >= 0")
	}
	if cfg.WarningThresholdSeconds >= cfg.FreeDailySeconds {
		return Config{}, fmt.Errorf("WARMLINE_WARNING_THRESHOLD_SECONDS must be < WARMLINE_FREE_DAILY_SECONDS")
	}
	if cfg.MaxCallDuration <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_MAX_CALL_DURATION must be > 0")
	}
	if cfg.PremiumGracePeriod < 0 {
		return Config{}, fmt.Errorf("WARMLINE_PREMIUM_GRACE_PERIOD must be >= 0")
	}
	switch cfg.AudioOutputFormat {
	case "mp3", "wav", "pcm":
	default:
		return Config{}, fmt.Errorf("WARMLINE_AUDIO_OUTPUT_FORMAT must be one of mp3|wav|pcm")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("WARMLINE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("WARMLINE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentTurns <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_RATE_LIMIT_MAX_TURNS must be > 0")
	}
	if cfg.LimitMaxConcurrentLiveSessions <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_RATE_LIMIT_MAX_LIVE_SESSIONS must be > 0")
	}
	if cfg.LiveMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_LIVE_MAX_DURATION must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("WARMLINE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
