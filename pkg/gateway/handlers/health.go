package handlers

import (
	"context"
	"net/http"

	"github.com/warmline/warmline/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is anything with a connectivity check (the Postgres store).
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config config.Config
	DB     Pinger // nil when running on the in-memory store
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		AuthMode string   `json:"auth_mode"`
		Ledger   string   `json:"ledger"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && h.Config.JWTSecret == "" {
		issues = append(issues, "auth_mode=required but no jwt secret configured")
	}
	if h.Config.CartesiaAPIKey == "" {
		issues = append(issues, "no cartesia api key configured")
	}
	if h.Config.LLMAPIKey == "" {
		issues = append(issues, "no llm api key configured")
	}

	ledger := "memory"
	if h.DB != nil {
		ledger = "postgres"
		if err := h.DB.Ping(r.Context()); err != nil {
			issues = append(issues, "database unreachable")
		}
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{
		OK:       ok,
		AuthMode: string(h.Config.AuthMode),
		Ledger:   ledger,
		Issues:   issues,
	})
}
