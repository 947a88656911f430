// Package server wires the gateway's routes, middleware and HTTP server.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/warmline/warmline/pkg/core/llm"
	"github.com/warmline/warmline/pkg/core/persona"
	"github.com/warmline/warmline/pkg/core/turn"
	"github.com/warmline/warmline/pkg/core/voice/stt"
	"github.com/warmline/warmline/pkg/core/voice/tts"
	"github.com/warmline/warmline/pkg/gateway/auth"
	"github.com/warmline/warmline/pkg/gateway/config"
	"github.com/warmline/warmline/pkg/gateway/handlers"
	livesession "github.com/warmline/warmline/pkg/gateway/live/session"
	"github.com/warmline/warmline/pkg/gateway/mw"
	"github.com/warmline/warmline/pkg/gateway/ratelimit"
	"github.com/warmline/warmline/pkg/gateway/usage"
)

// Deps carries the externally-constructed dependencies. Zero-value fields
// get sensible defaults: providers built from config keys, a static
// everyone-is-free entitlements source, and the Gemini live dialer.
type Deps struct {
	Logger       *slog.Logger
	Store        usage.Store
	DB           handlers.Pinger
	Entitlements usage.Entitlements
	Verifier     auth.Verifier
	Dialer       livesession.Dialer
	Orchestrator *turn.Orchestrator
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	verifier     auth.Verifier
	limiter      *ratelimit.Limiter
	governor     *usage.Governor
	orchestrator *turn.Orchestrator
	dialer       livesession.Dialer
	db           handlers.Pinger
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := deps.Store
	if store == nil {
		store = usage.NewMemoryStore()
	}
	ents := deps.Entitlements
	if ents == nil {
		ents = usage.StaticEntitlements{}
	}

	orch := deps.Orchestrator
	if orch == nil {
		orch = buildOrchestrator(cfg, logger)
	}

	dialer := deps.Dialer
	if dialer == nil {
		dialer = &livesession.GeminiDialer{APIKey: cfg.GeminiAPIKey}
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		verifier: deps.Verifier,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                       cfg.LimitRPS,
			Burst:                     cfg.LimitBurst,
			MaxConcurrentTurns:        cfg.LimitMaxConcurrentTurns,
			MaxConcurrentLiveSessions: cfg.LimitMaxConcurrentLiveSessions,
		}),
		governor: &usage.Governor{
			Store:                   store,
			Entitlements:            ents,
			FreeDailySeconds:        cfg.FreeDailySeconds,
			WarningThresholdSeconds: cfg.WarningThresholdSeconds,
			MaxCallDuration:         cfg.MaxCallDuration,
		},
		orchestrator: orch,
		dialer:       dialer,
		db:           deps.DB,
	}

	s.routes()
	return s
}

func buildOrchestrator(cfg config.Config, logger *slog.Logger) *turn.Orchestrator {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	llmProvider := llm.NewOpenAIWithClient(cfg.LLMAPIKey, httpClient)
	if cfg.LLMBaseURL != "" {
		llmProvider = llmProvider.WithBaseURL(cfg.LLMBaseURL)
	}
	if cfg.LLMModel != "" {
		llmProvider = llmProvider.WithModel(cfg.LLMModel)
	}

	synths := map[persona.SynthesisProvider]tts.Provider{
		persona.ProviderCartesia: tts.NewCartesiaWithClient(cfg.CartesiaAPIKey, httpClient),
	}
	if cfg.ElevenLabsAPIKey != "" {
		synths[persona.ProviderElevenLabs] = tts.NewElevenLabsWithClient(cfg.ElevenLabsAPIKey, httpClient)
	}

	return &turn.Orchestrator{
		STT:          stt.NewCartesiaWithClient(cfg.CartesiaAPIKey, httpClient),
		LLM:          llmProvider,
		TTS:          synths,
		Logger:       logger,
		OutputFormat: cfg.AudioOutputFormat,
	}
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, DB: s.db})

	s.mux.Handle("/v1/turn", handlers.TurnHandler{
		Config:       s.cfg,
		Orchestrator: s.orchestrator,
		Governor:     s.governor,
		Logger:       s.logger,
	})
	s.mux.Handle("/v1/usage", handlers.UsageHandler{
		Config:   s.cfg,
		Governor: s.governor,
	})
	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:   s.cfg,
		Dialer:   s.dialer,
		Governor: s.governor,
		Limiter:  s.limiter,
		Logger:   s.logger,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Handler returns the full middleware chain around the mux.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, s.verifier, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// HTTPServer builds the listener-ready server. Write timeout stays generous
// because a turn holds the response open through synthesis, and /v1/live
// hijacks the connection entirely.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
