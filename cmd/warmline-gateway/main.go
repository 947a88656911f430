// Command warmline-gateway runs the voice gateway: discrete turn processing
// over HTTP plus the realtime websocket bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/warmline/warmline/internal/dotenv"
	"github.com/warmline/warmline/pkg/gateway/auth"
	"github.com/warmline/warmline/pkg/gateway/config"
	gatewayserver "github.com/warmline/warmline/pkg/gateway/server"
	"github.com/warmline/warmline/pkg/gateway/usage"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, dsn string) (*usage.PostgresStore, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  usage.OpenPostgres,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildDeps assembles the ledger store, entitlements, and verifier from
// config. The returned cleanup closes the database when one was opened.
func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger, deps gatewayDeps) (gatewayserver.Deps, func(), error) {
	out := gatewayserver.Deps{Logger: logger}
	cleanup := func() {}

	if cfg.DatabaseURL != "" {
		pg, err := deps.openStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return out, cleanup, fmt.Errorf("open ledger database: %w", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return out, cleanup, fmt.Errorf("migrate ledger database: %w", err)
			}
		}
		out.Store = pg
		out.DB = pg
		cleanup = func() { pg.Close() }
		logger.Info("usage ledger", "backend", "postgres", "auto_migrate", cfg.AutoMigrate)
	} else {
		store := usage.NewMemoryStore()
		out.Store = store
		logger.Warn("usage ledger is in-memory; counters reset on restart")
	}

	if cfg.StripeAPIKey != "" {
		subs, ok := out.Store.(usage.SubscriptionSource)
		if !ok {
			cleanup()
			return out, func() {}, errors.New("ledger store cannot resolve subscriptions")
		}
		out.Entitlements = usage.NewStripeEntitlements(cfg.StripeAPIKey, subs, cfg.PremiumGracePeriod)
		logger.Info("entitlements", "backend", "stripe", "grace_period", cfg.PremiumGracePeriod)
	} else {
		out.Entitlements = usage.StaticEntitlements{}
		logger.Info("entitlements", "backend", "static", "note", "everyone on free tier")
	}

	if cfg.AuthMode == config.AuthModeRequired {
		var dir auth.Directory
		if cfg.WorkOSAPIKey != "" {
			dir = auth.NewWorkOSDirectory(cfg.WorkOSAPIKey)
		}
		out.Verifier = auth.NewJWTVerifier(cfg.JWTSecret, dir)
	}

	return out, cleanup, nil
}

func run(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	serverDeps, cleanup, err := buildDeps(ctx, cfg, logger, deps)
	if err != nil {
		return err
	}
	defer cleanup()

	gw := gatewayserver.New(cfg, serverDeps)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting gateway", "addr", cfg.Addr, "auth_mode", cfg.AuthMode)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(stderr, "warmline-gateway: %v\n", err)
		return 1
	}

	if err := run(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "warmline-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
