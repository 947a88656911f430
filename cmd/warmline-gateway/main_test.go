package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/warmline/warmline/pkg/gateway/config"
	"github.com/warmline/warmline/pkg/gateway/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestRunMainReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openStore: func(ctx context.Context, dsn string) (*usage.PostgresStore, error) {
			t.Fatal("openStore should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatal("expected stderr output for startup error")
	}
}

func TestBuildDepsMemoryLedger(t *testing.T) {
	t.Parallel()

	cfg := config.Config{AuthMode: config.AuthModeDisabled}
	deps := gatewayDeps{
		openStore: func(ctx context.Context, dsn string) (*usage.PostgresStore, error) {
			t.Fatal("openStore should not be called without a database URL")
			return nil, nil
		},
	}

	out, cleanup, err := buildDeps(context.Background(), cfg, discardLogger(), deps)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	if _, ok := out.Store.(*usage.MemoryStore); !ok {
		t.Errorf("store = %T, want *usage.MemoryStore", out.Store)
	}
	if _, ok := out.Entitlements.(usage.StaticEntitlements); !ok {
		t.Errorf("entitlements = %T, want StaticEntitlements", out.Entitlements)
	}
	if out.Verifier != nil {
		t.Error("verifier set with auth disabled")
	}
	if out.DB != nil {
		t.Error("DB set without a database URL")
	}
}

func TestBuildDepsStripeAndJWT(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		AuthMode:     config.AuthModeRequired,
		JWTSecret:    "secret",
		StripeAPIKey: "sk_test",
	}

	out, cleanup, err := buildDeps(context.Background(), cfg, discardLogger(), gatewayDeps{})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	if _, ok := out.Entitlements.(*usage.StripeEntitlements); !ok {
		t.Errorf("entitlements = %T, want *usage.StripeEntitlements", out.Entitlements)
	}
	if out.Verifier == nil {
		t.Error("verifier not built for required auth mode")
	}
}

func TestBuildDepsDatabaseOpenFailure(t *testing.T) {
	t.Parallel()

	cfg := config.Config{DatabaseURL: "postgres://nope"}
	deps := gatewayDeps{
		openStore: func(ctx context.Context, dsn string) (*usage.PostgresStore, error) {
			return nil, errors.New("connection refused")
		},
	}

	_, _, err := buildDeps(context.Background(), cfg, discardLogger(), deps)
	if err == nil {
		t.Fatal("expected error when the ledger database cannot be opened")
	}
}
