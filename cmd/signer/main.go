package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quotasigner/internal/config"
	"quotasigner/internal/domain"
	"quotasigner/internal/infra/db"
	httpinfra "quotasigner/internal/infra/http"
	"quotasigner/internal/infra/keys/soft"
	"quotasigner/internal/infra/keys/vault"
	"quotasigner/internal/infra/ledger"
	"quotasigner/internal/infra/metrics"
	"quotasigner/internal/infra/policyopa"
	"quotasigner/internal/usecase"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := db.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	var backend ledger.Backend
	mode := "memory"
	if store.DB != nil {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		backend = db.NewLedgerRepository(store.DB)
		mode = "db"
	} else {
		backend = ledger.NewMemory()
	}

	m := metrics.New()
	client := ledger.NewClient(backend, cfg.LedgerRetryPolicy(),
		ledger.WithLogger(logger),
		ledger.WithMetrics(m),
	)

	var policy domain.QuotaPolicy
	if cfg.QuotaPolicyPath != "" {
		engine, err := policyopa.NewEngineFromPath(ctx, cfg.QuotaPolicyPath)
		if err != nil {
			return fmt.Errorf("load quota policy: %w", err)
		}
		policy = engine
	}

	keys, err := buildKeyProvider(cfg)
	if err != nil {
		return err
	}

	pnp, domains := cfg.PNPEndpoint(), cfg.DomainsEndpoint()
	pnpQuota := usecase.NewPnpQuotaService(client, policy)
	domainQuota := usecase.NewDomainQuotaService(client, policy)

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		PnpQuota:      usecase.NewPnpQuotaAction(pnpQuota, pnp, logger),
		PnpSign:       usecase.NewPnpSignAction(pnpQuota, keys, cfg.Keys.PNPKeyVersion, pnp, logger),
		DomainQuota:   usecase.NewDomainQuotaAction(domainQuota, domains, logger),
		DomainSign:    usecase.NewDomainSignAction(domainQuota, keys, cfg.Keys.DomainsKeyVersion, domains, logger),
		DomainDisable: usecase.NewDomainDisableAction(client, logger),
		Logger:        logger,
		Metrics:       m,
		Version:       version,
		Mode:          mode,
	})

	logger.Info("starting signer",
		"version", version,
		"ledger", mode,
		"keystore", cfg.Keys.Provider,
		"pnp_enabled", pnp.Enabled,
		"domains_enabled", domains.Enabled,
	)
	return srv.Run(ctx)
}

func buildKeyProvider(cfg config.Config) (domain.KeyProvider, error) {
	switch cfg.Keys.Provider {
	case "", "soft":
		manager, err := soft.NewManagerFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("soft keystore: %w", err)
		}
		return manager, nil
	case "vault":
		manager, err := vault.NewManagerFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("vault keystore: %w", err)
		}
		return manager, nil
	default:
		return nil, fmt.Errorf("unsupported KEYSTORE_TYPE %q", cfg.Keys.Provider)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", cfg.ServiceName)
}
