// Package app assembles the escrow services from configuration. It is shared
// by the API server and the operator CLI.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/audit"
	"github.com/clutchstake/backend/internal/config"
	"github.com/clutchstake/backend/internal/database"
	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/services"
	"github.com/clutchstake/backend/internal/store"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    store.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Ledger   *services.LedgerService
	Escrow   *services.EscrowService
	Disputes *services.DisputeService
	Wallet   *services.WalletService
}

// New opens the configured store and wires every service on top of it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	st, err := database.OpenStore(ctx, cfg.Storage.Driver, cfg.Storage.BoltPath)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	auditLogger := audit.NewAuditLogger(logger)

	ledger := services.NewLedgerService(st, auditLogger, m, logger)
	registry := services.NewMatchRegistry(st, auditLogger, m)
	escrow := services.NewEscrowService(st, ledger, registry, auditLogger, m, logger, services.EscrowConfig{
		FeeBps:            cfg.Escrow.PlatformFeeBps,
		PlatformAccountID: cfg.Escrow.PlatformAccountID,
		ResultDeadline:    cfg.Escrow.ResultDeadline,
		MinStake:          cfg.Escrow.MinStake,
		MaxStake:          cfg.Escrow.MaxStake,
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Registry: reg,
		Metrics:  m,
		Ledger:   ledger,
		Escrow:   escrow,
		Disputes: services.NewDisputeService(st, escrow, auditLogger, logger),
		Wallet:   services.NewWalletService(st, ledger, logger),
	}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
