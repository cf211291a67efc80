package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/auction"
	"github.com/efreitasn/carbonexchange/internal/compliance"
	"github.com/efreitasn/carbonexchange/internal/config"
	"github.com/efreitasn/carbonexchange/internal/engine"
	"github.com/efreitasn/carbonexchange/internal/events"
	"github.com/efreitasn/carbonexchange/internal/handler"
	"github.com/efreitasn/carbonexchange/internal/ledger"
	"github.com/efreitasn/carbonexchange/internal/params"
	"github.com/efreitasn/carbonexchange/internal/pool"
	"github.com/efreitasn/carbonexchange/internal/risk"
	"github.com/efreitasn/carbonexchange/internal/service"
	"github.com/efreitasn/carbonexchange/internal/settlement"
	"github.com/efreitasn/carbonexchange/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Collaborators. The in-memory ledger and compliance registry stand in
	// for the external services until adapters are deployed; admins fund
	// accounts and set flags through /admin.
	accounts := access.NewRegistry(cfg.AdminAccount)
	balances := ledger.NewMemory(cfg.CustodyAccount)
	kyc := compliance.NewRegistry()

	marketParams, err := params.NewStore(cfg.Market, accounts)
	if err != nil {
		logger.Error("invalid market parameters", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Stores.
	orderStore := store.NewOrderStore()
	tradeStore := store.NewTradeStore()
	webhookStore := store.NewWebhookStore()
	reconciliation := store.NewReconciliationQueue()

	// Events fan out to the log and to webhook subscribers.
	webhookSvc := service.NewWebhookService(webhookStore, accounts, &http.Client{Timeout: cfg.WebhookTimeout}, logger)
	bus := events.NewBus()
	bus.Subscribe(events.LogSink(logger))
	bus.Subscribe(webhookSvc.Notify)

	// Engine.
	guard := risk.NewGuard(marketParams, logger)
	settler := settlement.NewCoordinator(balances, cfg.FeeRecipient, reconciliation, logger)
	matcher := engine.NewMatcher(
		engine.NewBookManager(),
		orderStore,
		tradeStore,
		settler,
		guard,
		marketParams,
		accounts,
		bus,
		logger,
	)

	auctions := auction.NewManager(balances, cfg.CustodyAccount, cfg.FeeRecipient, kyc, marketParams, accounts, bus, logger)
	pools := pool.NewManager(balances, cfg.CustodyAccount, kyc, bus, logger)

	orderSvc := service.NewOrderService(matcher, guard, kyc, balances, marketParams, tradeStore, reconciliation, accounts, logger)
	paramsSvc := service.NewParamsService(marketParams, logger)
	accountSvc := service.NewAccountService(balances, accounts, kyc, logger)

	router := handler.NewRouter(orderSvc, paramsSvc, accountSvc, webhookSvc, auctions, pools, logger)

	// Background expiry sweep with cancellable context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go matcher.RunSweeper(ctx, cfg.SweepInterval)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("admin", cfg.AdminAccount),
			slog.String("fee_recipient", cfg.FeeRecipient),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Stop accepting requests first, then the sweeper.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}
