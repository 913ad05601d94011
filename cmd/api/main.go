package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/distrohq/salesdesk/api/routes"
	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/internal/session"
	"github.com/distrohq/salesdesk/internal/wizard"
	"github.com/distrohq/salesdesk/pkg/auth"
	"github.com/distrohq/salesdesk/pkg/config"
	"github.com/distrohq/salesdesk/pkg/division"
	"github.com/distrohq/salesdesk/pkg/logger"
	"github.com/distrohq/salesdesk/pkg/metrics"
	"github.com/distrohq/salesdesk/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "salesdesk-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "salesdesk-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	divisionStore, err := division.NewStore(redisClient, cfg.Division.ContextTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create division store", err)
		os.Exit(1)
	}

	var tokens auth.TokenSource
	if cfg.Commerce.TokenRefreshURL != "" {
		refresh, err := auth.NewHTTPRefresh(cfg.Commerce.TokenRefreshURL, nil)
		if err != nil {
			logg.Error(context.Background(), "failed to build token refresh", err)
			os.Exit(1)
		}
		refreshing, err := auth.NewRefreshingTokenSource(cfg.Commerce.BearerToken, cfg.Commerce.RefreshAhead, refresh)
		if err != nil {
			logg.Error(context.Background(), "failed to create token source", err)
			os.Exit(1)
		}
		tokens = refreshing
	} else {
		static, err := auth.NewStaticTokenSource(cfg.Commerce.BearerToken)
		if err != nil {
			logg.Error(context.Background(), "failed to create token source", err)
			os.Exit(1)
		}
		tokens = static
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	callMetrics := metrics.NewCommerceCallMetrics(registry)

	commerceClient, err := commerce.NewClient(cfg.Commerce, tokens,
		commerce.WithLogger(logg),
		commerce.WithMetrics(callMetrics),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create commerce client", err)
		os.Exit(1)
	}

	factory := func(scope division.Scope) (*wizard.Wizard, error) {
		return wizard.New(commerceClient, wizard.Config{
			Scope:             scope,
			FallbackLatitude:  cfg.Wizard.FallbackLatitude,
			FallbackLongitude: cfg.Wizard.FallbackLongitude,
		})
	}
	sessions, err := session.NewManager(factory, cfg.Wizard.SessionTTL, cfg.Wizard.SweepInterval, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.Start(rootCtx)
	defer sessions.Stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(rootCtx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting salesdesk api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:        cfg,
			Logger:        logg,
			Sessions:      sessions,
			DivisionStore: divisionStore,
			Redis:         redisClient,
			Metrics:       registry,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-rootCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
		logg.Info(ctx, "api server stopped")
	}
}
