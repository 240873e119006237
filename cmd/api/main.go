package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avieira/authgate/internal/auth"
	"github.com/avieira/authgate/internal/config"
	httpx "github.com/avieira/authgate/internal/http"
	"github.com/avieira/authgate/internal/observability"
	"github.com/avieira/authgate/internal/store/memory"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	// Fail fast on bad configuration; notably an unset JWT_SECRET must never
	// degrade into a hard-coded fallback.
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// optional tracing
	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(context.Background(), "authgate", cfg.OTLPEndpoint)
		if err != nil {
			log.Error("tracer init failed", "err", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := config.WithTimeout(2 * time.Second)
			defer cancel()
			_ = shutdownTracer(ctx)
		}()
	}

	// The credential store lives for the process; nothing is persisted.
	users := memory.NewUsersStore()

	seedCtx, cancelSeed := config.WithTimeout(3 * time.Second)
	if err := users.EnsureAdminUser(seedCtx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
		cancelSeed()
		log.Error("admin seeding failed", "err", err)
		os.Exit(1)
	}
	cancelSeed()

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL())

	var revoked auth.RevocationStore

	switch cfg.RevocationBackend {
	case "memory":
		revoked = auth.NewMemoryRevocations()
	case "redis":
		rr := auth.NewRedisRevocations(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rr.Close()
		revoked = rr
	}

	metrics := observability.NewProm(prometheus.DefaultRegisterer)

	router := httpx.NewRouter(httpx.Deps{
		Log:     log,
		Users:   users,
		JWT:     jwtManager,
		Revoked: revoked,
		Metrics: metrics,
		Cfg:     cfg,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "revocation", cfg.RevocationBackend)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
