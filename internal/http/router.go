package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/avieira/authgate/internal/auth"
	"github.com/avieira/authgate/internal/config"
	"github.com/avieira/authgate/internal/http/handlers"
	"github.com/avieira/authgate/internal/http/middlewares"
	"github.com/avieira/authgate/internal/observability"
	"github.com/avieira/authgate/internal/store/memory"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20 // requests are small JSON documents

// Deps carries everything the router wires together. The store is
// constructed in main and injected so tests can run isolated instances.
type Deps struct {
	Log     *slog.Logger
	Users   *memory.UsersStore
	JWT     *auth.Manager
	Revoked auth.RevocationStore // nil disables logout revocation
	Metrics *observability.Prom  // nil disables metrics
	Cfg     config.Config
}

func NewRouter(d Deps) *gin.Engine {
	if d.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.Cfg.CORSAllowedOrigins))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))

	if d.Cfg.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("authgate"))
	}

	if d.Metrics != nil {
		r.Use(d.Metrics.GinHandleMiddleware())
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// health: readiness only depends on Redis when that backend is in use

	var ping func() error

	if pinger, ok := d.Revoked.(interface{ Ping(context.Context) error }); ok {
		ping = func() error {
			ctx, cancel := config.WithTimeout(1 * time.Second)
			defer cancel()

			return pinger.Ping(ctx)
		}
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	// auth endpoints

	authHandler := handlers.NewAuthHandler(d.Users, d.Users, d.JWT, d.Revoked, d.Cfg, d.Log, d.Metrics)
	gate := middlewares.NewAuthMiddleware(d.JWT, d.Revoked)

	api := r.Group("/api/auth")
	api.POST("/register", authHandler.Register)
	api.POST("/login", authHandler.Login)
	api.POST("/logout", authHandler.Logout)
	api.GET("/me", gate.RequireSession(), authHandler.Me)

	return r
}
