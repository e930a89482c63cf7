package http

import (
	"context"
	"net/http"

	"github.com/jmehdipour/aigen-gateway/internal/config"
	"github.com/jmehdipour/aigen-gateway/internal/http/middleware"
	"github.com/jmehdipour/aigen-gateway/internal/imagepipe"
	"github.com/jmehdipour/aigen-gateway/internal/metrics"
	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmehdipour/aigen-gateway/internal/repository"
	"github.com/jmehdipour/aigen-gateway/internal/service/quota"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	gommonlog "github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Generator forwards an admitted request to an image provider.
type Generator interface {
	Generate(ctx context.Context, req model.GenerationRequest) (model.GenerationResult, error)
}

// Deps is everything the HTTP layer talks to. Usage and Redis may be nil.
type Deps struct {
	Enforcer  *quota.Enforcer
	Licenses  repository.LicensesRepository
	Usage     repository.CHUsageRepository
	Images    *imagepipe.Pipeline
	Generator Generator
	Redis     *redis.Client
	Log       *zap.Logger
}

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(echoLogLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger(), echoMid.RequestID())
	if cfg.HTTP.BodyLimit != "" {
		e.Use(echoMid.BodyLimit(cfg.HTTP.BodyLimit))
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	floodMW := middleware.FloodGuardMiddleware(middleware.FloodGuardConfig{
		Redis:          d.Redis,
		RPS:            cfg.FloodGuard.RPS,
		KeyPrefix:      "fg:ip:",
		Window:         cfg.FloodGuard.Window,
		RetryAfterHint: true,
	})
	authMW := middleware.LicenseKeyMiddleware(d.Licenses, cfg.Auth.EnforceDomain)

	h := &handlers{deps: d}

	// public
	e.GET("/v1/tiers", h.listTiers)
	e.GET("/v1/tiers/:tier", h.getTier)

	// licensed
	v1 := e.Group("/v1", floodMW, authMW)
	v1.POST("/generate", h.generate)
	v1.GET("/usage", h.usage)
	v1.GET("/reports/usage", h.usageReport)

	// admin
	admin := e.Group("/admin", adminTokenMiddleware(cfg.Admin.Token))
	admin.POST("/sweep", h.sweep)

	return &Server{e: e}
}

func echoLogLevel(level string) gommonlog.Lvl {
	switch level {
	case "debug":
		return gommonlog.DEBUG
	case "warn":
		return gommonlog.WARN
	case "error":
		return gommonlog.ERROR
	default:
		return gommonlog.INFO
	}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// ServeHTTP lets tests drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

type handlers struct {
	deps Deps
}
