package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// EngineConfig carries everything NewEngine wires into the gin engine
type EngineConfig struct {
	HTTP        config.HTTPConfig
	ServiceName string
	APIVersion  string
	Logger      *zap.Logger

	// Meter enables HTTP metrics when set
	Meter metric.Meter
	// Tracing enables the otelgin server spans
	Tracing bool
	// Profiling tags pyroscope samples with the route
	Profiling bool
	// RateLimiter is applied to the API group when HTTP.RateLimitEnabled is set
	RateLimiter *middleware.RateLimiter
	// RequestTimeout bounds each request context; zero falls back to HTTP.WriteTimeout
	RequestTimeout time.Duration

	Health *handler.HealthHandler
	Ledger *handler.LedgerHandler
}

// NewEngine builds the gin engine with the middleware stack and all routes.
//
// Middleware order:
//  1. Recovery, so panics anywhere below still produce an envelope
//  2. RequestID, before anything that logs or tags spans
//  3. access log
//  4. tracing and span tagging
//  5. metrics and profiling labels
//  6. CORS and security headers
//  7. body limit, rate limit and request timeout
func NewEngine(cfg EngineConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(logger.Recovery(log))
	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))

	if cfg.Tracing {
		tracing := middleware.DefaultTracingConfig()
		if cfg.ServiceName != "" {
			tracing.ServiceName = cfg.ServiceName
		}
		engine.Use(middleware.TracingWithConfig(tracing))
		engine.Use(middleware.SpanAttributes())
		engine.Use(middleware.SpanErrorMarker())
	}
	if cfg.Meter != nil {
		engine.Use(middleware.HTTPMetrics(cfg.Meter))
	}
	if cfg.Profiling {
		engine.Use(middleware.Profiling())
	}

	engine.Use(middleware.CORSWithConfig(corsConfig(cfg.HTTP)))
	engine.Use(middleware.Secure())
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.Health != nil {
		engine.GET("/health", cfg.Health.Health)
	}

	r := NewRouter(engine, WithAPIVersion(apiVersionOr(cfg.APIVersion)))
	if cfg.Ledger != nil {
		group := LedgerRoutes(cfg.Ledger)
		if cfg.HTTP.RateLimitEnabled && cfg.RateLimiter != nil {
			group.Use(middleware.RateLimit(cfg.RateLimiter))
		}
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = cfg.HTTP.WriteTimeout
		}
		group.Use(middleware.Timeout(timeout))
		r.Register(group)
	}
	r.Setup()

	return engine
}

func corsConfig(http config.HTTPConfig) middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	if len(http.CORSAllowOrigins) > 0 {
		cors.AllowOrigins = http.CORSAllowOrigins
	}
	if len(http.CORSAllowMethods) > 0 {
		cors.AllowMethods = http.CORSAllowMethods
	}
	if len(http.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = http.CORSAllowHeaders
	}
	return cors
}

func apiVersionOr(v string) string {
	if v == "" {
		return "v1"
	}
	return v
}
