package httpapi

import (
	"net/http"

	"payout-engine/pkg/config"
	"payout-engine/pkg/health"
	"payout-engine/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewRouter,
		NewHandler,
	),
	fx.Invoke(
		registerHealthEndpoint,
		registerMetricsEndpoint,
	),
)

// NewRouter builds the gin engine shared by every route group.
func NewRouter(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Error(),
	)
	return r
}

// NewHandler wraps the router with request tracing.
func NewHandler(cfg *config.Config, r *gin.Engine) http.Handler {
	return otelhttp.NewHandler(r, cfg.AppName,
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/metrics" && req.URL.Path != "/healthz"
		}),
	)
}

func registerHealthEndpoint(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

func registerMetricsEndpoint(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
