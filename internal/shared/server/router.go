package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"resume-bullets/internal/bullets"
	"resume-bullets/internal/services/health"
	"resume-bullets/internal/shared/config"
	"resume-bullets/internal/shared/metrics"
	"resume-bullets/internal/shared/server/middleware"
	"resume-bullets/internal/shared/server/respond"
)

const (
	rateLimitGroupDefault = "DEFAULT"
	rateLimitGroupDedupe  = "DEDUPE"

	healthPath  = "/api/v1/health"
	metricsPath = "/metrics"
)

// RouterDeps are the collaborators the HTTP surface needs.
type RouterDeps struct {
	Config         config.Config
	Verifier       middleware.TokenVerifier
	BulletsHandler *bullets.Handler
	Health         *health.Service
	RateLimiter    *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOriginList()),
		middleware.Auth(deps.Verifier, healthPath, metricsPath),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: rateLimitGroupDefault,
			GroupFor:     rateLimitGroup,
			Limiter:      deps.RateLimiter,
			Rules: map[string]middleware.RateLimitRule{
				rateLimitGroupDefault: {Rate: 10, Burst: 30},
				rateLimitGroupDedupe:  {Rate: 0.5, Burst: 5},
			},
		}),
	)

	r.GET(metricsPath, metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		status := deps.Health.Check(c.Request.Context())
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})

	if deps.BulletsHandler != nil {
		deps.BulletsHandler.RegisterRoutes(api)
		deps.BulletsHandler.RegisterDedupeRoutes(api)
	}

	return r
}

// rateLimitGroup puts the compute-heavy dedupe routes in their own bucket.
func rateLimitGroup(c *gin.Context) string {
	if c.Request.Method != http.MethodPost {
		return rateLimitGroupDefault
	}
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	if strings.HasPrefix(path, "/api/v1/bullets/dedupe") || path == "/api/v1/bullets/preview" {
		return rateLimitGroupDedupe
	}
	return rateLimitGroupDefault
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
