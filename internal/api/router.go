package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/dds"
	"github.com/canopytrace/canopytrace/internal/identity"
	"github.com/canopytrace/canopytrace/internal/ledger"
	"github.com/canopytrace/canopytrace/internal/oracle"
)

// RouterConfig holds the HTTP-surface settings.
type RouterConfig struct {
	CORSOrigins  []string
	RateLimitRPS int
	MaxBodyBytes int64
}

// Deps are the wired components the router serves. Pool may be nil when the
// node runs without the satellite oracle.
type Deps struct {
	Ledger     *ledger.Ledger
	Aggregator *dds.Aggregator
	Pool       *oracle.Pool
	Tokens     *identity.TokenIssuer
	Logger     *zap.Logger
}

// NewRouter assembles the full HTTP surface: middleware stack, health and
// metrics endpoints, and the versioned API.
func NewRouter(cfg RouterConfig, deps Deps) *gin.Engine {
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !containsWildcard(cfg.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(SecurityHeaders())
	router.Use(BodyLimit(cfg.MaxBodyBytes))
	if cfg.RateLimitRPS > 0 {
		router.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}
	router.Use(RequestLogger(deps.Logger))
	router.Use(PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", MetricsHandler())

	auth := RequireAuth(deps.Tokens)

	v1 := router.Group("/api/v1")
	NewAuthHandler(deps.Tokens, deps.Logger).Register(v1)
	NewPlotHandler(deps.Ledger, deps.Pool, deps.Logger).Register(v1, auth)
	NewBatchHandler(deps.Ledger, deps.Logger).Register(v1, auth)
	NewVerificationHandler(deps.Ledger, deps.Logger).Register(v1, auth)
	NewDDSHandler(deps.Aggregator, deps.Logger).Register(v1)
	NewJournalHandler(deps.Ledger, deps.Logger).Register(v1)

	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
