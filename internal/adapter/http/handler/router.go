package handler

import (
	"ledger-mirror/internal/adapter/http/middleware"
	redisStore "ledger-mirror/internal/adapter/storage/redis"
	"ledger-mirror/internal/core/ports"
	"ledger-mirror/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Mirror         ports.MirrorService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(16 << 10))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/metrics", metrics.Handler())

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	h := NewMirrorHandler(deps.Mirror)
	v1 := r.Group("/api/v1")

	v1.GET("/view", rl("read"), h.GetView)
	v1.GET("/events", rl("events"), h.StreamEvents)
	v1.POST("/wallet/connect", rl("connect"), h.Connect)

	ledger := v1.Group("/ledger", rl("read"))
	{
		ledger.GET("/summary", h.GetSummary)
		ledger.GET("/entries", h.ListEntries)
		ledger.GET("/archive", h.ListArchive)
	}

	transactions := v1.Group("/transactions")
	{
		transactions.GET("", rl("read"), h.ListTransactions)
		transactions.POST("/append", rl("submit"), h.SubmitAppend)
		transactions.POST("/withdraw", rl("submit"), h.SubmitWithdraw)
		transactions.DELETE("/:client_id", rl("read"), h.Dismiss)
	}

	return r
}
