package handler

import (
	"net/http"
	"time"

	"ledger-mirror/internal/core/ports"

	"github.com/gin-gonic/gin"
)

type dependencyStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck handles GET /health: a deep check of every dependency.
// Optional stores (Redis, PostgreSQL) only appear when they are enabled.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps := make(map[string]dependencyStatus, len(checkers))
		healthy := true

		for _, checker := range checkers {
			start := time.Now()
			err := checker.Ping(c.Request.Context())
			st := dependencyStatus{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				st.Status = "unhealthy"
				st.Error = err.Error()
				healthy = false
			}
			deps[checker.Name()] = st
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependencies": deps})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "dependencies": deps})
	}
}
