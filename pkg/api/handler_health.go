package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/third-eye/thirdeye/pkg/database"
	"github.com/third-eye/thirdeye/pkg/version"
)

const healthProbeTimeout = 5 * time.Second

// handleHealth reports liveness plus a database snapshot. It stays 200 as
// long as the process can answer; readiness is the stricter probe.
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": "third-eye",
		"version": version.Full(),
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()

		dbHealth, err := database.Health(ctx, s.db.DB())
		body["database"] = dbHealth
		if err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}

	c.JSON(http.StatusOK, body)
}

// handleReady reports readiness: the database and the LLM provider must
// both answer. A provider outage shows up as llm:false with 503, telling
// the bridge to hold traffic.
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	checks := gin.H{
		"database": true,
		"llm":      true,
	}
	ready := true

	if s.db != nil {
		if _, err := database.Health(ctx, s.db.DB()); err != nil {
			checks["database"] = false
			ready = false
		}
	}

	if s.provider == nil {
		checks["llm"] = false
		ready = false
	} else if err := s.provider.Healthy(ctx); err != nil {
		checks["llm"] = false
		ready = false
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
