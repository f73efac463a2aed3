// README: Liveness and dependency health checks.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const pingTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	redis    Pinger
	db       Pinger
	sessions func() int
}

// NewHealthHandler takes nil pingers for dependencies that are not wired.
func NewHealthHandler(redis, db Pinger, sessions func() int) *HealthHandler {
	return &HealthHandler{redis: redis, db: db, sessions: sessions}
}

func (h *HealthHandler) Live(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.sessions != nil {
		body["activeSessions"] = h.sessions()
	}
	writeJSON(c, http.StatusOK, body)
}

func (h *HealthHandler) Redis(c *gin.Context) { h.check(c, h.redis) }

func (h *HealthHandler) DB(c *gin.Context) { h.check(c, h.db) }

func (h *HealthHandler) check(c *gin.Context, p Pinger) {
	if p == nil {
		writeJSON(c, http.StatusOK, gin.H{"status": "disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		writeJSON(c, http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
