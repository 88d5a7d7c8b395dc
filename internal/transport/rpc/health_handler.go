package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/pool"
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc/envelope"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

type HealthHandler struct {
	pool PoolStatuser
	docs Pinger
}

func NewHealthHandler(p PoolStatuser, docs Pinger) *HealthHandler {
	return &HealthHandler{pool: p, docs: docs}
}

type HealthResponse struct {
	Pool     *pool.Status `json:"pool"`
	DocStore string       `json:"docStore,omitempty"`
}

// Index состояние пула не меняет: пул не строится ради проверки здоровья.
func (h *HealthHandler) Index(c *gin.Context) {
	var resp HealthResponse
	healthy := true

	if h.pool != nil {
		status := h.pool.Status()
		resp.Pool = &status
		healthy = status.State != pool.StateClosed
	}
	if h.docs != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		resp.DocStore = "up"
		if err := h.docs.Ping(ctx); err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypePrivate)
			resp.DocStore = "down"
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, envelope.Body{OK: healthy, Data: resp})
}
