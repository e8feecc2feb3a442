package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"darkpool-indexer/internal/handler/response"
	"darkpool-indexer/pkg/errno"
	"darkpool-indexer/pkg/logger"
)

// Pinger is satisfied by *store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthCheck 检查数据库连通性，失败返回 503
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		logger.Warn("Health check failed", zap.Error(err))
		response.ErrorWithStatus(c, http.StatusServiceUnavailable, errno.ErrDatabase)
		return
	}
	response.Success(c, gin.H{
		"status":  "UP",
		"service": "darkpool-indexer",
	})
}
