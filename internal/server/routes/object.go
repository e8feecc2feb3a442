package routes

import (
	"github.com/gin-gonic/gin"

	"darkpool-indexer/internal/handler"
)

func RegisterObjectRoutes(rg *gin.RouterGroup, h *handler.ObjectHandler) {
	rg.GET("/objects/:recovery_id", h.GetObject)
}
