package routes

import (
	"github.com/gin-gonic/gin"

	"darkpool-indexer/internal/handler"
)

func RegisterMessageRoutes(rg *gin.RouterGroup, h *handler.MessageHandler) {
	rg.POST("/messages", h.Submit)
}
