package routes

import (
	"github.com/gin-gonic/gin"

	"darkpool-indexer/internal/handler"
)

func RegisterAccountRoutes(rg *gin.RouterGroup, h *handler.AccountHandler) {
	accountGroup := rg.Group("/accounts")
	{
		accountGroup.GET("/:id/state", h.GetState)
		accountGroup.POST("/:id/backfill", h.Backfill)
	}
}
