package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"darkpool-indexer/internal/handler"
	"darkpool-indexer/internal/server/routes"
	"darkpool-indexer/pkg/monitor"
	"darkpool-indexer/pkg/validator"
)

// Handlers groups the HTTP handlers the router mounts.
type Handlers struct {
	Health   *handler.HealthHandler
	Accounts *handler.AccountHandler
	Messages *handler.MessageHandler
	Objects  *handler.ObjectHandler
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h Handlers) *gin.Engine {
	// 0. 初始化监控指标与自定义校验
	monitor.Init()
	validator.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", h.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	routes.RegisterAccountRoutes(api, h.Accounts)
	routes.RegisterMessageRoutes(api, h.Messages)
	routes.RegisterObjectRoutes(api, h.Objects)

	return r
}
