package api

import (
	"ragchat/api/handlers/chat"
	"ragchat/api/handlers/documents"
	"ragchat/internal/config"
	"ragchat/internal/history"
	"ragchat/internal/metrics"
	middlewarepkg "ragchat/internal/middleware"
	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies 路由依赖
type Dependencies struct {
	Config    *config.Config
	RAG       *rag.RAGService
	Store     *history.Store
	SessionID string                    // 未携带 session_id 的提问归入该会话
	Limiter   *middlewarepkg.RateLimiter // 为 nil 时不限流
}

// SetupRouter 创建 Gin 路由并注册中间件与全部接口
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middlewarepkg.RequestIDMiddleware(),
		RequestLogger(),
		CORS(),
		metrics.PrometheusMiddleware(),
	)

	router.GET("/health", HealthCheck(deps.RAG, deps.Store))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, deps)
	return router
}

// RegisterRoutes 注册业务路由
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	maxUpload := int64(deps.Config.Server.MaxUploadMB) << 20
	docHandler := documents.NewHandler(deps.RAG, deps.Store, deps.Config.RAG.UploadDir, maxUpload)
	chatHandler := chat.NewHandler(deps.RAG, deps.Store, deps.SessionID, deps.Config.RAG.TopK)

	limit := middlewarepkg.RateLimitMiddleware(deps.Limiter)

	router.POST("/upload-pdf", limit, docHandler.Upload)
	router.GET("/documents", docHandler.List)

	router.POST("/ask", limit, chatHandler.Ask)
	router.GET("/history", chatHandler.History)
	router.DELETE("/clear", chatHandler.Clear)
}
