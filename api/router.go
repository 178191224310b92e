package api

import (
	"backend/api/handlers/pipelines"
	"backend/internal/config"
	"backend/internal/middleware"
	"backend/internal/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// NewRouter 构建 HTTP 路由
// db 仅用于就绪检查，纯 Redis 存储部署时可传 nil
func NewRouter(cfg *config.ServerConfig, engine *orchestrator.Engine, db *gorm.DB) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(Metrics())
	r.Use(CORS())

	r.GET("/health", HealthCheck())
	r.GET("/ready", ReadinessCheck(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := pipelines.NewHandler(engine)
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	apiGroup := r.Group("/api")
	apiGroup.Use(middleware.RateLimitMiddleware(limiter))
	{
		apiGroup.POST("/pipelines", h.StartPipeline)
		apiGroup.GET("/pipelines/:id", h.GetPipeline)
		apiGroup.POST("/pipelines/:id/phases/:phaseId/approval", h.HandleApproval)
		apiGroup.GET("/approvals", h.ListPendingApprovals)
		apiGroup.GET("/templates", h.ListTemplates)
	}

	return r
}
