package api

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthCheck 健康检查
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "DevFlow",
		})
	}
}

// ReadinessCheck 就绪检查，包含数据库连通性结果
// db 为 nil 时（纯 Redis 存储部署）只报告自身就绪
func ReadinessCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(200, gin.H{"status": "ready"})
			return
		}
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(503, gin.H{
				"status": "not_ready",
				"reason": "database connection error",
			})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(503, gin.H{
				"status":   "not_ready",
				"database": "unreachable",
			})
			return
		}
		c.JSON(200, gin.H{"status": "ready", "database": "ok"})
	}
}

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func stringInSlice(s string, list []string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func defaultIfEmpty(list, fallback []string) []string {
	if len(list) == 0 {
		return fallback
	}
	return list
}
