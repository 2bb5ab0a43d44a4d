package api

import (
	"context"
	"net/http"
	"os"
	"strings"

	response "ragchat/api/handlers/common"
	"ragchat/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Counter 返回索引中的分块数
type Counter interface {
	Count() int
}

// Pinger 检查存储连接
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck 健康检查
// GET /health
// 数据库不可用时返回 503
func HealthCheck(index Counter, db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := response.HealthResponse{
			Status:        "healthy",
			VectorDBCount: index.Count(),
			Database:      "ok",
		}
		if err := db.Ping(c.Request.Context()); err != nil {
			logger.WithContext(c.Request.Context()).Warn("健康检查: 数据库不可用", zap.Error(err))
			resp.Status = "unhealthy"
			resp.Database = "unavailable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// --- 环境变量辅助函数 ---

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var res []string
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

// stringInSlice 判断字符串是否存在于切片中
func stringInSlice(target string, list []string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// defaultIfEmpty 返回非空列表或默认值
func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
