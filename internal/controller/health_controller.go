package controller

import (
	"context"
	"net/http"
	"time"
	"tinkerfai_backend/internal/repository"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type HealthController struct {
	Store  repository.Store
	Driver string
}

func NewHealthController(store repository.Store, driver string) *HealthController {
	return &HealthController{Store: store, Driver: driver}
}

// @Summary 健康检查
// @Description 检查服务状态
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Router /api/health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	// 检查存储连接
	if err := c.Store.Ping(pingCtx); err != nil {
		logger.Log.Warn("Store ping failed", zap.String("driver", c.Driver), zap.Error(err))
		util.Error(ctx, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	util.Success(ctx, gin.H{
		"status": "ok",
		"components": gin.H{
			"store": gin.H{"driver": c.Driver, "status": "up"},
		},
	})
}
