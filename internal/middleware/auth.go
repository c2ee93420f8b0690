package middleware

import (
	"context"
	"strings"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenValidator 由身份服务实现，每次请求都远程校验
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (*model.User, error)
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			util.Error(c, 401, "Missing or invalid authorization header")
			c.Abort()
			return
		}

		user, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			logger.Log.Debug("Token rejected", zap.String("path", c.FullPath()), zap.Error(err))
			util.Error(c, 401, "Invalid or expired token")
			c.Abort()
			return
		}

		util.SetUser(c, user, token)
		c.Next()
	}
}
