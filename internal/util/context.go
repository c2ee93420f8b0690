package util

import (
	"tinkerfai_backend/internal/model"

	"github.com/gin-gonic/gin"
)

// GetUserFromContext 读取认证中间件写入的用户
func GetUserFromContext(c *gin.Context) *model.User {
	v, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	user, ok := v.(*model.User)
	if !ok {
		return nil
	}
	return user
}

func SetUser(c *gin.Context, user *model.User, accessToken string) {
	c.Set(ContextUserKey, user)
	c.Set(ContextTokenKey, accessToken)
}
