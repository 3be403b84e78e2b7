package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// InternalAuth 保护只供邮件服务器调用的内部接口
type InternalAuth struct {
	token atomic.Pointer[string]
}

// NewInternalAuth 创建内部接口认证中间件，令牌为空时拒绝所有请求
func NewInternalAuth(token string) *InternalAuth {
	m := &InternalAuth{}
	m.SetToken(token)
	return m
}

// SetToken 替换令牌，配置热更新时调用
func (m *InternalAuth) SetToken(token string) {
	m.token.Store(&token)
}

// RequireToken 要求 Authorization: Bearer <token>
func (m *InternalAuth) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := *m.token.Load()

		given, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || expected == "" || subtle.ConstantTimeCompare([]byte(given), []byte(expected)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "Unauthorized",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
