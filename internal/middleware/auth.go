// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"recetario-go/pkg/log"
	"recetario-go/pkg/token"
)

// SessionIDKey 是会话 ID 在 Gin 上下文中的键。
const SessionIDKey = "sessionID"

// SessionAuth 创建一个 Gin 中间件，校验聊天会话令牌。
// 令牌从 "Authorization: Bearer <token>" 请求头中提取，校验通过后会话 ID 存入 Gin 上下文。
func SessionAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头", "data": nil})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式", "data": nil})
			return
		}

		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			log.Warnf("[SessionAuth] 会话令牌校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的会话令牌", "data": nil})
			return
		}

		c.Set(SessionIDKey, claims.SessionID)
		c.Next()
	}
}

// SessionID 返回 SessionAuth 写入的会话 ID。
func SessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}
