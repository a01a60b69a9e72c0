// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"protoforge/internal/model"
	"protoforge/pkg/log"
	"protoforge/pkg/token"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserLookup 根据用户名加载用户。
type UserLookup interface {
	GetProfile(username string) (*model.User, error)
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// token 来自 "Authorization: Bearer <token>" 请求头；WebSocket 握手无法携带请求头时使用 ?token= 查询参数。
// 认证成功后将 *model.User 存入上下文的 "user" 键，claims 存入 "claims" 键。
func AuthMiddleware(jwtManager *token.JWTManager, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含有效的授权信息", "data": nil})
			return
		}

		claims, err := jwtManager.VerifyAccessToken(tokenString)
		if err != nil {
			log.Warnf("[Auth] token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token", "data": nil})
			return
		}

		user, err := users.GetProfile(claims.Username)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "用户不存在", "data": nil})
			return
		}

		c.Set("user", user)
		c.Set("claims", claims)
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			return "", false
		}
		t := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
		return t, t != ""
	}
	if t := c.Query("token"); t != "" {
		return t, true
	}
	return "", false
}
