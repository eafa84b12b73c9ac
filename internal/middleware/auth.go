// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"codelens-go/internal/repository"
	"codelens-go/pkg/log"
	"codelens-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// ContextUserID 是认证通过后用户 ID 在 gin.Context 中的键。
const ContextUserID = "userID"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 令牌由外部认证服务签发；校验通过后确保本地存在对应的用户（首次出现时发放初始积分），并把用户 ID 存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager, users repository.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		user, err := users.Ensure(c.Request.Context(), claims.UserID, claims.Email)
		if err != nil {
			log.Errorf("[Auth] 加载用户失败, user: %s, error: %v", claims.UserID, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Next()
	}
}
