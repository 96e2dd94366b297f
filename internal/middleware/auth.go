package middleware

import (
	"net/http"
	"shorturl-analytics/internal/model"
	auth "shorturl-analytics/pkg/jwt"
	"strings"

	"github.com/gin-gonic/gin"
)

// 上下文中的用户信息键
const (
	UserIDKey   = "user_id"
	UsernameKey = "username"
	RoleKey     = "role"
)

// AuthMiddleware JWT认证中间件，缺少或无效令牌时返回 401
func AuthMiddleware(jwtManager *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
			return
		}
		if !setClaims(c, jwtManager, tokenString) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的认证令牌"})
			return
		}
		c.Next()
	}
}

// OptionalAuth 有合法令牌时写入用户信息，否则以匿名身份继续
func OptionalAuth(jwtManager *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString, ok := bearerToken(c); ok {
			setClaims(c, jwtManager, tokenString)
		}
		c.Next()
	}
}

// AdminMiddleware 管理员权限中间件，需放在 AuthMiddleware 之后
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleKey) != model.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "需要管理员权限"})
			return
		}
		c.Next()
	}
}

// CurrentUsername 当前登录用户名，匿名时为空
func CurrentUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func setClaims(c *gin.Context, jwtManager *auth.TokenManager, tokenString string) bool {
	claims, err := jwtManager.ValidateToken(tokenString)
	if err != nil {
		return false
	}
	c.Set(UserIDKey, claims.UserID)
	c.Set(UsernameKey, claims.Username)
	c.Set(RoleKey, claims.Role)
	return true
}
