package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Tohoso/ai-fortune-service/pkg/ginx"
)

// AdminAuth 管理 API 认证中间件（Bearer トークン）
// トークン未設定（空文字）の場合は管理 API 全体を閉じる
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.JSON(http.StatusForbidden, ginx.Response{Success: false, Error: "admin api is disabled"})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			ginx.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}

		presented := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.JSON(http.StatusForbidden, ginx.Response{Success: false, Error: "permission denied"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// APITokenAuth ワーカー API 认证中间件（X-Api-Token ヘッダ）
func APITokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-Api-Token")
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			ginx.Unauthorized(c, "invalid api token")
			c.Abort()
			return
		}

		c.Next()
	}
}
