package utils

import (
	"FetchVault/config"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WorkerKeyMiddleware gates operational endpoints behind a shared key.
// With no key configured the endpoints are open, which suits local use.
func WorkerKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := config.AppConfig.WorkerKey
		if expected == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Worker-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
