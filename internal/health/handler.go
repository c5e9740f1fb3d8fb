package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes: ロードバランサ用。認証の外に置く
func RegisterRoutes(r gin.IRoutes, version string) {
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version})
	})
}
