package identity

import (
	"time"

	"github.com/gin-gonic/gin"

	"murmur/middleware"
)

// SetupRouter builds the identity service router. CORS and throttling live on
// the gateway; this service only ever sees proxied traffic.
func SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "identity",
			"time":    time.Now().Unix(),
		})
	})

	// Public routes (no auth required)
	router.POST("/api/signup", Signup)
	router.POST("/api/login", Login)
	router.POST("/api/refresh", Refresh)

	// Google OAuth routes
	router.GET("/api/google/auth-url", GetGoogleAuthURL)
	router.GET("/api/google/callback", GoogleOAuthCallback)
	router.POST("/api/google-auth", GoogleAuthWithCredential)

	// Protected routes group
	protected := router.Group("/api")
	protected.Use(middleware.JWTAuthMiddleware())

	protected.GET("/me", GetMe)
	protected.PUT("/me", UpdateMe)
	protected.GET("/user/:id", GetUser)

	return router
}
