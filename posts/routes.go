package posts

import (
	"time"

	"github.com/gin-gonic/gin"

	"murmur/middleware"
)

func SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "posts",
			"time":    time.Now().Unix(),
		})
	})

	protected := router.Group("/api")
	protected.Use(middleware.JWTAuthMiddleware())

	protected.POST("/post", CreatePost)
	protected.DELETE("/post/:id", DeletePost)
	protected.GET("/post/:id", GetPost)
	protected.GET("/feed", GetFeed)
	protected.GET("/user/:id/posts", GetUserPosts)
	protected.GET("/my/posts", GetMyPosts)

	return router
}
