package search

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"murmur/middleware"
)

var store Store

// SetStore wires the index implementation the HTTP handlers read from.
func SetStore(s Store) {
	store = s
}

func SearchPosts(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter q is required"})
		return
	}

	limit := int64(20)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		if n > 50 {
			n = 50
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	docs, err := store.Search(ctx, query, limit)
	if err != nil {
		log.Printf("SearchPosts error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}

	results := make([]gin.H, len(docs))
	for i, doc := range docs {
		results[i] = gin.H{
			"postId":    doc.PostID,
			"userId":    doc.UserID,
			"title":     doc.Title,
			"content":   doc.Content,
			"indexedAt": doc.IndexedAt.Unix(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": results,
	})
}

func SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "search",
			"time":    time.Now().Unix(),
		})
	})

	protected := router.Group("/api")
	protected.Use(middleware.JWTAuthMiddleware())

	protected.GET("/search", SearchPosts)

	return router
}
