package gateway

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"murmur/config"
	"murmur/middleware"
)

// ServiceMap holds the upstream base URL for every internal service.
type ServiceMap struct {
	Identity string
	Posts    string
	Media    string
	Search   string
	Notify   string
}

func FromEnv() ServiceMap {
	return ServiceMap{
		Identity: config.Env("IDENTITY_URL", "http://localhost:8081"),
		Posts:    config.Env("POSTS_URL", "http://localhost:8082"),
		Media:    config.Env("MEDIA_URL", "http://localhost:8083"),
		Search:   config.Env("SEARCH_URL", "http://localhost:8084"),
		Notify:   config.Env("NOTIFY_URL", "http://localhost:8085"),
	}
}

func proxyTo(rawURL string) (gin.HandlerFunc, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("❌ Proxy error for %s: %v", r.URL.Path, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"Upstream service unavailable"}`))
	}

	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}

// SetupRouter builds the public edge. All client traffic enters here: CORS,
// throttling, then a straight proxy to the owning service. The counter may
// be nil, which falls back to the in-process limiter.
func SetupRouter(services ServiceMap, counter middleware.Counter) (*gin.Engine, error) {
	router := gin.Default()

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Murmur API is running",
			"time":    time.Now().Unix(),
			"ws":      "WebSocket available at /ws",
		})
	})

	// CORS configuration with WebSocket support
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:8080", "http://127.0.0.1:8080", "http://localhost:5500", "http://127.0.0.1:5500", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if counter != nil {
		router.Use(middleware.RedisRateLimitMiddleware(counter, 60, time.Minute))
	} else {
		router.Use(middleware.RateLimitMiddleware())
	}

	identity, err := proxyTo(services.Identity)
	if err != nil {
		return nil, err
	}
	posts, err := proxyTo(services.Posts)
	if err != nil {
		return nil, err
	}
	media, err := proxyTo(services.Media)
	if err != nil {
		return nil, err
	}
	search, err := proxyTo(services.Search)
	if err != nil {
		return nil, err
	}
	notify, err := proxyTo(services.Notify)
	if err != nil {
		return nil, err
	}

	// Identity
	router.Any("/api/signup", identity)
	router.Any("/api/login", identity)
	router.Any("/api/refresh", identity)
	router.Any("/api/google-auth", identity)
	router.Any("/api/google/auth-url", identity)
	router.Any("/api/google/callback", identity)
	router.Any("/api/me", identity)
	router.Any("/api/user/:id", identity)

	// Posts
	router.Any("/api/post", posts)
	router.Any("/api/post/:id", posts)
	router.Any("/api/feed", posts)
	router.Any("/api/my/posts", posts)
	router.Any("/api/user/:id/posts", posts)

	// Media
	router.Any("/api/media", media)
	router.Any("/api/media/:id", media)

	// Search
	router.Any("/api/search", search)

	// Notifications
	router.Any("/api/vapid-public-key", notify)
	router.Any("/api/subscribe", notify)
	router.Any("/ws", notify)

	// Add a catch-all for undefined API routes
	router.NoRoute(func(c *gin.Context) {
		if len(c.Request.URL.Path) >= 4 && c.Request.URL.Path[:4] == "/api" {
			c.JSON(404, gin.H{
				"error":   "Endpoint not found",
				"path":    c.Request.URL.Path,
				"message": "Check the API documentation for available endpoints",
			})
			return
		}
		c.JSON(404, gin.H{"error": "Not found"})
	})

	return router, nil
}
