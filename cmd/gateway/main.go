package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"murmur/cache"
	"murmur/config"
	"murmur/gateway"
	"murmur/middleware"
)

func main() {
	log.Println("🚀 Starting Murmur Gateway...")

	config.Load()

	// ===== RATE LIMIT COUNTER =====
	var counter middleware.Counter
	redisCache := cache.New(config.RedisAddr(), config.RedisPassword(), config.RedisDB())
	if err := redisCache.Ping(context.Background()); err != nil {
		log.Printf("⚠️ Redis not available, using in-process rate limiter: %v", err)
	} else {
		log.Println("✅ Redis connected, rate limiting is shared across replicas")
		counter = redisCache
	}

	// ===== GIN MODE =====
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
		log.Println("⚙️ Running in RELEASE mode")
	} else {
		gin.SetMode(gin.DebugMode)
		log.Println("⚙️ Running in DEBUG mode")
	}

	// ===== ROUTER =====
	services := gateway.FromEnv()
	router, err := gateway.SetupRouter(services, counter)
	if err != nil {
		log.Fatal("❌ Failed to build gateway router:", err)
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "Murmur Gateway Running 🚀",
			"service": "healthy",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.String(200, "OK")
	})

	log.Printf("🔀 Proxying: identity=%s posts=%s media=%s search=%s notify=%s",
		services.Identity, services.Posts, services.Media, services.Search, services.Notify)

	// ===== SERVER CONFIG =====
	port := config.Port("8080")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Gateway running on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Server error:", err)
		}
	}()

	log.Println("✅ Gateway is ready and accepting connections")

	// ===== GRACEFUL SHUTDOWN =====
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Println("❌ Forced shutdown:", err)
	}

	if err := redisCache.Close(); err != nil {
		log.Println("⚠️ Redis close error:", err)
	}

	log.Println("👋 Gateway stopped gracefully")
}
