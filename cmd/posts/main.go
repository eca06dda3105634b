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
	"murmur/database"
	"murmur/events"
	"murmur/posts"
)

func main() {
	log.Println("🚀 Starting Murmur Posts Service...")

	config.Load()

	// ===== REQUIRED ENV VARIABLES =====
	jwt := os.Getenv("JWT_SECRET")
	mongo := os.Getenv("MONGODB_URI")

	if jwt == "" || mongo == "" {
		log.Fatal("❌ JWT_SECRET and MONGODB_URI must be set")
	}

	// ===== CONNECT TO MONGODB WITH RETRY =====
	log.Println("🔌 Connecting to MongoDB...")

	var dbErr error
	for i := 1; i <= 3; i++ {
		if err := database.ConnectMongo(); err != nil {
			dbErr = err
			log.Printf("❌ MongoDB connection attempt %d failed: %v", i, err)
			time.Sleep(2 * time.Second)
			continue
		}
		dbErr = nil
		break
	}

	if dbErr != nil {
		log.Fatal("❌ Failed to connect to MongoDB:", dbErr)
	}

	log.Println("✅ MongoDB connected successfully")

	// ===== EVENT BROKER =====
	// Posts must stay writable when the broker is down; publishing simply
	// degrades to the logged warning path.
	var broker *events.AMQPBroker
	broker, err := events.ConnectAMQP(config.AMQPURL(), config.Exchange())
	if err != nil {
		log.Printf("⚠️ Event broker unavailable, posts will not be indexed: %v", err)
		broker = nil
	} else {
		log.Println("✅ Event broker connected")
		posts.SetPublisher(events.NewPublisher(broker))
	}

	// ===== CACHE =====
	redisCache := cache.New(config.RedisAddr(), config.RedisPassword(), config.RedisDB())
	if err := redisCache.Ping(context.Background()); err != nil {
		log.Printf("⚠️ Redis not available, post lookups go to MongoDB: %v", err)
	} else {
		log.Println("✅ Redis connected")
		posts.SetCache(redisCache)
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
	router := posts.SetupRouter()

	// ===== SERVER CONFIG =====
	port := config.Port("8082")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Posts service running on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Server error:", err)
		}
	}()

	log.Println("✅ Posts service is ready and accepting connections")

	// ===== GRACEFUL SHUTDOWN =====
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down posts service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Println("❌ Forced shutdown:", err)
	}

	if broker != nil {
		if err := broker.Close(); err != nil {
			log.Println("⚠️ Broker close error:", err)
		}
	}

	if err := redisCache.Close(); err != nil {
		log.Println("⚠️ Redis close error:", err)
	}

	if err := database.DisconnectMongo(); err != nil {
		log.Println("⚠️ MongoDB disconnect error:", err)
	}

	log.Println("👋 Posts service stopped gracefully")
}
