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

	"murmur/config"
	"murmur/database"
	"murmur/events"
	"murmur/search"
)

func main() {
	log.Println("🚀 Starting Murmur Search Service...")

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

	// ===== PROJECTION STORES =====
	setupCtx, setupCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer setupCancel()

	store, err := search.NewMongoStore(setupCtx, database.SearchIndex, config.EnvDuration("SEARCH_TOMBSTONE_TTL", 168*time.Hour))
	if err != nil {
		log.Fatal("❌ Failed to prepare search index:", err)
	}
	search.SetStore(store)

	dedup, err := events.NewMongoDedup(setupCtx, database.AppliedEvents, config.EnvDuration("DEDUP_RETENTION", 168*time.Hour))
	if err != nil {
		log.Fatal("❌ Failed to prepare dedup store:", err)
	}

	// ===== EVENT BROKER =====
	// A projection without its event stream serves stale data forever, so
	// an unreachable broker at boot is fatal.
	broker, err := events.ConnectAMQP(config.AMQPURL(), config.Exchange())
	if err != nil {
		log.Fatal("❌ Failed to connect to event broker:", err)
	}

	log.Println("✅ Event broker connected")

	consumer := search.NewConsumer(store, dedup)
	if err := consumer.Start(broker); err != nil {
		log.Fatal("❌ Failed to start search consumer:", err)
	}

	log.Println("✅ Consuming post events on queue search.index")

	// ===== GIN MODE =====
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
		log.Println("⚙️ Running in RELEASE mode")
	} else {
		gin.SetMode(gin.DebugMode)
		log.Println("⚙️ Running in DEBUG mode")
	}

	// ===== ROUTER =====
	router := search.SetupRouter()

	// ===== SERVER CONFIG =====
	port := config.Port("8084")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Search service running on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Server error:", err)
		}
	}()

	log.Println("✅ Search service is ready and accepting connections")

	// ===== GRACEFUL SHUTDOWN =====
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down search service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Println("❌ Forced shutdown:", err)
	}

	if err := broker.Close(); err != nil {
		log.Println("⚠️ Broker close error:", err)
	}

	if err := database.DisconnectMongo(); err != nil {
		log.Println("⚠️ MongoDB disconnect error:", err)
	}

	log.Println("👋 Search service stopped gracefully")
}
