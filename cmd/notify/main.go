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
	"murmur/notify"
)

func main() {
	log.Println("🚀 Starting Murmur Notify Service...")

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

	// ===== WEBSOCKET =====
	log.Println("🔌 Initializing WebSocket manager...")
	manager := notify.NewManager()
	go manager.Start()

	log.Println("✅ WebSocket endpoint: /ws")

	// ===== FANOUT DEPENDENCIES =====
	setupCtx, setupCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer setupCancel()

	dedup, err := events.NewMongoDedup(setupCtx, database.AppliedEvents, config.EnvDuration("DEDUP_RETENTION", 168*time.Hour))
	if err != nil {
		log.Fatal("❌ Failed to prepare dedup store:", err)
	}

	pusher := notify.NewWebPusher(database.Subscriptions)

	// ===== EVENT BROKER =====
	broker, err := events.ConnectAMQP(config.AMQPURL(), config.Exchange())
	if err != nil {
		log.Fatal("❌ Failed to connect to event broker:", err)
	}

	log.Println("✅ Event broker connected")

	consumer := notify.NewConsumer(manager, pusher, dedup)
	if err := consumer.Start(broker); err != nil {
		log.Fatal("❌ Failed to start notify consumer:", err)
	}

	log.Println("✅ Consuming post events on queue notify.fanout")

	// ===== GIN MODE =====
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
		log.Println("⚙️ Running in RELEASE mode")
	} else {
		gin.SetMode(gin.DebugMode)
		log.Println("⚙️ Running in DEBUG mode")
	}

	// ===== ROUTER =====
	router := notify.SetupRouter(manager)

	// ===== SERVER CONFIG =====
	port := config.Port("8085")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Notify service running on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Server error:", err)
		}
	}()

	log.Println("✅ Notify service is ready and accepting connections")

	// ===== GRACEFUL SHUTDOWN =====
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down notify service...")

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

	log.Println("👋 Notify service stopped gracefully")
}
