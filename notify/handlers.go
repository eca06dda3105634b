package notify

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"murmur/database"
	"murmur/middleware"
)

func GetVapidPublicKey(c *gin.Context) {
	publicKey := os.Getenv("VAPID_PUBLIC_KEY")
	if publicKey == "" {
		c.JSON(http.StatusOK, gin.H{
			"error":   "VAPID public key not configured",
			"message": "Contact administrator",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"publicKey": publicKey,
		"message":   "VAPID public key retrieved successfully",
	})
}

func SubscribePush(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
		Keys     struct {
			P256dh string `json:"p256dh" binding:"required"`
			Auth   string `json:"auth" binding:"required"`
		} `json:"keys" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userIDStr := c.GetString("userId")
	userID, err := primitive.ObjectIDFromHex(userIDStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	subscription := webpush.Subscription{
		Endpoint: req.Endpoint,
		Keys: webpush.Keys{
			P256dh: req.Keys.P256dh,
			Auth:   req.Keys.Auth,
		},
	}

	// Upsert: update if exists, insert if not. The _id stays out of the
	// update so a re-subscribe does not touch the immutable field.
	_, err = database.Subscriptions.UpdateOne(
		ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"userId": userID, "sub": subscription}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		log.Printf("Failed to save subscription: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save subscription"})
		return
	}

	log.Printf("Push subscription saved for user: %s", userID.Hex())
	c.JSON(http.StatusOK, gin.H{
		"message": "Push subscription saved successfully",
		"userId":  userID.Hex(),
	})
}

func SetupRouter(manager *Manager) *gin.Engine {
	router := gin.Default()

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "notify",
			"clients": manager.GetConnectedUsers(),
			"time":    time.Now().Unix(),
		})
	})

	router.GET("/api/vapid-public-key", GetVapidPublicKey)

	router.GET("/ws", middleware.JWTAuthMiddleware(), WebSocketHandler(manager))

	protected := router.Group("/api")
	protected.Use(middleware.JWTAuthMiddleware())

	protected.POST("/subscribe", SubscribePush)

	return router
}
