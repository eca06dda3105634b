package notify

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var vapidPrivateKey string

func init() {
	// Initialize VAPID keys if not set in environment
	if os.Getenv("VAPID_PUBLIC_KEY") == "" || os.Getenv("VAPID_PRIVATE_KEY") == "" {
		publicKey, privateKey, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			log.Printf("Failed to generate VAPID keys: %v", err)
			return
		}

		os.Setenv("VAPID_PUBLIC_KEY", publicKey)
		os.Setenv("VAPID_PRIVATE_KEY", privateKey)

		log.Println("⚠️  Generated new VAPID keys - for production, set these as environment variables:")
		log.Printf("   VAPID_PUBLIC_KEY: %s", publicKey)
		log.Printf("   VAPID_PRIVATE_KEY: %s", privateKey)
	}

	vapidPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
}

type PushSubscription struct {
	ID     primitive.ObjectID   `bson:"_id,omitempty"`
	UserID primitive.ObjectID   `bson:"userId"`
	Sub    webpush.Subscription `bson:"sub"`
}

// Pusher delivers a notification to every subscribed browser except the
// author's.
type Pusher interface {
	NotifyAll(ctx context.Context, exceptUserID, title, body string) error
}

type WebPusher struct {
	coll *mongo.Collection
}

func NewWebPusher(coll *mongo.Collection) *WebPusher {
	return &WebPusher{coll: coll}
}

// NotifyAll pushes to each stored subscription. Individual delivery failures
// are logged, not returned: retrying the whole batch would re-push to every
// browser that already got it.
func (p *WebPusher) NotifyAll(ctx context.Context, exceptUserID, title, body string) error {
	cursor, err := p.coll.Find(ctx, bson.M{})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var subs []PushSubscription
	if err := cursor.All(ctx, &subs); err != nil {
		return err
	}

	for _, sub := range subs {
		if sub.UserID.Hex() == exceptUserID {
			continue
		}
		p.send(ctx, sub, title, body)
	}
	return nil
}

func (p *WebPusher) send(ctx context.Context, sub PushSubscription, title, body string) {
	payload := map[string]interface{}{
		"title": title,
		"body":  body,
		"data": map[string]interface{}{
			"url":       "/feed.html",
			"timestamp": time.Now().Unix(),
		},
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal push payload: %v", err)
		return
	}

	resp, err := webpush.SendNotification(payloadBytes, &sub.Sub, &webpush.Options{
		Subscriber:      "mailto:admin@murmur.app",
		VAPIDPrivateKey: vapidPrivateKey,
		TTL:             30,
	})
	if err != nil {
		log.Printf("Failed to send push notification to user %s: %v", sub.UserID.Hex(), err)

		// If subscription is invalid (410), delete it
		if resp != nil && resp.StatusCode == 410 {
			log.Printf("Push subscription expired for user %s, deleting...", sub.UserID.Hex())
			if _, delErr := p.coll.DeleteOne(ctx, bson.M{"_id": sub.ID}); delErr != nil {
				log.Printf("Failed to delete expired subscription: %v", delErr)
			}
		}
		return
	}
	resp.Body.Close()
}
