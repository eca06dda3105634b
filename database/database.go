package database

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"murmur/config"
)

var Client *mongo.Client
var Users *mongo.Collection
var Posts *mongo.Collection
var Media *mongo.Collection
var SearchIndex *mongo.Collection
var AppliedEvents *mongo.Collection
var Subscriptions *mongo.Collection

// ConnectMongo connects the process to MongoDB and binds the collection
// handles. Every service connects to the same deployment but only ever writes
// the collections it owns.
func ConnectMongo() error {
	uri := config.MongoURI()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	Client, err = mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}

	if err := Client.Ping(ctx, nil); err != nil {
		return err
	}

	db := Client.Database(config.MongoDB())
	Users = db.Collection("users")
	Posts = db.Collection("posts")
	Media = db.Collection("media")
	SearchIndex = db.Collection("search_index")
	AppliedEvents = db.Collection("applied_events")
	Subscriptions = db.Collection("subscriptions")

	log.Println("Connected to MongoDB successfully")
	return nil
}

func DisconnectMongo() error {
	if Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := Client.Disconnect(ctx); err != nil {
		return err
	}

	log.Println("Disconnected from MongoDB")
	return nil
}
