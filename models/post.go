package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type Post struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	Title     string             `bson:"title" json:"title"`
	Content   string             `bson:"content" json:"content"`
	MediaIDs  []string           `bson:"mediaIds" json:"mediaIds"`
	CreatedAt int64              `bson:"createdAt" json:"createdAt"`
}
