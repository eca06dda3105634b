package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Media is owned by the media service. PostID is a cross-service reference and
// stays a plain string: it is empty until the client attaches the upload to a
// post, and the cleanup consumer matches on it when a post is deleted.
type Media struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     primitive.ObjectID `bson:"userId" json:"userId"`
	PostID     string             `bson:"postId,omitempty" json:"postId,omitempty"`
	PublicID   string             `bson:"publicId" json:"publicId"`
	StorageURL string             `bson:"storageUrl" json:"storageUrl"`
	CreatedAt  int64              `bson:"createdAt" json:"createdAt"`
}
