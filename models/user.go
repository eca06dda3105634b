package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash *string            `bson:"passwordHash,omitempty" json:"-"`
	AuthProvider string             `bson:"authProvider" json:"authProvider"`
	GoogleID     *string            `bson:"googleId,omitempty" json:"-"`

	Username string `bson:"username" json:"username"`
	Name     string `bson:"name" json:"name"`
	Avatar   string `bson:"avatar" json:"avatar"`
	Bio      string `bson:"bio" json:"bio"`
	Status   string `bson:"status" json:"status"`

	// Refresh token rotation: the stored token is replaced every time it is
	// redeemed, so a leaked token works at most once.
	RefreshToken       string `bson:"refreshToken,omitempty" json:"-"`
	RefreshTokenExpiry int64  `bson:"refreshTokenExpiry,omitempty" json:"-"`

	CreatedAt int64 `bson:"createdAt" json:"createdAt"`
	LastSeen  int64 `bson:"lastSeen" json:"lastSeen"`
}
