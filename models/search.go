package models

import "time"

// SearchDoc is the search service's projection of a post, keyed by the post id.
// A deleted post leaves a tombstone behind so that a late-arriving
// post.created cannot resurrect it; tombstones age out via a TTL index on
// DeletedAt.
type SearchDoc struct {
	PostID    string     `bson:"_id" json:"postId"`
	UserID    string     `bson:"userId" json:"userId"`
	Title     string     `bson:"title" json:"title"`
	Content   string     `bson:"content" json:"content"`
	IndexedAt time.Time  `bson:"indexedAt" json:"indexedAt"`
	Deleted   bool       `bson:"deleted,omitempty" json:"-"`
	DeletedAt *time.Time `bson:"deletedAt,omitempty" json:"-"`
}
