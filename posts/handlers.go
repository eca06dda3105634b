package posts

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"murmur/cache"
	"murmur/database"
	"murmur/events"
	"murmur/models"
)

const fallbackAvatar = "https://upload.wikimedia.org/wikipedia/commons/8/89/Portrait_Placeholder.png"

const postCacheTTL = 60 * time.Second

var publisher *events.Publisher
var postCache *cache.Cache

// SetPublisher wires the event publisher. Without one the service still
// serves requests; downstream projections just go stale.
func SetPublisher(p *events.Publisher) {
	publisher = p
}

// SetCache wires the read-through cache for single post lookups.
func SetCache(c *cache.Cache) {
	postCache = c
}

type CreatePostRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content" binding:"required"`
	MediaIDs []string `json:"mediaIds"`
}

func CreatePost(c *gin.Context) {
	var req CreatePostRequest
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

	post := models.Post{
		ID:        primitive.NewObjectID(),
		UserID:    userID,
		Title:     req.Title,
		Content:   req.Content,
		MediaIDs:  req.MediaIDs,
		CreatedAt: time.Now().Unix(),
	}

	if _, err = database.Posts.InsertOne(ctx, post); err != nil {
		log.Printf("CreatePost error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create post"})
		return
	}

	// The post is committed; the event is emitted strictly after. If the
	// broker is down the write stands and projections catch up never, so
	// tell the client something is off without failing the request.
	response := gin.H{
		"message": "Post created successfully",
		"postId":  post.ID.Hex(),
	}
	if err := publishCreated(ctx, post); err != nil {
		log.Printf("⚠️ Failed to publish post.created for %s: %v", post.ID.Hex(), err)
		response["warning"] = "Post saved but indexing is delayed"
	}

	c.JSON(http.StatusCreated, response)
}

func publishCreated(ctx context.Context, post models.Post) error {
	if publisher == nil {
		return nil
	}
	return publisher.PostCreated(ctx, events.PostCreatedPayload{
		PostID:   post.ID.Hex(),
		UserID:   post.UserID.Hex(),
		Title:    post.Title,
		Content:  post.Content,
		MediaIDs: post.MediaIDs,
	})
}

func DeletePost(c *gin.Context) {
	postID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
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

	// Owner check and fetch in one query; the media list rides on the event
	var post models.Post
	err = database.Posts.FindOne(ctx, bson.M{"_id": postID, "userId": userID}).Decode(&post)
	if err == mongo.ErrNoDocuments {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	if err != nil {
		log.Printf("DeletePost error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete post"})
		return
	}

	result, err := database.Posts.DeleteOne(ctx, bson.M{"_id": postID, "userId": userID})
	if err != nil {
		log.Printf("DeletePost error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete post"})
		return
	}
	if result.DeletedCount == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}

	if postCache != nil {
		if err := postCache.Delete(ctx, "post:"+postID.Hex()); err != nil {
			log.Printf("⚠️ Failed to invalidate cache for %s: %v", postID.Hex(), err)
		}
	}

	response := gin.H{"message": "Post deleted successfully"}
	if publisher != nil {
		if err := publisher.PostDeleted(ctx, postID.Hex(), post.MediaIDs); err != nil {
			log.Printf("⚠️ Failed to publish post.deleted for %s: %v", postID.Hex(), err)
			response["warning"] = "Post deleted but cleanup is delayed"
		}
	}

	c.JSON(http.StatusOK, response)
}

func GetPost(c *gin.Context) {
	postID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cacheKey := "post:" + postID.Hex()
	if postCache != nil {
		if cached, ok, err := postCache.Get(ctx, cacheKey); err == nil && ok {
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			return
		}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: postID}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "users"},
			{Key: "localField", Value: "userId"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "user"},
		}}},
		{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$user"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}},
	}

	cursor, err := database.Posts.Aggregate(ctx, pipeline)
	if err != nil {
		log.Printf("GetPost aggregate error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch post"})
		return
	}
	defer cursor.Close(ctx)

	var posts []postWithUser
	if err := cursor.All(ctx, &posts); err != nil {
		log.Printf("GetPost decode error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode post"})
		return
	}
	if len(posts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}

	response := renderPost(posts[0])

	if postCache != nil {
		if body, err := json.Marshal(response); err == nil {
			if err := postCache.Set(ctx, cacheKey, string(body), postCacheTTL); err != nil {
				log.Printf("⚠️ Failed to cache post %s: %v", postID.Hex(), err)
			}
		}
	}

	c.JSON(http.StatusOK, response)
}

type postWithUser struct {
	models.Post `bson:",inline"`
	User        *models.User `bson:"user"`
}

func renderPost(p postWithUser) map[string]interface{} {
	userMap := map[string]interface{}{
		"id":     p.UserID.Hex(),
		"name":   "Unknown User",
		"avatar": fallbackAvatar,
		"status": "offline",
		"bio":    "",
	}

	if p.User != nil {
		if p.User.Name != "" {
			userMap["name"] = p.User.Name
		}
		if p.User.Avatar != "" {
			userMap["avatar"] = p.User.Avatar
		}
		if p.User.Status != "" {
			userMap["status"] = p.User.Status
		}
		if p.User.Bio != "" {
			userMap["bio"] = p.User.Bio
		}
	}

	return map[string]interface{}{
		"id":        p.ID.Hex(),
		"title":     p.Title,
		"content":   p.Content,
		"mediaIds":  p.MediaIDs,
		"createdAt": p.CreatedAt,
		"user":      userMap,
	}
}

func queryPosts(ctx context.Context, match bson.D, limit int64) ([]map[string]interface{}, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "users"},
			{Key: "localField", Value: "userId"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "user"},
		}}},
		{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$user"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}},
	}

	cursor, err := database.Posts.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var posts []postWithUser
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, err
	}

	response := make([]map[string]interface{}, len(posts))
	for i, p := range posts {
		response[i] = renderPost(p)
	}
	return response, nil
}

// GetFeed returns recent posts by everyone except the caller.
func GetFeed(c *gin.Context) {
	userID, err := primitive.ObjectIDFromHex(c.GetString("userId"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	response, err := queryPosts(ctx, bson.D{{Key: "userId", Value: bson.D{{Key: "$ne", Value: userID}}}}, 50)
	if err != nil {
		log.Printf("GetFeed error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch posts"})
		return
	}

	c.JSON(http.StatusOK, response)
}

func GetUserPosts(c *gin.Context) {
	userID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	response, err := queryPosts(ctx, bson.D{{Key: "userId", Value: userID}}, 100)
	if err != nil {
		log.Printf("GetUserPosts error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch posts"})
		return
	}

	c.JSON(http.StatusOK, response)
}

func GetMyPosts(c *gin.Context) {
	userID, err := primitive.ObjectIDFromHex(c.GetString("userId"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	response, err := queryPosts(ctx, bson.D{{Key: "userId", Value: userID}}, 100)
	if err != nil {
		log.Printf("GetMyPosts error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch posts"})
		return
	}

	c.JSON(http.StatusOK, response)
}
