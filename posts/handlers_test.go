package posts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"murmur/database"
	"murmur/events"
	"murmur/middleware"
)

func requireMongo(t *testing.T) {
	t.Helper()
	t.Setenv("MONGO_DB", "murmur_test")
	if err := database.ConnectMongo(); err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = database.Posts.Drop(ctx)
		_ = database.DisconnectMongo()
	})
}

func authToken(t *testing.T, userID string) string {
	t.Helper()
	claims := &middleware.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

// capture subscribes to both post event streams and records envelopes.
type capture struct {
	mu        sync.Mutex
	envelopes []*events.Envelope
}

func (cap *capture) install(t *testing.T, broker *events.MemoryBroker) {
	t.Helper()
	err := broker.Subscribe(events.QueueBinding{
		Queue: "capture",
		Keys:  []string{"post.created", "post.deleted"},
	}, func(ctx context.Context, d events.Delivery) events.Outcome {
		env, err := events.Decode(d.Body)
		require.NoError(t, err)
		cap.mu.Lock()
		cap.envelopes = append(cap.envelopes, env)
		cap.mu.Unlock()
		return events.Ack
	})
	require.NoError(t, err)
}

func (cap *capture) all() []*events.Envelope {
	cap.mu.Lock()
	defer cap.mu.Unlock()
	return append([]*events.Envelope(nil), cap.envelopes...)
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPostLifecyclePublishesEvents(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	requireMongo(t)

	broker := events.NewMemoryBroker()
	cap := &capture{}
	cap.install(t, broker)
	SetPublisher(events.NewPublisher(broker))
	t.Cleanup(func() { SetPublisher(nil) })

	gin.SetMode(gin.TestMode)
	r := SetupRouter()
	author := primitive.NewObjectID().Hex()
	token := authToken(t, author)

	// Create
	w := doJSON(t, r, http.MethodPost, "/api/post", token, gin.H{
		"title":    "first",
		"content":  "hello world",
		"mediaIds": []string{"m1", "m2"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		PostID string `json:"postId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.PostID)

	envs := cap.all()
	require.Len(t, envs, 1)
	assert.Equal(t, events.EventPostCreated, envs[0].EventType)
	payload, err := envs[0].CreatedPayload()
	require.NoError(t, err)
	assert.Equal(t, created.PostID, payload.PostID)
	assert.Equal(t, author, payload.UserID)
	assert.Equal(t, []string{"m1", "m2"}, payload.MediaIDs)

	// Someone else cannot delete it
	w = doJSON(t, r, http.MethodDelete, "/api/post/"+created.PostID, authToken(t, primitive.NewObjectID().Hex()), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The author can
	w = doJSON(t, r, http.MethodDelete, "/api/post/"+created.PostID, token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	envs = cap.all()
	require.Len(t, envs, 2)
	assert.Equal(t, events.EventPostDeleted, envs[1].EventType)
	deleted, err := envs[1].DeletedPayload()
	require.NoError(t, err)
	assert.Equal(t, created.PostID, deleted.PostID)
	assert.Equal(t, []string{"m1", "m2"}, deleted.MediaIDs)

	// Gone means gone
	w = doJSON(t, r, http.MethodDelete, "/api/post/"+created.PostID, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreatePostSurvivesBrokerOutage(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	requireMongo(t)

	broker := events.NewMemoryBroker()
	require.NoError(t, broker.Close())
	SetPublisher(events.NewPublisher(broker))
	t.Cleanup(func() { SetPublisher(nil) })

	gin.SetMode(gin.TestMode)
	r := SetupRouter()
	token := authToken(t, primitive.NewObjectID().Hex())

	// The write commits even though the event cannot be emitted
	w := doJSON(t, r, http.MethodPost, "/api/post", token, gin.H{"content": "offline post"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "warning")

	var created struct {
		PostID string `json:"postId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, r, http.MethodGet, "/api/post/"+created.PostID, token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFeedAndLookups(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	requireMongo(t)
	SetPublisher(nil)

	gin.SetMode(gin.TestMode)
	r := SetupRouter()
	author := primitive.NewObjectID().Hex()
	token := authToken(t, author)

	w := doJSON(t, r, http.MethodPost, "/api/post", token, gin.H{"title": "feed post", "content": "read me"})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		PostID string `json:"postId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	// The feed excludes the caller's own posts, so read it as someone else
	reader := authToken(t, primitive.NewObjectID().Hex())
	w = doJSON(t, r, http.MethodGet, "/api/feed", reader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "read me")

	w = doJSON(t, r, http.MethodGet, "/api/feed", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "read me")

	w = doJSON(t, r, http.MethodGet, "/api/post/"+created.PostID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	// The author has no user document, so the post renders with a placeholder
	assert.Contains(t, w.Body.String(), "Unknown User")

	w = doJSON(t, r, http.MethodGet, "/api/my/posts", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.PostID)

	w = doJSON(t, r, http.MethodGet, "/api/user/"+author+"/posts", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "feed post")
}
