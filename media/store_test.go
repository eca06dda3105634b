package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"murmur/database"
	"murmur/models"
)

func TestMongoStoreClaimAndDelete(t *testing.T) {
	t.Setenv("MONGO_DB", "murmur_test")
	if err := database.ConnectMongo(); err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = database.Media.Drop(ctx)
		_ = database.DisconnectMongo()
	})

	s := NewMongoStore(database.Media)
	ctx := context.Background()

	m1 := models.Media{ID: primitive.NewObjectID(), UserID: primitive.NewObjectID(), PublicID: "murmur/media/x", StorageURL: "https://cdn/x.jpg", CreatedAt: time.Now().Unix()}
	require.NoError(t, s.Save(ctx, m1))

	// Claim stamps the post id; unknown and malformed ids are skipped
	require.NoError(t, s.Claim(ctx, []string{m1.ID.Hex(), primitive.NewObjectID().Hex(), "junk"}, "p1"))

	docs, err := s.ByPost(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, m1.ID, docs[0].ID)

	docs, err = s.ByIDs(ctx, []string{m1.ID.Hex()})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, s.Delete(ctx, m1.ID))
	// Deleting twice is fine
	require.NoError(t, s.Delete(ctx, m1.ID))

	docs, err = s.ByPost(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, docs)
}
