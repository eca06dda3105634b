package media

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"murmur/middleware"
	"murmur/models"
)

var store Store

// SetStore wires the metadata store the HTTP handlers use.
func SetStore(s Store) {
	store = s
}

func UploadMedia(c *gin.Context) {
	userIDStr := c.GetString("userId")
	userID, err := primitive.ObjectIDFromHex(userIDStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Request.ParseMultipartForm(10 << 20); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse form data"})
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	cld, err := cloudinary.NewFromURL(os.Getenv("CLOUDINARY_URL"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cloudinary configuration error"})
		return
	}

	mediaID := primitive.NewObjectID()
	uploadParams := uploader.UploadParams{
		Folder:         "murmur/media",
		PublicID:       mediaID.Hex(),
		Transformation: "c_limit,w_1600,h_1600,q_auto",
	}

	uploadResult, err := cld.Upload.Upload(ctx, file, uploadParams)
	if err != nil {
		log.Printf("UploadMedia cloudinary error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload file"})
		return
	}

	doc := models.Media{
		ID:         mediaID,
		UserID:     userID,
		PublicID:   uploadResult.PublicID,
		StorageURL: uploadResult.SecureURL,
		CreatedAt:  time.Now().Unix(),
	}

	if err := store.Save(ctx, doc); err != nil {
		log.Printf("UploadMedia save error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save media"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"mediaId": mediaID.Hex(),
		"url":     uploadResult.SecureURL,
	})
}

func GetMedia(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	docs, err := store.ByIDs(ctx, []string{c.Param("id")})
	if err != nil {
		log.Printf("GetMedia error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch media"})
		return
	}
	if len(docs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Media not found"})
		return
	}

	doc := docs[0]
	c.JSON(http.StatusOK, gin.H{
		"mediaId":   doc.ID.Hex(),
		"userId":    doc.UserID.Hex(),
		"postId":    doc.PostID,
		"url":       doc.StorageURL,
		"createdAt": doc.CreatedAt,
	})
}

func SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "media",
			"time":    time.Now().Unix(),
		})
	})

	protected := router.Group("/api")
	protected.Use(middleware.JWTAuthMiddleware())

	protected.POST("/media", UploadMedia)
	protected.GET("/media/:id", GetMedia)

	return router
}
