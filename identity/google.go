package identity

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"murmur/config"
	"murmur/database"
	"murmur/models"
)

var googleOAuthConfig *oauth2.Config

func init() {
	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")

	if clientID != "" && clientSecret != "" {
		googleOAuthConfig = &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  config.Env("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/google/callback"),
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		}
		log.Println("✅ Google OAuth configured successfully")
	} else {
		log.Println("⚠️  Google OAuth not configured - set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET")
	}
}

type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

type GoogleAuthRequest struct {
	Credential string `json:"credential" binding:"required"`
}

func generateUsernameFromEmail(email string) string {
	for i := 0; i < len(email); i++ {
		if email[i] == '@' {
			username := ""
			for _, ch := range email[:i] {
				if ch != '.' {
					username += string(ch)
				}
			}
			return username + "_" + primitive.NewObjectID().Hex()[:4]
		}
	}
	return "user_" + primitive.NewObjectID().Hex()[:8]
}

// GoogleOAuthCallback handles the traditional OAuth redirect flow.
func GoogleOAuthCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authorization code missing"})
		return
	}

	if googleOAuthConfig == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google OAuth not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token, err := googleOAuthConfig.Exchange(ctx, code)
	if err != nil {
		log.Printf("❌ Google OAuth token exchange failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to exchange authorization code"})
		return
	}

	client := googleOAuthConfig.Client(ctx, token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		log.Printf("❌ Failed to get user info from Google: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user information"})
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read user information"})
		return
	}

	var googleUser GoogleUserInfo
	if err := json.Unmarshal(data, &googleUser); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to parse user information"})
		return
	}

	log.Printf("✅ Google user info retrieved: %s", googleUser.Email)
	handleGoogleUser(c, googleUser)
}

// GoogleAuthWithCredential handles Google Identity Services sign-in, where the
// browser posts a credential JWT.
func GoogleAuthWithCredential(c *gin.Context) {
	var req GoogleAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, _, err := new(jwt.Parser).ParseUnverified(req.Credential, jwt.MapClaims{})
	if err != nil {
		log.Printf("❌ Failed to parse Google credential: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid Google credential"})
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid Google credential"})
		return
	}

	googleUser := GoogleUserInfo{
		ID:      getStringClaim(claims, "sub"),
		Email:   getStringClaim(claims, "email"),
		Name:    getStringClaim(claims, "name"),
		Picture: getStringClaim(claims, "picture"),
	}

	if googleUser.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email not provided by Google"})
		return
	}

	handleGoogleUser(c, googleUser)
}

func getStringClaim(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func handleGoogleUser(c *gin.Context, googleUser GoogleUserInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	isNewUser := false

	var user models.User
	err := database.Users.FindOne(ctx, bson.M{"email": googleUser.Email}).Decode(&user)

	if err == mongo.ErrNoDocuments {
		log.Printf("📝 Creating new user from Google: %s", googleUser.Email)
		isNewUser = true
		user = createUserFromGoogle(googleUser)

		if _, err = database.Users.InsertOne(ctx, user); err != nil {
			log.Printf("❌ Failed to insert Google user: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user account"})
			return
		}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	} else {
		log.Printf("📝 Existing Google user logging in: %s", googleUser.Email)

		updateData := bson.M{
			"$set": bson.M{
				"lastSeen":     time.Now().Unix(),
				"authProvider": "google",
			},
		}

		if user.GoogleID == nil && googleUser.ID != "" {
			updateData["$set"].(bson.M)["googleId"] = googleUser.ID
		}

		// Prefer the Google picture over the placeholder
		if (user.Avatar == "" || user.Avatar == fallbackAvatar) && googleUser.Picture != "" {
			updateData["$set"].(bson.M)["avatar"] = googleUser.Picture
			user.Avatar = googleUser.Picture
		}

		if _, err = database.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, updateData); err != nil {
			log.Printf("⚠️ Failed to update Google user: %v", err)
		}
	}

	access, refresh, expiresAt, err := issueTokens(user.ID.Hex())
	if err != nil {
		log.Printf("❌ Failed to generate JWT token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	_, err = database.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": bson.M{
		"refreshToken":       refresh,
		"refreshTokenExpiry": time.Now().Add(refreshTokenTTL).Unix(),
	}})
	if err != nil {
		log.Printf("⚠️ Failed to store refresh token: %v", err)
	}

	log.Printf("✅ Google authentication successful for: %s", googleUser.Email)

	c.JSON(http.StatusOK, gin.H{
		"token":        access,
		"refreshToken": refresh,
		"userId":       user.ID.Hex(),
		"email":        user.Email,
		"username":     user.Username,
		"avatar":       user.Avatar,
		"name":         user.Name,
		"isNewUser":    isNewUser,
		"message":      "Authentication successful",
		"expires":      expiresAt.Unix(),
	})
}

func createUserFromGoogle(googleUser GoogleUserInfo) models.User {
	username := generateUsernameFromEmail(googleUser.Email)

	avatar := googleUser.Picture
	if avatar == "" {
		avatar = fallbackAvatar
	}

	name := googleUser.Name
	if name == "" {
		if googleUser.GivenName != "" || googleUser.FamilyName != "" {
			name = googleUser.GivenName + " " + googleUser.FamilyName
		} else {
			name = username
		}
	}

	return models.User{
		ID:           primitive.NewObjectID(),
		Email:        googleUser.Email,
		PasswordHash: nil,
		AuthProvider: "google",
		GoogleID:     &googleUser.ID,
		CreatedAt:    time.Now().Unix(),
		LastSeen:     time.Now().Unix(),
		Username:     username,
		Name:         name,
		Avatar:       avatar,
		Bio:          "",
		Status:       "offline",
	}
}

// GetGoogleAuthURL returns the URL for the traditional OAuth flow.
func GetGoogleAuthURL(c *gin.Context) {
	if googleOAuthConfig == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google OAuth not configured"})
		return
	}

	state := primitive.NewObjectID().Hex()
	url := googleOAuthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
	c.JSON(http.StatusOK, gin.H{"url": url})
}
