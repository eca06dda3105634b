package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeService(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"service":"` + name + `","path":"` + r.URL.Path + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayRoutesToOwningService(t *testing.T) {
	gin.SetMode(gin.TestMode)

	services := ServiceMap{
		Identity: fakeService(t, "identity").URL,
		Posts:    fakeService(t, "posts").URL,
		Media:    fakeService(t, "media").URL,
		Search:   fakeService(t, "search").URL,
		Notify:   fakeService(t, "notify").URL,
	}

	router, err := SetupRouter(services, nil)
	require.NoError(t, err)

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodPost, "/api/login", "identity"},
		{http.MethodPost, "/api/signup", "identity"},
		{http.MethodPost, "/api/refresh", "identity"},
		{http.MethodGet, "/api/me", "identity"},
		{http.MethodGet, "/api/user/abc123", "identity"},
		{http.MethodPost, "/api/post", "posts"},
		{http.MethodDelete, "/api/post/abc123", "posts"},
		{http.MethodGet, "/api/feed", "posts"},
		{http.MethodGet, "/api/user/abc123/posts", "posts"},
		{http.MethodPost, "/api/media", "media"},
		{http.MethodGet, "/api/media/abc123", "media"},
		{http.MethodGet, "/api/search", "search"},
		{http.MethodGet, "/api/vapid-public-key", "notify"},
		{http.MethodPost, "/api/subscribe", "notify"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			// ReverseProxy needs a cancellable request context; without one it
			// falls back to http.CloseNotifier, which the test recorder lacks.
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			req := httptest.NewRequest(tt.method, tt.path, nil).WithContext(ctx)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"service":"`+tt.want+`"`)
			// The path reaches the upstream untouched
			assert.Contains(t, w.Body.String(), tt.path)
		})
	}
}

func TestGatewayHealthAndNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, err := SetupRouter(ServiceMap{
		Identity: "http://localhost:1",
		Posts:    "http://localhost:1",
		Media:    "http://localhost:1",
		Search:   "http://localhost:1",
		Notify:   "http://localhost:1",
	}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Endpoint not found")
}

func TestGatewayReportsUpstreamOutage(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Nothing listens on this address
	router, err := SetupRouter(ServiceMap{
		Identity: "http://127.0.0.1:1",
		Posts:    "http://127.0.0.1:1",
		Media:    "http://127.0.0.1:1",
		Search:   "http://127.0.0.1:1",
		Notify:   "http://127.0.0.1:1",
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/feed", nil).WithContext(ctx))
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Upstream service unavailable")
}
