package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-key")
	manager, err := NewJWTManager()
	require.NoError(t, err)
	return manager
}

func TestNewJWTManager_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := NewJWTManager()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := newTestManager(t)

	token, err := manager.GenerateToken(context.Background(), "user-1", "alice", "ws-1", []string{"developer"}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "ws-1", claims.WorkspaceID)
	assert.Equal(t, []string{"developer"}, claims.Roles)
	assert.Equal(t, "app-composer", claims.Issuer)
}

func TestJWTManager_RejectsExpiredToken(t *testing.T) {
	manager := newTestManager(t)

	token, err := manager.GenerateToken(context.Background(), "user-1", "alice", "", nil, -time.Minute)
	require.NoError(t, err)

	_, err = manager.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTManager_RejectsWrongKey(t *testing.T) {
	manager := newTestManager(t)
	token, err := manager.GenerateToken(context.Background(), "user-1", "alice", "", nil, time.Hour)
	require.NoError(t, err)

	t.Setenv("JWT_SECRET", "another-secret")
	other, err := NewJWTManager()
	require.NoError(t, err)

	_, err = other.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTManager_RefreshToken(t *testing.T) {
	manager := newTestManager(t)
	token, err := manager.GenerateToken(context.Background(), "user-1", "alice", "ws-1", []string{"developer"}, time.Hour)
	require.NoError(t, err)

	refreshed, err := manager.RefreshToken(context.Background(), token, 2*time.Hour)
	require.NoError(t, err)

	claims, err := manager.ValidateToken(context.Background(), refreshed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "ws-1", claims.WorkspaceID)
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manager := newTestManager(t)

	router := gin.New()
	router.GET("/protected", RequireAuth(manager), func(c *gin.Context) {
		userID, _ := c.Get(UserIDKey)
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})

	t.Run("missing_token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/protected", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed_header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Token abc")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid_token", func(t *testing.T) {
		token, err := manager.GenerateToken(context.Background(), "user-1", "alice", "", nil, time.Hour)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "user-1")
	})
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manager := newTestManager(t)

	router := gin.New()
	router.GET("/admin", RequireAuth(manager), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	t.Run("role_present", func(t *testing.T) {
		token, err := manager.GenerateToken(context.Background(), "user-1", "alice", "", []string{"admin"}, time.Hour)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("role_missing", func(t *testing.T) {
		token, err := manager.GenerateToken(context.Background(), "user-2", "bob", "", []string{"developer"}, time.Hour)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestOptionalAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manager := newTestManager(t)

	router := gin.New()
	router.GET("/open", OptionalAuth(manager), func(c *gin.Context) {
		userID, authenticated := c.Get(UserIDKey)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "authenticated": authenticated})
	})

	t.Run("no_token_passes_through", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/open", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"authenticated":false`)
	})

	t.Run("invalid_token_passes_through_unauthenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/open", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"authenticated":false`)
	})

	t.Run("valid_token_sets_identity", func(t *testing.T) {
		token, err := manager.GenerateToken(context.Background(), "user-1", "alice", "", nil, time.Hour)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/open", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"authenticated":true`)
		assert.Contains(t, w.Body.String(), "user-1")
	})
}
