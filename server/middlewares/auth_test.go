package middlewares_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	gin "github.com/gin-gonic/gin"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
	middlewares "github.com/agentvault/agentvault-go/server/middlewares"
)

func newAuthRouter(t *testing.T, cfg config.AuthConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authenticator, err := middlewares.NewAuthenticator(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	router := gin.New()
	router.POST("/a2a", authenticator.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestAuthenticator_Disabled(t *testing.T) {
	router := newAuthRouter(t, config.AuthConfig{})

	req := httptest.NewRequest(http.MethodPost, "/a2a", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticator_APIKey(t *testing.T) {
	router := newAuthRouter(t, config.AuthConfig{
		Enable:  true,
		APIKeys: []string{"abc"},
	})

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{name: "valid key", key: "abc", wantStatus: http.StatusOK},
		{name: "wrong key", key: "nope", wantStatus: http.StatusUnauthorized},
		{name: "missing key", key: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/a2a", nil)
			if tt.key != "" {
				req.Header.Set("X-Api-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAuthenticator_EnabledWithoutCredentialsFails(t *testing.T) {
	_, err := middlewares.NewAuthenticator(context.Background(), config.AuthConfig{Enable: true}, zap.NewNop())
	assert.Error(t, err)
}
