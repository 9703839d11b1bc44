package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/common/config"
)

func newTestService() *TokenService {
	return NewTokenService(config.AuthConfig{JWTSecret: "test-secret", TokenDuration: 3600})
}

func TestTokenService_RoundTrip(t *testing.T) {
	tokens := newTestService()

	signed, err := tokens.Issue("user-42")
	require.NoError(t, err)

	userID, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestTokenService_RejectsWrongSecret(t *testing.T) {
	signed, err := newTestService().Issue("user-42")
	require.NoError(t, err)

	other := NewTokenService(config.AuthConfig{JWTSecret: "different", TokenDuration: 3600})
	_, err = other.Verify(signed)
	require.Error(t, err)
}

func TestTokenService_RejectsExpired(t *testing.T) {
	tokens := &TokenService{secret: []byte("test-secret"), lifetime: -time.Minute}
	signed, err := tokens.Issue("user-42")
	require.NoError(t, err)

	_, err = newTestService().Verify(signed)
	require.Error(t, err)
}

func TestTokenService_RejectsGarbage(t *testing.T) {
	_, err := newTestService().Verify("not-a-token")
	require.Error(t, err)
}

func newAuthRouter(tokens *TokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", Middleware(tokens), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func TestMiddleware_BearerHeader(t *testing.T) {
	tokens := newTestService()
	router := newAuthRouter(tokens)

	signed, err := tokens.Issue("user-7")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-7")
}

func TestMiddleware_QueryParamFallback(t *testing.T) {
	tokens := newTestService()
	router := newAuthRouter(tokens)

	signed, err := tokens.Issue("user-7")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected?token="+signed, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_MissingToken(t *testing.T) {
	router := newAuthRouter(newTestService())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_MalformedHeader(t *testing.T) {
	tokens := newTestService()
	router := newAuthRouter(tokens)

	signed, err := tokens.Issue("user-7")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token "+signed)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
