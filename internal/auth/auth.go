// Package auth issues and verifies the JWT bearer tokens that guard the
// API and the collaboration websocket.
package auth

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agentflow/agentflow/internal/common/config"
	apperrors "github.com/agentflow/agentflow/internal/common/errors"
)

// userIDKey is the gin context key carrying the authenticated user id.
const userIDKey = "auth.user_id"

// Claims is the token payload. The subject claim carries the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenService signs and parses HMAC access tokens.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenService builds a token service from the auth configuration.
func NewTokenService(cfg config.AuthConfig) *TokenService {
	lifetime := cfg.TokenDurationTime()
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return &TokenService{secret: []byte(cfg.JWTSecret), lifetime: lifetime}
}

// Issue creates a signed token for a user id.
func (s *TokenService) Issue(userID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// Verify parses a token and returns the user id it carries.
func (s *TokenService) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.Unauthorized("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", apperrors.Unauthorized("invalid or expired token")
	}
	if claims.Subject == "" {
		return "", apperrors.Unauthorized("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware authenticates requests via the Authorization header, with
// a query-parameter fallback for websocket upgrades, which cannot set
// headers from browsers.
func Middleware(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "authentication required"})
			return
		}
		userID, err := tokens.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by the middleware, or
// empty when the request is unauthenticated.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
