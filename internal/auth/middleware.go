package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie a browser session carries its token in.
const SessionCookie = "__session"

type contextKey string

const userIDKey contextKey = "authUserID"

// GetUserID retrieves the authenticated subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// JWTMiddleware validates bearer or session-cookie tokens and injects user identity.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	audience = strings.TrimSpace(audience)

	return func(c *gin.Context) {
		if secret == "" {
			unauthorized(c, "missing JWT secret")
			return
		}

		tokenString, err := extractToken(c.Request)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}

		if audience != "" && !containsAudience(claims.Audience, audience) {
			unauthorized(c, "invalid audience")
			return
		}

		if claims.Subject == "" {
			unauthorized(c, "missing subject")
			return
		}

		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), claims.Subject))
		c.Set(string(userIDKey), claims.Subject)

		c.Next()
	}
}

// ParseToken verifies an HMAC-signed token and returns its claims.
func ParseToken(secret, tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// IssueToken signs a token for subject that expires after ttl.
func IssueToken(secret, subject, audience string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("missing JWT secret")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("missing subject")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// extractToken prefers the Authorization header and falls back to the session cookie.
func extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return extractBearerToken(header)
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token, nil
		}
	}
	return "", errors.New("authorization header required")
}

func extractBearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
