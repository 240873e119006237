package middlewares

import (
	"net/http"

	"github.com/avieira/authgate/internal/auth"
	"github.com/gin-gonic/gin"
)

// SessionCookieName is the transport for the session token, shared by the
// handlers that set it and this gate that reads it.
const SessionCookieName = "token"

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	jwt     TokenVerifier
	revoked auth.RevocationStore // nil when revocation is disabled
}

func NewAuthMiddleware(jwt TokenVerifier, revoked auth.RevocationStore) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, revoked: revoked}
}

// RequireSession gates protected endpoints on the session cookie.
// A missing cookie is 401 (the caller never authenticated); a cookie that
// fails verification, or carries a revoked jti, is 403.
func (m *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(SessionCookieName)
		if err != nil || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "unauthorized",
					"message": "Missing session cookie",
				},
			})
			return
		}

		claims, err := m.jwt.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "forbidden",
					"message": "Invalid or expired session",
				},
			})
			return
		}

		if m.revoked != nil {
			gone, err := m.revoked.IsRevoked(c.Request.Context(), claims.JTI)
			if err != nil || gone {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": gin.H{
						"code":    "forbidden",
						"message": "Invalid or expired session",
					},
				})
				return
			}
		}

		userID, err := claims.UserID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "forbidden",
					"message": "Invalid or expired session",
				},
			})
			return
		}

		// Stash useful bits of identity on the context
		c.Set(ctxUserIDKey, userID)
		c.Set(ctxEmailKey, claims.Email)
		c.Set(ctxJTIKey, claims.JTI)

		c.Next()
	}
}

// Helpers so handlers don't need to know the magic keys.

func UserIDFromContext(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func EmailFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxEmailKey)
	if !ok {
		return "", false
	}
	email, ok := v.(string)
	return email, ok
}
