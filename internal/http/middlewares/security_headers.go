package middlewares

import "github.com/gin-gonic/gin"

// The API serves JSON only, so the CSP can deny everything.
const defaultCSP = "default-src 'none'"

func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", defaultCSP)
		c.Next()
	}
}
