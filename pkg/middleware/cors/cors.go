// Package cors applies the browser cross-origin policy for the API. The
// allow-list comes from ALLOWED_ORIGINS; an empty list permits any origin,
// which is the development default.
package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// New builds the middleware from the configured origin allow-list. Origins
// are compared without a trailing slash.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	allowAny := len(allowed) == 0

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Vary", "Origin")

		if origin := c.GetHeader("Origin"); origin != "" {
			_, ok := allowed[strings.TrimRight(origin, "/")]
			if ok || allowAny {
				h.Set("Access-Control-Allow-Origin", origin)
			}
		} else if allowAny {
			h.Set("Access-Control-Allow-Origin", "*")
		}

		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
