// Package requestid tags every request with an identifier the access log and
// error responses can correlate on.
package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request ID between client and server.
const Header = "X-Request-ID"

const ctxKey = "request_id"

// Middleware reuses a caller-provided X-Request-ID or mints a fresh one,
// storing it in the context and echoing it on the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKey, id)
		c.Writer.Header().Set(Header, id)
		c.Next()
	}
}

// Value returns the request ID for the current request, or "" when the
// middleware did not run.
func Value(c *gin.Context) string {
	if v, ok := c.Get(ctxKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
