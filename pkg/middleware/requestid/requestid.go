// Package requestid tags every request with a correlation ID, reusing a
// caller-supplied X-Request-ID when present.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// Header carries the correlation ID on requests and responses.
	Header = "X-Request-ID"

	contextKey = "request_id"
)

// Middleware stores the request ID in the gin context and echoes it on
// the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = newID()
		}
		c.Set(contextKey, id)
		c.Writer.Header().Set(Header, id)
		c.Next()
	}
}

// Value reads the request ID back out of the gin context, empty when the
// middleware did not run.
func Value(c *gin.Context) string {
	v, ok := c.Get(contextKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

func newID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// timestamp fallback keeps requests distinguishable when the
		// entropy source is unavailable
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
