// Package cors provides origin-checked CORS headers for the API surface.
package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const allowedHeaders = "Authorization, Content-Type, X-Requested-With, X-Request-ID"
const allowedMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

// New builds the CORS middleware. An empty origin list allows every
// origin; preflight requests are answered with 204 without reaching the
// handlers.
func New(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[normalize(o)] = struct{}{}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		requestOrigin := c.GetHeader("Origin")

		switch {
		case requestOrigin != "":
			if _, ok := allowed[normalize(requestOrigin)]; ok || allowAll {
				h.Set("Access-Control-Allow-Origin", requestOrigin)
			}
		case allowAll:
			h.Set("Access-Control-Allow-Origin", "*")
		}

		h.Set("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", allowedHeaders)
		h.Set("Access-Control-Allow-Methods", allowedMethods)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func normalize(origin string) string {
	return strings.TrimRight(origin, "/")
}
