package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"taskpilot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"
)

const maxLoggedBody = 1000

// Logger logs one line per request with latency and status. POST bodies
// are compacted and truncated before logging.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var body string
		if c.Request.Method == http.MethodPost {
			body = requestBody(c)
		}

		c.Next()

		if c.Writer.Status() == http.StatusNotFound {
			return
		}

		msg := []interface{}{
			c.Writer.Status(),
			time.Since(start).Round(time.Microsecond),
			c.ClientIP(),
			c.Request.Method,
			c.Request.RequestURI,
		}
		if body != "" {
			logger.Infof("[HTTP] %3d | %13v | %15s | %s %s | body: %s", append(msg, body)...)
			return
		}
		logger.Infof("[HTTP] %3d | %13v | %15s | %s %s", msg...)
	}
}

// requestBody reads and restores the request body for logging.
func requestBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
	return CompactBody(raw)
}

// CompactBody strips whitespace from a JSON body and truncates it.
func CompactBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	compacted := pretty.Ugly(body)
	if len(compacted) > maxLoggedBody {
		return string(compacted[:maxLoggedBody]) + "..."
	}
	return string(compacted)
}
