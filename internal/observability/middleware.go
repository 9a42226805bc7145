package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AdminAccess records every admin request in the HTTP metrics and logs it.
// Server errors log at error level, client errors at warn, the rest at debug.
func AdminAccess(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()
		took := time.Since(began)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		RecordHTTPRequest(c.Request.Method, route, code, took)

		var ev *zerolog.Event
		switch {
		case code >= 500:
			ev = logger.Error()
		case code >= 400:
			ev = logger.Warn()
		default:
			ev = logger.Debug()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Str("url", c.Request.URL.Path).
			Int("status", code).
			Dur("took", took).
			Str("client_ip", c.ClientIP()).
			Msg("admin.request")
	}
}
