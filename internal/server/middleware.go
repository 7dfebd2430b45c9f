package server

import (
	"time"

	"auction-stream/utils"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing. Websocket upgrades are
// logged when the session ends, so their latency is the session lifetime.
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"request_id": c.GetString(utils.RequestIDKey),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"status":     c.Writer.Status(),
		"latency":    time.Since(start).String(),
		"client_ip":  c.ClientIP(),
	}
	if len(c.Errors) > 0 {
		fields["errors"] = c.Errors.String()
	}
	if c.Writer.Status() >= 500 {
		utils.Error("HTTP Request", fields)
		return
	}
	utils.Info("HTTP Request", fields)
}

// RequestIDMiddleware reuses the caller's X-Request-ID or assigns a new one, and echoes
// it in the response header
func RequestIDMiddleware(c *gin.Context) {
	id := c.GetHeader(utils.RequestIDKey)
	if id == "" {
		id = utils.GenerateID()
	}
	c.Set(utils.RequestIDKey, id)
	c.Header(utils.RequestIDKey, id)
	c.Next()
}
