package utils

import (
	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key and response header carrying the request id
const RequestIDKey = "X-Request-ID"

// Response is the envelope of every REST reply
type Response struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JSONResponse sends a structured JSON response
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Response{
		Status:    status,
		Message:   message,
		Data:      data,
		RequestID: c.GetString(RequestIDKey),
	})
}

// JSONError sends a structured error response and records err on the context for the
// request logger
func JSONError(c *gin.Context, status int, err error, message string) {
	_ = c.Error(err)
	c.JSON(status, Response{
		Status:    status,
		Message:   message,
		Error:     err.Error(),
		RequestID: c.GetString(RequestIDKey),
	})
}
