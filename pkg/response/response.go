// Package response renders the tracking API's JSON bodies.
//
// Most routes answer {success, data}. A few mobile-facing routes predate that
// envelope and keep their fields at the top level (Flat) or return a bare value
// (Bare); clients depend on those shapes.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/glavox/glavox-server/pkg/errors"
)

// requestIDHeader mirrors middleware.HeaderRequestID.
const requestIDHeader = "X-Request-ID"

// Response is the standard envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo is the client facing part of an AppError.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Success wraps data in the standard envelope.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Success: true, Data: data})
}

// Flat writes fields next to "success" instead of under "data".
func Flat(c *gin.Context, statusCode int, fields gin.H) {
	body := make(gin.H, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	c.JSON(statusCode, body)
}

// Bare writes body with no envelope at all.
func Bare(c *gin.Context, statusCode int, body interface{}) {
	c.JSON(statusCode, body)
}

// Error renders err as an error envelope. Anything that is not an AppError
// becomes a generic 500 so internal detail never reaches the client.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, Response{
		Error: &ErrorInfo{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: c.Writer.Header().Get(requestIDHeader),
		},
	})
}
