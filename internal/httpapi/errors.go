package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes carried in {"error": code, "message": text} bodies.
const (
	CodeOrderNotFound    = "order_not_found"
	CodeSessionNotFound  = "session_not_found"
	CodeSessionEnded     = "session_ended"
	CodeRetryNotAllowed  = "retry_not_allowed"
	CodeMissingSignature = "missing_signature"
	CodeInvalidSignature = "invalid_signature"
	CodeRateLimited      = "rate_limited"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal_error"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: code, Message: message})
}

func notFound(c *gin.Context) {
	abort(c, http.StatusNotFound, CodeOrderNotFound, "Order not found")
}

func internal(c *gin.Context) {
	abort(c, http.StatusInternalServerError, CodeInternal, "Internal server error")
}
