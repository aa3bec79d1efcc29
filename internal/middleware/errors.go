package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/appweaver/api/internal/models"
)

// APIError represents a structured error response
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RetryAfter int    `json:"retry_after_ms,omitempty"`
}

// Common error codes
const (
	ErrCodeBadRequest           = "BAD_REQUEST"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeAIServiceUnavailable = "AI_SERVICE_UNAVAILABLE"
	ErrCodeRateLimited          = "RATE_LIMITED"
)

// RespondError sends a structured error response
func RespondError(c *gin.Context, status int, code string, message string) {
	c.JSON(status, gin.H{
		"error": APIError{
			Code:    code,
			Message: message,
		},
	})
}

// RespondErrorWithDetails sends a structured error response with details
func RespondErrorWithDetails(c *gin.Context, status int, code string, message string, details string) {
	c.JSON(status, gin.H{
		"error": APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// RespondErrorWithRetry sends a structured error response with retry hint
func RespondErrorWithRetry(c *gin.Context, status int, code string, message string, retryAfterMs int) {
	c.JSON(status, gin.H{
		"error": APIError{
			Code:       code,
			Message:    message,
			RetryAfter: retryAfterMs,
		},
	})
}

// BadRequest sends a 400 error
func BadRequest(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound sends a 404 error
func NotFound(c *gin.Context, message string) {
	RespondError(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError sends a 500 error
func InternalError(c *gin.Context, message string) {
	RespondError(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// pipelineStatus maps each pipeline failure kind to an HTTP status.
// Retryable upstream failures are 502 (the fault is upstream); unusable
// AI output is 422 (the client must regenerate, not retry verbatim).
var pipelineStatus = map[models.FailureKind]int{
	models.UpstreamTimeout:         http.StatusBadGateway,
	models.UpstreamEmptyOutput:     http.StatusBadGateway,
	models.UpstreamHardError:       http.StatusBadGateway,
	models.NoFileBlocksFound:       http.StatusUnprocessableEntity,
	models.TruncatedContent:        http.StatusUnprocessableEntity,
	models.ApplyRejectedByUpstream: http.StatusBadGateway,
	models.ApplyZeroFilesWritten:   http.StatusBadGateway,
	models.VerificationFailed:      http.StatusBadGateway,
}

// RespondPipelineError maps a pipeline failure to its HTTP shape. The
// failure kind doubles as the machine-readable error code.
func RespondPipelineError(c *gin.Context, err error) {
	var perr *models.PipelineError
	if !errors.As(err, &perr) {
		InternalError(c, err.Error())
		return
	}

	status, ok := pipelineStatus[perr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	resp := APIError{
		Code:    string(perr.Kind),
		Message: perr.Message,
	}
	if perr.Kind.Retryable() {
		resp.RetryAfter = 5000
	}
	c.JSON(status, gin.H{"error": resp})
}
