// internal/pkg/response/response.go
package response

import (
	"errors"
	"net/http"

	xerrors "royalty-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Response defines the standard API response format.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a successful response with a message and optional data.
func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}

	c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// internalErrorText replaces the detail of 5xx answers. The error itself is
// attached to the context and lands in the access log.
const internalErrorText = "internal error"

// Error sends a standardized error response.
func Error(c *gin.Context, code int, message string, err error, data ...interface{}) {
	// Abort before writing so later handlers in the chain do not run
	c.Abort()

	response := Response{
		Success: false,
		Message: message,
	}

	if err != nil {
		_ = c.Error(err)
		response.Error = err.Error()
		if code >= http.StatusInternalServerError {
			response.Error = internalErrorText
		}
	}

	if len(data) > 0 {
		response.Data = data[0]
	}

	c.JSON(code, response)
}

// FromError picks the status code from the error's sentinel.
func FromError(c *gin.Context, message string, err error) {
	Error(c, StatusFor(err), message, err)
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, xerrors.ErrInconsistentState):
		return http.StatusInternalServerError
	case errors.Is(err, xerrors.ErrExternalService):
		return http.StatusBadGateway
	case errors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, xerrors.ErrInvalidInput), errors.Is(err, xerrors.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, xerrors.ErrConflict),
		errors.Is(err, xerrors.ErrDuplicateEntry),
		errors.Is(err, xerrors.ErrInvalidTransition),
		errors.Is(err, xerrors.ErrStaleTransition):
		return http.StatusConflict
	case errors.Is(err, xerrors.ErrPaymentRejected):
		return http.StatusPaymentRequired
	case errors.Is(err, xerrors.ErrInvalidSignature), errors.Is(err, xerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, xerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, xerrors.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError sends a 400 Bad Request response for invalid input.
func ValidationError(c *gin.Context, message string, err error) {
	Error(c, http.StatusBadRequest, message, err)
}

// Unauthorized sends a 401 Unauthorized response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message, nil)
}

// Forbidden sends a 403 Forbidden response.
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, message, nil)
}

// NotFound sends a 404 Not Found response.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message, nil)
}
