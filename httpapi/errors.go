package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agencyflow/apperror"
	"agencyflow/auth"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	State   string `json:"state,omitempty"`
}

var errMissingCredentials = apperror.InvalidToken("credentials_missing", "missing or malformed bearer token")

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrRoleNotAllowed), errors.Is(err, auth.ErrUnknownReferrer):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	}

	switch apperror.KindOf(err) {
	case apperror.ErrValidation:
		return http.StatusBadRequest
	case apperror.ErrUnauthorized:
		return http.StatusForbidden
	case apperror.ErrNotFound:
		return http.StatusNotFound
	case apperror.ErrConflict:
		return http.StatusConflict
	case apperror.ErrInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func bodyFor(err error, status int) errorResponse {
	if status == http.StatusInternalServerError {
		return errorResponse{Code: "internal", Message: "internal server error"}
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return errorResponse{Code: appErr.Code, Message: appErr.Message, Field: appErr.Field, State: appErr.State}
	}
	return errorResponse{Code: http.StatusText(status), Message: err.Error()}
}

// abort records err on the context for the access log and writes the mapped
// JSON error.
func abort(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, bodyFor(err, status))
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Code: "bad_request", Message: err.Error()})
}
