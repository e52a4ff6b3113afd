package response

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondAppError maps the service error taxonomy onto statuses so handlers
// do not re-derive it per endpoint.
func RespondAppError(c *gin.Context, err error) {
	var circuitOpen *apperr.CircuitOpenError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apperr.ErrValidation):
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, apperr.ErrUnauthorized):
		RespondError(c, http.StatusUnauthorized, "unauthorized", err)
	case errors.As(err, &circuitOpen):
		c.Header("Retry-After", strconv.Itoa(int(circuitOpen.RetryAfter.Seconds())))
		RespondError(c, http.StatusServiceUnavailable, "circuit_open", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
