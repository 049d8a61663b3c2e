package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tariel-x/agentdesk/internal/callers"
	"github.com/tariel-x/agentdesk/internal/gateway"

	"github.com/gin-gonic/gin"
)

const defaultErrorMessage = "Unable to perform request"

// httpError carries an explicit status to the error responder.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func callerNotFound(id string) error {
	return &httpError{status: http.StatusNotFound, message: fmt.Sprintf("Caller ID %s not found", id)}
}

// ErrorResponder writes the last error recorded on the context as
// {message, status}. Errors without a known status become 500.
func ErrorResponder() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		status, message := classify(c.Errors.Last().Err)
		c.JSON(status, gin.H{"message": message, "status": status})
	}
}

func classify(err error) (int, string) {
	var httpErr *httpError
	var gwErr *gateway.Error
	switch {
	case errors.As(err, &httpErr):
		status := httpErr.status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, messageOr(httpErr.message)
	case errors.Is(err, callers.ErrCallerNotFound):
		return http.StatusNotFound, "Caller not found"
	case errors.Is(err, callers.ErrRegistryFull):
		return http.StatusServiceUnavailable, "Too many callers, try again later"
	case errors.As(err, &gwErr):
		if gwErr.Message != "" {
			return http.StatusInternalServerError, gwErr.Message
		}
		return http.StatusInternalServerError, gwErr.Error()
	default:
		return http.StatusInternalServerError, messageOr(err.Error())
	}
}

func messageOr(msg string) string {
	if msg == "" {
		return defaultErrorMessage
	}
	return msg
}
