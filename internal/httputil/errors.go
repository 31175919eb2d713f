package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// RestError is an API error with a stable code and an HTTP status.
// The code travels on the wire in the error envelope; the status does not.
type RestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	status  int
}

// Error implements the error interface.
func (e *RestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status this error maps to.
func (e *RestError) StatusCode() int {
	return e.status
}

// MissingParameterError reports a required field that was absent.
func MissingParameterError(format string, args ...interface{}) *RestError {
	return &RestError{Code: "MissingParameter", Message: fmt.Sprintf(format, args...), status: http.StatusConflict}
}

// InvalidArgumentError reports a malformed field, an unknown probe type or a
// denied mutation.
func InvalidArgumentError(format string, args ...interface{}) *RestError {
	return &RestError{Code: "InvalidArgument", Message: fmt.Sprintf(format, args...), status: http.StatusConflict}
}

// ResourceNotFoundError reports an absent entity.
func ResourceNotFoundError(format string, args ...interface{}) *RestError {
	return &RestError{Code: "ResourceNotFound", Message: fmt.Sprintf(format, args...), status: http.StatusNotFound}
}

// GoneError reports an id that was previously issued but is now absent.
func GoneError(format string, args ...interface{}) *RestError {
	return &RestError{Code: "Gone", Message: fmt.Sprintf(format, args...), status: http.StatusGone}
}

// InternalError reports an unexpected downstream failure. The cause is not
// kept on the error and never reaches the wire; callers log it themselves.
func InternalError(cause error, message string) *RestError {
	if message == "" {
		message = "internal error"
	}
	return &RestError{Code: "InternalError", Message: message, status: http.StatusInternalServerError}
}

// MultiError wraps independent per-event errors from the event endpoint.
type MultiError struct {
	RestError
	Errs []error `json:"-"`
}

// NewMultiError collapses a single error or wraps several.
func NewMultiError(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	msgs := make([]string, 0, len(errs))
	status := 0
	for _, err := range errs {
		msgs = append(msgs, err.Error())
		var rerr *RestError
		if errors.As(err, &rerr) && rerr.status > status {
			status = rerr.status
		}
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &MultiError{
		RestError: RestError{
			Code:    "MultiError",
			Message: fmt.Sprintf("%d errors: %s", len(errs), strings.Join(msgs, "; ")),
			status:  status,
		},
		Errs: errs,
	}
}

// AsRestError normalizes err into a RestError, mapping unknown errors to
// InternalError so downstream failure details stay out of responses.
func AsRestError(err error) *RestError {
	var rerr *RestError
	if errors.As(err, &rerr) {
		return rerr
	}
	var merr *MultiError
	if errors.As(err, &merr) {
		return &merr.RestError
	}
	return InternalError(err, "")
}
