// Package httputil provides common HTTP utilities for the master handlers.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"
)

// ErrorResponse is the wire envelope for API errors.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes the error envelope for err, normalizing non-REST errors
// to InternalError.
func WriteError(w http.ResponseWriter, err error) {
	rerr := AsRestError(err)
	WriteJSON(w, rerr.StatusCode(), ErrorResponse{Code: rerr.Code, Message: rerr.Message})
}

// DecodeJSON decodes a request body into dst, limiting the body size.
func DecodeJSON(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return InvalidArgumentError("invalid JSON body: %v", err)
	}
	return nil
}
