package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platewatch/platewatch/pkg/apierr"
)

// errorEnvelope is the wire shape of every error response:
// {"error":{"code","message","detail"}}.
type errorEnvelope struct {
	Error apierr.ErrorInfo `json:"error"`
}

// ResponseError writes err as a structured error payload. Typed errors
// carry their own HTTP status; anything else is reported as an
// internal error.
func ResponseError(w http.ResponseWriter, err error) {
	info := apierr.ErrorInfo{}
	if !errors.As(err, &info) {
		info = apierr.NewInternalError(err)
	}
	ResponseErrorInfo(w, info)
}

// ResponseErrorInfo writes a concrete error payload.
func ResponseErrorInfo(w http.ResponseWriter, info apierr.ErrorInfo) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(info.HttpStatus)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: info})
}

// ResponseOK writes data as a 200 JSON response.
func ResponseOK(w http.ResponseWriter, data interface{}) {
	ResponseStatus(w, http.StatusOK, data)
}

// ResponseStatus writes data as JSON with an explicit status code.
func ResponseStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
