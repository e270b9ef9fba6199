package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vocdoni/shieldpay/log"
)

// Error is an API failure: the wrapped error, its stable code and the HTTP
// status it is answered with. Kind names the relay rejection, if any.
type Error struct {
	Err        error
	Code       int
	HTTPstatus int
	Kind       string
}

// errorBody is the wire form of an Error.
//
// Example: {"success":false,"error":"Nullifier already spent","code":40012,"kind":"nullifier_spent"}
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
}

// MarshalJSON encodes the error message, code and kind. HTTPstatus travels
// as the response status only.
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorBody{Error: e.Err.Error(), Code: e.Code, Kind: e.Kind})
}

// Error returns the message of the wrapped error.
func (e Error) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Write answers the request with the error.
func (e Error) Write(w http.ResponseWriter) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Warnw("could not encode api error", "error", err)
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	if e.HTTPstatus >= http.StatusInternalServerError {
		log.Warnw("api error response", "error", e.Error(), "code", e.Code, "status", e.HTTPstatus)
	} else {
		log.Debugw("api error response", "error", e.Error(), "code", e.Code, "status", e.HTTPstatus)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.HTTPstatus)
	if _, err := w.Write(append(msg, '\n')); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
}

// Withf appends a formatted detail to the message.
func (e Error) Withf(format string, args ...any) Error {
	return e.wrap(fmt.Sprintf(format, args...))
}

// With appends s to the message.
func (e Error) With(s string) Error {
	return e.wrap(s)
}

// WithErr appends the message of err.
func (e Error) WithErr(err error) Error {
	return e.wrap(err.Error())
}

func (e Error) wrap(detail string) Error {
	e.Err = fmt.Errorf("%w: %s", e.Err, detail)
	return e
}
