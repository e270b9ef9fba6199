package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/shieldpay/log"
)

// httpWriteJSON answers 200 with data encoded as JSON.
func httpWriteJSON(w http.ResponseWriter, data any) {
	httpWriteJSONStatus(w, http.StatusOK, data)
}

// httpWriteJSONStatus answers status with data encoded as JSON. Data is
// encoded before the header is sent, so an encoding failure still gets a
// proper error answer.
func httpWriteJSONStatus(w http.ResponseWriter, status int, data any) {
	jdata, err := json.Marshal(data)
	if err != nil {
		ErrMarshalingServerJSON.WithErr(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(jdata, '\n')); err != nil {
		log.Warnw("failed to write http response", "error", err)
		return
	}
	log.Debugw("api response", "status", status, "bytes", len(jdata))
}

// httpWriteOK answers 200 with an empty body.
func httpWriteOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
}

// uintParam parses the URL parameter name as an unsigned integer.
func uintParam(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, name), 10, 64)
}
