//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500, 502 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXXX or 5XXXX.
// If you notice there's a gap, DON'T fill it in, that code was used in the past and shouldn't be reused.
// There's no correlation between Code and HTTP Status.
//
// The relay errors carry the message of the rejection, so the codes below only
// provide the code and the status.
var (
	ErrResourceNotFound      = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody         = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedParam        = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed URL parameter")}
	ErrMalformedSubmission   = Error{Code: 40010, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed submission")}
	ErrInvalidDenomination   = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid denomination")}
	ErrNullifierSpent        = Error{Code: 40012, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("nullifier already spent")}
	ErrNullifierInFlight     = Error{Code: 40013, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("nullifier submission in flight")}
	ErrUnknownRoot           = Error{Code: 40014, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("unknown merkle root")}
	ErrInvalidProof          = Error{Code: 40015, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid ZK proof")}
	ErrTxNotFound            = Error{Code: 40016, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("transaction not found")}
	ErrLeafNotFound          = Error{Code: 40017, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("leaf not found")}
	ErrSplitNotFound         = Error{Code: 40018, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("split not found")}
	ErrInvalidSplit          = Error{Code: 40019, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid split request")}
	ErrSplitStatus           = Error{Code: 40020, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("split not in the required status")}
	ErrMarshalingServerJSON  = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServer = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrRelayerAtCapacity     = Error{Code: 50003, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("relayer at capacity")}
	ErrRelayerBalance        = Error{Code: 50004, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("relayer insufficient balance")}
	ErrSubmissionFailed      = Error{Code: 50005, HTTPstatus: http.StatusBadGateway, Err: fmt.Errorf("submission failed")}
	ErrServiceUnavailable    = Error{Code: 50006, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("service not available")}
)
