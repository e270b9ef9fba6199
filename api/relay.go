package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/relayer"
)

// relay admits a withdrawal proof and waits for its confirmation
// POST /relay
func (a *API) relay(w http.ResponseWriter, r *http.Request) {
	sub := &relayer.Submission{}
	if err := json.NewDecoder(r.Body).Decode(sub); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	outcome := a.gateway.Submit(r.Context(), sub)
	success, ok := outcome.(*relayer.Success)
	if !ok {
		outcomeError(outcome).Write(w)
		return
	}
	log.Infow("withdrawal relayed", "txId", success.TxID, "signature", success.Signature)
	httpWriteJSON(w, &RelayResponse{
		Success:            true,
		TxID:               success.TxID,
		Signature:          success.Signature,
		VerificationTimeMs: success.VerificationTime.Milliseconds(),
		TotalTimeMs:        success.TotalTime.Milliseconds(),
	})
}

// outcomeError maps a rejected outcome to its API error. The rejection
// message is kept as is.
func outcomeError(o relayer.Outcome) Error {
	r, ok := o.(relayer.Rejection)
	if !ok {
		return ErrGenericInternalServer
	}
	var base Error
	switch o.Kind() {
	case relayer.KindCapacityExceeded:
		base = ErrRelayerAtCapacity
	case relayer.KindMalformed:
		base = ErrMalformedSubmission
	case relayer.KindInvalidDenomination:
		base = ErrInvalidDenomination
	case relayer.KindNullifierSpent:
		base = ErrNullifierSpent
	case relayer.KindNullifierInFlight:
		base = ErrNullifierInFlight
	case relayer.KindUnknownRoot:
		base = ErrUnknownRoot
	case relayer.KindInvalidProof:
		base = ErrInvalidProof
	case relayer.KindInsufficientBalance:
		base = ErrRelayerBalance
	default:
		base = ErrSubmissionFailed
	}
	return Error{Err: r, Code: base.Code, HTTPstatus: base.HTTPstatus, Kind: string(o.Kind())}
}

// relayStatus returns the tracked status of a relayed withdrawal
// GET /relay/{txId}
func (a *API) relayStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.gateway.Status(chi.URLParam(r, TxURLParam))
	if err != nil {
		if errors.Is(err, relayer.ErrTxNotFound) {
			ErrTxNotFound.Write(w)
			return
		}
		ErrGenericInternalServer.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, st)
}

// info describes the relayer
// GET /info
func (a *API) info(w http.ResponseWriter, r *http.Request) {
	info, err := a.gateway.Info(r.Context())
	if err != nil {
		ErrGenericInternalServer.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, info)
}
