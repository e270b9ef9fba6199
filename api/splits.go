package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/splitter"
	"github.com/vocdoni/shieldpay/types"
)

// splitError maps splitter errors to API errors.
func splitError(err error) Error {
	switch {
	case errors.Is(err, splitter.ErrSplitNotFound):
		return ErrSplitNotFound
	case errors.Is(err, splitter.ErrAmountTooLow), errors.Is(err, splitter.ErrInvalidNumSplits),
		errors.Is(err, splitter.ErrPartOutOfRange):
		return ErrInvalidSplit.WithErr(err)
	case errors.Is(err, splitter.ErrInvalidStatus), errors.Is(err, splitter.ErrNoResidualBalance):
		return ErrSplitStatus.WithErr(err)
	default:
		return ErrGenericInternalServer.WithErr(err)
	}
}

func (a *API) splitterAvailable(w http.ResponseWriter) bool {
	if a.splitter == nil {
		ErrServiceUnavailable.With("splitter not enabled").Write(w)
		return false
	}
	return true
}

// newSplit prepares a split transaction
// POST /splits
func (a *API) newSplit(w http.ResponseWriter, r *http.Request) {
	if !a.splitterAvailable(w) {
		return
	}
	req := &SplitRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	amount, err := types.ToLamports(req.Amount)
	if err != nil {
		ErrInvalidSplit.WithErr(err).Write(w)
		return
	}
	cfg := splitter.DefaultConfig
	if req.Config != nil {
		cfg = *req.Config
	}
	tx, err := a.splitter.PrepareSplit(r.Context(), req.Sender, req.Recipient, amount, cfg)
	if err != nil {
		splitError(err).Write(w)
		return
	}
	httpWriteJSON(w, tx)
}

// splits lists the split transactions
// GET /splits
func (a *API) splits(w http.ResponseWriter, r *http.Request) {
	if !a.splitterAvailable(w) {
		return
	}
	list, err := a.splitter.List()
	if err != nil {
		ErrGenericInternalServer.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &SplitList{Splits: list})
}

// split returns a split transaction
// GET /splits/{splitId}
func (a *API) split(w http.ResponseWriter, r *http.Request) {
	if !a.splitterAvailable(w) {
		return
	}
	tx, err := a.splitter.Get(chi.URLParam(r, SplitURLParam))
	if err != nil {
		splitError(err).Write(w)
		return
	}
	httpWriteJSON(w, tx)
}

// fundSplit starts funding the temporary wallets of a prepared split. The
// transfers are paced, so funding runs in the background and the split is
// returned with status 202.
// POST /splits/{splitId}/fund
func (a *API) fundSplit(w http.ResponseWriter, r *http.Request) {
	if !a.splitterAvailable(w) {
		return
	}
	tx, err := a.splitter.Get(chi.URLParam(r, SplitURLParam))
	if err != nil {
		splitError(err).Write(w)
		return
	}
	if !tx.Status.Fundable() {
		ErrSplitStatus.Withf("split is %s", tx.Status).Write(w)
		return
	}
	a.background.Add(1)
	go func(ctx context.Context, id string) {
		defer a.background.Done()
		if err := a.splitter.FundTempWallets(ctx, &types.SplitTransaction{ID: id}); err != nil {
			log.Warnw("split funding failed", "id", id, "error", err.Error())
		}
	}(a.ctx, tx.ID)
	httpWriteJSONStatus(w, http.StatusAccepted, tx)
}

// retrySplitPart reschedules the forward of a failed part
// POST /splits/{splitId}/parts/{part}/retry
func (a *API) retrySplitPart(w http.ResponseWriter, r *http.Request) {
	if !a.splitterAvailable(w) {
		return
	}
	index, err := uintParam(r, PartURLParam)
	if err != nil {
		ErrMalformedParam.Withf("invalid part index: %v", err).Write(w)
		return
	}
	tx, err := a.splitter.RetryPart(r.Context(), chi.URLParam(r, SplitURLParam), int(index))
	if err != nil {
		splitError(err).Write(w)
		return
	}
	httpWriteJSON(w, tx)
}

// splitFees estimates the network fees of a split
// GET /splits/fees?numSplits=N
func (a *API) splitFees(w http.ResponseWriter, r *http.Request) {
	n := splitter.DefaultConfig.NumSplits
	if s := r.URL.Query().Get("numSplits"); s != "" {
		var err error
		if n, err = strconv.Atoi(s); err != nil || n < splitter.MinSplits || n > splitter.MaxSplits {
			ErrMalformedParam.Withf("numSplits must be between %d and %d", splitter.MinSplits, splitter.MaxSplits).Write(w)
			return
		}
	}
	lamports := splitter.EstimateFees(n)
	httpWriteJSON(w, &SplitFees{NumSplits: n, Lamports: lamports, Amount: types.FromLamports(lamports)})
}
