package api

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/shieldpay/crypto"
	"github.com/vocdoni/shieldpay/pool"
	"github.com/vocdoni/shieldpay/types"
)

// poolRoot returns the current root of the commitment tree
// GET /pool/root
func (a *API) poolRoot(w http.ResponseWriter, r *http.Request) {
	if a.tree == nil {
		ErrServiceUnavailable.With("commitment tree not loaded").Write(w)
		return
	}
	httpWriteJSON(w, &PoolRoot{
		Root: new(types.BigInt).SetBigInt(a.tree.Root()),
		Size: a.tree.Size(),
	})
}

// poolProof returns the authentication path of a commitment
// GET /pool/proof/{index}
func (a *API) poolProof(w http.ResponseWriter, r *http.Request) {
	if a.tree == nil {
		ErrServiceUnavailable.With("commitment tree not loaded").Write(w)
		return
	}
	index, err := uintParam(r, LeafIndexURLParam)
	if err != nil {
		ErrMalformedParam.Withf("invalid leaf index: %v", err).Write(w)
		return
	}
	proof, err := a.tree.Proof(index)
	if err != nil {
		if errors.Is(err, pool.ErrLeafNotFound) {
			ErrLeafNotFound.Write(w)
			return
		}
		ErrGenericInternalServer.WithErr(err).Write(w)
		return
	}
	resp := &PoolProof{
		Index:    proof.Index,
		Root:     new(types.BigInt).SetBigInt(proof.Root),
		Siblings: make([]*types.BigInt, len(proof.Siblings)),
	}
	for i, s := range proof.Siblings {
		resp.Siblings[i] = new(types.BigInt).SetBigInt(s)
	}
	httpWriteJSON(w, resp)
}

// poolNullifier reports whether a nullifier is spent
// GET /pool/nullifier/{nullifier}
func (a *API) poolNullifier(w http.ResponseWriter, r *http.Request) {
	if a.nullifiers == nil {
		ErrServiceUnavailable.With("spent set not loaded").Write(w)
		return
	}
	n, ok := new(big.Int).SetString(chi.URLParam(r, NullifierURLParam), 10)
	if !ok || !crypto.IsFieldElement(n) {
		ErrMalformedParam.With("invalid nullifier").Write(w)
		return
	}
	spent, err := a.nullifiers.IsNullifierSpent(n)
	if err != nil {
		ErrGenericInternalServer.WithErr(err).Write(w)
		return
	}
	root, err := a.nullifiers.SpentSetRoot()
	if err != nil {
		ErrGenericInternalServer.WithErr(err).Write(w)
		return
	}
	resp := &NullifierStatus{
		Nullifier:    new(types.BigInt).SetBigInt(n),
		Spent:        spent,
		SpentSetRoot: root,
	}
	if spent {
		if resp.Proof, err = a.nullifiers.SpentNullifierProof(n); err != nil {
			ErrGenericInternalServer.WithErr(err).Write(w)
			return
		}
	}
	httpWriteJSON(w, resp)
}
