package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/vocdoni/shieldpay/api"
	"github.com/vocdoni/shieldpay/relayer"
	"github.com/vocdoni/shieldpay/types"
)

// ResponseError is a non 200 answer decoded from the API error body.
type ResponseError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %d (%d: %s)", errCodeNot200, e.Status, e.Code, e.Message)
}

// call performs a request with the default timeout and decodes a 2xx JSON
// answer into out.
func (c *HTTPclient) call(method string, body, out any, urlPath ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.callContext(ctx, method, body, out, urlPath...)
}

func (c *HTTPclient) callContext(ctx context.Context, method string, body, out any, urlPath ...string) error {
	data, status, err := c.RequestContext(ctx, method, body, nil, urlPath...)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		rerr := &ResponseError{Status: status}
		if err := json.Unmarshal(data, rerr); err != nil {
			rerr.Message = string(data)
		}
		return rerr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Relay submits a withdrawal proof and waits for the relayer answer, at most
// RelayTimeout.
func (c *HTTPclient) Relay(sub *relayer.Submission) (*api.RelayResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), RelayTimeout)
	defer cancel()
	resp := &api.RelayResponse{}
	if err := c.callContext(ctx, HTTPPOST, sub, resp, api.RelayEndpoint); err != nil {
		return nil, err
	}
	return resp, nil
}

// RelayStatus returns the status of a relayed withdrawal.
func (c *HTTPclient) RelayStatus(txID string) (*relayer.PendingTx, error) {
	st := &relayer.PendingTx{}
	if err := c.call(HTTPGET, nil, st, api.RelayEndpoint, txID); err != nil {
		return nil, err
	}
	return st, nil
}

// Info returns the relayer description.
func (c *HTTPclient) Info() (*relayer.Info, error) {
	info := &relayer.Info{}
	if err := c.call(HTTPGET, nil, info, api.InfoEndpoint); err != nil {
		return nil, err
	}
	return info, nil
}

// PoolRoot returns the commitment tree root.
func (c *HTTPclient) PoolRoot() (*api.PoolRoot, error) {
	root := &api.PoolRoot{}
	if err := c.call(HTTPGET, nil, root, api.PoolRootEndpoint); err != nil {
		return nil, err
	}
	return root, nil
}

// PoolProof returns the authentication path of the leaf at index.
func (c *HTTPclient) PoolProof(index uint64) (*api.PoolProof, error) {
	proof := &api.PoolProof{}
	if err := c.call(HTTPGET, nil, proof, "pool", "proof", strconv.FormatUint(index, 10)); err != nil {
		return nil, err
	}
	return proof, nil
}

// Nullifier reports whether n is in the spent set of the relayer.
func (c *HTTPclient) Nullifier(n *big.Int) (*api.NullifierStatus, error) {
	status := &api.NullifierStatus{}
	if err := c.call(HTTPGET, nil, status, "pool", "nullifier", n.String()); err != nil {
		return nil, err
	}
	return status, nil
}

// NewSplit prepares a split transaction.
func (c *HTTPclient) NewSplit(req *api.SplitRequest) (*types.SplitTransaction, error) {
	tx := &types.SplitTransaction{}
	if err := c.call(HTTPPOST, req, tx, api.SplitsEndpoint); err != nil {
		return nil, err
	}
	return tx, nil
}

// FundSplit starts the funding of a split.
func (c *HTTPclient) FundSplit(id string) (*types.SplitTransaction, error) {
	tx := &types.SplitTransaction{}
	if err := c.call(HTTPPOST, nil, tx, api.SplitsEndpoint, id, "fund"); err != nil {
		return nil, err
	}
	return tx, nil
}

// Split returns a split transaction.
func (c *HTTPclient) Split(id string) (*types.SplitTransaction, error) {
	tx := &types.SplitTransaction{}
	if err := c.call(HTTPGET, nil, tx, api.SplitsEndpoint, id); err != nil {
		return nil, err
	}
	return tx, nil
}

// IsCode checks if err is an API error with the given code.
func IsCode(err error, code int) bool {
	var rerr *ResponseError
	return errors.As(err, &rerr) && rerr.Code == code
}

