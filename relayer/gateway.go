// Package relayer implements the proof relay gateway: it admits spend proofs
// from clients, prevents double spends, verifies the proofs and pays for the
// withdrawal transaction on their behalf.
//
// Admission runs in a fixed order, every step cheaper than the next one:
// capacity, structure, nullifier freshness, root acceptance, proof
// verification, relayer liquidity and finally submission. Nullifiers are
// reserved when they pass the freshness check and only recorded as spent
// after the chain confirms the transaction.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/vocdoni/shieldpay/crypto"
	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/pool"
	"github.com/vocdoni/shieldpay/storage"
	"github.com/vocdoni/shieldpay/types"
	"github.com/vocdoni/shieldpay/verifier"
)

// Mode is the protection level of the gateway.
type Mode string

const (
	// ModeProtected verifies every proof before paying for it.
	ModeProtected Mode = "protected"
	// ModeSponsor has no verification key: it pays for any submission with
	// fresh nullifiers and offers no fraud protection.
	ModeSponsor Mode = "sponsor"
)

const (
	// DefaultMaxPending is the default ceiling of in-flight submissions.
	DefaultMaxPending = 100
	// DefaultFeeBps is the default relayer fee in basis points.
	DefaultFeeBps = 50
	// DefaultFeeMargin is the balance kept on top of the denomination to pay
	// for the transaction fees, 0.01 SOL.
	DefaultFeeMargin uint64 = 10_000_000
	// DefaultConfirmedTTL is how long confirmed submissions are kept.
	DefaultConfirmedTTL = 60 * time.Second
	// DefaultStaleAfter is the age after which any entry is dropped.
	DefaultStaleAfter = 5 * time.Minute
)

// DefaultDenominations are the pool denominations, in lamports: 0.1, 1 and
// 10 SOL.
var DefaultDenominations = []uint64{100_000_000, 1_000_000_000, 10_000_000_000}

// NullifierStore is the replicated spent set with reservations for the
// submissions in flight.
type NullifierStore interface {
	ReserveNullifiers(nullifiers ...*big.Int) error
	ReleaseNullifiers(nullifiers ...*big.Int) error
	CommitNullifiers(nullifiers ...*big.Int) error
	ClearStaleNullifierReservations(maxAge time.Duration) (int, error)
	SpentSetRoot() ([]byte, error)
}

// Submitter signs and broadcasts a withdrawal. Submit returns only once the
// transaction is confirmed or has failed.
type Submitter interface {
	Address() solana.PublicKey
	Submit(ctx context.Context, w *types.Withdrawal) (*types.SubmitResult, error)
}

// BalanceReader queries account balances, in lamports.
type BalanceReader interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Accumulator is the commitment tree mirrored by the gateway. The gateway
// only reads it: leaves, relayed outputs included, are appended in chain
// order by the commitment indexer.
type Accumulator interface {
	IsKnownRoot(root *big.Int) bool
	Root() *big.Int
	Size() uint64
}

// Config holds the gateway settings.
type Config struct {
	MaxPending      int
	Denominations   []uint64
	FeeMargin       uint64
	FeeBps          uint16
	FeeRecipient    solana.PublicKey
	ProgramID       solana.PublicKey
	VerificationKey []byte
	ConfirmedTTL    time.Duration
	StaleAfter      time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if len(c.Denominations) == 0 {
		c.Denominations = DefaultDenominations
	}
	if c.FeeMargin == 0 {
		c.FeeMargin = DefaultFeeMargin
	}
	if c.ConfirmedTTL <= 0 {
		c.ConfirmedTTL = DefaultConfirmedTTL
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
}

// Deps are the collaborators of the gateway. Tree is optional, when set the
// spend root must be one of its recent roots. Verifier may be nil in sponsor
// mode.
type Deps struct {
	Store     NullifierStore
	Verifier  verifier.Verifier
	Submitter Submitter
	Balances  BalanceReader
	Tree      Accumulator
}

// Submission is a client relay request.
type Submission struct {
	Proof                types.HexBytes  `json:"proof"`
	PublicInputs         []*types.BigInt `json:"publicInputs"`
	Nullifiers           []*types.BigInt `json:"nullifiers"`
	OutputCommitments    []*types.BigInt `json:"outputCommitments"`
	RelayerFeeCommitment *types.BigInt   `json:"relayerFeeCommitment,omitempty"`
	MerkleRoot           *types.BigInt   `json:"merkleRoot"`
	DenominationIndex    int             `json:"denominationIndex"`
}

// Info describes the gateway to clients.
type Info struct {
	RelayerAddress solana.PublicKey `json:"relayerAddress"`
	ProgramID      solana.PublicKey `json:"programId"`
	FeeBps         uint16           `json:"feeBps"`
	FeeRecipient   solana.PublicKey `json:"feeRecipient"`
	Balance        uint64           `json:"balance"`
	PendingCount   int              `json:"pendingCount"`
	MaxPending     int              `json:"maxPending"`
	Mode           Mode             `json:"mode"`
	Denominations  []uint64         `json:"denominations"`
	MerkleRoot     *types.BigInt    `json:"merkleRoot,omitempty"`
	TreeSize       uint64           `json:"treeSize"`
	SpentSetRoot   types.HexBytes   `json:"spentSetRoot"`
}

// Gateway is the proof relay gateway. It is safe for concurrent use.
type Gateway struct {
	cfg     Config
	deps    Deps
	mode    Mode
	pending *tracker
	now     func() time.Time
}

// New creates a gateway. Without a verification key the gateway runs in
// sponsor mode, which is logged as a warning.
func New(cfg Config, deps Deps) (*Gateway, error) {
	cfg.setDefaults()
	if deps.Store == nil || deps.Submitter == nil || deps.Balances == nil {
		return nil, fmt.Errorf("store, submitter and balance reader are required")
	}
	mode := ModeProtected
	if len(cfg.VerificationKey) == 0 {
		mode = ModeSponsor
		log.Warnw("no verification key loaded, relayer running in sponsor mode without fraud protection")
	} else if deps.Verifier == nil {
		return nil, fmt.Errorf("verifier required in protected mode")
	}
	g := &Gateway{cfg: cfg, deps: deps, mode: mode, now: time.Now}
	g.pending = newTracker(cfg.MaxPending, func() time.Time { return g.now() })
	return g, nil
}

// Mode returns the protection mode of the gateway.
func (g *Gateway) Mode() Mode {
	return g.mode
}

// Submit runs the admission pipeline and, if every check passes, submits
// the withdrawal and waits for its confirmation.
func (g *Gateway) Submit(ctx context.Context, sub *Submission) Outcome {
	start := time.Now()
	outcome := g.submit(ctx, sub, start)
	submissionsTotal.WithLabelValues(string(outcome.Kind())).Inc()
	if r, ok := outcome.(Rejection); ok {
		log.Debugw("relay submission rejected", "kind", outcome.Kind(), "error", r.Error())
	}
	return outcome
}

func (g *Gateway) submit(ctx context.Context, sub *Submission, start time.Time) Outcome {
	// capacity
	ok, load := g.pending.acquire()
	if !ok {
		return &CapacityExceeded{InFlight: load, Max: g.cfg.MaxPending}
	}
	admitted := false
	defer func() {
		if !admitted {
			g.pending.releaseSlot()
		}
	}()

	// structure
	w, rejection := g.validate(sub)
	if rejection != nil {
		return rejection
	}

	// nullifier freshness
	if err := g.deps.Store.ReserveNullifiers(w.Nullifiers[0], w.Nullifiers[1]); err != nil {
		switch {
		case errors.Is(err, storage.ErrNullifierSpent):
			return &NullifierSpent{}
		case errors.Is(err, storage.ErrNullifierReserved):
			return &NullifierInFlight{}
		default:
			return &SubmissionFailed{Err: fmt.Errorf("nullifier store: %w", err)}
		}
	}
	release := func() {
		if err := g.deps.Store.ReleaseNullifiers(w.Nullifiers[0], w.Nullifiers[1]); err != nil {
			log.Warnw("failed to release nullifier reservation", "error", err.Error())
		}
	}

	// root acceptance
	if g.deps.Tree != nil && !g.deps.Tree.IsKnownRoot(w.MerkleRoot) {
		release()
		return &UnknownRoot{}
	}

	// proof
	var verificationTime time.Duration
	if g.mode == ModeProtected {
		vStart := time.Now()
		valid, err := g.deps.Verifier.Verify(g.cfg.VerificationKey, w.PublicSignals, w.Proof)
		verificationTime = time.Since(vStart)
		verificationDuration.Observe(verificationTime.Seconds())
		if err != nil || !valid {
			release()
			reason := "verification failed"
			if err != nil {
				reason = err.Error()
			}
			return &InvalidProof{Reason: reason}
		}
	}

	// liquidity
	balance, err := g.deps.Balances.Balance(ctx, g.deps.Submitter.Address())
	if err != nil {
		release()
		return &SubmissionFailed{Err: fmt.Errorf("balance query: %w", err)}
	}
	if required := w.Denomination + g.cfg.FeeMargin; balance < required {
		release()
		return &InsufficientBalance{Balance: balance, Required: required}
	}

	// submission
	w.ID = uuid.NewString()
	g.pending.add(w.ID)
	admitted = true
	if err := g.pending.transition(w.ID, StatusSubmitted, "", ""); err != nil {
		release()
		return &SubmissionFailed{Err: err}
	}
	res, err := g.deps.Submitter.Submit(ctx, w)
	if err != nil {
		release()
		g.fail(w.ID, err)
		return &SubmissionFailed{Err: err}
	}
	g.confirmed(w, res)
	submissionDuration.Observe(time.Since(start).Seconds())
	return &Success{
		TxID:             w.ID,
		Signature:        res.Signature,
		VerificationTime: verificationTime,
		TotalTime:        time.Since(start),
	}
}

func (g *Gateway) fail(id string, cause error) {
	if err := g.pending.transition(id, StatusFailed, "", cause.Error()); err != nil {
		log.Warnw("failed to mark transaction failed", "txId", id, "error", err.Error())
	}
	log.Warnw("relay submission failed", "txId", id, "error", cause.Error())
}

// confirmed records the spent nullifiers of a confirmed withdrawal.
func (g *Gateway) confirmed(w *types.Withdrawal, res *types.SubmitResult) {
	if err := g.deps.Store.CommitNullifiers(w.Nullifiers[0], w.Nullifiers[1]); err != nil {
		// the reservation stays until the stale sweep, the program rejects a
		// second spend on chain
		log.Errorw(err, "confirmed withdrawal but failed to record spent nullifiers")
	}
	if err := g.pending.transition(w.ID, StatusConfirmed, res.Signature, ""); err != nil {
		log.Warnw("failed to mark transaction confirmed", "txId", w.ID, "error", err.Error())
	}
	log.Infow("relayed withdrawal confirmed", "txId", w.ID, "signature", res.Signature,
		"denomination", w.Denomination)
}

// validate checks the structure of a submission and builds the withdrawal.
func (g *Gateway) validate(sub *Submission) (*types.Withdrawal, Rejection) {
	if sub == nil {
		return nil, &Malformed{Reason: "empty submission"}
	}
	switch {
	case len(sub.Proof) == 0:
		return nil, &Malformed{Reason: "missing proof"}
	case sub.MerkleRoot == nil:
		return nil, &Malformed{Reason: "missing merkle root"}
	case len(sub.Nullifiers) != 2:
		return nil, &Malformed{Reason: fmt.Sprintf("expected 2 nullifiers, got %d", len(sub.Nullifiers))}
	case len(sub.OutputCommitments) != 2:
		return nil, &Malformed{Reason: fmt.Sprintf("expected 2 output commitments, got %d", len(sub.OutputCommitments))}
	}
	if sub.DenominationIndex < 0 || sub.DenominationIndex >= len(g.cfg.Denominations) {
		return nil, &InvalidDenomination{Index: sub.DenominationIndex}
	}
	if len(sub.PublicInputs) != pool.NumPublicSignals {
		return nil, &Malformed{Reason: fmt.Sprintf("expected %d public inputs, got %d",
			pool.NumPublicSignals, len(sub.PublicInputs))}
	}
	signals := make([]*big.Int, len(sub.PublicInputs))
	for i, s := range sub.PublicInputs {
		if !crypto.IsFieldElement(s.MathBigInt()) {
			return nil, &Malformed{Reason: fmt.Sprintf("public input %d is not a field element", i)}
		}
		signals[i] = new(big.Int).Set(s.MathBigInt())
	}
	w := &types.Withdrawal{
		Proof:             sub.Proof,
		PublicSignals:     signals,
		MerkleRoot:        signals[pool.SignalMerkleRoot],
		DenominationIndex: uint8(sub.DenominationIndex),
		Denomination:      g.cfg.Denominations[sub.DenominationIndex],
		FeeBps:            g.cfg.FeeBps,
	}
	explicit := []struct {
		name  string
		value *types.BigInt
		index int
	}{
		{"merkle root", sub.MerkleRoot, pool.SignalMerkleRoot},
		{"nullifier 1", sub.Nullifiers[0], pool.SignalNullifier1},
		{"nullifier 2", sub.Nullifiers[1], pool.SignalNullifier2},
		{"output commitment 1", sub.OutputCommitments[0], pool.SignalOutputCommitment1},
		{"output commitment 2", sub.OutputCommitments[1], pool.SignalOutputCommitment2},
	}
	for _, e := range explicit {
		if e.value == nil || e.value.MathBigInt().Cmp(signals[e.index]) != 0 {
			return nil, &Malformed{Reason: e.name + " does not match the public inputs"}
		}
	}
	w.Nullifiers = [2]*big.Int{signals[pool.SignalNullifier1], signals[pool.SignalNullifier2]}
	w.OutputCommitments = [2]*big.Int{signals[pool.SignalOutputCommitment1], signals[pool.SignalOutputCommitment2]}
	if w.Nullifiers[0].Cmp(w.Nullifiers[1]) == 0 {
		return nil, &Malformed{Reason: "duplicated nullifier"}
	}
	if sub.RelayerFeeCommitment != nil {
		if !crypto.IsFieldElement(sub.RelayerFeeCommitment.MathBigInt()) {
			return nil, &Malformed{Reason: "relayer fee commitment is not a field element"}
		}
		w.RelayerFeeCommitment = new(big.Int).Set(sub.RelayerFeeCommitment.MathBigInt())
	}
	return w, nil
}

// Status returns the tracked state of an admitted submission.
func (g *Gateway) Status(txID string) (*PendingTx, error) {
	return g.pending.get(txID)
}

// PendingCount returns the current number of in-flight submissions.
func (g *Gateway) PendingCount() int {
	return g.pending.count()
}

// Info returns the public description of the gateway.
func (g *Gateway) Info(ctx context.Context) (*Info, error) {
	address := g.deps.Submitter.Address()
	balance, err := g.deps.Balances.Balance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("balance query: %w", err)
	}
	spentRoot, err := g.deps.Store.SpentSetRoot()
	if err != nil {
		return nil, fmt.Errorf("spent set root: %w", err)
	}
	info := &Info{
		RelayerAddress: address,
		ProgramID:      g.cfg.ProgramID,
		FeeBps:         g.cfg.FeeBps,
		FeeRecipient:   g.cfg.FeeRecipient,
		Balance:        balance,
		PendingCount:   g.pending.count(),
		MaxPending:     g.cfg.MaxPending,
		Mode:           g.mode,
		Denominations:  g.cfg.Denominations,
		SpentSetRoot:   spentRoot,
	}
	if g.deps.Tree != nil {
		info.MerkleRoot = new(types.BigInt).SetBigInt(g.deps.Tree.Root())
		info.TreeSize = g.deps.Tree.Size()
	}
	return info, nil
}

// Sweep purges old tracker entries and stale nullifier reservations. It is
// meant to be called at a fixed interval.
func (g *Gateway) Sweep() {
	removed := g.pending.sweep(g.cfg.ConfirmedTTL, g.cfg.StaleAfter)
	cleared, err := g.deps.Store.ClearStaleNullifierReservations(g.cfg.StaleAfter)
	if err != nil {
		log.Warnw("failed to clear stale nullifier reservations", "error", err.Error())
	}
	if removed > 0 || cleared > 0 {
		log.Debugw("relayer sweep", "entries", removed, "reservations", cleared)
	}
}
