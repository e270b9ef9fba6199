// Package splitter delivers a payment through several one-time wallets: the
// amount is cut in random slices, each slice is sent to a fresh temporary
// wallet and forwarded to the recipient at a random time inside a window.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/noise"
	"github.com/vocdoni/shieldpay/storage"
	"github.com/vocdoni/shieldpay/types"
	"github.com/vocdoni/shieldpay/util"
)

const (
	// MinAmount is the smallest amount that can be split, 0.01 SOL.
	MinAmount uint64 = 10_000_000
	// MinSplits and MaxSplits bound the number of parts.
	MinSplits = 2
	MaxSplits = 10
	// SignatureFee is the base fee of a single signature transaction.
	SignatureFee uint64 = 5000
	// ForwardFee is paid by a temporary wallet to forward its balance.
	ForwardFee = SignatureFee
	// ForwardFeeBuffer is added to every funded slice to cover ForwardFee.
	ForwardFeeBuffer = ForwardFee
	// MinPartAmount keeps temporary wallets above the rent exemption of an
	// empty system account.
	MinPartAmount uint64 = 890_880

	// DefaultMinFundingPause and DefaultMaxFundingPause bound the random
	// pause between two funding transfers.
	DefaultMinFundingPause = 2 * time.Second
	DefaultMaxFundingPause = 10 * time.Second

	minSlicePercent = 10
	maxSlicePercent = 40
)

var (
	ErrAmountTooLow      = fmt.Errorf("amount below the minimum of %d lamports", MinAmount)
	ErrInvalidNumSplits  = fmt.Errorf("number of splits must be between %d and %d", MinSplits, MaxSplits)
	ErrSplitNotFound     = fmt.Errorf("split transaction not found")
	ErrInvalidStatus     = fmt.Errorf("invalid status for this operation")
	ErrUnresolvedParts   = fmt.Errorf("split has unresolved parts")
	ErrNoResidualBalance = fmt.Errorf("temporary wallet has no balance to forward")
	ErrPartOutOfRange    = fmt.Errorf("part index out of range")
)

// DefaultConfig is used by callers that do not tune the split.
var DefaultConfig = types.SplitConfig{
	NumSplits:       3,
	TimeWindowHours: 2,
	MinDelayMinutes: 5,
	NoiseEnabled:    true,
	NoisePercent:    10,
}

// Transferer moves native tokens. Transfer returns once the transaction is
// confirmed.
type Transferer interface {
	Transfer(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (string, error)
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// KeyResolver returns the signing key of a sender.
type KeyResolver func(sender solana.PublicKey) (solana.PrivateKey, error)

// SingleKey resolves only the given key.
func SingleKey(key solana.PrivateKey) KeyResolver {
	return func(sender solana.PublicKey) (solana.PrivateKey, error) {
		if !key.PublicKey().Equals(sender) {
			return nil, fmt.Errorf("no signing key for sender %s", sender)
		}
		return key, nil
	}
}

// Store persists split transactions, their temporary keys and the forward
// tasks.
type Store interface {
	SetSplit(tx *types.SplitTransaction) error
	Split(id string) (*types.SplitTransaction, error)
	ListSplits() ([]*types.SplitTransaction, error)
	SetSplitSecrets(id string, keys [][]byte) error
	SplitSecrets(id string) ([][]byte, error)
	DeleteSplitSecrets(id string) error
	PushSplitTask(t *storage.SplitTask) error
	RemoveSplitTasks(splitID string, partIndex int) (int, error)
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithRand sets the random source used for amounts and times.
func WithRand(rng *rand.Rand) Option {
	return func(s *Splitter) { s.rng = rng }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Splitter) { s.now = now }
}

// WithSleep sets the function used to pause between funding transfers.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Splitter) { s.sleep = sleep }
}

// WithFundingPause sets the range of the pause between funding transfers.
func WithFundingPause(min, max time.Duration) Option {
	return func(s *Splitter) { s.minPause, s.maxPause = min, max }
}

// Splitter prepares, funds and forwards split transactions.
type Splitter struct {
	store  Store
	ledger Transferer
	keys   KeyResolver

	rngMu    sync.Mutex
	rng      *rand.Rand
	adjuster *noise.Adjuster

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	minPause time.Duration
	maxPause time.Duration

	locks sync.Map
}

// New returns a splitter.
func New(store Store, ledger Transferer, keys KeyResolver, opts ...Option) *Splitter {
	s := &Splitter{
		store:    store,
		ledger:   ledger,
		keys:     keys,
		now:      time.Now,
		sleep:    sleepCtx,
		minPause: DefaultMinFundingPause,
		maxPause: DefaultMaxFundingPause,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rng == nil {
		s.rng = util.NewRand()
	}
	s.adjuster = noise.NewAdjuster(rand.New(rand.NewPCG(s.rng.Uint64(), s.rng.Uint64())))
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Splitter) lock(id string) func() {
	m, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// inRange returns a uniform duration in [min, max].
func (s *Splitter) inRange(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return min + time.Duration(s.rng.Int64N(int64(max-min)+1))
}

func (s *Splitter) float() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Splitter) shuffle(n int, swap func(i, j int)) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(n, swap)
}

// PrepareSplit creates a split transaction of amount lamports with fresh
// temporary wallets, and stores it with the wallet keys.
func (s *Splitter) PrepareSplit(ctx context.Context, sender, recipient solana.PublicKey,
	amount uint64, cfg types.SplitConfig,
) (*types.SplitTransaction, error) {
	if amount < MinAmount {
		return nil, ErrAmountTooLow
	}
	if cfg.NumSplits < MinSplits || cfg.NumSplits > MaxSplits {
		return nil, ErrInvalidNumSplits
	}
	if sender.IsZero() || recipient.IsZero() {
		return nil, fmt.Errorf("sender and recipient are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	amounts := s.sliceAmounts(amount, cfg)
	s.shuffle(len(amounts), func(i, j int) { amounts[i], amounts[j] = amounts[j], amounts[i] })

	now := s.now()
	window := cfg.TimeWindow()
	if window < cfg.MinDelay() {
		window = cfg.MinDelay()
	}
	times := make([]time.Time, cfg.NumSplits)
	for i := range times {
		times[i] = now.Add(s.inRange(cfg.MinDelay(), window))
	}
	s.shuffle(len(times), func(i, j int) { times[i], times[j] = times[j], times[i] })

	tx := &types.SplitTransaction{
		ID:          uuid.NewString(),
		Sender:      sender,
		Recipient:   recipient,
		TotalAmount: amount,
		Config:      cfg,
		Status:      types.SplitPreparing,
		CreatedAt:   now,
		Parts:       make([]types.SplitPart, cfg.NumSplits),
	}
	secrets := make([][]byte, cfg.NumSplits)
	for i := range tx.Parts {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("temporary wallet: %w", err)
		}
		secrets[i] = key
		tx.Parts[i] = types.SplitPart{
			Index:         i,
			TempWallet:    key.PublicKey(),
			Amount:        amounts[i],
			ScheduledTime: times[i],
			Status:        types.PartPending,
		}
	}
	if err := s.store.SetSplitSecrets(tx.ID, secrets); err != nil {
		return nil, fmt.Errorf("store temporary keys: %w", err)
	}
	if err := s.store.SetSplit(tx); err != nil {
		return nil, fmt.Errorf("store split: %w", err)
	}
	splitsPrepared.Inc()
	log.Infow("split prepared", "id", tx.ID, "parts", cfg.NumSplits, "amount", amount)
	return tx, nil
}

// sliceAmounts cuts amount into cfg.NumSplits slices. Each slice takes a
// random share of what is left, leaves at least MinPartAmount for every
// following slice and the last one takes the rest.
func (s *Splitter) sliceAmounts(amount uint64, cfg types.SplitConfig) []uint64 {
	n := cfg.NumSplits
	minPart := MinPartAmount
	if uint64(n)*minPart > amount {
		minPart = amount / uint64(n)
	}
	amounts := make([]uint64, n)
	remaining := amount
	for i := 0; i < n-1; i++ {
		pct := minSlicePercent + s.float()*(maxSlicePercent-minSlicePercent)
		slice := decimal.NewFromInt(int64(remaining)).Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
		if cfg.NoiseEnabled && cfg.NoisePercent > 0 {
			slice = s.adjuster.ApplyAmountNoise(slice, cfg.NoisePercent, decimal.Zero, 0).Amount
		}
		part := uint64(slice.Floor().IntPart())
		maxPart := remaining - uint64(n-1-i)*minPart
		if part < minPart {
			part = minPart
		}
		if part > maxPart {
			part = maxPart
		}
		amounts[i] = part
		remaining -= part
	}
	amounts[n-1] = remaining
	return amounts
}

// FundTempWallets sends every pending slice, plus the forward fee, from the
// sender to its temporary wallet. Transfers are sequential with a random
// pause between them. On the first error the split is marked failed, the
// remaining parts stay pending and the call can be repeated to resume. Once
// every part is funded the forwards are scheduled.
func (s *Splitter) FundTempWallets(ctx context.Context, tx *types.SplitTransaction) error {
	unlock := s.lock(tx.ID)
	defer unlock()
	current, err := s.Get(tx.ID)
	if err != nil {
		return err
	}
	if !current.Status.Fundable() {
		return fmt.Errorf("%w: split is %s", ErrInvalidStatus, current.Status)
	}
	key, err := s.keys(current.Sender)
	if err != nil {
		return err
	}

	start := time.Now()
	transfers := 0
	for i := range current.Parts {
		part := &current.Parts[i]
		if part.Status != types.PartPending {
			continue
		}
		if transfers > 0 {
			if err := s.sleep(ctx, s.inRange(s.minPause, s.maxPause)); err != nil {
				return s.fundFailed(tx, current, i, err)
			}
		}
		transfers++
		sig, err := s.ledger.Transfer(ctx, key, part.TempWallet, part.Amount+ForwardFeeBuffer)
		if err != nil {
			return s.fundFailed(tx, current, i, err)
		}
		part.Status = types.PartFunded
		partsTotal.WithLabelValues(string(types.PartFunded)).Inc()
		if err := s.store.SetSplit(current); err != nil {
			*tx = *current
			return fmt.Errorf("store split: %w", err)
		}
		log.Debugw("temporary wallet funded", "id", current.ID, "part", i, "signature", sig)
	}

	current.Status = types.SplitInProgress
	current.Error = ""
	if err := s.store.SetSplit(current); err != nil {
		*tx = *current
		return fmt.Errorf("store split: %w", err)
	}
	for _, part := range current.Parts {
		if err := s.store.PushSplitTask(&storage.SplitTask{
			SplitID:   current.ID,
			PartIndex: part.Index,
			Due:       part.ScheduledTime,
		}); err != nil {
			*tx = *current
			return fmt.Errorf("schedule part %d: %w", part.Index, err)
		}
	}
	fundingDuration.Observe(time.Since(start).Seconds())
	log.Infow("split funded", "id", current.ID, "parts", len(current.Parts))
	*tx = *current
	return nil
}

func (s *Splitter) fundFailed(tx, current *types.SplitTransaction, index int, cause error) error {
	current.Status = types.SplitFailed
	current.Error = cause.Error()
	if err := s.store.SetSplit(current); err != nil {
		log.Warnw("failed to store split", "id", current.ID, "error", err.Error())
	}
	*tx = *current
	log.Warnw("split funding interrupted", "id", current.ID, "part", index, "error", cause.Error())
	return fmt.Errorf("fund part %d: %w", index, cause)
}

// update applies fn to the stored version of a split and saves it. The
// caller holds the split lock.
func (s *Splitter) update(id string, fn func(tx *types.SplitTransaction) error) (*types.SplitTransaction, error) {
	tx, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := s.store.SetSplit(tx); err != nil {
		return nil, fmt.Errorf("store split: %w", err)
	}
	return tx, nil
}

// ForwardPart sends the balance of a funded temporary wallet, minus the
// forward fee, to the recipient. A failure marks the part failed and keeps
// the residual balance in the wallet.
func (s *Splitter) ForwardPart(ctx context.Context, tx *types.SplitTransaction, index int) error {
	unlock := s.lock(tx.ID)
	current, err := s.update(tx.ID, func(t *types.SplitTransaction) error {
		if index < 0 || index >= len(t.Parts) {
			return ErrPartOutOfRange
		}
		if t.Parts[index].Status != types.PartFunded {
			return fmt.Errorf("%w: part %d is %s", ErrInvalidStatus, index, t.Parts[index].Status)
		}
		t.Parts[index].Status = types.PartForwarding
		return nil
	})
	unlock()
	if err != nil {
		return err
	}
	*tx = *current

	sig, ferr := s.forward(ctx, current, index)

	unlock = s.lock(tx.ID)
	defer unlock()
	current, err = s.update(tx.ID, func(t *types.SplitTransaction) error {
		part := &t.Parts[index]
		if ferr != nil {
			part.Status = types.PartFailed
			part.Error = ferr.Error()
			return nil
		}
		part.Status = types.PartCompleted
		part.Signature = sig
		part.Error = ""
		if t.AllPartsIn(types.PartCompleted) {
			t.Status = types.SplitCompleted
		}
		return nil
	})
	if err != nil {
		return err
	}
	*tx = *current
	if ferr != nil {
		partsTotal.WithLabelValues(string(types.PartFailed)).Inc()
		log.Warnw("split part forward failed", "id", tx.ID, "part", index, "error", ferr.Error())
		return fmt.Errorf("forward part %d: %w", index, ferr)
	}
	partsTotal.WithLabelValues(string(types.PartCompleted)).Inc()
	log.Infow("split part forwarded", "id", tx.ID, "part", index, "signature", sig,
		"completed", tx.Status == types.SplitCompleted)
	return nil
}

func (s *Splitter) forward(ctx context.Context, tx *types.SplitTransaction, index int) (string, error) {
	key, err := s.tempKey(tx.ID, index)
	if err != nil {
		return "", err
	}
	balance, err := s.ledger.Balance(ctx, tx.Parts[index].TempWallet)
	if err != nil {
		return "", fmt.Errorf("balance query: %w", err)
	}
	if balance <= ForwardFee {
		return "", ErrNoResidualBalance
	}
	return s.ledger.Transfer(ctx, key, tx.Recipient, balance-ForwardFee)
}

func (s *Splitter) tempKey(id string, index int) (solana.PrivateKey, error) {
	secrets, err := s.store.SplitSecrets(id)
	if err != nil {
		return nil, fmt.Errorf("temporary keys: %w", err)
	}
	if index >= len(secrets) {
		return nil, ErrPartOutOfRange
	}
	return solana.PrivateKey(secrets[index]), nil
}

// NextScheduledPart returns the funded part with the earliest due time not
// after now, or nil.
func NextScheduledPart(tx *types.SplitTransaction, now time.Time) *types.SplitPart {
	var next *types.SplitPart
	for i := range tx.Parts {
		p := &tx.Parts[i]
		if p.Status != types.PartFunded || p.ScheduledTime.After(now) {
			continue
		}
		if next == nil || p.ScheduledTime.Before(next.ScheduledTime) {
			next = p
		}
	}
	return next
}

// Cleanup deletes the temporary wallet keys of a split whose parts are all
// completed.
func (s *Splitter) Cleanup(tx *types.SplitTransaction) error {
	current, err := s.Get(tx.ID)
	if err != nil {
		return err
	}
	if !current.AllPartsIn(types.PartCompleted) {
		return ErrUnresolvedParts
	}
	if err := s.store.DeleteSplitSecrets(tx.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete temporary keys: %w", err)
	}
	log.Debugw("split temporary keys deleted", "id", tx.ID)
	return nil
}

// EstimateFees returns the network fees of a split in numSplits parts: one
// funding and one forwarding transaction per part.
func EstimateFees(numSplits int) uint64 {
	if numSplits <= 0 {
		return 0
	}
	return uint64(numSplits) * 2 * SignatureFee
}

// Get returns a stored split.
func (s *Splitter) Get(id string) (*types.SplitTransaction, error) {
	tx, err := s.store.Split(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSplitNotFound
		}
		return nil, err
	}
	return tx, nil
}

// List returns every stored split.
func (s *Splitter) List() ([]*types.SplitTransaction, error) {
	return s.store.ListSplits()
}

// RetryPart returns a failed part whose temporary wallet still holds funds
// to funded, and schedules its forward now. A task still queued for the part
// is replaced.
func (s *Splitter) RetryPart(ctx context.Context, id string, index int) (*types.SplitTransaction, error) {
	unlock := s.lock(id)
	defer unlock()
	var wallet solana.PublicKey
	tx, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(tx.Parts) {
		return nil, ErrPartOutOfRange
	}
	if tx.Parts[index].Status != types.PartFailed {
		return nil, fmt.Errorf("%w: part %d is %s", ErrInvalidStatus, index, tx.Parts[index].Status)
	}
	wallet = tx.Parts[index].TempWallet
	balance, err := s.ledger.Balance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("balance query: %w", err)
	}
	if balance <= ForwardFee {
		return nil, ErrNoResidualBalance
	}
	now := s.now()
	tx, err = s.update(id, func(t *types.SplitTransaction) error {
		t.Parts[index].Status = types.PartFunded
		t.Parts[index].Error = ""
		t.Parts[index].ScheduledTime = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.store.RemoveSplitTasks(id, index); err != nil {
		return nil, fmt.Errorf("unschedule part %d: %w", index, err)
	}
	if err := s.store.PushSplitTask(&storage.SplitTask{SplitID: id, PartIndex: index, Due: now}); err != nil {
		return nil, fmt.Errorf("schedule part %d: %w", index, err)
	}
	log.Infow("split part rescheduled", "id", id, "part", index)
	return tx, nil
}
