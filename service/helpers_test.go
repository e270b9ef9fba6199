package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/vocdoni/shieldpay/splitter"
	"github.com/vocdoni/shieldpay/types"
)

// fakeLedger is an in-memory chain for the services under test.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[solana.PublicKey]uint64
	failTo   map[solana.PublicKey]error
	sigs     int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[solana.PublicKey]uint64{}, failTo: map[solana.PublicKey]error{}}
}

func (l *fakeLedger) Address() solana.PublicKey { return solana.PublicKey{} }

func (l *fakeLedger) Submit(context.Context, *types.Withdrawal) (*types.SubmitResult, error) {
	return &types.SubmitResult{Signature: "withdraw"}, nil
}

func (l *fakeLedger) Transfer(_ context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failTo[to]; err != nil {
		return "", err
	}
	payer := from.PublicKey()
	if l.balances[payer] < lamports+splitter.SignatureFee {
		return "", fmt.Errorf("insufficient funds")
	}
	l.balances[payer] -= lamports + splitter.SignatureFee
	l.balances[to] += lamports
	l.sigs++
	return fmt.Sprintf("sig%d", l.sigs), nil
}

func (l *fakeLedger) Balance(_ context.Context, account solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
