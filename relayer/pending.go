package relayer

import (
	"fmt"
	"sync"
	"time"
)

// PendingStatus is the state of an admitted submission.
type PendingStatus string

const (
	StatusPending   PendingStatus = "pending"
	StatusSubmitted PendingStatus = "submitted"
	StatusConfirmed PendingStatus = "confirmed"
	StatusFailed    PendingStatus = "failed"
)

// ErrTxNotFound is returned by Status for unknown or purged transactions.
var ErrTxNotFound = fmt.Errorf("transaction not found")

// PendingTx is the tracked state of an admitted submission.
type PendingTx struct {
	ID        string        `json:"txId"`
	Status    PendingStatus `json:"status"`
	Signature string        `json:"signature,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// transitions lists the allowed state changes.
var transitions = map[PendingStatus][]PendingStatus{
	StatusPending:   {StatusSubmitted, StatusFailed},
	StatusSubmitted: {StatusConfirmed, StatusFailed},
}

// tracker holds the admitted submissions and the capacity slots taken by
// submissions still going through admission. All the counters change under
// mu, and the gauge is updated with them.
type tracker struct {
	mu      sync.Mutex
	entries map[string]*PendingTx
	slots   int
	max     int
	now     func() time.Time
}

func newTracker(max int, now func() time.Time) *tracker {
	return &tracker{entries: make(map[string]*PendingTx), max: max, now: now}
}

// inFlight counts pending and submitted entries. The caller holds mu.
func (t *tracker) inFlight() int {
	n := 0
	for _, e := range t.entries {
		if e.Status == StatusPending || e.Status == StatusSubmitted {
			n++
		}
	}
	return n
}

func (t *tracker) updateGauge() {
	inFlightGauge.Set(float64(t.inFlight() + t.slots))
}

// acquire takes a capacity slot. It returns false and the current load if
// the tracker is full.
func (t *tracker) acquire() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	load := t.inFlight() + t.slots
	if load >= t.max {
		return false, load
	}
	t.slots++
	t.updateGauge()
	return true, load + 1
}

// releaseSlot gives back a slot of a rejected submission.
func (t *tracker) releaseSlot() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots > 0 {
		t.slots--
	}
	t.updateGauge()
}

// add turns a slot into a pending entry.
func (t *tracker) add(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots > 0 {
		t.slots--
	}
	now := t.now()
	t.entries[id] = &PendingTx{ID: id, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	t.updateGauge()
}

// transition moves an entry to a new status, enforcing the state machine.
func (t *tracker) transition(id string, to PendingStatus, signature, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return ErrTxNotFound
	}
	allowed := false
	for _, s := range transitions[e.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid transition %s -> %s", e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = t.now()
	if signature != "" {
		e.Signature = signature
	}
	if reason != "" {
		e.Error = reason
	}
	t.updateGauge()
	return nil
}

// get returns a copy of an entry.
func (t *tracker) get(id string) (*PendingTx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, ErrTxNotFound
	}
	cp := *e
	return &cp, nil
}

// count returns the current load, slots included.
func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight() + t.slots
}

// sweep drops confirmed entries older than confirmedTTL and any entry older
// than staleAfter. It returns how many entries were removed.
func (t *tracker) sweep(confirmedTTL, staleAfter time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for id, e := range t.entries {
		if (e.Status == StatusConfirmed && now.Sub(e.UpdatedAt) >= confirmedTTL) ||
			now.Sub(e.CreatedAt) >= staleAfter {
			delete(t.entries, id)
			removed++
		}
	}
	t.updateGauge()
	return removed
}
