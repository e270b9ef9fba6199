package relayer

import (
	"fmt"
	"time"
)

// Kind identifies the outcome of a submission.
type Kind string

const (
	KindSuccess             Kind = "success"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindMalformed           Kind = "malformed"
	KindInvalidDenomination Kind = "invalid_denomination"
	KindNullifierSpent      Kind = "nullifier_spent"
	KindNullifierInFlight   Kind = "nullifier_in_flight"
	KindUnknownRoot         Kind = "unknown_root"
	KindInvalidProof        Kind = "invalid_proof"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindSubmissionFailed    Kind = "submission_failed"
)

// Outcome is the result of Gateway.Submit. It is one of *Success or a
// Rejection, the set of implementations is closed.
type Outcome interface {
	Kind() Kind
	// Retryable reports whether submitting the same request again may
	// succeed.
	Retryable() bool
	outcome()
}

// Rejection is every outcome but *Success. Its Error is the message returned
// to clients.
type Rejection interface {
	Outcome
	error
}

// Success is a confirmed relayed spend.
type Success struct {
	TxID             string
	Signature        string
	VerificationTime time.Duration
	TotalTime        time.Duration
}

func (*Success) Kind() Kind      { return KindSuccess }
func (*Success) Retryable() bool { return false }
func (*Success) outcome()        {}

// CapacityExceeded is returned while too many submissions are in flight.
type CapacityExceeded struct {
	InFlight int
	Max      int
}

func (*CapacityExceeded) Kind() Kind      { return KindCapacityExceeded }
func (*CapacityExceeded) Retryable() bool { return true }
func (*CapacityExceeded) outcome()        {}
func (e *CapacityExceeded) Error() string {
	return fmt.Sprintf("Relayer at capacity (%d/%d pending)", e.InFlight, e.Max)
}

// Malformed is a structurally invalid submission.
type Malformed struct {
	Reason string
}

func (*Malformed) Kind() Kind      { return KindMalformed }
func (*Malformed) Retryable() bool { return false }
func (*Malformed) outcome()        {}
func (e *Malformed) Error() string { return "Malformed submission: " + e.Reason }

// InvalidDenomination is a denomination index outside the pool table.
type InvalidDenomination struct {
	Index int
}

func (*InvalidDenomination) Kind() Kind      { return KindInvalidDenomination }
func (*InvalidDenomination) Retryable() bool { return false }
func (*InvalidDenomination) outcome()        {}
func (*InvalidDenomination) Error() string   { return "Invalid denomination" }

// NullifierSpent is a replay: the note was already spent.
type NullifierSpent struct{}

func (*NullifierSpent) Kind() Kind      { return KindNullifierSpent }
func (*NullifierSpent) Retryable() bool { return false }
func (*NullifierSpent) outcome()        {}
func (*NullifierSpent) Error() string   { return "Nullifier already spent" }

// NullifierInFlight means another submission holds one of the nullifiers.
type NullifierInFlight struct{}

func (*NullifierInFlight) Kind() Kind      { return KindNullifierInFlight }
func (*NullifierInFlight) Retryable() bool { return true }
func (*NullifierInFlight) outcome()        {}
func (*NullifierInFlight) Error() string   { return "Nullifier submission in flight" }

// UnknownRoot is a spend against a root outside the accepted history.
type UnknownRoot struct{}

func (*UnknownRoot) Kind() Kind      { return KindUnknownRoot }
func (*UnknownRoot) Retryable() bool { return false }
func (*UnknownRoot) outcome()        {}
func (*UnknownRoot) Error() string   { return "Unknown merkle root" }

// InvalidProof is a proof that does not verify. A fresh proof of the same
// spend may still succeed.
type InvalidProof struct {
	Reason string
}

func (*InvalidProof) Kind() Kind      { return KindInvalidProof }
func (*InvalidProof) Retryable() bool { return false }
func (*InvalidProof) outcome()        {}
func (*InvalidProof) Error() string   { return "Invalid ZK proof" }

// InsufficientBalance means the relayer cannot fund the withdrawal now.
type InsufficientBalance struct {
	Balance  uint64
	Required uint64
}

func (*InsufficientBalance) Kind() Kind      { return KindInsufficientBalance }
func (*InsufficientBalance) Retryable() bool { return true }
func (*InsufficientBalance) outcome()        {}
func (*InsufficientBalance) Error() string   { return "Relayer insufficient balance" }

// SubmissionFailed is a build, broadcast or confirmation failure. The
// nullifiers stay unspent.
type SubmissionFailed struct {
	Err error
}

func (*SubmissionFailed) Kind() Kind      { return KindSubmissionFailed }
func (*SubmissionFailed) Retryable() bool { return true }
func (*SubmissionFailed) outcome()        {}
func (e *SubmissionFailed) Error() string { return e.Err.Error() }
func (e *SubmissionFailed) Unwrap() error { return e.Err }
