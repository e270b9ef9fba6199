package types

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// SplitStatus is the state of a split transaction.
type SplitStatus string

const (
	SplitPreparing  SplitStatus = "preparing"
	SplitInProgress SplitStatus = "in_progress"
	SplitCompleted  SplitStatus = "completed"
	SplitFailed     SplitStatus = "failed"
)

// Fundable reports whether the temporary wallets of a split in this status
// can be funded. A failed split resumes funding from its first pending part.
func (s SplitStatus) Fundable() bool {
	return s == SplitPreparing || s == SplitFailed
}

// PartStatus is the state of a single hop of a split transaction.
type PartStatus string

const (
	PartPending    PartStatus = "pending"
	PartFunded     PartStatus = "funded"
	PartForwarding PartStatus = "forwarding"
	PartCompleted  PartStatus = "completed"
	PartFailed     PartStatus = "failed"
)

// SplitConfig tunes how a payment is split and scheduled.
type SplitConfig struct {
	NumSplits       int     `json:"numSplits" yaml:"numSplits"`
	TimeWindowHours float64 `json:"timeWindowHours" yaml:"timeWindowHours"`
	MinDelayMinutes float64 `json:"minDelayMinutes" yaml:"minDelayMinutes"`
	NoiseEnabled    bool    `json:"noiseEnabled" yaml:"noiseEnabled"`
	NoisePercent    float64 `json:"noisePercent" yaml:"noisePercent"`
}

// TimeWindow returns the delivery window as a duration.
func (c SplitConfig) TimeWindow() time.Duration {
	return time.Duration(c.TimeWindowHours * float64(time.Hour))
}

// MinDelay returns the minimum delivery delay as a duration.
func (c SplitConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMinutes * float64(time.Minute))
}

// SplitPart is one hop: the sender funds TempWallet, which later forwards to
// the recipient at ScheduledTime.
type SplitPart struct {
	Index         int              `json:"index"`
	TempWallet    solana.PublicKey `json:"tempWallet"`
	Amount        uint64           `json:"amount"`
	ScheduledTime time.Time        `json:"scheduledTime"`
	Status        PartStatus       `json:"status"`
	Signature     string           `json:"signature,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// SplitTransaction is a payment delivered through several temporary wallets.
type SplitTransaction struct {
	ID          string           `json:"id"`
	Sender      solana.PublicKey `json:"sender"`
	Recipient   solana.PublicKey `json:"recipient"`
	TotalAmount uint64           `json:"totalAmount"`
	Parts       []SplitPart      `json:"parts"`
	Config      SplitConfig      `json:"config"`
	Status      SplitStatus      `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	Error       string           `json:"error,omitempty"`
}

// AllPartsIn returns true if every part has the given status.
func (tx *SplitTransaction) AllPartsIn(status PartStatus) bool {
	for _, p := range tx.Parts {
		if p.Status != status {
			return false
		}
	}
	return len(tx.Parts) > 0
}
