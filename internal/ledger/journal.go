package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the canonical well-known hash of the genesis event
// (64 hex zeros). It is the trust anchor of the journal: every later event
// hash chains from it, so any tampering is detectable via VerifyJournal.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// systemActor is recorded on events the node itself emits (the genesis event).
const systemActor = "canopytrace-system"

// Journal event actions.
const (
	ActionGenesis              = "genesis"
	ActionPlotRegistered       = "plot_registered"
	ActionPlotValidated        = "plot_validated"
	ActionPlotDeactivated      = "plot_deactivated"
	ActionBatchRegistered      = "batch_registered"
	ActionBatchStatusUpdated   = "batch_status_updated"
	ActionVerificationRecorded = "verification_recorded"
)

// Event is a single record in the tamper-evident instruction journal.
// Every committed instruction appends exactly one event inside the same
// atomic store transaction that applies its account mutations.
type Event struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Account   Address   `json:"account"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"` // signer identity, or canopytrace-system
	DataHash  string    `json:"data_hash"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// genesisEvent returns the well-known index-0 event.
func genesisEvent() *Event {
	return &Event{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Action:    ActionGenesis,
		Actor:     systemActor,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash, // well-known constant, not computed
	}
}

// hashEvent computes a deterministic SHA-256 hash over an event's fields.
// It must never be called on the genesis event (index 0).
// The hash covers the timestamp, so events must carry at most microsecond
// precision — timestamptz keeps microseconds, and a finer timestamp would
// fail verification after a round trip through the durable store.
func hashEvent(e *Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.Account, e.Action, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// verifyLink validates one step of the hash chain. prev is nil for the
// genesis event.
func verifyLink(prev, curr *Event) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis event has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEvent(curr) {
		return fmt.Errorf("event %d has invalid hash", curr.Index)
	}
	return nil
}
