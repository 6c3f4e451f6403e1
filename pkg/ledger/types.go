// Package ledger defines the append-only event ledger consumed and
// produced by the gating protocol. Entries are immutable: no updates,
// no deletions. "Latest per type" queries form the basis of intelligence
// snapshots, and per-robot hash chaining makes tampering evident.
package ledger

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no matching entry exists.
var ErrNotFound = errors.New("ledger: entry not found")

// State is the terminal state an entry records.
type State string

const (
	StateApproved  State = "approved"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateDraft     State = "draft"
)

// Entry is one immutable ledger record.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Entry struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	RobotID  string `json:"robot_id"`

	// Module names the pipeline module that produced the entry
	// (e.g. "policy", "builder", "fusion").
	Module string `json:"module"`
	// Source identifies the producing component version or worker.
	Source string `json:"source,omitempty"`
	// Type is the entry kind: a stage name ("signal", "fusion", ...),
	// a gate record ("<stage>_gate"), or "policy_override".
	Type  string `json:"type"`
	State State  `json:"state"`

	Payload map[string]any `json:"payload,omitempty"`
	// Lineage names every upstream entry or artifact id this entry
	// consumed, forming a provenance DAG.
	Lineage []string `json:"lineage,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Hash chains the entry to its per-robot predecessor.
	Hash     string `json:"hash,omitempty"`
	PrevHash string `json:"prev_hash,omitempty"`
}
