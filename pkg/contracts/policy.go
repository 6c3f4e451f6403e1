// Package contracts defines the typed shapes exchanged between the policy
// engine, the gating protocol, and builder runs. Inputs and outputs are
// transient — only their consequence (a gate ledger entry) is persisted.
package contracts

import "time"

// PolicyContractVersion is the active contract version echoed through
// PolicyInput/PolicyOutput when the caller does not pin one.
const PolicyContractVersion = "1.0.0"

// CoherenceStatus summarizes whether upstream pipeline data is internally
// consistent and fresh enough to trust.
type CoherenceStatus string

const (
	CoherenceCoherent CoherenceStatus = "coherent"
	CoherencePartial  CoherenceStatus = "partial"
	CoherenceStale    CoherenceStatus = "stale"
)

// Recognized reports whether s is one of the three coherence states.
// Anything else must be treated as partial by callers (fail toward caution).
func (s CoherenceStatus) Recognized() bool {
	switch s {
	case CoherenceCoherent, CoherencePartial, CoherenceStale:
		return true
	}
	return false
}

// Decision is the engine's verdict for a stage-advance request.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionBlock Decision = "BLOCK"
	DecisionDefer Decision = "DEFER"
)

// Recognized reports whether d is a known decision.
func (d Decision) Recognized() bool {
	return d == DecisionAllow || d == DecisionBlock || d == DecisionDefer
}

// Severity grades a policy reason.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Recognized reports whether s is a known severity.
func (s Severity) Recognized() bool {
	return s == SeverityInfo || s == SeverityWarn || s == SeverityCritical
}

// Thresholds tunes the engine's freshness and confidence requirements.
type Thresholds struct {
	// MinConfidence is the floor a caller demands of the decision, in [0,1].
	MinConfidence float64 `json:"min_confidence"`
	// MaxStalenessMinutes is the recency budget for upstream timestamps.
	MaxStalenessMinutes float64 `json:"max_staleness_minutes"`
	// MinLineageCount of zero means draft-only work that requires no
	// upstream lineage is acceptable under partial coherence.
	MinLineageCount int `json:"min_lineage_count"`
}

// PolicyInput is the complete, self-contained input to a policy evaluation.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type PolicyInput struct {
	TenantID              string          `json:"tenant_id"`
	RobotID               string          `json:"robot_id"`
	PolicyContractVersion string          `json:"policy_contract_version"`
	EvaluatedAt           time.Time       `json:"evaluated_at"`
	CoherenceStatus       CoherenceStatus `json:"coherence_status"`
	SnapshotAt            time.Time       `json:"snapshot_at"`

	// IntelligenceSnapshot is the raw per-stage state map, carried for
	// evidence; the engine branches only on CoherenceStatus and recency.
	IntelligenceSnapshot map[string]any `json:"intelligence_snapshot,omitempty"`

	// LedgerRecency maps stage timestamp keys (e.g. "signalsAt") to the
	// latest known instant, or nil when the stage has never produced.
	LedgerRecency map[string]*time.Time `json:"ledger_recency"`

	// RequestedAction is optional; without one the engine refuses to guess.
	RequestedAction    Action     `json:"requested_action,omitempty"`
	RequestedObjective string     `json:"requested_objective,omitempty"`
	Thresholds         Thresholds `json:"thresholds"`
}

// PolicyReason is one ordered entry of a decision's explanation.
type PolicyReason struct {
	RuleID   string         `json:"rule_id"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// PolicyOutput is the engine's decision. Exactly the action set matching
// Decision is non-empty when a concrete action exists to evaluate; all sets
// are deduplicated.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type PolicyOutput struct {
	OK              bool           `json:"ok"`
	Decision        Decision       `json:"decision"`
	AllowedActions  []Action       `json:"allowed_actions"`
	BlockedActions  []Action       `json:"blocked_actions"`
	DeferredActions []Action       `json:"deferred_actions"`
	Reasons         []PolicyReason `json:"reasons"`
	Confidence      float64        `json:"confidence"`

	PolicyContractVersion string    `json:"policy_contract_version"`
	EvaluatedAt           time.Time `json:"evaluated_at"`
}

// CoherencePolicy declares how a builder run reacts to degraded coherence.
// OnStale is fixed to block: staleness is never negotiable.
type CoherencePolicy struct {
	OnStale   string `json:"on_stale"`
	OnPartial string `json:"on_partial"`
}

// CoherencePolicy value constants.
const (
	OnDegradedBlock     = "block"
	OnDegradedDraftOnly = "draft_only"
)
