// Package gate implements the gating protocol as a single guarded stage
// executor. Every pipeline-stage entry point goes through the same
// sequence: fetch snapshot, derive coherence defensively, assemble and
// validate PolicyInput, evaluate, validate the output, append a gate
// record, and only then — on ALLOW — run the stage's own logic.
//
// The gate record is always appended before the decision is surfaced, so
// the ledger holds a durable trace even if the caller crashes immediately
// after.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/ledger"
	"github.com/crewline/ratchet/pkg/policy"
	"github.com/crewline/ratchet/pkg/snapshot"
)

// SnapshotSource fetches the intelligence snapshot for a robot.
type SnapshotSource interface {
	Fetch(ctx context.Context, tenantID, robotID string) (*snapshot.Snapshot, error)
}

// LedgerSnapshots assembles snapshots straight from a ledger repository.
type LedgerSnapshots struct {
	Repo ledger.Repository
}

// Fetch implements SnapshotSource.
func (l LedgerSnapshots) Fetch(ctx context.Context, tenantID, robotID string) (*snapshot.Snapshot, error) {
	return snapshot.Assemble(ctx, l.Repo, tenantID, robotID)
}

// StageFunc is the stage's own business logic, run only on ALLOW. It
// returns the result payload and the lineage of every ledger entry or
// artifact id it consumed.
type StageFunc func(ctx context.Context) (payload map[string]any, lineage []string, err error)

// AdvanceRequest asks to advance one pipeline stage.
type AdvanceRequest struct {
	TenantID        string
	RobotID         string
	Stage           string
	Action          contracts.Action
	Objective       string
	Thresholds      contracts.Thresholds
	ContractVersion string
}

// Result reports the decision and the ledger entries it produced.
type Result struct {
	Decision   contracts.Decision
	Code       contracts.Code
	Output     *contracts.PolicyOutput
	GateEntry  *ledger.Entry
	StageEntry *ledger.Entry
	Overridden bool
}

// Executor is the guarded stage executor. All fields except Snapshots and
// Ledger are optional.
type Executor struct {
	Snapshots SnapshotSource
	Ledger    ledger.Repository
	Catalog   contracts.ActionCatalog
	Guards    *GuardSet
	Metrics   *Metrics
	Logger    *slog.Logger
	Clock     func() time.Time
	// Environment gates the override escape hatch; "production" refuses it.
	Environment string
	// Source is recorded on every appended entry.
	Source string
}

func (e *Executor) catalog() contracts.ActionCatalog {
	if e.Catalog != nil {
		return e.Catalog
	}
	return contracts.DefaultCatalog()
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Advance runs the full gating sequence for one stage-advance request.
// The returned error carries a stable code; the Result is non-nil whenever
// a decision was reached, including BLOCK and DEFER.
func (e *Executor) Advance(ctx context.Context, req AdvanceRequest, fn StageFunc) (*Result, error) {
	in, out, err := e.evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.branch(ctx, req, in, out, fn, false)
}

// AdvanceWithOverride is the documented escape hatch for non-production
// environments: a DEFER decision is overridden to ALLOW, but only after a
// policy_override ledger entry records the original decision and the
// reason. Overrides are never silent and never apply to BLOCK.
func (e *Executor) AdvanceWithOverride(ctx context.Context, req AdvanceRequest, fn StageFunc, reason string) (*Result, error) {
	if e.Environment == "production" {
		return nil, contracts.NewError(contracts.CodeInvalidRequest,
			"policy override is not available in production")
	}
	if reason == "" {
		return nil, contracts.NewError(contracts.CodeInvalidRequest,
			"policy override requires a reason")
	}

	in, out, err := e.evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	if out.Decision != contracts.DecisionDefer {
		return e.branch(ctx, req, in, out, fn, false)
	}

	hash, err := policy.DecisionHash(out)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeValidationError, "decision hash failed: %v", err)
	}
	_, err = e.Ledger.Append(ctx, ledger.Entry{
		TenantID: req.TenantID,
		RobotID:  req.RobotID,
		Module:   "policy",
		Source:   e.Source,
		Type:     "policy_override",
		State:    ledger.StateApproved,
		Payload: map[string]any{
			"originalDecision": string(out.Decision),
			"decisionHash":     hash,
			"overrideReason":   reason,
			"stage":            req.Stage,
			"action":           string(req.Action),
		},
	})
	if err != nil {
		return nil, contracts.NewError(contracts.CodeValidationError, "override record append failed: %v", err)
	}

	e.logger().Warn("policy decision overridden",
		"tenant", req.TenantID, "robot", req.RobotID,
		"stage", req.Stage, "reason", reason)
	e.Metrics.Override(ctx, req.Stage)

	res, err := e.branch(ctx, req, in, forceAllow(out, req.Action), fn, true)
	if res != nil {
		res.Overridden = true
	}
	return res, err
}

// evaluate runs steps 1-7 of the protocol: identity, snapshot, defensive
// coherence, input assembly/validation, guarded engine call, output
// validation, and the optional tenant guard.
func (e *Executor) evaluate(ctx context.Context, req AdvanceRequest) (contracts.PolicyInput, *contracts.PolicyOutput, error) {
	var in contracts.PolicyInput

	if req.TenantID == "" || req.RobotID == "" {
		return in, nil, contracts.NewError(contracts.CodeInvalidRequest,
			"tenant and robot identity are required")
	}
	if req.Stage == "" {
		return in, nil, contracts.NewError(contracts.CodeInvalidRequest, "stage is required")
	}

	snap, err := e.Snapshots.Fetch(ctx, req.TenantID, req.RobotID)
	if err != nil {
		return in, nil, err
	}

	status, fellBack := snap.Status()
	if fellBack {
		// Deliberate safety decision: unreadable coherence reads as
		// partial. Kept observable so it never hides a producer bug.
		e.logger().Warn("coherence status unreadable, defaulting to partial",
			"tenant", req.TenantID, "robot", req.RobotID,
			"raw", snap.Coherence.Status)
		e.Metrics.CoherenceFallback(ctx, req.TenantID)
	}

	now := e.now().UTC()
	in = contracts.PolicyInput{
		TenantID:              req.TenantID,
		RobotID:               req.RobotID,
		PolicyContractVersion: req.ContractVersion,
		EvaluatedAt:           now,
		CoherenceStatus:       status,
		SnapshotAt:            snap.At(now),
		IntelligenceSnapshot:  snap.IntelligenceMap(),
		LedgerRecency:         snap.RecencyMap(),
		RequestedAction:       req.Action,
		RequestedObjective:    req.Objective,
		Thresholds:            req.Thresholds,
	}
	if err := policy.ValidateInputWithCatalog(e.catalog(), in); err != nil {
		return in, nil, err
	}

	// Guarded engine call: an internal engine failure surfaces as
	// VALIDATION_ERROR, never as a permissive default.
	out, err := policy.EvaluateWithCatalog(e.catalog(), in)
	if err != nil {
		return in, nil, contracts.NewError(contracts.CodeValidationError,
			"policy evaluation failed: %v", err)
	}
	if err := policy.ValidateOutput(out, in); err != nil {
		return in, nil, contracts.NewError(contracts.CodeValidationError,
			"policy output rejected: %v", err)
	}

	out, err = e.Guards.Apply(ctx, req, in, out)
	if err != nil {
		return in, nil, err
	}
	return in, out, nil
}

// branch is step 8: append the gate record, then short-circuit or run the
// stage.
func (e *Executor) branch(ctx context.Context, req AdvanceRequest, in contracts.PolicyInput, out *contracts.PolicyOutput, fn StageFunc, overridden bool) (*Result, error) {
	hash, err := policy.DecisionHash(out)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeValidationError, "decision hash failed: %v", err)
	}
	e.Metrics.Decision(ctx, req.Stage, out.Decision)

	res := &Result{Decision: out.Decision, Output: out}

	switch out.Decision {
	case contracts.DecisionBlock:
		entry, err := e.Ledger.Append(ctx, gateEntry(req, out, hash, e.Source, ledger.StateFailed, map[string]any{
			"error": map[string]any{
				"code":      string(contracts.CodeCoherenceBlocked),
				"retryable": false,
			},
		}))
		if err != nil {
			return nil, contracts.NewError(contracts.CodeValidationError, "gate record append failed: %v", err)
		}
		res.GateEntry = &entry
		res.Code = contracts.CodeCoherenceBlocked
		return res, contracts.NewError(contracts.CodeCoherenceBlocked,
			"stage %s blocked: coherence is %s", req.Stage, in.CoherenceStatus)

	case contracts.DecisionDefer:
		entry, err := e.Ledger.Append(ctx, gateEntry(req, out, hash, e.Source, ledger.StateCancelled, map[string]any{
			"cancelReason": string(contracts.CodePolicyDeferred),
		}))
		if err != nil {
			return nil, contracts.NewError(contracts.CodeValidationError, "gate record append failed: %v", err)
		}
		res.GateEntry = &entry
		res.Code = contracts.CodePolicyDeferred
		return res, contracts.NewError(contracts.CodePolicyDeferred,
			"stage %s deferred", req.Stage)
	}

	// ALLOW: run the stage, then persist its result with full lineage.
	payload, lineage, err := fn(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeValidationError,
			"stage %s execution failed: %v", req.Stage, err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["decision"] = string(out.Decision)
	payload["decisionHash"] = hash
	payload["confidence"] = out.Confidence
	if overridden {
		payload["overridden"] = true
	}

	entry, err := e.Ledger.Append(ctx, ledger.Entry{
		TenantID: req.TenantID,
		RobotID:  req.RobotID,
		Module:   req.Stage,
		Source:   e.Source,
		Type:     req.Stage,
		State:    ledger.StateApproved,
		Payload:  payload,
		Lineage:  lineage,
	})
	if err != nil {
		return nil, contracts.NewError(contracts.CodeValidationError, "stage record append failed: %v", err)
	}
	res.StageEntry = &entry
	return res, nil
}

func gateEntry(req AdvanceRequest, out *contracts.PolicyOutput, hash, source string, state ledger.State, extra map[string]any) ledger.Entry {
	payload := map[string]any{
		"decision":     string(out.Decision),
		"decisionHash": hash,
		"confidence":   out.Confidence,
		"reasons":      reasonsPayload(out.Reasons),
		"action":       string(req.Action),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return ledger.Entry{
		TenantID: req.TenantID,
		RobotID:  req.RobotID,
		Module:   "policy",
		Source:   source,
		Type:     req.Stage + "_gate",
		State:    state,
		Payload:  payload,
	}
}

func reasonsPayload(reasons []contracts.PolicyReason) []any {
	out := make([]any, 0, len(reasons))
	for _, r := range reasons {
		m := map[string]any{
			"ruleId":   r.RuleID,
			"message":  r.Message,
			"severity": string(r.Severity),
		}
		if r.Evidence != nil {
			m["evidence"] = evidenceValue(r.Evidence)
		}
		out = append(out, m)
	}
	return out
}

// evidenceValue re-types evidence maps into plain structured values so
// the ledger payload stays within the closed value algebra.
func evidenceValue(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case map[string]string:
			inner := make(map[string]any, len(tv))
			for ik, iv := range tv {
				inner[ik] = iv
			}
			out[k] = inner
		case []string:
			inner := make([]any, len(tv))
			for i, iv := range tv {
				inner[i] = iv
			}
			out[k] = inner
		default:
			out[k] = v
		}
	}
	return out
}

func forceAllow(out *contracts.PolicyOutput, action contracts.Action) *contracts.PolicyOutput {
	allowed := out.DeferredActions
	if action != "" {
		allowed = []contracts.Action{action}
	}
	forced := *out
	forced.Decision = contracts.DecisionAllow
	forced.AllowedActions = allowed
	forced.DeferredActions = []contracts.Action{}
	forced.Reasons = append(append([]contracts.PolicyReason{}, out.Reasons...), contracts.PolicyReason{
		RuleID:   "policy.override",
		Message:  fmt.Sprintf("DEFER overridden to ALLOW for %s", action),
		Severity: contracts.SeverityWarn,
	})
	return &forced
}
