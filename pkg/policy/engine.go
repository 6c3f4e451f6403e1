// Package policy implements the decision core that gates every pipeline
// stage advance: a pure evaluation function over PolicyInput plus the
// input/output validators that bracket it.
//
// The engine is fail-closed and self-checking:
//   - It performs no I/O and holds no state; identical inputs yield
//     byte-identical outputs.
//   - It never returns an output that fails its own output validator;
//     an inconsistent result raises POLICY_OUTPUT_INVALID instead.
package policy

import (
	"fmt"
	"time"

	"github.com/crewline/ratchet/pkg/contracts"
)

// Confidence assigned per rule. Kept as named constants so gate records
// across versions stay comparable.
const (
	confidenceStaleBlock       = 0.95
	confidenceCoherentAllow    = 0.9
	confidencePartialDraftOnly = 0.7
	confidencePartialDefer     = 0.6
	confidenceRecencyDefer     = 0.55
	confidenceNoAction         = 0.5
)

// Rule identifiers emitted in PolicyReason.RuleID.
const (
	ruleStaleBlock       = "coherence.stale.block"
	rulePartialDraftOnly = "coherence.partial.draft_only"
	rulePartialDefer     = "coherence.partial.defer"
	ruleNoAction         = "coherence.coherent.no_action"
	ruleRecencyDefer     = "recency.stale_or_missing"
	ruleCoherentAllow    = "coherence.coherent.allow"
	ruleUnknownAction    = "action.unrecognized"
)

// Evaluate runs the decision algorithm against the default action catalog.
func Evaluate(in contracts.PolicyInput) (*contracts.PolicyOutput, error) {
	return EvaluateWithCatalog(contracts.DefaultCatalog(), in)
}

// EvaluateWithCatalog runs the decision algorithm with an explicit catalog.
// The output is self-checked against ValidateOutput before being returned.
func EvaluateWithCatalog(catalog contracts.ActionCatalog, in contracts.PolicyInput) (*contracts.PolicyOutput, error) {
	out := decide(catalog, in)
	if err := ValidateOutput(out, in); err != nil {
		// Internal inconsistency is fatal: never surface a bad decision.
		return nil, contracts.NewError(contracts.CodePolicyOutputInvalid,
			"engine produced inconsistent output: %v", err)
	}
	return out, nil
}

// decide evaluates the branches in strict priority order.
func decide(catalog contracts.ActionCatalog, in contracts.PolicyInput) *contracts.PolicyOutput {
	out := newOutput(in)
	all := catalog.Actions()

	// 1. Stale short-circuits everything, even a passing recency check.
	if in.CoherenceStatus == contracts.CoherenceStale {
		out.Decision = contracts.DecisionBlock
		out.BlockedActions = all
		out.Confidence = confidenceStaleBlock
		out.Reasons = append(out.Reasons, contracts.PolicyReason{
			RuleID:   ruleStaleBlock,
			Message:  "intelligence snapshot is stale; all pipeline actions blocked",
			Severity: contracts.SeverityCritical,
			Evidence: map[string]any{
				"coherenceStatus": string(in.CoherenceStatus),
				"snapshotAt":      in.SnapshotAt.Format(time.RFC3339),
				"evaluatedAt":     in.EvaluatedAt.Format(time.RFC3339),
			},
		})
		return out
	}

	// 2. Partial coherence: draft-only, or defer.
	if in.CoherenceStatus == contracts.CoherencePartial {
		if in.Thresholds.MinLineageCount == 0 {
			draft, ok := catalog.DraftAction()
			if ok {
				out.Decision = contracts.DecisionAllow
				out.AllowedActions = []contracts.Action{draft}
				out.DeferredActions = withoutAction(all, draft)
				out.Confidence = confidencePartialDraftOnly
				out.Reasons = append(out.Reasons, contracts.PolicyReason{
					RuleID:   rulePartialDraftOnly,
					Message:  "partial coherence permits draft-only work; other actions deferred",
					Severity: contracts.SeverityWarn,
					Evidence: map[string]any{
						"draftAction":     string(draft),
						"coherenceStatus": string(in.CoherenceStatus),
					},
				})
				return out
			}
			// No draft action in the catalog: fall through to defer.
		}
		out.Decision = contracts.DecisionDefer
		out.DeferredActions = requestedOrAll(in.RequestedAction, all)
		out.Confidence = confidencePartialDefer
		out.Reasons = append(out.Reasons, contracts.PolicyReason{
			RuleID:   rulePartialDefer,
			Message:  "partial coherence; execution deferred until upstream data settles",
			Severity: contracts.SeverityWarn,
			Evidence: map[string]any{
				"coherenceStatus": string(in.CoherenceStatus),
				"requestedAction": string(in.RequestedAction),
			},
		})
		return out
	}

	// 3. Coherent but no requested action: the engine refuses to guess intent.
	if in.RequestedAction == "" {
		out.Decision = contracts.DecisionDefer
		out.DeferredActions = all
		out.Confidence = confidenceNoAction
		out.Reasons = append(out.Reasons, contracts.PolicyReason{
			RuleID:   ruleNoAction,
			Message:  "no action requested; nothing to allow",
			Severity: contracts.SeverityWarn,
		})
		return out
	}

	// Totality guard: an action outside the catalog cannot be reasoned
	// about, so it is deferred rather than allowed through.
	spec, known := catalog[in.RequestedAction]
	if !known {
		out.Decision = contracts.DecisionDefer
		out.DeferredActions = []contracts.Action{in.RequestedAction}
		out.Confidence = confidenceNoAction
		out.Reasons = append(out.Reasons, contracts.PolicyReason{
			RuleID:   ruleUnknownAction,
			Message:  fmt.Sprintf("action %q is not in the catalog", in.RequestedAction),
			Severity: contracts.SeverityWarn,
		})
		return out
	}

	// 4. Coherent with a requested action: recency decides.
	rec := checkRecency(spec, in)
	if !rec.Passed {
		out.Decision = contracts.DecisionDefer
		out.DeferredActions = []contracts.Action{in.RequestedAction}
		out.Confidence = confidenceRecencyDefer
		out.Reasons = append(out.Reasons, contracts.PolicyReason{
			RuleID:   ruleRecencyDefer,
			Message:  "required upstream timestamps are stale or missing",
			Severity: contracts.SeverityWarn,
			Evidence: map[string]any{
				"staleKeys":           rec.StaleKeys,
				"missingKeys":         rec.MissingKeys,
				"maxStalenessMinutes": in.Thresholds.MaxStalenessMinutes,
			},
		})
		return out
	}

	out.Decision = contracts.DecisionAllow
	out.AllowedActions = []contracts.Action{in.RequestedAction}
	out.Confidence = confidenceCoherentAllow
	out.Reasons = append(out.Reasons, contracts.PolicyReason{
		RuleID:   ruleCoherentAllow,
		Message:  "coherent snapshot and fresh upstream data",
		Severity: contracts.SeverityInfo,
		Evidence: map[string]any{
			"usedTimestamps":      rec.UsedTimestamps(),
			"maxStalenessMinutes": in.Thresholds.MaxStalenessMinutes,
		},
	})
	return out
}

func newOutput(in contracts.PolicyInput) *contracts.PolicyOutput {
	version := in.PolicyContractVersion
	if version == "" {
		version = contracts.PolicyContractVersion
	}
	return &contracts.PolicyOutput{
		OK:                    true,
		AllowedActions:        []contracts.Action{},
		BlockedActions:        []contracts.Action{},
		DeferredActions:       []contracts.Action{},
		Reasons:               []contracts.PolicyReason{},
		PolicyContractVersion: version,
		EvaluatedAt:           in.EvaluatedAt,
	}
}

func withoutAction(actions []contracts.Action, drop contracts.Action) []contracts.Action {
	out := make([]contracts.Action, 0, len(actions))
	for _, a := range actions {
		if a != drop {
			out = append(out, a)
		}
	}
	return out
}

func requestedOrAll(requested contracts.Action, all []contracts.Action) []contracts.Action {
	if requested != "" {
		return []contracts.Action{requested}
	}
	return all
}
