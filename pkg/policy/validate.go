package policy

import (
	"github.com/Masterminds/semver/v3"

	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/structval"
)

// ValidateInput checks a PolicyInput structurally and against domain rules,
// using the default catalog for action recognition. Any violation fails
// closed with INVALID_REQUEST; a partially valid input is never accepted.
func ValidateInput(in contracts.PolicyInput) error {
	return ValidateInputWithCatalog(contracts.DefaultCatalog(), in)
}

// ValidateInputWithCatalog is ValidateInput against an explicit catalog.
func ValidateInputWithCatalog(catalog contracts.ActionCatalog, in contracts.PolicyInput) error {
	if in.TenantID == "" {
		return contracts.NewError(contracts.CodeInvalidRequest, "tenant_id is required")
	}
	if in.RobotID == "" {
		return contracts.NewError(contracts.CodeInvalidRequest, "robot_id is required")
	}
	if in.EvaluatedAt.IsZero() {
		return contracts.NewError(contracts.CodeInvalidRequest, "evaluated_at is not a valid instant")
	}
	if in.SnapshotAt.IsZero() {
		return contracts.NewError(contracts.CodeInvalidRequest, "snapshot_at is not a valid instant")
	}
	if !in.CoherenceStatus.Recognized() {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"coherence_status %q is not recognized", in.CoherenceStatus)
	}

	th := in.Thresholds
	if th.MinConfidence < 0 || th.MinConfidence > 1 {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"thresholds.min_confidence %v outside [0,1]", th.MinConfidence)
	}
	if th.MaxStalenessMinutes < 0 {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"thresholds.max_staleness_minutes %v is negative", th.MaxStalenessMinutes)
	}
	if th.MinLineageCount < 0 {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"thresholds.min_lineage_count %d is negative", th.MinLineageCount)
	}

	if in.IntelligenceSnapshot != nil {
		if err := structval.Check(in.IntelligenceSnapshot); err != nil {
			return contracts.NewError(contracts.CodeInvalidRequest,
				"intelligence_snapshot is malformed: %v", err)
		}
	}
	if in.RequestedAction != "" && !catalog.Recognized(in.RequestedAction) {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"requested_action %q is not recognized", in.RequestedAction)
	}
	if in.PolicyContractVersion != "" {
		if _, err := semver.NewVersion(in.PolicyContractVersion); err != nil {
			return contracts.NewError(contracts.CodeInvalidRequest,
				"policy_contract_version %q is not semver", in.PolicyContractVersion)
		}
	}
	return nil
}

// ValidateOutput cross-checks a PolicyOutput against the input it was
// derived from. It re-derives nothing: only consistency is checked. The
// engine uses it to self-check before returning, and callers use it to
// double-check decisions received across a process boundary.
func ValidateOutput(out *contracts.PolicyOutput, in contracts.PolicyInput) error {
	if out == nil {
		return contracts.NewError(contracts.CodeValidationError, "output is nil")
	}
	if !out.OK {
		return contracts.NewError(contracts.CodeValidationError, "output is not ok")
	}
	if !out.Decision.Recognized() {
		return contracts.NewError(contracts.CodeValidationError,
			"decision %q is not recognized", out.Decision)
	}

	if len(out.Reasons) == 0 {
		return contracts.NewError(contracts.CodeValidationError, "reasons must be non-empty")
	}
	for i, r := range out.Reasons {
		if r.RuleID == "" {
			return contracts.NewError(contracts.CodeValidationError, "reason %d has empty rule_id", i)
		}
		if r.Message == "" {
			return contracts.NewError(contracts.CodeValidationError, "reason %d has empty message", i)
		}
		if !r.Severity.Recognized() {
			return contracts.NewError(contracts.CodeValidationError,
				"reason %d has unrecognized severity %q", i, r.Severity)
		}
	}

	if out.Confidence < 0 || out.Confidence > 1 {
		return contracts.NewError(contracts.CodeValidationError,
			"confidence %v outside [0,1]", out.Confidence)
	}
	if !out.EvaluatedAt.Equal(in.EvaluatedAt) {
		return contracts.NewError(contracts.CodeValidationError,
			"evaluated_at does not echo the input")
	}
	if err := checkVersionCompat(out.PolicyContractVersion, in.PolicyContractVersion); err != nil {
		return err
	}
	return checkActionSets(out)
}

// checkVersionCompat requires the output's contract version to share a
// major version with the input's (or the default when the input left it
// unset). Versions that do not parse as semver must match exactly.
func checkVersionCompat(outVersion, inVersion string) error {
	if outVersion == "" {
		return contracts.NewError(contracts.CodeValidationError, "policy_contract_version is empty")
	}
	if inVersion == "" {
		inVersion = contracts.PolicyContractVersion
	}

	ov, oerr := semver.NewVersion(outVersion)
	iv, ierr := semver.NewVersion(inVersion)
	if oerr != nil || ierr != nil {
		if outVersion != inVersion {
			return contracts.NewError(contracts.CodeValidationError,
				"policy_contract_version %q incompatible with %q", outVersion, inVersion)
		}
		return nil
	}
	if ov.Major() != iv.Major() {
		return contracts.NewError(contracts.CodeValidationError,
			"policy_contract_version %q incompatible with %q", outVersion, inVersion)
	}
	return nil
}

// checkActionSets enforces the set invariant: all sets deduplicated and
// pairwise disjoint, and the set matching the decision non-empty.
func checkActionSets(out *contracts.PolicyOutput) error {
	sets := map[string][]contracts.Action{
		"allowed_actions":  out.AllowedActions,
		"blocked_actions":  out.BlockedActions,
		"deferred_actions": out.DeferredActions,
	}
	seen := make(map[contracts.Action]string)
	for name, set := range sets {
		if len(contracts.DedupeActions(set)) != len(set) {
			return contracts.NewError(contracts.CodeValidationError,
				"%s contains duplicates or empty actions", name)
		}
		for _, a := range set {
			if prev, dup := seen[a]; dup {
				return contracts.NewError(contracts.CodeValidationError,
					"action %q appears in both %s and %s", a, prev, name)
			}
			seen[a] = name
		}
	}

	var matching []contracts.Action
	switch out.Decision {
	case contracts.DecisionAllow:
		matching = out.AllowedActions
	case contracts.DecisionBlock:
		matching = out.BlockedActions
	case contracts.DecisionDefer:
		matching = out.DeferredActions
	}
	if len(matching) == 0 {
		return contracts.NewError(contracts.CodeValidationError,
			"decision %s has an empty matching action set", out.Decision)
	}
	return nil
}
