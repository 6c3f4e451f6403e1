package builder

import (
	"context"
	"log/slog"

	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/ledger"
	"github.com/crewline/ratchet/pkg/snapshot"
)

// SnapshotFunc fetches the current snapshot for a robot.
type SnapshotFunc func(ctx context.Context, tenantID, robotID string) (*snapshot.Snapshot, error)

// ProduceFunc generates the run's artifacts. draftOnly tells the producer
// the run proceeds under partial coherence, so anything it emits will be
// recorded as a draft.
type ProduceFunc func(ctx context.Context, req contracts.BuilderRunRequest, draftOnly bool) ([]contracts.BuilderArtifact, error)

// Service runs builder executions end to end: request validation,
// idempotent registration, coherence policy, artifact validation, and
// ledger recording.
type Service struct {
	Ledger   ledger.Repository
	Registry RunRegistry
	Schemas  *SchemaRegistry
	Fetch    SnapshotFunc
	Logger   *slog.Logger
	// Source is recorded on appended entries.
	Source string
}

// RunResult reports what a run did.
type RunResult struct {
	Replayed  bool           `json:"replayed"`
	DraftOnly bool           `json:"draft_only"`
	DryRun    bool           `json:"dry_run"`
	EntryIDs  []string       `json:"entry_ids"`
	Outcome   map[string]any `json:"outcome"`
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run executes one builder run. Re-submissions of a completed run (same
// execution id and request hash) replay the recorded outcome without
// calling produce again.
func (s *Service) Run(ctx context.Context, tenantID string, req contracts.BuilderRunRequest, produce ProduceFunc) (*RunResult, error) {
	if tenantID == "" {
		return nil, contracts.NewError(contracts.CodeInvalidRequest, "tenant id is required")
	}
	if err := ValidateRunRequest(req); err != nil {
		return nil, err
	}
	if s.Schemas != nil {
		if err := s.Schemas.ValidatePayload(req); err != nil {
			return nil, err
		}
	}

	hash, err := RequestHash(req)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeValidationError, "request hash failed: %v", err)
	}
	key := RunKey{TenantID: tenantID, RobotID: req.RobotID, ExecutionID: req.ExecutionID}
	rec, replay, err := s.Registry.Begin(ctx, key, hash)
	if err != nil {
		return nil, err
	}
	if replay && rec.Completed {
		s.logger().Info("builder run replayed",
			"tenant", tenantID, "robot", req.RobotID, "execution", req.ExecutionID)
		return &RunResult{Replayed: true, Outcome: rec.Outcome}, nil
	}

	snap, err := s.Fetch(ctx, tenantID, req.RobotID)
	if err != nil {
		return nil, err
	}
	verdict := AssertCoherencePolicy(snap, req.CoherencePolicy)
	if verdict.FellBack {
		s.logger().Warn("coherence status unreadable, defaulting to partial",
			"tenant", tenantID, "robot", req.RobotID)
	}
	if verdict.Blocked {
		return nil, contracts.NewError(verdict.Code,
			"builder run blocked: coherence is %s", verdict.Status)
	}

	artifacts, err := produce(ctx, req, verdict.DraftOnly)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeValidationError,
			"artifact production failed: %v", err)
	}
	artifacts, err = ValidateArtifacts(artifacts)
	if err != nil {
		return nil, err
	}

	res := &RunResult{DraftOnly: verdict.DraftOnly, DryRun: req.DryRun}
	if req.DryRun {
		res.Outcome = map[string]any{"validated_artifacts": len(artifacts)}
		return res, nil
	}

	state := ledger.StateApproved
	if verdict.DraftOnly {
		state = ledger.StateDraft
	}
	for _, a := range artifacts {
		entry, err := s.Ledger.Append(ctx, ledger.Entry{
			TenantID: tenantID,
			RobotID:  req.RobotID,
			Module:   "builder",
			Source:   s.Source,
			Type:     string(a.Type),
			State:    state,
			Payload: map[string]any{
				"objective_type":   string(req.ObjectiveType),
				"workflow_version": req.WorkflowVersion,
				"agent_version":    req.AgentVersion,
				"artifact":         a.Payload,
			},
			Lineage: a.DependsOnLedgerIDs,
		})
		if err != nil {
			return nil, contracts.NewError(contracts.CodeValidationError,
				"artifact append failed: %v", err)
		}
		res.EntryIDs = append(res.EntryIDs, entry.ID)
	}

	outcome := map[string]any{
		"entry_ids":  stringsToAny(res.EntryIDs),
		"draft_only": res.DraftOnly,
	}
	if err := s.Registry.Complete(ctx, key, outcome); err != nil {
		return nil, contracts.NewError(contracts.CodeValidationError,
			"run completion record failed: %v", err)
	}
	res.Outcome = outcome
	return res, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
