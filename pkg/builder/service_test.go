package builder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/ledger"
	"github.com/crewline/ratchet/pkg/snapshot"
)

func serviceFixture(t *testing.T, coherence string) (*Service, *ledger.MemoryRepository) {
	t.Helper()

	repo := ledger.NewMemoryRepositoryWithClock(func() time.Time {
		return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	})
	ctx := context.Background()
	for _, typ := range []string{"signal", "fusion"} {
		_, err := repo.Append(ctx, ledger.Entry{
			TenantID: "t1", RobotID: "r1",
			Module: typ, Type: typ, State: ledger.StateApproved,
		})
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, ledger.Entry{
		TenantID: "t1", RobotID: "r1",
		Module: "coherence", Type: "coherence", State: ledger.StateApproved,
		Payload: map[string]any{"status": coherence},
	})
	require.NoError(t, err)

	svc := &Service{
		Ledger:   repo,
		Registry: NewMemoryRunRegistry(),
		Fetch: func(ctx context.Context, tenantID, robotID string) (*snapshot.Snapshot, error) {
			return snapshot.Assemble(ctx, repo, tenantID, robotID)
		},
		Source: "service-test",
	}
	return svc, repo
}

func ideationRequest() contracts.BuilderRunRequest {
	return contracts.BuilderRunRequest{
		RobotID:          "r1",
		ObjectiveType:    contracts.ObjectiveIdeation,
		ObjectivePayload: map[string]any{"theme": "product launch"},
		CoherencePolicy: contracts.CoherencePolicy{
			OnStale:   contracts.OnDegradedBlock,
			OnPartial: contracts.OnDegradedDraftOnly,
		},
		ExecutionID:     "exec-1",
		WorkflowVersion: "wf-1",
		AgentVersion:    "agent-1",
		Attempt:         1,
	}
}

func ideaArtifacts(lineage ...string) []contracts.BuilderArtifact {
	return []contracts.BuilderArtifact{{
		Type:               contracts.ArtifactIdea,
		Payload:            map[string]any{"headline": "launch teaser"},
		DependsOnLedgerIDs: lineage,
	}}
}

func produceFixed(artifacts []contracts.BuilderArtifact) ProduceFunc {
	return func(ctx context.Context, req contracts.BuilderRunRequest, draftOnly bool) ([]contracts.BuilderArtifact, error) {
		return artifacts, nil
	}
}

func TestServiceRunRecordsArtifacts(t *testing.T) {
	svc, repo := serviceFixture(t, "coherent")

	res, err := svc.Run(context.Background(), "t1", ideationRequest(),
		produceFixed(ideaArtifacts("fusion-entry-1")))
	require.NoError(t, err)
	require.Len(t, res.EntryIDs, 1)
	assert.False(t, res.DraftOnly)

	entry, err := repo.LatestByType(context.Background(), "t1", "r1", "idea")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateApproved, entry.State)
	assert.Equal(t, []string{"fusion-entry-1"}, entry.Lineage)
	assert.Equal(t, "ideation", entry.Payload["objective_type"])
}

func TestServiceRunPartialProducesDrafts(t *testing.T) {
	svc, repo := serviceFixture(t, "partial")

	draftSeen := false
	res, err := svc.Run(context.Background(), "t1", ideationRequest(),
		func(ctx context.Context, req contracts.BuilderRunRequest, draftOnly bool) ([]contracts.BuilderArtifact, error) {
			draftSeen = draftOnly
			return ideaArtifacts("fusion-entry-1"), nil
		})
	require.NoError(t, err)
	assert.True(t, draftSeen)
	assert.True(t, res.DraftOnly)

	entry, err := repo.LatestByType(context.Background(), "t1", "r1", "idea")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateDraft, entry.State)
}

func TestServiceRunPartialBlocksUnderStrictPolicy(t *testing.T) {
	svc, _ := serviceFixture(t, "partial")

	req := ideationRequest()
	req.CoherencePolicy.OnPartial = contracts.OnDegradedBlock
	_, err := svc.Run(context.Background(), "t1", req, produceFixed(ideaArtifacts("x")))
	require.Error(t, err)
	assert.Equal(t, contracts.CodeCoherenceBlocked, contracts.CodeOf(err))
}

func TestServiceRunStaleAlwaysBlocks(t *testing.T) {
	svc, _ := serviceFixture(t, "stale")

	called := false
	_, err := svc.Run(context.Background(), "t1", ideationRequest(),
		func(ctx context.Context, req contracts.BuilderRunRequest, draftOnly bool) ([]contracts.BuilderArtifact, error) {
			called = true
			return nil, nil
		})
	require.Error(t, err)
	assert.Equal(t, contracts.CodeCoherenceBlocked, contracts.CodeOf(err))
	assert.False(t, called, "producer must not run for a blocked request")
}

func TestServiceRunRejectsMissingLineage(t *testing.T) {
	svc, _ := serviceFixture(t, "coherent")

	_, err := svc.Run(context.Background(), "t1", ideationRequest(),
		produceFixed(ideaArtifacts()))
	require.Error(t, err)
	assert.Equal(t, contracts.CodeMissingLineage, contracts.CodeOf(err))
}

func TestServiceRunReplaysCompletedExecution(t *testing.T) {
	svc, repo := serviceFixture(t, "coherent")

	req := ideationRequest()
	first, err := svc.Run(context.Background(), "t1", req, produceFixed(ideaArtifacts("a")))
	require.NoError(t, err)

	calls := 0
	second, err := svc.Run(context.Background(), "t1", req,
		func(ctx context.Context, r contracts.BuilderRunRequest, d bool) ([]contracts.BuilderArtifact, error) {
			calls++
			return ideaArtifacts("a"), nil
		})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Zero(t, calls)
	assert.Equal(t, first.Outcome["entry_ids"], second.Outcome["entry_ids"])

	// Only the first run appended anything.
	entries, err := repo.ListByRobot(context.Background(), "t1", "r1")
	require.NoError(t, err)
	ideas := 0
	for _, e := range entries {
		if e.Type == "idea" {
			ideas++
		}
	}
	assert.Equal(t, 1, ideas)
}

func TestServiceRunRetryAllowedAfterHigherAttempt(t *testing.T) {
	svc, _ := serviceFixture(t, "coherent")

	req := ideationRequest()
	_, err := svc.Run(context.Background(), "t1", req, produceFixed(ideaArtifacts("a")))
	require.NoError(t, err)

	// A retry bumps only Attempt, which the request hash ignores.
	req.Attempt = 2
	res, err := svc.Run(context.Background(), "t1", req, produceFixed(ideaArtifacts("a")))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
}

func TestServiceRunConflictsOnDivergentResubmission(t *testing.T) {
	svc, _ := serviceFixture(t, "coherent")

	req := ideationRequest()
	_, err := svc.Run(context.Background(), "t1", req, produceFixed(ideaArtifacts("a")))
	require.NoError(t, err)

	req.ObjectivePayload = map[string]any{"theme": "something else"}
	_, err = svc.Run(context.Background(), "t1", req, produceFixed(ideaArtifacts("a")))
	require.Error(t, err)
	assert.Equal(t, contracts.CodeIdempotencyConflict, contracts.CodeOf(err))
}

func TestServiceRunDryRunAppendsNothing(t *testing.T) {
	svc, repo := serviceFixture(t, "coherent")

	req := ideationRequest()
	req.DryRun = true
	res, err := svc.Run(context.Background(), "t1", req, produceFixed(ideaArtifacts("a")))
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Empty(t, res.EntryIDs)

	_, err = repo.LatestByType(context.Background(), "t1", "r1", "idea")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestServiceRunRequiresTenant(t *testing.T) {
	svc, _ := serviceFixture(t, "coherent")

	_, err := svc.Run(context.Background(), "", ideationRequest(), produceFixed(ideaArtifacts("a")))
	assert.Equal(t, contracts.CodeInvalidRequest, contracts.CodeOf(err))
}
