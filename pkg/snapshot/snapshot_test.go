package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/ledger"
)

func seededRepo(t *testing.T) ledger.Repository {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	repo := ledger.NewMemoryRepositoryWithClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	})
	ctx := context.Background()

	for _, e := range []ledger.Entry{
		{TenantID: "t-1", RobotID: "r-1", Type: "signal", State: ledger.StateApproved},
		{TenantID: "t-1", RobotID: "r-1", Type: "fusion", State: ledger.StateApproved},
		{TenantID: "t-1", RobotID: "r-1", Type: CoherenceEntryType, State: ledger.StateApproved,
			Payload: map[string]any{"status": "coherent"}},
		{TenantID: "t-1", RobotID: "r-1", Type: "signal", State: ledger.StateApproved},
	} {
		_, err := repo.Append(ctx, e)
		require.NoError(t, err)
	}
	return repo
}

func TestAssemble(t *testing.T) {
	repo := seededRepo(t)

	snap, err := Assemble(context.Background(), repo, "t-1", "r-1")
	require.NoError(t, err)

	assert.Len(t, snap.Stages, 2)
	assert.Equal(t, "coherent", snap.Coherence.Status)

	// Latest wins: the second signal entry is the one reported.
	sig := snap.Stages["signal"]
	fus := snap.Stages["fusion"]
	assert.True(t, sig.At.After(fus.At))
}

func TestAssembleEmptyRobot(t *testing.T) {
	repo := ledger.NewMemoryRepository()

	_, err := Assemble(context.Background(), repo, "t-1", "r-ghost")
	require.Error(t, err)
	assert.Equal(t, contracts.CodeSnapshotEmpty, contracts.CodeOf(err))
}

func TestDeriveStatusFailsSafe(t *testing.T) {
	status, fellBack := DeriveStatus("coherent")
	assert.Equal(t, contracts.CoherenceCoherent, status)
	assert.False(t, fellBack)

	for _, raw := range []any{"fuzzy", "", nil, 42, []any{"stale"}} {
		status, fellBack = DeriveStatus(raw)
		assert.Equal(t, contracts.CoherencePartial, status)
		assert.True(t, fellBack)
	}
}

func TestSnapshotAt(t *testing.T) {
	repo := seededRepo(t)
	snap, err := Assemble(context.Background(), repo, "t-1", "r-1")
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	at := snap.At(now)
	assert.Equal(t, snap.Stages["signal"].At, at)

	empty := &Snapshot{Stages: map[string]StageState{}}
	assert.Equal(t, now, empty.At(now))
}

func TestRecencyMap(t *testing.T) {
	repo := seededRepo(t)
	snap, err := Assemble(context.Background(), repo, "t-1", "r-1")
	require.NoError(t, err)

	m := snap.RecencyMap()
	require.NotNil(t, m[contracts.KeySignalsAt])
	require.NotNil(t, m[contracts.KeyFusionAt])
	assert.Nil(t, m[contracts.KeyIdeaAt])
	assert.Nil(t, m[contracts.KeyPlaybookAt])
}
