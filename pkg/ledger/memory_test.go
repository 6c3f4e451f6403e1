package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestMemoryAppendChains(t *testing.T) {
	repo := NewMemoryRepositoryWithClock(fixedClock())
	ctx := context.Background()

	first, err := repo.Append(ctx, Entry{
		TenantID: "t-1", RobotID: "r-1", Module: "signals", Type: "signal",
		State: StateApproved, Payload: map[string]any{"count": 3},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, GenesisHash, first.PrevHash)
	assert.Contains(t, first.Hash, "sha256:")

	second, err := repo.Append(ctx, Entry{
		TenantID: "t-1", RobotID: "r-1", Module: "fusion", Type: "fusion",
		State: StateApproved, Lineage: []string{first.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)

	entries, err := repo.ListByRobot(ctx, "t-1", "r-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NoError(t, VerifyChain(entries))
}

func TestMemoryChainsAreIsolatedPerRobot(t *testing.T) {
	repo := NewMemoryRepositoryWithClock(fixedClock())
	ctx := context.Background()

	_, err := repo.Append(ctx, Entry{TenantID: "t-1", RobotID: "r-1", Type: "signal", State: StateApproved})
	require.NoError(t, err)
	other, err := repo.Append(ctx, Entry{TenantID: "t-1", RobotID: "r-2", Type: "signal", State: StateApproved})
	require.NoError(t, err)

	// A different robot starts its own chain at genesis.
	assert.Equal(t, GenesisHash, other.PrevHash)
}

func TestMemoryLatestByType(t *testing.T) {
	repo := NewMemoryRepositoryWithClock(fixedClock())
	ctx := context.Background()

	_, err := repo.Append(ctx, Entry{TenantID: "t-1", RobotID: "r-1", Type: "signal", State: StateApproved, Payload: map[string]any{"v": 1}})
	require.NoError(t, err)
	_, err = repo.Append(ctx, Entry{TenantID: "t-1", RobotID: "r-1", Type: "fusion", State: StateApproved})
	require.NoError(t, err)
	latest, err := repo.Append(ctx, Entry{TenantID: "t-1", RobotID: "r-1", Type: "signal", State: StateApproved, Payload: map[string]any{"v": 2}})
	require.NoError(t, err)

	got, err := repo.LatestByType(ctx, "t-1", "r-1", "signal")
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)

	_, err = repo.LatestByType(ctx, "t-1", "r-1", "benchmark")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryAppendRequiresIdentity(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.Append(ctx, Entry{RobotID: "r-1", Type: "signal"})
	assert.Error(t, err)
	_, err = repo.Append(ctx, Entry{TenantID: "t-1", RobotID: "r-1"})
	assert.Error(t, err)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	repo := NewMemoryRepositoryWithClock(fixedClock())
	ctx := context.Background()

	_, err := repo.Append(ctx, Entry{TenantID: "t-1", RobotID: "r-1", Type: "signal", State: StateApproved})
	require.NoError(t, err)
	_, err = repo.Append(ctx, Entry{TenantID: "t-1", RobotID: "r-1", Type: "fusion", State: StateApproved})
	require.NoError(t, err)

	entries, err := repo.ListByRobot(ctx, "t-1", "r-1")
	require.NoError(t, err)

	entries[0].Payload = map[string]any{"injected": true}
	assert.Error(t, VerifyChain(entries))
}
