// Package snapshot assembles the per-(tenant, robot) intelligence snapshot
// from the ledger: the latest known state per pipeline stage plus the
// declared coherence status. How coherence is computed from raw history is
// the producer's concern; this package only carries the latest declaration
// and fails toward partial when it is unreadable.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/ledger"
)

// Stage entry types, in pipeline order.
var StageTypes = []string{"signal", "fusion", "idea", "copy", "benchmark", "playbook"}

// recencyKeyByStage maps stage entry types to their snapshot timestamp keys.
var recencyKeyByStage = map[string]string{
	"signal":    contracts.KeySignalsAt,
	"fusion":    contracts.KeyFusionAt,
	"idea":      contracts.KeyIdeaAt,
	"copy":      contracts.KeyCopyAt,
	"benchmark": contracts.KeyBenchmarkAt,
	"playbook":  contracts.KeyPlaybookAt,
}

// CoherenceEntryType is the ledger entry type carrying the externally
// computed coherence status in its payload ("status" field).
const CoherenceEntryType = "coherence"

// StageState is the latest known state of one pipeline stage.
type StageState struct {
	State   ledger.State `json:"state"`
	EntryID string       `json:"entry_id"`
	At      time.Time    `json:"at"`
}

// Snapshot is the assembled intelligence snapshot.
type Snapshot struct {
	TenantID string                `json:"tenant_id"`
	RobotID  string                `json:"robot_id"`
	Stages   map[string]StageState `json:"stages"`
	// Coherence carries the raw declared status; use DeriveStatus to read it.
	Coherence struct {
		Status string `json:"status"`
	} `json:"coherence"`
}

// Assemble builds a snapshot from the latest per-stage ledger entries.
// Returns SNAPSHOT_EMPTY when the robot has no stage history at all.
func Assemble(ctx context.Context, repo ledger.Repository, tenantID, robotID string) (*Snapshot, error) {
	snap := &Snapshot{
		TenantID: tenantID,
		RobotID:  robotID,
		Stages:   make(map[string]StageState),
	}

	for _, stage := range StageTypes {
		e, err := repo.LatestByType(ctx, tenantID, robotID, stage)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		snap.Stages[stage] = StageState{State: e.State, EntryID: e.ID, At: e.CreatedAt}
	}
	if len(snap.Stages) == 0 {
		return nil, contracts.NewError(contracts.CodeSnapshotEmpty,
			"robot %s has no pipeline history", robotID)
	}

	if e, err := repo.LatestByType(ctx, tenantID, robotID, CoherenceEntryType); err == nil {
		if status, ok := e.Payload["status"].(string); ok {
			snap.Coherence.Status = status
		}
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}
	return snap, nil
}

// DeriveStatus reads a raw coherence value defensively. Unrecognized or
// missing values default to partial — fail toward caution, not toward
// permissiveness. The second return reports whether the fallback fired,
// so callers can make the deliberate safety decision observable.
func DeriveStatus(raw any) (contracts.CoherenceStatus, bool) {
	s, ok := raw.(string)
	if !ok {
		return contracts.CoherencePartial, true
	}
	status := contracts.CoherenceStatus(s)
	if !status.Recognized() {
		return contracts.CoherencePartial, true
	}
	return status, false
}

// Status applies DeriveStatus to the snapshot's declared coherence.
func (s *Snapshot) Status() (contracts.CoherenceStatus, bool) {
	if s == nil {
		return contracts.CoherencePartial, true
	}
	return DeriveStatus(s.Coherence.Status)
}

// At returns the snapshot instant: the maximum of all known per-stage
// timestamps, or now when none exist.
func (s *Snapshot) At(now time.Time) time.Time {
	max := time.Time{}
	for _, st := range s.Stages {
		if st.At.After(max) {
			max = st.At
		}
	}
	if max.IsZero() {
		return now
	}
	return max
}

// RecencyMap renders the snapshot's per-stage timestamps under the
// recency keys the policy engine reads (e.g. "signalsAt").
func (s *Snapshot) RecencyMap() map[string]*time.Time {
	out := make(map[string]*time.Time, len(recencyKeyByStage))
	for stage, key := range recencyKeyByStage {
		if st, ok := s.Stages[stage]; ok {
			at := st.At
			out[key] = &at
		} else {
			out[key] = nil
		}
	}
	return out
}

// IntelligenceMap renders the snapshot as a structured value for
// PolicyInput evidence.
func (s *Snapshot) IntelligenceMap() map[string]any {
	stages := make(map[string]any, len(s.Stages))
	for stage, st := range s.Stages {
		stages[stage] = map[string]any{
			"state":    string(st.State),
			"entry_id": st.EntryID,
			"at":       st.At.Format(time.RFC3339),
		}
	}
	return map[string]any{
		"stages": stages,
		"coherence": map[string]any{
			"status": s.Coherence.Status,
		},
	}
}
