package builder

import (
	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/snapshot"
)

// CoherenceVerdict is the result of applying a run's coherence policy to
// the current snapshot.
type CoherenceVerdict struct {
	Status contracts.CoherenceStatus `json:"status"`
	// FellBack reports that the snapshot's status was unreadable and
	// partial was assumed.
	FellBack bool `json:"fell_back"`
	Blocked  bool `json:"blocked"`
	// Code is the error code to surface when Blocked.
	Code contracts.Code `json:"code,omitempty"`
	// DraftOnly marks a partial-coherence run permitted in draft mode.
	DraftOnly bool `json:"draft_only"`
}

// AssertCoherencePolicy derives the snapshot's status (defaulting to
// partial when unreadable — never assuming coherence) and applies the
// policy: stale always blocks; partial blocks only under on_partial=block,
// otherwise the run proceeds draft-only, matching the policy engine's own
// partial-coherence branch.
func AssertCoherencePolicy(snap *snapshot.Snapshot, policy contracts.CoherencePolicy) CoherenceVerdict {
	status, fellBack := snap.Status()
	v := CoherenceVerdict{Status: status, FellBack: fellBack}

	switch status {
	case contracts.CoherenceStale:
		v.Blocked = true
		v.Code = contracts.CodeCoherenceBlocked
	case contracts.CoherencePartial:
		if policy.OnPartial == contracts.OnDegradedBlock {
			v.Blocked = true
			v.Code = contracts.CodeCoherenceBlocked
		} else {
			v.DraftOnly = true
		}
	case contracts.CoherenceCoherent:
	}
	return v
}
