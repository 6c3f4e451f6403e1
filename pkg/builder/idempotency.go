package builder

import (
	"context"
	"sync"

	"github.com/crewline/ratchet/pkg/canonical"
	"github.com/crewline/ratchet/pkg/contracts"
)

// RunKey identifies one logical builder run for idempotent re-submission.
type RunKey struct {
	TenantID    string
	RobotID     string
	ExecutionID string
}

// RunRecord is what the registry remembers about a run.
type RunRecord struct {
	RequestHash string         `json:"request_hash"`
	Outcome     map[string]any `json:"outcome,omitempty"`
	Completed   bool           `json:"completed"`
}

// RunRegistry stores run records so retries of the same logical run
// replay instead of re-executing, and divergent re-submissions conflict.
type RunRegistry interface {
	// Begin registers a run. When the key was seen before, the prior
	// record is returned with replay=true; a diverging request hash
	// yields IDEMPOTENCY_CONFLICT.
	Begin(ctx context.Context, key RunKey, requestHash string) (RunRecord, bool, error)

	// Complete records the run's outcome for later replay.
	Complete(ctx context.Context, key RunKey, outcome map[string]any) error
}

// RequestHash computes the canonical hash of the run request, excluding
// Attempt: retries of the same logical run must hash equally.
func RequestHash(req contracts.BuilderRunRequest) (string, error) {
	normalized := req
	normalized.Attempt = 0
	return canonical.Hash(normalized)
}

// MemoryRunRegistry is the in-memory RunRegistry for tests and dev.
type MemoryRunRegistry struct {
	mu   sync.Mutex
	runs map[RunKey]RunRecord
}

// NewMemoryRunRegistry creates an empty registry.
func NewMemoryRunRegistry() *MemoryRunRegistry {
	return &MemoryRunRegistry{runs: make(map[RunKey]RunRecord)}
}

// Begin implements RunRegistry.
func (m *MemoryRunRegistry) Begin(ctx context.Context, key RunKey, requestHash string) (RunRecord, bool, error) {
	if key.ExecutionID == "" {
		// Without an execution id there is nothing to deduplicate.
		return RunRecord{RequestHash: requestHash}, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.runs[key]; ok {
		if prior.RequestHash != requestHash {
			return RunRecord{}, false, contracts.NewError(contracts.CodeIdempotencyConflict,
				"execution %s re-submitted with divergent parameters", key.ExecutionID)
		}
		return prior, true, nil
	}

	rec := RunRecord{RequestHash: requestHash}
	m.runs[key] = rec
	return rec, false, nil
}

// Complete implements RunRegistry.
func (m *MemoryRunRegistry) Complete(ctx context.Context, key RunKey, outcome map[string]any) error {
	if key.ExecutionID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.runs[key]
	rec.Outcome = outcome
	rec.Completed = true
	m.runs[key] = rec
	return nil
}
