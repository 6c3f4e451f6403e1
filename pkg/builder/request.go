// Package builder validates builder run requests and the artifacts they
// emit, enforcing the system-wide provenance invariant: no artifact exists
// without traceable lineage back to the ledger.
package builder

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/structval"
)

// ValidateRunRequest checks a BuilderRunRequest structurally. Any
// violation fails closed with INVALID_REQUEST.
func ValidateRunRequest(req contracts.BuilderRunRequest) error {
	if req.RobotID == "" {
		return contracts.NewError(contracts.CodeInvalidRequest, "robot_id is required")
	}
	if !req.ObjectiveType.Recognized() {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"objective_type %q is not recognized", req.ObjectiveType)
	}
	if err := structval.CheckMap(req.ObjectivePayload); err != nil {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"objective_payload is malformed: %v", err)
	}
	if req.Constraints != nil {
		if err := structval.Check(req.Constraints); err != nil {
			return contracts.NewError(contracts.CodeInvalidRequest,
				"constraints are malformed: %v", err)
		}
	}

	// Staleness is never negotiable.
	if req.CoherencePolicy.OnStale != contracts.OnDegradedBlock {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"coherence_policy.on_stale must be %q", contracts.OnDegradedBlock)
	}
	switch req.CoherencePolicy.OnPartial {
	case contracts.OnDegradedBlock, contracts.OnDegradedDraftOnly:
	default:
		return contracts.NewError(contracts.CodeInvalidRequest,
			"coherence_policy.on_partial must be %q or %q",
			contracts.OnDegradedBlock, contracts.OnDegradedDraftOnly)
	}

	if req.Attempt < 1 {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"attempt must be a positive integer, got %d", req.Attempt)
	}
	if req.WorkflowVersion == "" {
		return contracts.NewError(contracts.CodeInvalidRequest, "workflow_version is required")
	}
	return nil
}

// SchemaRegistry holds optional per-objective JSON Schemas for objective
// payloads. Registration is explicit; objectives without a schema skip
// the schema check and rely on the structural validator alone.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[contracts.ObjectiveType]*jsonschema.Schema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[contracts.ObjectiveType]*jsonschema.Schema)}
}

// Register compiles and stores a JSON Schema for an objective type.
func (r *SchemaRegistry) Register(objective contracts.ObjectiveType, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://ratchet.schemas.local/builder/%s.schema.json", objective)
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("builder schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("builder schema compile failed: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[objective] = compiled
	return nil
}

// ValidatePayload checks the request's objective payload against the
// registered schema, when one exists.
func (r *SchemaRegistry) ValidatePayload(req contracts.BuilderRunRequest) error {
	r.mu.RLock()
	schema := r.schemas[req.ObjectiveType]
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}
	if err := schema.Validate(toSchemaValue(req.ObjectivePayload)); err != nil {
		return contracts.NewError(contracts.CodeInvalidRequest,
			"objective_payload failed %s schema: %v", req.ObjectiveType, err)
	}
	return nil
}

// toSchemaValue normalizes Go values into what the schema validator
// expects (JSON-decoded shapes only).
func toSchemaValue(m map[string]any) any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch tv := v.(type) {
	case int:
		return float64(tv)
	case int64:
		return float64(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		return toSchemaValue(tv)
	default:
		return v
	}
}
