package builder

import (
	"sort"

	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/structval"
)

// ValidateArtifacts checks a candidate artifact list and returns it with
// each artifact's lineage deduplicated and sorted. An empty list, an
// unrecognized type, a malformed payload, or lineage that collapses to
// nothing after dedup fail with MODEL_OUTPUT_INVALID; an artifact that
// declares no lineage at all fails with MISSING_LINEAGE. Either way, no
// artifact may exist without traceable provenance.
func ValidateArtifacts(artifacts []contracts.BuilderArtifact) ([]contracts.BuilderArtifact, error) {
	if len(artifacts) == 0 {
		return nil, contracts.NewError(contracts.CodeModelOutputInvalid,
			"builder produced no artifacts")
	}

	out := make([]contracts.BuilderArtifact, 0, len(artifacts))
	for i, a := range artifacts {
		if !a.Type.Recognized() {
			return nil, contracts.NewError(contracts.CodeModelOutputInvalid,
				"artifact %d has unrecognized type %q", i, a.Type)
		}
		if err := structval.Check(a.Payload); err != nil {
			return nil, contracts.NewError(contracts.CodeModelOutputInvalid,
				"artifact %d payload is malformed: %v", i, err)
		}

		if len(a.DependsOnLedgerIDs) == 0 {
			return nil, contracts.NewError(contracts.CodeMissingLineage,
				"artifact %d of type %q declares no lineage", i, a.Type)
		}
		lineage := dedupeSorted(a.DependsOnLedgerIDs)
		if len(lineage) == 0 {
			return nil, contracts.NewError(contracts.CodeModelOutputInvalid,
				"artifact %d of type %q has only blank or duplicate lineage ids", i, a.Type)
		}
		a.DependsOnLedgerIDs = lineage
		out = append(out, a)
	}
	return out, nil
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
