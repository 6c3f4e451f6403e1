// Package fusion merges multiple upstream structured payloads into one
// normalized summary object.
package fusion

import (
	"sort"

	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/structval"
)

// Summary is the normalized result of merging upstream payloads.
type Summary struct {
	Sources int            `json:"sources"`
	Merged  map[string]any `json:"merged"`
	// Conflicts lists keys whose scalar values disagreed across sources;
	// the last writer wins in Merged.
	Conflicts []string `json:"conflicts"`
}

// Merge folds the payloads together in argument order. Maps merge
// recursively; scalars and arrays are replaced last-writer-wins, with the
// disagreeing key recorded. Inputs must be structured values; the output
// is deep-copied and never aliases an input.
func Merge(payloads ...map[string]any) (*Summary, error) {
	for _, p := range payloads {
		if p == nil {
			continue
		}
		if err := structval.Check(p); err != nil {
			return nil, contracts.NewError(contracts.CodeInvalidRequest,
				"fusion input is malformed: %v", err)
		}
	}

	merged := make(map[string]any)
	conflicts := make(map[string]bool)
	sources := 0
	for _, p := range payloads {
		if p == nil {
			continue
		}
		sources++
		mergeInto(merged, p, "", conflicts)
	}

	return &Summary{
		Sources:   sources,
		Merged:    merged,
		Conflicts: sortedKeys(conflicts),
	}, nil
}

func mergeInto(dst, src map[string]any, prefix string, conflicts map[string]bool) {
	for _, k := range mapKeys(src) {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		incoming := src[k]

		existing, present := dst[k]
		if present {
			dstMap, dstIsMap := existing.(map[string]any)
			srcMap, srcIsMap := incoming.(map[string]any)
			if dstIsMap && srcIsMap {
				mergeInto(dstMap, srcMap, path, conflicts)
				continue
			}
			if !equalScalar(existing, incoming) {
				conflicts[path] = true
			}
		}
		dst[k] = deepCopy(incoming)
	}
}

func equalScalar(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool, string, int, int64, float64:
		return a == b
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalScalar(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func deepCopy(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, elem := range tv {
			out[k] = deepCopy(elem)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			out[i] = deepCopy(elem)
		}
		return out
	default:
		return v
	}
}

func mapKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
