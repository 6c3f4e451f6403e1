package contracts

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Action identifies a pipeline stage operation.
type Action string

// Pipeline action constants, in pipeline order.
const (
	ActionSignalsCapture     Action = "signals.capture"
	ActionFusionRun          Action = "fusion.run"
	ActionIdeatorRun         Action = "ideator.run"
	ActionCopywriterRun      Action = "copywriter.run"
	ActionBenchmarkRun       Action = "benchmark.run"
	ActionPlaybookSynthesize Action = "playbook.synthesize"
)

// Recency timestamp keys exposed by the intelligence snapshot.
const (
	KeySignalsAt   = "signalsAt"
	KeyFusionAt    = "fusionAt"
	KeyIdeaAt      = "ideaAt"
	KeyCopyAt      = "copyAt"
	KeyBenchmarkAt = "benchmarkAt"
	KeyPlaybookAt  = "playbookAt"
)

// RequirementGroup is a set of alternative timestamp keys; any one key
// that is present and within the staleness budget satisfies the group.
type RequirementGroup []string

// ActionSpec declares an action's recency requirements. An action with no
// groups passes recency trivially. Groups combine with logical AND; keys
// within a group with logical OR.
type ActionSpec struct {
	Groups []RequirementGroup `yaml:"groups" json:"groups"`
	// Draft marks the single action permitted in draft-only mode under
	// partial coherence.
	Draft bool `yaml:"draft" json:"draft"`
}

// ActionCatalog maps every recognized action to its spec.
type ActionCatalog map[Action]ActionSpec

// DefaultCatalog returns the compiled-in action catalog.
//
// The root capture action and fusion itself declare no groups: they do not
// depend on fresher downstream data. Everything after ideation requires the
// stage immediately upstream of it.
func DefaultCatalog() ActionCatalog {
	return ActionCatalog{
		ActionSignalsCapture: {},
		ActionFusionRun:      {},
		ActionIdeatorRun: {
			Groups: []RequirementGroup{{KeyFusionAt, KeySignalsAt}},
		},
		ActionCopywriterRun: {
			Groups: []RequirementGroup{{KeyIdeaAt}},
			Draft:  true,
		},
		ActionBenchmarkRun: {
			Groups: []RequirementGroup{{KeyCopyAt}},
		},
		ActionPlaybookSynthesize: {
			Groups: []RequirementGroup{
				{KeyBenchmarkAt},
				{KeyCopyAt, KeyIdeaAt},
			},
		},
	}
}

// Actions returns every action in the catalog, sorted for determinism.
func (c ActionCatalog) Actions() []Action {
	out := make([]Action, 0, len(c))
	for a := range c {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Recognized reports whether a is in the catalog.
func (c ActionCatalog) Recognized(a Action) bool {
	_, ok := c[a]
	return ok
}

// DraftAction returns the single draft-producing action, if any.
func (c ActionCatalog) DraftAction() (Action, bool) {
	for _, a := range c.Actions() {
		if c[a].Draft {
			return a, true
		}
	}
	return "", false
}

// LoadCatalog parses a YAML action catalog, letting deployments tune
// recency requirements without a rebuild. Exactly one draft action is
// required, and every group must name at least one key.
func LoadCatalog(r io.Reader) (ActionCatalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("catalog read failed: %w", err)
	}

	var c ActionCatalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalog parse failed: %w", err)
	}
	if len(c) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	drafts := 0
	for a, spec := range c {
		if a == "" {
			return nil, fmt.Errorf("catalog has empty action name")
		}
		if spec.Draft {
			drafts++
		}
		for i, g := range spec.Groups {
			if len(g) == 0 {
				return nil, fmt.Errorf("action %s group %d is empty", a, i)
			}
			for _, k := range g {
				if k == "" {
					return nil, fmt.Errorf("action %s group %d has empty key", a, i)
				}
			}
		}
	}
	if drafts != 1 {
		return nil, fmt.Errorf("catalog must declare exactly one draft action, got %d", drafts)
	}
	return c, nil
}

// DedupeActions returns a sorted copy of actions with duplicates removed.
func DedupeActions(actions []Action) []Action {
	seen := make(map[Action]bool, len(actions))
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
