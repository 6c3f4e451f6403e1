//go:build property
// +build property

// Property-based tests for engine determinism and the evaluate/validate
// round-trip invariant.
package policy

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/crewline/ratchet/pkg/contracts"
)

func genInput() gopter.Gen {
	statuses := []contracts.CoherenceStatus{
		contracts.CoherenceCoherent, contracts.CoherencePartial, contracts.CoherenceStale,
	}
	actions := []contracts.Action{
		"", contracts.ActionSignalsCapture, contracts.ActionFusionRun,
		contracts.ActionIdeatorRun, contracts.ActionCopywriterRun,
		contracts.ActionBenchmarkRun, contracts.ActionPlaybookSynthesize,
	}
	keys := []string{
		contracts.KeySignalsAt, contracts.KeyFusionAt, contracts.KeyIdeaAt,
		contracts.KeyCopyAt, contracts.KeyBenchmarkAt, contracts.KeyPlaybookAt,
	}

	return gopter.CombineGens(
		gen.IntRange(0, len(statuses)-1),
		gen.IntRange(0, len(actions)-1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 120),
		gen.IntRange(0, 3),
		gen.SliceOfN(len(keys), gen.IntRange(-1, 90)),
	).Map(func(vals []interface{}) contracts.PolicyInput {
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		recency := make(map[string]*time.Time)
		ages := vals[5].([]int)
		for i, k := range keys {
			if ages[i] < 0 {
				recency[k] = nil
				continue
			}
			ts := at.Add(-time.Duration(ages[i]) * time.Minute)
			recency[k] = &ts
		}
		return contracts.PolicyInput{
			TenantID:        "t-prop",
			RobotID:         "r-prop",
			EvaluatedAt:     at,
			SnapshotAt:      at.Add(-30 * time.Second),
			CoherenceStatus: statuses[vals[0].(int)],
			RequestedAction: actions[vals[1].(int)],
			LedgerRecency:   recency,
			Thresholds: contracts.Thresholds{
				MinConfidence:       vals[2].(float64),
				MaxStalenessMinutes: vals[3].(float64),
				MinLineageCount:     vals[4].(int),
			},
		}
	})
}

// Property: every input that passes the input validator evaluates to an
// output that passes the output validator.
func TestEvaluateValidateRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("valid input yields valid output", prop.ForAll(
		func(in contracts.PolicyInput) bool {
			if err := ValidateInput(in); err != nil {
				return true // Out of the property's domain.
			}
			out, err := Evaluate(in)
			if err != nil {
				return false
			}
			return ValidateOutput(out, in) == nil
		},
		genInput(),
	))

	properties.TestingRun(t)
}

// Property: evaluation is a pure function — two runs over the same input
// produce the same decision hash.
func TestEvaluateDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical input, identical hash", prop.ForAll(
		func(in contracts.PolicyInput) bool {
			first, err1 := Evaluate(in)
			second, err2 := Evaluate(in)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			h1, err := DecisionHash(first)
			if err != nil {
				return false
			}
			h2, err := DecisionHash(second)
			if err != nil {
				return false
			}
			return h1 == h2
		},
		genInput(),
	))

	properties.TestingRun(t)
}

// Property: stale coherence always blocks the full action set.
func TestStaleAlwaysBlocksAll(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	all := contracts.DefaultCatalog().Actions()

	properties.Property("stale implies BLOCK of everything", prop.ForAll(
		func(in contracts.PolicyInput) bool {
			in.CoherenceStatus = contracts.CoherenceStale
			out, err := Evaluate(in)
			if err != nil {
				return false
			}
			if out.Decision != contracts.DecisionBlock {
				return false
			}
			return len(out.BlockedActions) == len(all)
		},
		genInput(),
	))

	properties.TestingRun(t)
}
