package policy

import (
	"sort"
	"time"

	"github.com/crewline/ratchet/pkg/contracts"
)

// recencyResult records the outcome of the per-action recency check,
// including diagnostic evidence: keys that existed but were too old
// ("stale") versus keys that were absent ("missing"). Both count as
// failure, but gate records distinguish them for operators.
type recencyResult struct {
	Passed bool

	// used maps each satisfied group's winning key to the timestamp
	// that satisfied it. When multiple keys in a group are in budget,
	// the most recent one wins.
	used map[string]time.Time

	StaleKeys   []string
	MissingKeys []string
}

// UsedTimestamps renders the winning timestamps as RFC 3339 strings,
// keyed by timestamp key, for reason evidence.
func (r recencyResult) UsedTimestamps() map[string]string {
	out := make(map[string]string, len(r.used))
	for k, ts := range r.used {
		out[k] = ts.Format(time.RFC3339)
	}
	return out
}

// checkRecency applies an action's requirement groups against the input's
// ledger recency map: AND across groups, OR within a group. A key satisfies
// a group when it is present and its age at EvaluatedAt is within the
// staleness budget. Actions with no groups pass trivially.
func checkRecency(spec contracts.ActionSpec, in contracts.PolicyInput) recencyResult {
	res := recencyResult{
		Passed: true,
		used:   make(map[string]time.Time),
	}
	budget := time.Duration(in.Thresholds.MaxStalenessMinutes * float64(time.Minute))

	stale := make(map[string]bool)
	missing := make(map[string]bool)

	for _, group := range spec.Groups {
		var winnerKey string
		var winnerAt time.Time
		satisfied := false

		for _, key := range group {
			ts, present := in.LedgerRecency[key]
			if !present || ts == nil {
				missing[key] = true
				continue
			}
			if in.EvaluatedAt.Sub(*ts) > budget {
				stale[key] = true
				continue
			}
			// In budget: the freshest candidate wins the group.
			if !satisfied || ts.After(winnerAt) {
				winnerKey = key
				winnerAt = *ts
				satisfied = true
			}
		}

		if !satisfied {
			res.Passed = false
			continue
		}
		res.used[winnerKey] = winnerAt
	}

	res.StaleKeys = sortedKeys(stale)
	res.MissingKeys = sortedKeys(missing)
	return res
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
