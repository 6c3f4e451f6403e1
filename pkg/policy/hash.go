package policy

import (
	"fmt"

	"github.com/crewline/ratchet/pkg/canonical"
	"github.com/crewline/ratchet/pkg/contracts"
)

// DecisionHash produces a deterministic SHA-256 hash of the decision over
// its JCS-canonical JSON form. Gate records bind this hash so a decision
// can be verified after the fact.
func DecisionHash(out *contracts.PolicyOutput) (string, error) {
	h, err := canonical.Hash(out)
	if err != nil {
		return "", fmt.Errorf("policy: decision hash canonicalization failed: %w", err)
	}
	return h, nil
}
