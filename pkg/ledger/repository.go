package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/crewline/ratchet/pkg/canonical"
)

// Repository is the injected ledger store. Implementations must treat
// entries as append-only and preserve per-robot hash chaining. Never a
// process-wide singleton: callers receive one explicitly.
type Repository interface {
	// Append persists a new entry. ID, CreatedAt, PrevHash, and Hash are
	// assigned by the repository; the stored entry is returned.
	Append(ctx context.Context, e Entry) (Entry, error)

	// LatestByType returns the most recent entry of the given type for a
	// robot, or ErrNotFound.
	LatestByType(ctx context.Context, tenantID, robotID, entryType string) (Entry, error)

	// ListByRobot returns all entries for a robot in append order.
	ListByRobot(ctx context.Context, tenantID, robotID string) ([]Entry, error)
}

// TimestampPrecision is the resolution CreatedAt is held at. Postgres
// TIMESTAMP columns carry microseconds, so hashing anything finer would
// break chain verification after a round trip through the database.
const TimestampPrecision = time.Microsecond

// ChainHash computes an entry's chain hash: the canonical hash of the
// entry content (sans its own hash fields) bound to the predecessor hash.
// CreatedAt is bound at TimestampPrecision so an entry read back from any
// backend rehashes identically.
func ChainHash(e Entry, prevHash string) (string, error) {
	input := struct {
		ID        string         `json:"id"`
		TenantID  string         `json:"tenant_id"`
		RobotID   string         `json:"robot_id"`
		Module    string         `json:"module"`
		Source    string         `json:"source"`
		Type      string         `json:"type"`
		State     State          `json:"state"`
		Payload   map[string]any `json:"payload"`
		Lineage   []string       `json:"lineage"`
		CreatedAt string         `json:"created_at"`
		PrevHash  string         `json:"prev_hash"`
	}{
		ID:        e.ID,
		TenantID:  e.TenantID,
		RobotID:   e.RobotID,
		Module:    e.Module,
		Source:    e.Source,
		Type:      e.Type,
		State:     e.State,
		Payload:   e.Payload,
		Lineage:   e.Lineage,
		CreatedAt: e.CreatedAt.UTC().Truncate(TimestampPrecision).Format("2006-01-02T15:04:05.000000Z"),
		PrevHash:  prevHash,
	}
	h, err := canonical.Hash(input)
	if err != nil {
		return "", fmt.Errorf("ledger: chain hash failed: %w", err)
	}
	return h, nil
}

// GenesisHash seeds each per-robot chain.
const GenesisHash = "genesis"

// VerifyChain walks a robot's entries in order and checks every link.
func VerifyChain(entries []Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("ledger: entry %d (%s) prev_hash mismatch", i, e.ID)
		}
		want, err := ChainHash(e, prev)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("ledger: entry %d (%s) hash mismatch", i, e.ID)
		}
		prev = e.Hash
	}
	return nil
}
