package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLRepository implements Repository using database/sql.
// It works against both Postgres (lib/pq) and SQLite (modernc.org/sqlite).
type SQLRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLRepository wraps an open database handle.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *SQLRepository) WithClock(clock func() time.Time) *SQLRepository {
	s.clock = clock
	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	robot_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	module TEXT,
	source TEXT,
	type TEXT NOT NULL,
	state TEXT NOT NULL,
	payload TEXT,
	lineage TEXT,
	created_at TIMESTAMP NOT NULL,
	hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	UNIQUE (tenant_id, robot_id, seq)
);
`

// Init creates the schema if it does not exist.
func (s *SQLRepository) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append implements Repository. Concurrent appends to the same chain are
// serialized by the (tenant_id, robot_id, seq) unique constraint: the
// loser's insert fails and the caller may retry.
func (s *SQLRepository) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.TenantID == "" || e.RobotID == "" {
		return Entry{}, fmt.Errorf("ledger: tenant_id and robot_id are required")
	}
	if e.Type == "" {
		return Entry{}, fmt.Errorf("ledger: type is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	prev := GenesisHash
	row := tx.QueryRowContext(ctx, `
		SELECT seq, hash FROM ledger_entries
		WHERE tenant_id = $1 AND robot_id = $2
		ORDER BY seq DESC LIMIT 1
	`, e.TenantID, e.RobotID)
	switch err := row.Scan(&seq, &prev); {
	case errors.Is(err, sql.ErrNoRows):
		seq, prev = 0, GenesisHash
	case err != nil:
		return Entry{}, err
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	// Truncate before hashing: a Postgres TIMESTAMP round-trips at
	// microsecond precision, and the stored hash must survive that.
	e.CreatedAt = s.clock().UTC().Truncate(TimestampPrecision)
	e.PrevHash = prev

	hash, err := ChainHash(e, prev)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = hash

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return Entry{}, err
	}
	lineage, err := json.Marshal(e.Lineage)
	if err != nil {
		return Entry{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, tenant_id, robot_id, seq, module, source, type, state, payload, lineage, created_at, hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.TenantID, e.RobotID, seq+1, e.Module, e.Source, e.Type, string(e.State),
		string(payload), string(lineage), e.CreatedAt, e.Hash, e.PrevHash)
	if err != nil {
		return Entry{}, err
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

const selectColumns = `id, tenant_id, robot_id, module, source, type, state, payload, lineage, created_at, hash, prev_hash`

// LatestByType implements Repository.
func (s *SQLRepository) LatestByType(ctx context.Context, tenantID, robotID, entryType string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+` FROM ledger_entries
		WHERE tenant_id = $1 AND robot_id = $2 AND type = $3
		ORDER BY seq DESC LIMIT 1
	`, tenantID, robotID, entryType)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// ListByRobot implements Repository.
func (s *SQLRepository) ListByRobot(ctx context.Context, tenantID, robotID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM ledger_entries
		WHERE tenant_id = $1 AND robot_id = $2
		ORDER BY seq ASC
	`, tenantID, robotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var payload, lineage sql.NullString
	err := row.Scan(&e.ID, &e.TenantID, &e.RobotID, &e.Module, &e.Source,
		&e.Type, &e.State, &payload, &lineage, &e.CreatedAt, &e.Hash, &e.PrevHash)
	if err != nil {
		return Entry{}, err
	}
	if payload.Valid && payload.String != "" && payload.String != "null" {
		if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
			return Entry{}, err
		}
	}
	if lineage.Valid && lineage.String != "" && lineage.String != "null" {
		if err := json.Unmarshal([]byte(lineage.String), &e.Lineage); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}
