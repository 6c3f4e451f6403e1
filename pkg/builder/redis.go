package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crewline/ratchet/pkg/contracts"
)

// RedisRunRegistry implements RunRegistry on Redis so idempotency holds
// across processes. Records expire after TTL; a replay past expiry simply
// re-executes, which is safe because completed runs are also in the ledger.
type RedisRunRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRunRegistry creates a registry backed by Redis.
func NewRedisRunRegistry(addr, password string, db int, ttl time.Duration) *RedisRunRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRunRegistry{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
	}
}

func (r *RedisRunRegistry) key(k RunKey) string {
	return fmt.Sprintf("ratchet:run:%s:%s:%s", k.TenantID, k.RobotID, k.ExecutionID)
}

// Begin implements RunRegistry.
func (r *RedisRunRegistry) Begin(ctx context.Context, key RunKey, requestHash string) (RunRecord, bool, error) {
	if key.ExecutionID == "" {
		return RunRecord{RequestHash: requestHash}, false, nil
	}

	rec := RunRecord{RequestHash: requestHash}
	raw, err := json.Marshal(rec)
	if err != nil {
		return RunRecord{}, false, err
	}

	set, err := r.client.SetNX(ctx, r.key(key), raw, r.ttl).Result()
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("run registry begin: %w", err)
	}
	if set {
		return rec, false, nil
	}

	prior, err := r.get(ctx, key)
	if err != nil {
		return RunRecord{}, false, err
	}
	if prior.RequestHash != requestHash {
		return RunRecord{}, false, contracts.NewError(contracts.CodeIdempotencyConflict,
			"execution %s re-submitted with divergent parameters", key.ExecutionID)
	}
	return prior, true, nil
}

// Complete implements RunRegistry.
func (r *RedisRunRegistry) Complete(ctx context.Context, key RunKey, outcome map[string]any) error {
	if key.ExecutionID == "" {
		return nil
	}

	rec, err := r.get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	rec.Outcome = outcome
	rec.Completed = true

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), raw, r.ttl).Err()
}

func (r *RedisRunRegistry) get(ctx context.Context, key RunKey) (RunRecord, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		return RunRecord{}, err
	}
	var rec RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}
