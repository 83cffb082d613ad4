// Package lease provides per-source mutual exclusion for sync attempts so at
// most one attempt runs for a source at any time, across every process.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/zoku-engine/pkg/repositories"
)

// SyncLocker grants time-bounded sync leases. Acquire returns ok=false when
// another holder's lease is still live. Release is a no-op unless token matches
// the current holder, so an expired holder cannot release a successor's lease.
type SyncLocker interface {
	Acquire(ctx context.Context, sourceID uuid.UUID, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, sourceID uuid.UUID, token string) error
}

// PostgresLocker stores the lease in the source row. The repository resolves
// its connection from the context scope.
type PostgresLocker struct {
	sources repositories.SourceRepository
}

func NewPostgresLocker(sources repositories.SourceRepository) *PostgresLocker {
	return &PostgresLocker{sources: sources}
}

var _ SyncLocker = (*PostgresLocker)(nil)

func (l *PostgresLocker) Acquire(ctx context.Context, sourceID uuid.UUID, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.sources.AcquireSyncLease(ctx, sourceID, token, ttl)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *PostgresLocker) Release(ctx context.Context, sourceID uuid.UUID, token string) error {
	return l.sources.ReleaseSyncLease(ctx, sourceID, token)
}

const redisKeyPrefix = "zoku:sync-lease:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps leases in Redis with SET NX PX. Useful when several engine
// processes share one database and lease churn should stay off the sources table.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

var _ SyncLocker = (*RedisLocker)(nil)

func redisKey(sourceID uuid.UUID) string {
	return redisKeyPrefix + sourceID.String()
}

func (l *RedisLocker) Acquire(ctx context.Context, sourceID uuid.UUID, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, redisKey(sourceID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, sourceID uuid.UUID, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{redisKey(sourceID)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}
