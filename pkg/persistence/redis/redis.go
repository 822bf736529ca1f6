package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stars-network/frost-wallet-go/pkg/persistence"
)

// Key prefixes for namespacing in Redis
const (
	keyNodeState         = "wallet:nodestate:main"
	keyPrefixSession     = "wallet:session:"
	keySetSessions       = "wallet:sessions:index"
	keySchemaVersion     = "wallet:metadata:schema_version"
	currentSchemaVersion = "v1"
)

// RedisStore is a Redis-backed implementation of INodeStateStore,
// suitable for deployments where node state must survive host loss.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys, for
	// multi-tenant setups.
	KeyPrefix string
}

// NewRedisStore creates a Redis-backed node-state store
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rs := &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rs.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis node-state store initialized", "address", cfg.Address, "db", cfg.DB)
	return rs, nil
}

func (r *RedisStore) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisStore) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

// SaveNodeState persists node operational state.
func (r *RedisStore) SaveNodeState(state *persistence.NodeState) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalNodeState(state)
	if err != nil {
		return err
	}
	return r.client.Set(context.Background(), r.prefixKey(keyNodeState), data, 0).Err()
}

// LoadNodeState retrieves node operational state.
func (r *RedisStore) LoadNodeState() (*persistence.NodeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := r.client.Get(context.Background(), r.prefixKey(keyNodeState)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node state: %w", err)
	}
	return persistence.UnmarshalNodeState(data)
}

// SaveSessionRecord journals a completed ceremony.
func (r *RedisStore) SaveSessionRecord(record *persistence.SessionRecord) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalSessionRecord(record)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.prefixKey(keyPrefixSession+record.SessionID), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetSessions), record.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// LoadSessionRecord retrieves a journal entry by session id.
func (r *RedisStore) LoadSessionRecord(sessionID string) (*persistence.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := r.client.Get(context.Background(), r.prefixKey(keyPrefixSession+sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}
	return persistence.UnmarshalSessionRecord(data)
}

// ListSessionRecords returns all journal entries sorted by completion time.
func (r *RedisStore) ListSessionRecords() ([]*persistence.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	ids, err := r.client.SMembers(ctx, r.prefixKey(keySetSessions)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session index: %w", err)
	}

	records := make([]*persistence.SessionRecord, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.prefixKey(keyPrefixSession+id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load session record %s: %w", id, err)
		}
		record, err := persistence.UnmarshalSessionRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CompletedAt.Equal(records[j].CompletedAt) {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].CompletedAt.Before(records[j].CompletedAt)
	})
	return records, nil
}

// DeleteSessionRecord removes a journal entry.
func (r *RedisStore) DeleteSessionRecord(sessionID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.prefixKey(keyPrefixSession+sessionID))
	pipe.SRem(ctx, r.prefixKey(keySetSessions), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// HealthCheck verifies Redis is reachable.
func (r *RedisStore) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
