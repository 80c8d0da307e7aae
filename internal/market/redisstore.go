package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore mirrors the latest per-chain snapshot into Redis so sibling
// processes can read markets without hitting the data source. Entries carry
// a TTL; a missing key means no fresh snapshot, not an error.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a mirror over an existing client.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, prefix: "yieldrun:snapshot", ttl: ttl}
}

// NewRedisStoreAddr dials addr and creates a mirror.
func NewRedisStoreAddr(addr string, ttl time.Duration) *RedisStore {
	return NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

func (s *RedisStore) key(chainID int64) string {
	return fmt.Sprintf("%s:%d", s.prefix, chainID)
}

// Publish implements Mirror.
func (s *RedisStore) Publish(ctx context.Context, chainID int64, records []Record) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal snapshot chain %d: %w", chainID, err)
	}
	if err := s.client.Set(ctx, s.key(chainID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("publish snapshot chain %d: %w", chainID, err)
	}
	return nil
}

// Load reads the mirrored snapshot for one chain. ok is false when the key
// is absent or expired.
func (s *RedisStore) Load(ctx context.Context, chainID int64) ([]Record, bool, error) {
	payload, err := s.client.Get(ctx, s.key(chainID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot chain %d: %w", chainID, err)
	}

	var records []Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, false, fmt.Errorf("decode mirrored snapshot chain %d: %w", chainID, err)
	}
	return records, true, nil
}
