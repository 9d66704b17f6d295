package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "paycore:webhook"

// DedupStore implements webhooks.Deduplicator with SET NX and a key TTL.
type DedupStore struct {
	client goredis.UniversalClient
	prefix string
}

// Option configures the store.
type Option func(*DedupStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *DedupStore) {
		prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewDedupStore constructs a Redis-backed deduplicator.
func NewDedupStore(client goredis.UniversalClient, opts ...Option) (*DedupStore, error) {
	if client == nil {
		return nil, errors.New("webhook dedup: nil redis client")
	}
	s := &DedupStore{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *DedupStore) key(provider, eventID string) string {
	return s.prefix + ":" + provider + ":" + eventID
}

// IsDuplicate implements webhooks.Deduplicator.
func (s *DedupStore) IsDuplicate(ctx context.Context, provider, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(provider, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordProcessed implements webhooks.Deduplicator.
func (s *DedupStore) RecordProcessed(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("webhook dedup: ttl must be positive")
	}
	return s.client.SetNX(ctx, s.key(provider, eventID), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

// Forget implements webhooks.Forgetter.
func (s *DedupStore) Forget(ctx context.Context, provider, eventID string) error {
	return s.client.Del(ctx, s.key(provider, eventID)).Err()
}
