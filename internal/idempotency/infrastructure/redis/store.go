package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"finsuite/internal/idempotency"
)

const (
	defaultPrefix = "paycore:idempotency"
	pendingPrefix = "pending:"
	reserveTries  = 3
)

var completeScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
  return 1
end
return 0
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store implements idempotency.Store on Redis.
// Reservations are SET NX PX; completion and release compare the holder token in a script.
type Store struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewStore constructs a Redis-backed store.
func NewStore(client goredis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("idempotency redis: nil client")
	}
	s := &Store{client: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) key(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope, key)
}

// Reserve implements idempotency.Store.
func (s *Store) Reserve(ctx context.Context, scope, key string, lease time.Duration) (idempotency.Record, error) {
	if scope == "" || key == "" {
		return idempotency.Record{}, idempotency.ErrInvalidKey
	}
	redisKey := s.key(scope, key)
	for try := 0; try < reserveTries; try++ {
		now := s.now().UTC()
		token := idempotency.NewToken()
		ok, err := s.client.SetNX(ctx, redisKey, pendingPrefix+token, lease).Result()
		if err != nil {
			return idempotency.Record{}, err
		}
		if ok {
			return idempotency.Record{
				Scope:     scope,
				Key:       key,
				State:     idempotency.StatePending,
				CreatedAt: now,
				ExpiresAt: now.Add(lease),
				Token:     token,
			}, nil
		}
		value, err := s.client.Get(ctx, redisKey).Result()
		if errors.Is(err, goredis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return idempotency.Record{}, err
		}
		if strings.HasPrefix(value, pendingPrefix) {
			return idempotency.Record{}, idempotency.ErrInProgress
		}
		var record idempotency.Record
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return idempotency.Record{}, fmt.Errorf("idempotency redis: decode record: %w", err)
		}
		return record, nil
	}
	return idempotency.Record{}, idempotency.ErrInProgress
}

// Complete implements idempotency.Store.
func (s *Store) Complete(ctx context.Context, reservation idempotency.Record, result []byte, ttl time.Duration) error {
	now := s.now().UTC()
	record := idempotency.Record{
		Scope:     reservation.Scope,
		Key:       reservation.Key,
		State:     idempotency.StateCompleted,
		Result:    result,
		CreatedAt: reservation.CreatedAt,
		ExpiresAt: now.Add(ttl),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	swapped, err := completeScript.Run(ctx, s.client,
		[]string{s.key(reservation.Scope, reservation.Key)},
		pendingPrefix+reservation.Token, string(payload), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if swapped == 0 {
		return idempotency.ErrReservationLost
	}
	return nil
}

// Release implements idempotency.Store.
func (s *Store) Release(ctx context.Context, reservation idempotency.Record) error {
	deleted, err := releaseScript.Run(ctx, s.client,
		[]string{s.key(reservation.Scope, reservation.Key)},
		pendingPrefix+reservation.Token,
	).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return idempotency.ErrReservationLost
	}
	return nil
}
