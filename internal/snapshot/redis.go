package snapshot

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "activation:snapshot"

// RedisStore shares the status echo between relay instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = defaultPrefix
	}
	return &RedisStore{client: client, prefix: trimmedPrefix, ttl: ttl}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return redis.NewClient(opts), nil
}

func (s *RedisStore) Put(ctx context.Context, reference string, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	if err := s.client.Set(ctx, s.key(reference), value, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "store snapshot %s", reference)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, reference string) (Entry, bool, error) {
	value, err := s.client.Get(ctx, s.key(reference)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "load snapshot %s", reference)
	}

	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		return Entry{}, false, errors.Wrapf(err, "decode snapshot %s", reference)
	}
	return entry, true, nil
}

func (s *RedisStore) key(reference string) string {
	return s.prefix + ":" + reference
}
