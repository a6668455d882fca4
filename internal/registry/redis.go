package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/models"
	"pdfhtmlgo/internal/redis"
)

// RedisStore saves each record as a JSON value whose native TTL matches the
// process lifetime. An expiry sorted set and a directory hash outlive the
// value so the cleaner can still find output directories of expired processes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) recordKey(id string) string { return s.client.Key("process", id) }
func (s *RedisStore) expiryKey() string          { return s.client.Key("expiry") }
func (s *RedisStore) dirsKey() string            { return s.client.Key("dirs") }

// recordTTL is the lifetime stamped on the record by the registry clock, so
// it does not depend on the wall clock of this host.
func recordTTL(p *models.ConversionProcess) time.Duration {
	ttl := p.ExpiresAt.Sub(p.CreatedAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *RedisStore) Save(ctx context.Context, p *models.ConversionProcess) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(p.ID), data, recordTTL(p))
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(p.ExpiresAt.UnixMilli()), Member: p.ID})
		pipe.HSet(ctx, s.dirsKey(), p.ID, p.OutputDir)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.ConversionProcess, error) {
	data, err := s.client.Get(ctx, s.recordKey(id))
	if errors.Is(err, redis.ErrCacheMiss) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "process %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	var p models.ConversionProcess
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.ZRem(ctx, s.expiryKey(), id)
		pipe.HDel(ctx, s.dirsKey(), id)
		return nil
	})
}

func (s *RedisStore) Expired(ctx context.Context, now time.Time) ([]*models.ConversionProcess, error) {
	ids, err := s.client.MembersUpTo(ctx, s.expiryKey(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	dirs, err := s.client.HashValues(ctx, s.dirsKey(), ids...)
	if err != nil {
		return nil, fmt.Errorf("load output dirs: %w", err)
	}
	out := make([]*models.ConversionProcess, 0, len(ids))
	for i, id := range ids {
		out = append(out, &models.ConversionProcess{ID: id, OutputDir: dirs[i]})
	}
	return out, nil
}
