// Package redisstore persists saga snapshots in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortressi/saga"
)

// Store keeps every snapshot as a JSON string under <prefix>instance:<id> and
// indexes the ids in the sorted set <prefix>instances, scored by creation time.
// Both are written in one MULTI/EXEC.
type Store struct {
	client      redis.UniversalClient
	prefix      string
	finishedTTL time.Duration
}

type Option func(*Store)

// WithPrefix sets the key prefix. The default is "saga:".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithFinishedTTL expires snapshots of completed and compensated instances
// after ttl. Zero keeps them until deleted.
func WithFinishedTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.finishedTTL = ttl
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "saga:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) instanceKey(id string) string {
	return s.prefix + "instance:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + "instances"
}

func (s *Store) Save(ctx context.Context, inst *saga.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal saga %s: %w", inst.ID, err)
	}

	var ttl time.Duration
	if inst.Status.Terminal() {
		ttl = s.finishedTTL
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.instanceKey(inst.ID), data, ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(inst.CreatedAt.UnixMicro()),
			Member: inst.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save saga %s: %w", inst.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*saga.Instance, error) {
	data, err := s.client.Get(ctx, s.instanceKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("saga %s: %w", id, saga.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load saga %s: %w", id, err)
	}
	return decode(id, data)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.instanceKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete saga %s: %w", id, err)
	}
	return nil
}

// List walks the index in creation order. Ids whose snapshot expired are
// dropped from the index.
func (s *Store) List(ctx context.Context, statuses ...saga.Status) ([]*saga.Instance, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.instanceKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}

	var (
		out   []*saga.Instance
		stale []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		inst, err := decode(ids[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		if matches(inst.Status, statuses) {
			out = append(out, inst)
		}
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune saga index: %w", err)
		}
	}
	return out, nil
}

func decode(id string, data []byte) (*saga.Instance, error) {
	var inst saga.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("unmarshal saga %s: %w", id, err)
	}
	return &inst, nil
}

func matches(status saga.Status, statuses []saga.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
