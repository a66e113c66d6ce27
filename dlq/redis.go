package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"podqueued/task"
)

const (
	indexKey  = "podqueued:dlq:index"
	entryKeyF = "podqueued:dlq:entry:%s"
)

// RedisStore is a redis-backed Store. Entries are JSON values keyed per
// task_id, indexed by a sorted set scored with the failure time so List
// returns oldest failures first.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func entryKey(taskID string) string { return fmt.Sprintf(entryKeyF, taskID) }

func (s *RedisStore) Add(ctx context.Context, e *Entry) error {
	ok, err := s.Has(ctx, e.TaskID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("dead letter add %s: %w", e.TaskID, task.ErrDuplicateTask)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal dead letter entry: %w", err)
	}
	if err := s.rdb.Set(ctx, entryKey(e.TaskID), data, 0).Err(); err != nil {
		return fmt.Errorf("set dead letter entry: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(e.CompletedAt.UnixMilli()),
		Member: e.TaskID,
	}).Err(); err != nil {
		return fmt.Errorf("index dead letter entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, taskID string) (*Entry, error) {
	data, err := s.rdb.Get(ctx, entryKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Drop a dangling index member, if any.
		s.rdb.ZRem(ctx, indexKey, taskID)
		return nil, fmt.Errorf("dead letter remove %s: %w", taskID, task.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal dead letter entry: %w", err)
	}
	if err := s.rdb.ZRem(ctx, indexKey, taskID).Err(); err != nil {
		return nil, fmt.Errorf("unindex dead letter entry: %w", err)
	}
	if err := s.rdb.Del(ctx, entryKey(taskID)).Err(); err != nil {
		return nil, fmt.Errorf("delete dead letter entry: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) Has(ctx context.Context, taskID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, entryKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("dead letter lookup: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Entry, error) {
	ids, err := s.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dead letter index scan: %w", err)
	}

	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, entryKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get dead letter entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("dead letter count: %w", err)
	}
	return int(n), nil
}
