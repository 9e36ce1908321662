package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the session blob across invocations. Merge is
// read-modify-write over the whole object, so keys this client does not
// own survive a write.
type Store interface {
	Load(ctx context.Context) (map[string]any, error)
	Merge(ctx context.Context, update map[string]any) error
}

// FileStore keeps the blob in a single JSON file. An absent or corrupt
// file loads as an empty object, never as an error.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (map[string]any, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]any{}, nil
	}
	return decodeBlob(raw), nil
}

func (s *FileStore) Merge(ctx context.Context, update map[string]any) error {
	state, _ := s.Load(ctx)
	for k, v := range update {
		state[k] = v
	}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// RedisStore keeps the blob as one JSON value under a fixed key, with the
// same merge semantics as the file store.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(redisURL, key string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, key: key}, nil
}

func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Load(ctx context.Context) (map[string]any, error) {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return decodeBlob(raw), nil
}

func (s *RedisStore) Merge(ctx context.Context, update map[string]any) error {
	state, err := s.Load(ctx)
	if err != nil {
		return err
	}
	for k, v := range update {
		state[k] = v
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func decodeBlob(raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}
