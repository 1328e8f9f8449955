// Package cache keeps viewer-local state in Redis: relation overrides, the
// name/avatar directory and presence defaults.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"nighton/server/internal/models"
)

const (
	defaultPrefix = "nighton:"
	directoryTTL  = 7 * 24 * time.Hour
	defaultsTTL   = 24 * time.Hour
)

// RedisStore implements presence.RelationStore and presence.Directory
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and checks the connection
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: defaultPrefix}
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) relationKey(viewerID string) string {
	return s.prefix + "relation:" + models.NormalizeAccountID(viewerID)
}

func (s *RedisStore) directoryKey(accountID string) string {
	return s.prefix + "directory:" + models.NormalizeAccountID(accountID)
}

func (s *RedisStore) defaultsKey(accountID string) string {
	return s.prefix + "defaults:" + models.NormalizeAccountID(accountID)
}

// GetRelation returns the stored relation scope of accountID for viewerID.
// Unparseable values are reported as missing.
func (s *RedisStore) GetRelation(ctx context.Context, viewerID, accountID string) (models.Scope, bool, error) {
	val, err := s.client.HGet(ctx, s.relationKey(viewerID), models.NormalizeAccountID(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get relation")
	}
	scope, ok := models.ParseScope(val)
	return scope, ok, nil
}

// SetRelation stores the relation scope of accountID for viewerID
func (s *RedisStore) SetRelation(ctx context.Context, viewerID, accountID string, scope models.Scope) error {
	err := s.client.HSet(ctx, s.relationKey(viewerID), models.NormalizeAccountID(accountID), string(scope)).Err()
	return errors.Wrap(err, "set relation")
}

// LookupProfile returns the cached name and avatar of accountID
func (s *RedisStore) LookupProfile(ctx context.Context, accountID string) (string, string, bool, error) {
	vals, err := s.client.HMGet(ctx, s.directoryKey(accountID), "name", "avatar").Result()
	if err != nil {
		return "", "", false, errors.Wrap(err, "lookup profile")
	}
	name, _ := vals[0].(string)
	avatar, _ := vals[1].(string)
	if name == "" && avatar == "" {
		return "", "", false, nil
	}
	return name, avatar, true, nil
}

// StoreProfile caches the name and avatar of accountID
func (s *RedisStore) StoreProfile(ctx context.Context, accountID, name, avatarURL string) error {
	key := s.directoryKey(accountID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "name", name, "avatar", avatarURL)
	pipe.Expire(ctx, key, directoryTTL)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "store profile")
}

// GetDefaults returns the cached presence defaults of accountID
func (s *RedisStore) GetDefaults(ctx context.Context, accountID string) (*models.PresenceDefaults, error) {
	raw, err := s.client.Get(ctx, s.defaultsKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get defaults")
	}
	var d models.PresenceDefaults
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, errors.Wrap(err, "decode defaults")
	}
	return &d, nil
}

// StoreDefaults caches d
func (s *RedisStore) StoreDefaults(ctx context.Context, d models.PresenceDefaults) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode defaults")
	}
	err = s.client.Set(ctx, s.defaultsKey(d.AccountID), raw, defaultsTTL).Err()
	return errors.Wrap(err, "store defaults")
}

// InvalidateDefaults drops the cached defaults of accountID
func (s *RedisStore) InvalidateDefaults(ctx context.Context, accountID string) error {
	return errors.Wrap(s.client.Del(ctx, s.defaultsKey(accountID)).Err(), "invalidate defaults")
}
