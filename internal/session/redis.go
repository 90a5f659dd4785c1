package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix   = "session:token:"
	idKeyPrefix      = "session:id:"
	accountKeyPrefix = "session:account:"
)

// RedisStore persists sessions in redis so they survive process restarts and
// are shared across replicas. Records expire with the session.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore and verifies connectivity.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used in tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// record is the stored shape of a Session.
type record struct {
	ID        string         `json:"id"`
	Token     string         `json:"token"`
	AccountID string         `json:"account_id,omitempty"`
	Values    map[string]any `json:"values,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	return r.write(ctx, s)
}

func (r *RedisStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := r.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: decode record: %w", err)
	}

	s := &Session{
		ID:        rec.ID,
		Token:     rec.Token,
		AccountID: rec.AccountID,
		Values:    rec.Values,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	if s.Expired() {
		return nil, ErrExpired
	}
	return s, nil
}

func (r *RedisStore) Update(ctx context.Context, s *Session) error {
	// Rekey when the token was rotated: drop the stale token key first.
	oldToken, err := r.client.Get(ctx, idKeyPrefix+s.ID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: redis get id: %w", err)
	}
	if oldToken != "" && oldToken != s.Token {
		if err := r.client.Del(ctx, tokenKeyPrefix+oldToken).Err(); err != nil {
			return fmt.Errorf("session: redis del stale token: %w", err)
		}
	}
	return r.write(ctx, s)
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	token, err := r.client.Get(ctx, idKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: redis get id: %w", err)
	}

	data, err := r.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if err == nil {
		var rec record
		if json.Unmarshal(data, &rec) == nil && rec.AccountID != "" {
			_ = r.client.SRem(ctx, accountKeyPrefix+rec.AccountID, id).Err()
		}
	}

	if err := r.client.Del(ctx, tokenKeyPrefix+token, idKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

func (r *RedisStore) DeleteByAccountID(ctx context.Context, accountID string) error {
	ids, err := r.client.SMembers(ctx, accountKeyPrefix+accountID).Result()
	if err != nil {
		return fmt.Errorf("session: redis smembers: %w", err)
	}
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, accountKeyPrefix+accountID).Err()
}

func (r *RedisStore) write(ctx context.Context, s *Session) error {
	rec := record{
		ID:        s.ID,
		Token:     s.Token,
		AccountID: s.AccountID,
		Values:    s.Values,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}

	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return ErrExpired
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+s.Token, data, ttl)
	pipe.Set(ctx, idKeyPrefix+s.ID, s.Token, ttl)
	if s.AccountID != "" {
		pipe.SAdd(ctx, accountKeyPrefix+s.AccountID, s.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: redis write: %w", err)
	}
	return nil
}
