package credstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"librarydesk/pkg/domain"
)

// RedisStore keeps credentials in a Redis hash that expires with the refresh
// token, so a shared staff terminal can resume the session after restart.
type RedisStore struct {
	client  *redis.Client
	profile string
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(addr, password, profile string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		profile: profile,
	}
}

// Get returns the stored pair.
func (s *RedisStore) Get() (domain.Credentials, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, err := s.client.HGetAll(ctx, credentialsRedisKey(s.profile)).Result()
	if err != nil && err != redis.Nil {
		return domain.Credentials{}, false, err
	}
	if len(data) == 0 {
		return domain.Credentials{}, false, nil
	}
	creds := domain.Credentials{
		AccessToken:  data["accessToken"],
		RefreshToken: data["refreshToken"],
	}
	if !creds.Complete() {
		return domain.Credentials{}, false, nil
	}
	if creds.AccessExpiresAt, err = parseStoredTime(data["accessExpiresAt"]); err != nil {
		return domain.Credentials{}, false, err
	}
	if creds.RefreshExpiresAt, err = parseStoredTime(data["refreshExpiresAt"]); err != nil {
		return domain.Credentials{}, false, err
	}
	return creds, true, nil
}

// Set replaces both tokens atomically.
func (s *RedisStore) Set(c domain.Credentials) error {
	if err := validate(c); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	key := credentialsRedisKey(s.profile)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		"accessToken":      c.AccessToken,
		"refreshToken":     c.RefreshToken,
		"accessExpiresAt":  formatStoredTime(c.AccessExpiresAt),
		"refreshExpiresAt": formatStoredTime(c.RefreshExpiresAt),
	})
	if !c.RefreshExpiresAt.IsZero() {
		pipe.ExpireAt(ctx, key, c.RefreshExpiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return nil
}

// Clear removes both tokens.
func (s *RedisStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, credentialsRedisKey(s.profile)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func credentialsRedisKey(profile string) string {
	return fmt.Sprintf("librarydesk:credentials:%s", profile)
}

func formatStoredTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored expiry: %w", err)
	}
	return t, nil
}
