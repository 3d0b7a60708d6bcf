package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dev-onboarding-agent/server/internal/agent/model"
	errx "github.com/dev-onboarding-agent/server/internal/core/error"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

// RedisSessionStore persists sessions as JSON strings next to the thread's messages,
// sharing its TTL.
type RedisSessionStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionStore(rdb redis.Cmdable, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func (s *RedisSessionStore) sessionKey(threadID string) string {
	return fmt.Sprintf("thread:%s:session", threadID)
}

func (s *RedisSessionStore) Load(ctx context.Context, threadID string) (model.Session, error) {
	key := s.sessionKey(threadID)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.NewSession(threadID), nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load session from redis")
		return model.Session{}, errx.WrapRedis(err)
	}

	var session model.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to unmarshal session")
		return model.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	session.ThreadID = threadID
	return session, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session model.Session) error {
	if session.ThreadID == "" {
		return errx.Input("session has no thread id")
	}
	b, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	key := s.sessionKey(session.ThreadID)
	if err := s.rdb.Set(ctx, key, b, s.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save session to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// Touch renews the session key's TTL. Without a TTL sessions never expire.
func (s *RedisSessionStore) Touch(ctx context.Context, threadID string) error {
	if s.ttl <= 0 {
		return nil
	}
	key := s.sessionKey(threadID)
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to refresh session ttl")
		return errx.WrapRedis(err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, threadID string) error {
	key := s.sessionKey(threadID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.SessionStore = (*RedisSessionStore)(nil)
