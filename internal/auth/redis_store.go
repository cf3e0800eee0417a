package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/laborar/portal/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const (
	sessionKeyPrefix = "laborar-session||"
	tokensSetKey     = "laborar-sessions"
)

// RedisStore keeps sessions in redis, so they survive restarts and can be
// shared by several instances. Redis expires the keys itself; the tokens set
// is pruned by ScanAndClean.
type RedisStore struct {
	storeBase
	redisClient *redis.Client
}

func NewRedisStore(ttl time.Duration, redisClient *redis.Client) *RedisStore {
	return &RedisStore{
		storeBase:   newStoreBase(ttl),
		redisClient: redisClient,
	}
}

func (s *RedisStore) Create(ctx context.Context, user User) (string, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisStore.create")
	defer span.End()

	token, err := s.newToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	sessBytes, err := json.Marshal(newSession(user, s.now(), s.ttl))
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	// session key and token set entry are written in one MULTI/EXEC
	if _, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+token, string(sessBytes), s.ttl)
		pipe.SAdd(ctx, tokensSetKey, token)
		return nil
	}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("store session: %w", err)
	}

	return token, nil
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (*User, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisStore.lookup")
	defer span.End()

	if token == "" {
		return nil, ErrSessionNotFound
	}

	val, err := s.redisClient.Get(ctx, sessionKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	if sess.Expired(s.now()) {
		if err := s.Destroy(ctx, token); err != nil {
			log.Warnf("redis store, destroy expired session: %s", err)
		}
		return nil, ErrSessionNotFound
	}

	return &sess.User, nil
}

func (s *RedisStore) Destroy(ctx context.Context, token string) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisStore.destroy")
	defer span.End()

	if err := s.redisClient.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete session: %w", err)
	}

	// remove token from the list of sessions
	if err := s.redisClient.SRem(ctx, tokensSetKey, token).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("remove session token: %w", err)
	}

	return nil
}

// ScanAndClean will run through all known tokens and forget those whose
// session key has already expired in redis.
func (s *RedisStore) ScanAndClean(ctx context.Context) {
	sessionTokens, err := s.redisClient.SMembers(ctx, tokensSetKey).Result()
	if err != nil {
		log.Errorf("redis store, scan and clean, get sessions: %s", err)
		return
	}

	if len(sessionTokens) == 0 {
		log.Traceln("redis store, scan and clean abort, no sessions")
		return
	}

	log.Debugf("redis store, scan and clean [%d sessions] start ...", len(sessionTokens))
	cleaned := 0
	for _, token := range sessionTokens {
		exists, err := s.redisClient.Exists(ctx, sessionKeyPrefix+token).Result()
		if err != nil {
			log.Errorf("redis store, scan and clean token: %s", err)
			continue
		}
		if exists > 0 {
			continue
		}

		if err := s.redisClient.SRem(ctx, tokensSetKey, token).Err(); err != nil {
			log.Errorf("redis store, clean token: %s", err)
			continue
		}
		cleaned++
	}

	log.Debugf("redis store, scan and clean done, %d tokens removed", cleaned)
}
