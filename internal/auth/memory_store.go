package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/laborar/portal/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const defaultMemoryStoreSize = 8 * 1024 * 1024

// MemoryStore is the single-instance store: sessions live in process memory
// and are all lost on restart.
type MemoryStore struct {
	storeBase
	cache *freecache.Cache

	evictionsSeen atomic.Int64
}

// NewMemoryStore creates a store of cacheSize bytes (0 means 8MB). freecache
// never allocates less than 512KB.
//
// freecache evicts the oldest entries once it is full, so a live session can
// be dropped before its expiry and the user has to log in again. Size the
// store for the expected number of concurrent sessions; ScanAndClean logs the
// evictions it notices.
func NewMemoryStore(ttl time.Duration, cacheSize int) *MemoryStore {
	if cacheSize <= 0 {
		cacheSize = defaultMemoryStoreSize
	}
	return &MemoryStore{
		storeBase: newStoreBase(ttl),
		cache:     freecache.NewCache(cacheSize),
	}
}

func (s *MemoryStore) Create(ctx context.Context, user User) (string, error) {
	_, span := tracing.GlobalTracer.Start(ctx, "memoryStore.create")
	defer span.End()

	token, err := s.newToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	sessBytes, err := json.Marshal(newSession(user, s.now(), s.ttl))
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	if err := s.cache.Set([]byte(token), sessBytes, expireSeconds(s.ttl)); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	return token, nil
}

func (s *MemoryStore) Lookup(ctx context.Context, token string) (*User, error) {
	_, span := tracing.GlobalTracer.Start(ctx, "memoryStore.lookup")
	defer span.End()

	if token == "" {
		return nil, ErrSessionNotFound
	}

	sessBytes, err := s.cache.Get([]byte(token))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(sessBytes, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	if sess.Expired(s.now()) {
		s.cache.Del([]byte(token))
		return nil, ErrSessionNotFound
	}

	return &sess.User, nil
}

func (s *MemoryStore) Destroy(ctx context.Context, token string) error {
	_, span := tracing.GlobalTracer.Start(ctx, "memoryStore.destroy")
	defer span.End()

	s.cache.Del([]byte(token))
	return nil
}

// Count returns the number of held sessions, expired ones not yet swept included.
func (s *MemoryStore) Count() int64 {
	return s.cache.EntryCount()
}

// Evicted returns how many sessions freecache dropped to make room.
func (s *MemoryStore) Evicted() int64 {
	return s.cache.EvacuateCount()
}

// ScanAndClean drops the sessions whose expiry has passed.
func (s *MemoryStore) ScanAndClean(_ context.Context) {
	evicted := s.Evicted()
	if prev := s.evictionsSeen.Swap(evicted); evicted > prev {
		log.Warnf("memory session store full, %d sessions evicted before expiry (total %d), consider a bigger memory_store_size", evicted-prev, evicted)
	}

	now := s.now()
	var toRemove [][]byte

	it := s.cache.NewIterator()
	for entry := it.Next(); entry != nil; entry = it.Next() {
		var sess Session
		if err := json.Unmarshal(entry.Value, &sess); err != nil || sess.Expired(now) {
			toRemove = append(toRemove, entry.Key)
		}
	}

	for _, key := range toRemove {
		s.cache.Del(key)
	}

	if len(toRemove) > 0 {
		log.Debugf("memory session store, cleaned %d expired sessions", len(toRemove))
	}
}

func expireSeconds(ttl time.Duration) int {
	secs := math.Ceil(ttl.Seconds())
	if secs > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(secs)
}
