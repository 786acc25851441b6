package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "lock:"
	defaultTTL = 30 * time.Second
)

// Lua scripts: release and extend only touch the key while the stored token
// still matches the caller's, so an expired holder can never delete a lease
// that was re-acquired by someone else.
const (
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end`
	extendScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("expire", KEYS[1], ARGV[2])
else
    return 0
end`
)

// Conn is the slice of the redis client the lock service uses. Satisfied by
// *redis.Client.
type Conn interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Lock is one held lease.
type Lock struct {
	Key   string
	Token string

	svc *Service
}

type ServiceOptions struct {
	Conn   Conn
	Logger *slog.Logger
}

// Service issues TTL-bounded leases backed by atomic set-if-absent.
type Service struct {
	conn   Conn
	logger *slog.Logger

	mu   sync.Mutex
	held map[string]*Lock
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Conn == nil {
		return nil, fmt.Errorf("redis conn is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		conn:   opts.Conn,
		logger: logger,
		held:   make(map[string]*Lock),
	}, nil
}

// Acquire attempts to take the named lease. acquired reports whether the
// caller now holds it; a false return with nil error means someone else does.
func (s *Service) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := s.conn.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	lock := &Lock{Key: key, Token: token, svc: s}
	s.mu.Lock()
	s.held[key] = lock
	s.mu.Unlock()

	s.logger.Debug("lock_acquired", "key", key, "ttl", ttl.String())
	return lock, true, nil
}

// Release deletes the lease if the token still matches. released is false
// when the lease already expired or was taken over.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	if l == nil || l.svc == nil {
		return false, errors.New("lock is not held")
	}
	s := l.svc

	s.mu.Lock()
	delete(s.held, l.Key)
	s.mu.Unlock()

	n, err := s.conn.Eval(ctx, releaseScript, []string{l.Key}, l.Token).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", l.Key, err)
	}
	released := n == 1
	if released {
		s.logger.Debug("lock_released", "key", l.Key)
	} else {
		s.logger.Warn("lock_release_lost", "key", l.Key)
	}
	return released, nil
}

// Extend pushes the expiry out while the token still matches.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	if l == nil || l.svc == nil {
		return false, errors.New("lock is not held")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	n, err := l.svc.conn.Eval(ctx, extendScript, []string{l.Key}, l.Token, int64(ttl.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", l.Key, err)
	}
	return n == 1, nil
}

// ReleaseAll releases every lease this service still tracks. Called at
// shutdown so crashed-holder TTL expiry is the fallback, not the norm.
func (s *Service) ReleaseAll(ctx context.Context) {
	s.mu.Lock()
	locks := make([]*Lock, 0, len(s.held))
	for _, l := range s.held {
		locks = append(locks, l)
	}
	s.mu.Unlock()

	for _, l := range locks {
		if _, err := l.Release(ctx); err != nil {
			s.logger.Warn("lock_release_error", "key", l.Key, "error", err.Error())
		}
	}
}

// HeldCount reports how many leases the service currently tracks.
func (s *Service) HeldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}
