package reports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/rpattn/dealreport/internal/domain"
)

// Locker serializes executions of the same report and cycle. Acquire returns
// domain.ErrExecutionInProgress when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

func executionLockKey(reportID int64, cycleCode int) string {
	return fmt.Sprintf("reports:execute:%d:%d", reportID, cycleCode)
}

// RedisLocker holds a redislock lease for the duration of one execution.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, domain.ErrExecutionInProgress
	} else if err != nil {
		return nil, fmt.Errorf("obtain execution lock: %w", err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// LocalLocker is the in-process fallback used when Redis is disabled.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, domain.ErrExecutionInProgress
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
