// Package lock provides a Redis-backed distributed mutual exclusion
// lock guarding the push critical section (spec §5) across multiple
// server replicas sharing one Postgres backend. A single-process
// deployment can rely on Postgres's SERIALIZABLE isolation alone; once
// more than one replica accepts pushes, they also need to serialize
// on this lock before opening the storage transaction, otherwise two
// replicas can both observe the same latest_version_id and both
// proceed to BEGIN before either commits.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config controls acquisition behavior.
type Config struct {
	TTL            time.Duration `env:"PUSH_LOCK_TTL" default:"30s"`
	MaxRetries     int           `env:"PUSH_LOCK_MAX_RETRIES" default:"3"`
	RetryInterval  time.Duration `env:"PUSH_LOCK_RETRY_INTERVAL" default:"100ms"`
	ReleaseTimeout time.Duration `env:"PUSH_LOCK_RELEASE_TIMEOUT" default:"2s"`
	ValuePrefix    string        `env:"PUSH_LOCK_VALUE_PREFIX" default:"dbsync-push"`
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TTL <= 0 {
		out.TTL = 30 * time.Second
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 100 * time.Millisecond
	}
	if out.ReleaseTimeout <= 0 {
		out.ReleaseTimeout = 2 * time.Second
	}
	if out.ValuePrefix == "" {
		out.ValuePrefix = "dbsync-push"
	}
	return out
}

// PushLock is a Redis SET-NX mutex scoped to one key shared by every
// replica of one server deployment (internal/bootstrap uses the
// configured lock value prefix followed by ":push").
type PushLock struct {
	redis    *redis.Client
	key      string
	value    string
	ttl      time.Duration
	cfg      Config
	logger   *slog.Logger
	acquired bool
}

// New returns a lock bound to key. The lock is not acquired yet.
func New(client *redis.Client, key string, cfg Config, logger *slog.Logger) *PushLock {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &PushLock{
		redis:  client,
		key:    key,
		ttl:    cfg.TTL,
		cfg:    cfg,
		logger: logger,
	}
}

func generateLockValue(prefix string) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(buf))
}

// Acquire attempts to take the lock, retrying up to the configured
// Config.MaxRetries times.
func (l *PushLock) Acquire(ctx context.Context) (bool, error) {
	return l.AcquireWithRetry(ctx, 0)
}

// AcquireWithRetry attempts to take the lock, retrying up to
// maxRetries times (0 retries the configured default) with the
// configured interval between attempts.
func (l *PushLock) AcquireWithRetry(ctx context.Context, maxRetries int) (bool, error) {
	if maxRetries <= 0 {
		maxRetries = l.cfg.MaxRetries
	}
	l.value = generateLockValue(l.cfg.ValuePrefix)

	l.logger.Debug("acquiring push lock", "key", l.key, "ttl", l.ttl)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ok, err := l.redis.SetNX(ctx, l.key, l.value, l.ttl).Result()
		if err != nil {
			l.logger.Error("push lock acquire failed", "key", l.key, "attempt", attempt+1, "error", err)
			if attempt == maxRetries {
				return false, fmt.Errorf("acquire push lock after %d attempts: %w", maxRetries+1, err)
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(l.cfg.RetryInterval):
			}
			continue
		}

		if ok {
			l.acquired = true
			l.logger.Debug("push lock acquired", "key", l.key)
			return true, nil
		}

		if attempt == maxRetries {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}
	return false, nil
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Release drops the lock if this holder still owns it. Releasing an
// already-expired or never-acquired lock is a no-op, not an error.
func (l *PushLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	releaseCtx, cancel := context.WithTimeout(ctx, l.cfg.ReleaseTimeout)
	defer cancel()

	res, err := l.redis.Eval(releaseCtx, releaseScript, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("release push lock: %w", err)
	}
	l.acquired = false
	if n, _ := res.(int64); n != 1 {
		l.logger.Warn("push lock already expired or stolen", "key", l.key)
	}
	return nil
}

const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Extend renews the lock's TTL, used by long-running pushes that
// outlive the initial TTL. Fails if the lock was lost in the meantime.
func (l *PushLock) Extend(ctx context.Context, newTTL time.Duration) error {
	if !l.acquired {
		return fmt.Errorf("cannot extend push lock that was not acquired")
	}
	res, err := l.redis.Eval(ctx, extendScript, []string{l.key}, l.value, newTTL.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("extend push lock: %w", err)
	}
	if n, _ := res.(int64); n != 1 {
		return fmt.Errorf("push lock already expired or held by another replica")
	}
	l.ttl = newTTL
	return nil
}

// WithLock acquires the lock, runs fn, and always releases — used by
// the push handler to bracket storage.Store.WithPushTransaction across
// replicas.
func WithLock(ctx context.Context, l *PushLock, fn func(ctx context.Context) error) error {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld{Key: l.key}
	}
	defer l.Release(ctx)
	return fn(ctx)
}

// ErrLockHeld indicates the push lock could not be acquired within the
// configured retries because another replica is mid-push.
type ErrLockHeld struct {
	Key string
}

func (e ErrLockHeld) Error() string {
	return fmt.Sprintf("push lock %q held by another replica", e.Key)
}
