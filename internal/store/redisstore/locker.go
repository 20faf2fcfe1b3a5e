package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockPrefix = "chat:lock:conv:"

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker is a conversation lock shared by every replica that talks to the
// same Redis. The lease is refreshed while held so a long generation keeps it;
// a crashed holder loses it after TTL.
type Locker struct {
	store *Store
	ttl   time.Duration
	retry time.Duration
	log   *zap.Logger
}

func NewLocker(store *Store, ttl time.Duration, log *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{store: store, ttl: ttl, retry: 50 * time.Millisecond, log: log.Named("redislock")}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	rkey := lockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.store.rdb.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(rkey, token, stop, done)

	released := false
	return func() {
		if released {
			return
		}
		released = true
		close(stop)
		<-done

		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.store.rdb, []string{rkey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.log.Warn("release lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (l *Locker) keepAlive(rkey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tick := time.NewTicker(l.ttl / 3)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.store.rdb, []string{rkey}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.log.Warn("refresh lock failed", zap.String("key", rkey), zap.Error(err))
				continue
			}
			if n == 0 {
				l.log.Warn("lock lost", zap.String("key", rkey))
				return
			}
		}
	}
}
