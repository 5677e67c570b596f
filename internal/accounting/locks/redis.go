package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RedisOptions tunes the distributed locker.
type RedisOptions struct {
	// Timeout bounds the whole acquisition of an account set.
	Timeout time.Duration
	// Expiry is the lease of each account lock; it must outlive a posting transaction.
	Expiry     time.Duration
	RetryDelay time.Duration
}

// RedisLocker is a Locker shared by every process posting to the same ledger.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *slog.Logger
}

// NewRedisLocker constructs a RedisLocker over client.
func NewRedisLocker(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) *RedisLocker {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Expiry <= 0 {
		opts.Expiry = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), opts: opts, logger: logger}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, ids []int64) (Release, error) {
	ordered := accounting.SortedUnique(ids)
	deadline := time.Now().Add(l.opts.Timeout)
	tries := int(l.opts.Timeout/l.opts.RetryDelay) + 1

	held := make([]*redsync.Mutex, 0, len(ordered))
	release := func(ctx context.Context) {
		for i := len(held) - 1; i >= 0; i-- {
			if ok, err := held[i].UnlockContext(ctx); !ok || err != nil {
				l.logger.Warn("release account lock", slog.String("key", held[i].Name()), slog.Any("error", err))
			}
		}
	}

	lockCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	for _, id := range ordered {
		mutex := l.rs.NewMutex(
			shared.AccountLockKey(id),
			redsync.WithExpiry(l.opts.Expiry),
			redsync.WithTries(tries),
			redsync.WithRetryDelay(l.opts.RetryDelay),
		)
		if err := mutex.LockContext(lockCtx); err != nil {
			release(context.WithoutCancel(ctx))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var taken *redsync.ErrTaken
			if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) ||
				errors.Is(err, context.DeadlineExceeded) || !time.Now().Before(deadline) {
				return nil, fmt.Errorf("%w: account %d", accounting.ErrLockTimeout, id)
			}
			return nil, fmt.Errorf("locks: acquire account %d: %w", id, err)
		}
		held = append(held, mutex)
	}
	return release, nil
}
