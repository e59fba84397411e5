package lock

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// RedisLocker is a distributed CounterpartyLocker built on redsync.
// The lock expires after Expiry even if the holder dies, so Expiry must exceed
// the longest commit transaction.
type RedisLocker struct {
	rs         *redsync.Redsync
	prefix     string
	expiry     time.Duration
	tries      int
	retryDelay time.Duration
	logger     *zap.Logger
}

// RedisOption configures a RedisLocker
type RedisOption func(*RedisLocker)

// WithExpiry sets the lock TTL
func WithExpiry(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.expiry = d
		}
	}
}

// WithRetries sets how many acquisition attempts are made and the delay between them
func WithRetries(tries int, delay time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if tries > 0 {
			l.tries = tries
		}
		if delay > 0 {
			l.retryDelay = delay
		}
	}
}

// WithKeyPrefix sets the Redis key prefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) RedisOption {
	return func(l *RedisLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisLocker creates a RedisLocker on client
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		rs:         redsync.New(goredis.NewPool(client)),
		prefix:     "ledger:lock:counterparty:",
		expiry:     10 * time.Second,
		tries:      32,
		retryDelay: 100 * time.Millisecond,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the Redis key guarding counterpartyID
func (l *RedisLocker) Key(counterpartyID string) string {
	return l.prefix + counterpartyID
}

// WithLock runs fn while holding the distributed lock for counterpartyID
func (l *RedisLocker) WithLock(ctx context.Context, counterpartyID string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "lock", "WithLock",
		telemetry.WithAttribute("counterparty_id", counterpartyID))
	defer span.End()

	key := l.Key(counterpartyID)
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(l.retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		telemetry.RecordError(span, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// redsync reports contention and unreachable nodes alike once tries run out
		l.logger.Warn("Counterparty lock not acquired", zap.String("lock_key", key), zap.Error(err))
		return notAcquired(counterpartyID)
	}
	telemetry.AddEvent(span, "lock_acquired")

	defer func() {
		// A fresh context so a cancelled request still releases the lock
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.logger.Warn("Failed to release counterparty lock",
				zap.String("lock_key", key), zap.Bool("unlock_ok", ok), zap.Error(err))
		}
	}()

	return fn(ctx)
}

var _ appfinance.CounterpartyLocker = (*RedisLocker)(nil)
