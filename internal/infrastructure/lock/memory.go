package lock

import (
	"context"
	"sync"
	"time"

	appfinance "github.com/tradeledger/backend/internal/application/finance"
)

// MemoryLocker is a keyed mutex for single-instance deployments.
// Entries are reference counted and dropped once no caller holds or waits on them.
type MemoryLocker struct {
	mu          sync.Mutex
	locks       map[string]*keyLock
	waitTimeout time.Duration
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// MemoryOption configures a MemoryLocker
type MemoryOption func(*MemoryLocker)

// WithWaitTimeout bounds how long WithLock waits for a busy key. Zero waits until ctx is done.
func WithWaitTimeout(d time.Duration) MemoryOption {
	return func(l *MemoryLocker) {
		l.waitTimeout = d
	}
}

// NewMemoryLocker creates a MemoryLocker
func NewMemoryLocker(opts ...MemoryOption) *MemoryLocker {
	l := &MemoryLocker{locks: make(map[string]*keyLock)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithLock runs fn while holding the lock for counterpartyID
func (l *MemoryLocker) WithLock(ctx context.Context, counterpartyID string, fn func(ctx context.Context) error) error {
	kl := l.acquireRef(counterpartyID)
	defer l.releaseRef(counterpartyID, kl)

	waitCtx := ctx
	if l.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.waitTimeout)
		defer cancel()
	}

	select {
	case kl.sem <- struct{}{}:
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return notAcquired(counterpartyID)
	}
	defer func() { <-kl.sem }()

	return fn(ctx)
}

func (l *MemoryLocker) acquireRef(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *MemoryLocker) releaseRef(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys are currently tracked
func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var _ appfinance.CounterpartyLocker = (*MemoryLocker)(nil)
