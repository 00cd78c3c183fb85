package versioned

import (
	"context"
	"sync"
	"sync/atomic"
)

// Owner identifies a host thread or task for lock-ownership purposes.
// The runtime never creates goroutines of its own; hosts allocate one Owner
// per thread of control and pass it on every operation that can lock.
type Owner struct {
	id uint64
}

var ownerIDs atomic.Uint64

// NewOwner allocates a fresh owner identity.
func NewOwner() *Owner {
	return &Owner{id: ownerIDs.Add(1)}
}

// Token represents exclusive ownership of one variable's access path for
// the duration of a lock or sync block. Exactly one live token exists per
// variable at a time.
type Token struct {
	owner    *Owner
	lock     *tokenLock
	released bool // guarded by lock.mu
}

// Handle returns the handle of the variable the token guards.
func (t *Token) Handle() Handle {
	return t.lock.handle
}

// Release gives the token up, handing the lock to the oldest waiter.
// Releasing twice, or releasing a token that is not the current holder,
// fails with ErrInvalidToken.
func (t *Token) Release() error {
	l := t.lock
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.released || l.holder != t {
		return ErrInvalidToken
	}
	t.released = true
	l.handoffLocked()
	return nil
}

// tokenLock is the per-variable mutual exclusion state. Waiters are granted
// the lock in arrival order; release hands the token directly to the oldest
// waiter rather than letting arrivals race for it.
type tokenLock struct {
	handle Handle

	mu      sync.Mutex
	holder  *Token
	waiters []*lockWaiter
	freed   bool
}

type lockWaiter struct {
	owner *Owner
	ready chan *Token
}

func newTokenLock(handle Handle) *tokenLock {
	return &tokenLock{handle: handle}
}

// acquire obtains the token for owner. With wait set, the caller suspends
// until the token is handed over or ctx is cancelled; otherwise contention
// fails immediately with ErrWouldBlock. Locks are non-reentrant: an owner
// that already holds or awaits this token gets ErrReentrantLock.
func (l *tokenLock) acquire(ctx context.Context, owner *Owner, wait bool) (*Token, error) {
	l.mu.Lock()
	if l.freed {
		l.mu.Unlock()
		return nil, ErrInvalidHandle
	}
	if l.holder != nil && l.holder.owner == owner {
		l.mu.Unlock()
		return nil, ErrReentrantLock
	}
	for _, w := range l.waiters {
		if w.owner == owner {
			l.mu.Unlock()
			return nil, ErrReentrantLock
		}
	}
	if l.holder == nil {
		tok := &Token{owner: owner, lock: l}
		l.holder = tok
		l.mu.Unlock()
		return tok, nil
	}
	if !wait {
		l.mu.Unlock()
		return nil, ErrWouldBlock
	}
	w := &lockWaiter{owner: owner, ready: make(chan *Token, 1)}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	select {
	case tok := <-w.ready:
		if tok == nil {
			return nil, ErrInvalidHandle
		}
		return tok, nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, q := range l.waiters {
			if q == w {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		l.mu.Unlock()
		// The hand-off raced with cancellation; accept the token so the
		// queue keeps moving, then give it straight back.
		if tok := <-w.ready; tok != nil {
			_ = tok.Release()
		}
		return nil, ctx.Err()
	}
}

// heldBy reports whether owner currently holds the token.
func (l *tokenLock) heldBy(owner *Owner) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder != nil && l.holder.owner == owner
}

// handoffLocked passes the lock to the oldest waiter. On a freed variable
// the queue is drained instead: pending acquisitions observe the free and
// fail with ErrInvalidHandle.
func (l *tokenLock) handoffLocked() {
	l.holder = nil
	if l.freed {
		for _, w := range l.waiters {
			w.ready <- nil
		}
		l.waiters = nil
		return
	}
	if len(l.waiters) == 0 {
		return
	}
	w := l.waiters[0]
	l.waiters = l.waiters[1:]
	tok := &Token{owner: w.owner, lock: l}
	l.holder = tok
	w.ready <- tok
}

// invalidateLocked marks the variable freed. Callers hold l.mu. If no token
// is live the waiter queue is drained immediately; otherwise the current
// holder's release drains it.
func (l *tokenLock) invalidateLocked() {
	l.freed = true
	if l.holder == nil {
		for _, w := range l.waiters {
			w.ready <- nil
		}
		l.waiters = nil
	}
}

// releaseTokens releases a token set in reverse acquisition order,
// tolerating tokens already consumed by Free.
func releaseTokens(tokens []*Token) {
	for i := len(tokens) - 1; i >= 0; i-- {
		_ = tokens[i].Release()
	}
}
