package versioned

import (
	"context"
	"sync"

	"chrono/runtime-go/pkg/runtime"
)

// Config controls runtime-wide defaults.
type Config struct {
	// HistoryRetention bounds every variable's snapshot log to its most
	// recent N entries. Zero keeps the full history until Free.
	HistoryRetention int
}

// Runtime owns every versioned variable created by a host evaluator.
// Hosts pass it around explicitly, so tests and embedded interpreters can
// instantiate isolated runtimes instead of sharing process-wide state.
type Runtime struct {
	cfg Config

	mu       sync.RWMutex
	slots    []*slot
	freeList []uint32
}

type slot struct {
	generation uint32
	vari       *variable
}

// variable is the composite the language exposes: one snapshot log, one
// mutation buffer, one lock entry.
type variable struct {
	handle Handle
	log    *snapshotLog
	buf    *mutationBuffer
	lock   *tokenLock
}

// New creates an empty runtime.
func New(cfg Config) *Runtime {
	return &Runtime{cfg: cfg}
}

// Create declares a versioned variable. Its log starts with snapshot zero
// holding a deep copy of initial, and its buffer starts clean and equal to
// that snapshot.
func (r *Runtime) Create(initial runtime.Value) Handle {
	return r.CreateRetained(initial, r.cfg.HistoryRetention)
}

// CreateRetained declares a versioned variable with a per-variable history
// retention bound overriding the runtime default.
func (r *Runtime) CreateRetained(initial runtime.Value, keep int) Handle {
	if keep < 0 {
		keep = 0
	}
	log := newSnapshotLog(runtime.DeepCopy(initial), keep)

	r.mu.Lock()
	defer r.mu.Unlock()
	var index uint32
	if n := len(r.freeList); n > 0 {
		index = r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, &slot{})
	}
	s := r.slots[index]
	h := Handle{index: index, generation: s.generation}
	s.vari = &variable{
		handle: h,
		log:    log,
		buf:    newMutationBuffer(log.Head()),
		lock:   newTokenLock(h),
	}
	return h
}

// resolve maps a handle to its live variable.
func (r *Runtime) resolve(h Handle) (*variable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(h.index) >= len(r.slots) {
		return nil, ErrInvalidHandle
	}
	s := r.slots[h.index]
	if s.vari == nil || s.generation != h.generation {
		return nil, ErrInvalidHandle
	}
	return s.vari, nil
}

// withToken runs fn with the variable's token held. If owner already holds
// the token (inside a lock or sync block) the call joins that critical
// section; otherwise the token is acquired and released around fn, which
// gives single-statement operations the same atomicity as a one-statement
// lock block.
func (r *Runtime) withToken(ctx context.Context, owner *Owner, h Handle, fn func(*variable) error) error {
	v, err := r.resolve(h)
	if err != nil {
		return err
	}
	if owner == nil {
		owner = NewOwner()
	}
	if v.lock.heldBy(owner) {
		return fn(v)
	}
	tok, err := v.lock.acquire(ctx, owner, true)
	if err != nil {
		return err
	}
	defer func() { _ = tok.Release() }()
	// The variable may have been freed while this owner waited.
	if _, err := r.resolve(h); err != nil {
		return err
	}
	return fn(v)
}

// Mutate applies op to the variable's staged working copy. The log is not
// touched. A nil owner gets an ephemeral identity for the implicit
// acquire-and-release.
func (r *Runtime) Mutate(ctx context.Context, owner *Owner, h Handle, op Operation) error {
	return r.withToken(ctx, owner, h, func(v *variable) error {
		return v.buf.mutate(op)
	})
}

// Commit publishes the staged working copy as a new snapshot and reloads
// the buffer from the new head. Committing a clean buffer is a no-op that
// returns the current head's sequence number.
func (r *Runtime) Commit(ctx context.Context, owner *Owner, h Handle) (uint64, error) {
	var seq uint64
	err := r.withToken(ctx, owner, h, func(v *variable) error {
		if !v.buf.dirty {
			seq = v.log.Head().Seq
			return nil
		}
		snap := v.log.append(v.buf.value)
		v.buf.load(snap)
		seq = snap.Seq
		return nil
	})
	return seq, err
}

// Revert discards staged mutations, reloading the buffer from the current
// head. Reverting a clean buffer is a no-op. The restored value is returned
// as a copy the caller may keep.
func (r *Runtime) Revert(ctx context.Context, owner *Owner, h Handle) (runtime.Value, error) {
	var restored runtime.Value
	err := r.withToken(ctx, owner, h, func(v *variable) error {
		if v.buf.dirty {
			v.buf.load(v.log.Head())
		}
		restored = runtime.DeepCopy(v.buf.value)
		return nil
	})
	return restored, err
}

// Staged returns a copy of the variable's current working value, committed
// or not.
func (r *Runtime) Staged(ctx context.Context, owner *Owner, h Handle) (runtime.Value, error) {
	var staged runtime.Value
	err := r.withToken(ctx, owner, h, func(v *variable) error {
		staged = runtime.DeepCopy(v.buf.value)
		return nil
	})
	return staged, err
}

// Dirty reports whether the variable has staged, uncommitted mutations.
func (r *Runtime) Dirty(ctx context.Context, owner *Owner, h Handle) (bool, error) {
	var dirty bool
	err := r.withToken(ctx, owner, h, func(v *variable) error {
		dirty = v.buf.dirty
		return nil
	})
	return dirty, err
}

// Head returns the most recently committed snapshot. The read is lock-free
// with respect to the variable's token; callers must treat the snapshot as
// immutable.
func (r *Runtime) Head(h Handle) (*Snapshot, error) {
	v, err := r.resolve(h)
	if err != nil {
		return nil, err
	}
	return v.log.Head(), nil
}

// History returns a lazy cursor over the variable's retained snapshots,
// oldest to newest.
func (r *Runtime) History(h Handle) (*History, error) {
	v, err := r.resolve(h)
	if err != nil {
		return nil, err
	}
	return &History{handle: h, log: v.log}, nil
}

// LogLength reports how many snapshots the variable currently retains.
func (r *Runtime) LogLength(h Handle) (int, error) {
	v, err := r.resolve(h)
	if err != nil {
		return 0, err
	}
	return v.log.length(), nil
}

// Acquire obtains the variable's token for owner, suspending until it is
// free. Hand-off among waiters is first-in first-out.
func (r *Runtime) Acquire(ctx context.Context, owner *Owner, h Handle) (*Token, error) {
	v, err := r.resolve(h)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, ErrInvalidToken
	}
	return v.lock.acquire(ctx, owner, true)
}

// TryAcquire obtains the variable's token without blocking, failing with
// ErrWouldBlock when it is contended.
func (r *Runtime) TryAcquire(owner *Owner, h Handle) (*Token, error) {
	v, err := r.resolve(h)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, ErrInvalidToken
	}
	return v.lock.acquire(context.Background(), owner, false)
}

// AcquireMany obtains tokens for a set of handles in the canonical handle
// order, regardless of the order requested. The total order is the
// deadlock-prevention mechanism: a caller blocked partway holds its earlier
// tokens, and no other party can hold a later token while waiting on an
// earlier one.
func (r *Runtime) AcquireMany(ctx context.Context, owner *Owner, handles ...Handle) ([]*Token, error) {
	if owner == nil {
		return nil, ErrInvalidToken
	}
	sorted := sortHandles(handles)
	tokens := make([]*Token, 0, len(sorted))
	for _, h := range sorted {
		v, err := r.resolve(h)
		if err != nil {
			releaseTokens(tokens)
			return nil, err
		}
		tok, err := v.lock.acquire(ctx, owner, true)
		if err != nil {
			releaseTokens(tokens)
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// WithLock runs fn inside a lock block over the given variables. Tokens are
// released when fn returns, panics, or the block is otherwise unwound; any
// number of individually atomic Commit and Revert calls may happen inside.
// Staged-but-uncommitted mutations survive block exit; the block scopes
// mutual exclusion, not a transaction.
func (r *Runtime) WithLock(ctx context.Context, owner *Owner, handles []Handle, fn func() error) error {
	tokens, err := r.AcquireMany(ctx, owner, handles...)
	if err != nil {
		return err
	}
	defer releaseTokens(tokens)
	return fn()
}

// Free disposes a variable, releasing its log and buffer. The handle is
// invalid afterwards. Freeing fails with ErrResourceBusy while another
// owner holds or awaits the variable's token; the owner of the current
// critical section may free it, which aborts any transaction the variable
// participates in at commit time.
func (r *Runtime) Free(owner *Owner, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(h.index) >= len(r.slots) {
		return ErrInvalidHandle
	}
	s := r.slots[h.index]
	if s.vari == nil || s.generation != h.generation {
		return ErrInvalidHandle
	}
	v := s.vari

	v.lock.mu.Lock()
	holder := v.lock.holder
	if holder != nil && (owner == nil || holder.owner != owner) {
		v.lock.mu.Unlock()
		return ErrResourceBusy
	}
	if holder == nil && len(v.lock.waiters) > 0 {
		v.lock.mu.Unlock()
		return ErrResourceBusy
	}
	v.lock.invalidateLocked()
	v.lock.mu.Unlock()

	s.vari = nil
	s.generation++
	r.freeList = append(r.freeList, h.index)
	return nil
}
