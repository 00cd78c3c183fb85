package versioned

import (
	"sync"
	"sync/atomic"

	"chrono/runtime-go/pkg/runtime"
)

// Snapshot is an immutable committed value with its sequence number.
// Once published it is never mutated; the stored value is owned exclusively
// by the snapshot and must not be handed to callers without a deep copy.
type Snapshot struct {
	Seq   uint64
	Value runtime.Value
}

// snapshotLog is the append-only history of one versioned variable.
// The head is published through an atomic pointer so concurrent readers
// never take a lock and never observe a torn update. Appends happen only
// on the commit path, while the variable's token is held.
type snapshotLog struct {
	mu      sync.Mutex
	head    atomic.Pointer[Snapshot]
	entries []*Snapshot
	base    uint64 // sequence number of entries[0]
	keep    int    // retention; 0 keeps everything
}

func newSnapshotLog(initial runtime.Value, keep int) *snapshotLog {
	snap := &Snapshot{Seq: 0, Value: initial}
	l := &snapshotLog{
		entries: []*Snapshot{snap},
		keep:    keep,
	}
	l.head.Store(snap)
	return l
}

// Head returns the most recently committed snapshot. Lock-free.
func (l *snapshotLog) Head() *Snapshot {
	return l.head.Load()
}

// append publishes value as the new head snapshot. The caller must hold the
// variable's token; the log mutex only orders appends against history reads
// and retention trimming.
func (l *snapshotLog) append(value runtime.Value) *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.head.Load()
	snap := &Snapshot{Seq: prev.Seq + 1, Value: value}
	l.entries = append(l.entries, snap)
	if tail := l.entries[len(l.entries)-2]; tail.Seq+1 != snap.Seq {
		panic("versioned: snapshot sequence out of order")
	}
	if l.keep > 0 && len(l.entries) > l.keep {
		drop := len(l.entries) - l.keep
		l.entries = append([]*Snapshot(nil), l.entries[drop:]...)
		l.base = l.entries[0].Seq
	}
	l.head.Store(snap)
	return snap
}

// length reports the number of retained snapshots.
func (l *snapshotLog) length() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// History iterates a variable's snapshots oldest to newest. The cursor is
// lazy and restartable: every Next call revisits the log, so snapshots
// committed after the cursor was created are still observed, and entries
// trimmed by the retention policy are skipped rather than reported.
type History struct {
	handle Handle
	log    *snapshotLog
	next   uint64
	cur    *Snapshot
}

// Handle returns the handle of the variable the cursor iterates.
func (h *History) Handle() Handle {
	return h.handle
}

// Next advances to the following snapshot, reporting false past the head.
func (h *History) Next() bool {
	l := h.log
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := h.next
	if seq < l.base {
		seq = l.base
	}
	head := l.head.Load()
	if seq > head.Seq {
		h.cur = nil
		return false
	}
	h.cur = l.entries[seq-l.base]
	h.next = seq + 1
	return true
}

// Snapshot returns the cursor's current snapshot, nil before the first Next
// or after exhaustion.
func (h *History) Snapshot() *Snapshot {
	return h.cur
}

// Reset rewinds the cursor to the oldest retained snapshot.
func (h *History) Reset() {
	h.next = 0
	h.cur = nil
}
