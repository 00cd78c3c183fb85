package versioned

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"chrono/runtime-go/pkg/runtime"
)

func mustCommit(t *testing.T, rt *Runtime, owner *Owner, h Handle) uint64 {
	t.Helper()
	seq, err := rt.Commit(context.Background(), owner, h)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	return seq
}

func mustMutate(t *testing.T, rt *Runtime, owner *Owner, h Handle, op Operation) {
	t.Helper()
	if err := rt.Mutate(context.Background(), owner, h, op); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}
}

func TestCreateInitialState(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.NewArray(runtime.Int(1)))

	snap, err := rt.Head(h)
	if err != nil {
		t.Fatalf("head failed: %v", err)
	}
	if snap.Seq != 0 {
		t.Fatalf("expected initial sequence 0, got %d", snap.Seq)
	}
	staged, err := rt.Staged(context.Background(), nil, h)
	if err != nil {
		t.Fatalf("staged failed: %v", err)
	}
	if !runtime.Equal(staged, snap.Value) {
		t.Fatalf("expected clean buffer equal to head, got %s", runtime.Format(staged))
	}
	dirty, err := rt.Dirty(context.Background(), nil, h)
	if err != nil {
		t.Fatalf("dirty failed: %v", err)
	}
	if dirty {
		t.Fatalf("expected fresh variable to be clean")
	}
}

func TestCreateDeepCopiesInitialValue(t *testing.T) {
	rt := newTestRuntime()
	initial := runtime.NewArray(runtime.Int(1))
	h := rt.Create(initial)

	initial.Elements = append(initial.Elements, runtime.Int(2))
	snap, _ := rt.Head(h)
	if !runtime.Equal(snap.Value, runtime.NewArray(runtime.Int(1))) {
		t.Fatalf("caller mutation leaked into snapshot 0: %s", runtime.Format(snap.Value))
	}
}

func TestAppendThenCommit(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.NewArray(runtime.Int(1), runtime.Int(2), runtime.Int(3)))

	mustMutate(t, rt, nil, h, Append{Element: runtime.Int(4)})
	seq := mustCommit(t, rt, nil, h)
	if seq != 1 {
		t.Fatalf("expected new sequence 1, got %d", seq)
	}

	length, _ := rt.LogLength(h)
	if length != 2 {
		t.Fatalf("expected log length 2, got %d", length)
	}
	snap, _ := rt.Head(h)
	want := runtime.NewArray(runtime.Int(1), runtime.Int(2), runtime.Int(3), runtime.Int(4))
	if !runtime.Equal(snap.Value, want) {
		t.Fatalf("expected head %s, got %s", runtime.Format(want), runtime.Format(snap.Value))
	}

	hist, _ := rt.History(h)
	if !hist.Next() || !runtime.Equal(hist.Snapshot().Value, runtime.NewArray(runtime.Int(1), runtime.Int(2), runtime.Int(3))) {
		t.Fatalf("expected snapshot 0 to keep the original value")
	}
}

func TestRevertRestoresHead(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.NewArray(runtime.Int(1), runtime.Int(2), runtime.Int(3)))
	mustMutate(t, rt, nil, h, Append{Element: runtime.Int(4)})
	mustCommit(t, rt, nil, h)

	mustMutate(t, rt, nil, h, Append{Element: runtime.Int(5)})
	restored, err := rt.Revert(context.Background(), nil, h)
	if err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	want := runtime.NewArray(runtime.Int(1), runtime.Int(2), runtime.Int(3), runtime.Int(4))
	if !runtime.Equal(restored, want) {
		t.Fatalf("expected revert to restore %s, got %s", runtime.Format(want), runtime.Format(restored))
	}
	length, _ := rt.LogLength(h)
	if length != 2 {
		t.Fatalf("expected log untouched by revert, got length %d", length)
	}
}

func TestRevertIsIdempotent(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.NewArray(runtime.Int(1)))
	mustMutate(t, rt, nil, h, Append{Element: runtime.Int(2)})

	first, err := rt.Revert(context.Background(), nil, h)
	if err != nil {
		t.Fatalf("first revert failed: %v", err)
	}
	second, err := rt.Revert(context.Background(), nil, h)
	if err != nil {
		t.Fatalf("second revert failed: %v", err)
	}
	if !runtime.Equal(first, second) {
		t.Fatalf("expected identical results, got %s then %s", runtime.Format(first), runtime.Format(second))
	}
}

func TestCommitCleanBufferIsNoOp(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.Int(1))
	seq := mustCommit(t, rt, nil, h)
	if seq != 0 {
		t.Fatalf("expected clean commit to report head sequence 0, got %d", seq)
	}
	length, _ := rt.LogLength(h)
	if length != 1 {
		t.Fatalf("expected clean commit to append nothing, got length %d", length)
	}
}

func TestSequentialCommitsGrowLogByOne(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.NewArray())

	const commits = 10
	for i := int64(0); i < commits; i++ {
		mustMutate(t, rt, nil, h, Append{Element: runtime.Int(i)})
		seq := mustCommit(t, rt, nil, h)
		if seq != uint64(i)+1 {
			t.Fatalf("expected sequence %d, got %d", i+1, seq)
		}
	}
	length, _ := rt.LogLength(h)
	if length != commits+1 {
		t.Fatalf("expected log length %d, got %d", commits+1, length)
	}
	snap, _ := rt.Head(h)
	arr := snap.Value.(*runtime.ArrayValue)
	if len(arr.Elements) != commits {
		t.Fatalf("expected head to hold all %d committed elements, got %d", commits, len(arr.Elements))
	}
}

func TestRuntimeRetentionDefault(t *testing.T) {
	rt := New(Config{HistoryRetention: 2})
	h := rt.Create(runtime.NewArray())
	for i := int64(0); i < 4; i++ {
		mustMutate(t, rt, nil, h, Append{Element: runtime.Int(i)})
		mustCommit(t, rt, nil, h)
	}
	length, _ := rt.LogLength(h)
	if length != 2 {
		t.Fatalf("expected retention to cap the log at 2, got %d", length)
	}
	snap, _ := rt.Head(h)
	if snap.Seq != 4 {
		t.Fatalf("expected head sequence 4 despite trimming, got %d", snap.Seq)
	}
}

func TestFreeInvalidatesHandle(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.Int(1))
	if err := rt.Free(nil, h); err != nil {
		t.Fatalf("free failed: %v", err)
	}

	if _, err := rt.Head(h); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle from head, got %v", err)
	}
	if err := rt.Mutate(context.Background(), nil, h, Append{Element: runtime.Int(1)}); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle from mutate, got %v", err)
	}
	if _, err := rt.Commit(context.Background(), nil, h); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle from commit, got %v", err)
	}
	if err := rt.Free(nil, h); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle from double free, got %v", err)
	}
}

func TestFreedSlotReuseDoesNotResurrectOldHandle(t *testing.T) {
	rt := newTestRuntime()
	old := rt.Create(runtime.Int(1))
	if err := rt.Free(nil, old); err != nil {
		t.Fatalf("free failed: %v", err)
	}

	fresh := rt.Create(runtime.Int(2))
	if fresh == old {
		t.Fatalf("expected recycled slot to issue a distinct handle")
	}
	if _, err := rt.Head(old); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected stale handle to stay invalid, got %v", err)
	}
	snap, err := rt.Head(fresh)
	if err != nil {
		t.Fatalf("fresh handle failed: %v", err)
	}
	if !runtime.Equal(snap.Value, runtime.Int(2)) {
		t.Fatalf("expected fresh variable value 2, got %s", runtime.Format(snap.Value))
	}
}

func TestFreeWhileLockedByOtherOwner(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.Int(1))

	tok, err := rt.Acquire(context.Background(), NewOwner(), h)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := rt.Free(NewOwner(), h); !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("expected ErrResourceBusy, got %v", err)
	}
	tok.Release()
	if err := rt.Free(nil, h); err != nil {
		t.Fatalf("free after release failed: %v", err)
	}
}

func TestFreeInsideOwnCriticalSection(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.Int(1))
	owner := NewOwner()

	tok, err := rt.Acquire(context.Background(), owner, h)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := rt.Free(owner, h); err != nil {
		t.Fatalf("expected the lock holder to be able to free, got %v", err)
	}
	// The held token still unwinds the block.
	if err := tok.Release(); err != nil {
		t.Fatalf("release after free failed: %v", err)
	}
}

func TestImplicitSingleStatementAtomicity(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.NewArray())

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		n := int64(i)
		go func() {
			defer wg.Done()
			owner := NewOwner()
			err := rt.WithLock(context.Background(), owner, []Handle{h}, func() error {
				if err := rt.Mutate(context.Background(), owner, h, Append{Element: runtime.Int(n)}); err != nil {
					return err
				}
				_, err := rt.Commit(context.Background(), owner, h)
				return err
			})
			if err != nil {
				t.Errorf("worker %d failed: %v", n, err)
			}
		}()
	}
	wg.Wait()

	length, _ := rt.LogLength(h)
	if length != workers+1 {
		t.Fatalf("expected %d snapshots, got %d", workers+1, length)
	}
	snap, _ := rt.Head(h)
	arr := snap.Value.(*runtime.ArrayValue)
	if len(arr.Elements) != workers {
		t.Fatalf("expected %d elements at head, got %d", workers, len(arr.Elements))
	}
	seen := make(map[string]bool)
	for _, elem := range arr.Elements {
		seen[runtime.Format(elem)] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected every worker's element exactly once, got %v", seen)
	}
}

func TestWithLockSerializesBlocks(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.NewArray())

	run := func(letter string, done chan<- error) {
		owner := NewOwner()
		done <- rt.WithLock(context.Background(), owner, []Handle{h}, func() error {
			for i := 0; i < 2; i++ {
				if err := rt.Mutate(context.Background(), owner, h, Append{Element: runtime.StringValue{Val: letter}}); err != nil {
					return err
				}
			}
			_, err := rt.Commit(context.Background(), owner, h)
			return err
		})
	}

	d1 := make(chan error, 1)
	d2 := make(chan error, 1)
	go run("a", d1)
	go run("b", d2)
	if err := <-d1; err != nil {
		t.Fatalf("first block failed: %v", err)
	}
	if err := <-d2; err != nil {
		t.Fatalf("second block failed: %v", err)
	}

	snap, _ := rt.Head(h)
	got := runtime.Format(snap.Value)
	if got != `["a", "a", "b", "b"]` && got != `["b", "b", "a", "a"]` {
		t.Fatalf("expected one sequential order of the two blocks, got %s", got)
	}
}

func TestHeadIsReadableWithoutLock(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.Int(0))
	owner := NewOwner()

	tok, err := rt.Acquire(context.Background(), owner, h)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer tok.Release()

	// Readers are never blocked by a held token.
	done := make(chan error, 1)
	go func() {
		_, err := rt.Head(h)
		done <- err
	}()
	if err := <-done; err != nil {
		t.Fatalf("lock-free head read failed: %v", err)
	}
}

func TestConcurrentHeadReadersDuringCommits(t *testing.T) {
	rt := newTestRuntime()
	h := rt.Create(runtime.NewArray())

	stop := make(chan struct{})
	var readerErr error
	var readerWg sync.WaitGroup
	readerWg.Add(1)
	go func() {
		defer readerWg.Done()
		var lastSeq uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap, err := rt.Head(h)
			if err != nil {
				readerErr = fmt.Errorf("head read failed: %w", err)
				return
			}
			if snap.Seq < lastSeq {
				readerErr = fmt.Errorf("head sequence went backwards: %d after %d", snap.Seq, lastSeq)
				return
			}
			arr := snap.Value.(*runtime.ArrayValue)
			if uint64(len(arr.Elements)) != snap.Seq {
				readerErr = fmt.Errorf("torn snapshot: seq %d with %d elements", snap.Seq, len(arr.Elements))
				return
			}
			lastSeq = snap.Seq
		}
	}()

	owner := NewOwner()
	for i := int64(0); i < 50; i++ {
		mustMutate(t, rt, owner, h, Append{Element: runtime.Int(i)})
		mustCommit(t, rt, owner, h)
	}
	close(stop)
	readerWg.Wait()
	if readerErr != nil {
		t.Fatalf("%v", readerErr)
	}
}
