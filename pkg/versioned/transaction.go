package versioned

import (
	"context"
)

// TxState tracks a sync block through its state machine.
type TxState int

const (
	// TxOpen: locks held, participant buffers mutable.
	TxOpen TxState = iota
	// TxCommitted: every participant's buffer published in one pass.
	TxCommitted
	// TxAborted: block exited without committing; every buffer reverted.
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Tx is the ephemeral grouping of variables entered for a sync block.
// It holds every participant's token from Begin until a terminal state is
// reached; locks release only after the corresponding publish or revert has
// completed, so no other thread observes intermediate states.
type Tx struct {
	rt    *Runtime
	owner *Owner
	state TxState
	parts []*txParticipant
}

type txParticipant struct {
	handle Handle
	vari   *variable
	token  *Token
}

// Begin enters a sync block over the given variables, acquiring all tokens
// in canonical handle order. Duplicate handles collapse to one participant.
func (r *Runtime) Begin(ctx context.Context, owner *Owner, handles ...Handle) (*Tx, error) {
	if owner == nil {
		owner = NewOwner()
	}
	sorted := sortHandles(handles)
	tx := &Tx{rt: r, owner: owner, state: TxOpen}
	for _, h := range sorted {
		v, err := r.resolve(h)
		if err != nil {
			tx.releaseAll()
			return nil, err
		}
		tok, err := v.lock.acquire(ctx, owner, true)
		if err != nil {
			tx.releaseAll()
			return nil, err
		}
		tx.parts = append(tx.parts, &txParticipant{handle: h, vari: v, token: tok})
	}
	// A participant freed while this owner waited on a later lock must not
	// silently drop out of the set.
	for _, p := range tx.parts {
		if _, err := r.resolve(p.handle); err != nil {
			tx.revertAll()
			tx.state = TxAborted
			tx.releaseAll()
			return nil, err
		}
	}
	return tx, nil
}

// Owner returns the identity holding the transaction's locks. Mutations
// inside the block go through the runtime with this owner, so they join the
// critical section instead of deadlocking on the held tokens.
func (tx *Tx) Owner() *Owner {
	return tx.owner
}

// State reports the transaction's current state.
func (tx *Tx) State() TxState {
	return tx.state
}

// Handles lists the participants in canonical order.
func (tx *Tx) Handles() []Handle {
	out := make([]Handle, len(tx.parts))
	for i, p := range tx.parts {
		out[i] = p.handle
	}
	return out
}

// Commit publishes every participant's staged buffer as one atomic unit.
// Validation runs first across the whole set: if any participant was freed
// inside the block, nothing publishes, every surviving buffer reverts, and
// the call fails with ErrTransactionAborted. Clean buffers publish nothing.
func (tx *Tx) Commit() error {
	if tx.state != TxOpen {
		return ErrInvalidToken
	}
	for _, p := range tx.parts {
		if _, err := tx.rt.resolve(p.handle); err != nil {
			tx.revertAll()
			tx.state = TxAborted
			tx.releaseAll()
			return ErrTransactionAborted
		}
	}
	for _, p := range tx.parts {
		if !p.vari.buf.dirty {
			continue
		}
		snap := p.vari.log.append(p.vari.buf.value)
		p.vari.buf.load(snap)
	}
	tx.state = TxCommitted
	tx.releaseAll()
	return nil
}

// Abort reverts every participant's buffer and releases all locks. Aborting
// a transaction already in a terminal state fails with ErrInvalidToken.
func (tx *Tx) Abort() error {
	if tx.state != TxOpen {
		return ErrInvalidToken
	}
	tx.revertAll()
	tx.state = TxAborted
	tx.releaseAll()
	return nil
}

func (tx *Tx) revertAll() {
	for _, p := range tx.parts {
		if _, err := tx.rt.resolve(p.handle); err != nil {
			continue // freed inside the block; nothing to restore
		}
		if p.vari.buf.dirty {
			p.vari.buf.load(p.vari.log.Head())
		}
	}
}

func (tx *Tx) releaseAll() {
	for i := len(tx.parts) - 1; i >= 0; i-- {
		if tok := tx.parts[i].token; tok != nil {
			_ = tok.Release()
		}
	}
}

// WithSync runs fn inside a sync block over the given variables. If fn
// returns without reaching Commit, whether normally, with an error, or by
// panicking, the block aborts: every participant reverts and no partial
// effect escapes. The abort is surfaced as ErrTransactionAborted so callers
// can tell "nothing changed" from a crash.
func (r *Runtime) WithSync(ctx context.Context, owner *Owner, handles []Handle, fn func(*Tx) error) error {
	tx, err := r.Begin(ctx, owner, handles...)
	if err != nil {
		return err
	}
	defer func() {
		// Unwind path for panics and early returns: revert before the
		// panic (or error) propagates past the block.
		if tx.state == TxOpen {
			_ = tx.Abort()
		}
	}()
	if err := fn(tx); err != nil {
		if tx.state == TxOpen {
			_ = tx.Abort()
		}
		return err
	}
	switch tx.state {
	case TxCommitted:
		return nil
	case TxOpen:
		_ = tx.Abort()
		return ErrTransactionAborted
	default:
		return ErrTransactionAborted
	}
}
