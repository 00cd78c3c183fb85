package versioned

import (
	"fmt"

	"chrono/runtime-go/pkg/runtime"
)

// Operation describes a single staged mutation. Apply receives the current
// working copy and returns its replacement; it must not retain references to
// either, so a failed apply leaves the buffer usable.
type Operation interface {
	Apply(runtime.Value) (runtime.Value, error)
}

// mutationBuffer is the staged working copy of one versioned variable.
// It is always a deep copy of some snapshot's value, so mutating it never
// leaks into previously issued snapshots. Access requires the variable's
// token; the buffer itself carries no synchronisation.
type mutationBuffer struct {
	value runtime.Value
	dirty bool
}

func newMutationBuffer(head *Snapshot) *mutationBuffer {
	b := &mutationBuffer{}
	b.load(head)
	return b
}

// load overwrites the working copy from the given snapshot and clears the
// dirty flag.
func (b *mutationBuffer) load(head *Snapshot) {
	b.value = runtime.DeepCopy(head.Value)
	b.dirty = false
}

// mutate applies op to the working copy in place and marks it dirty.
// The log is untouched.
func (b *mutationBuffer) mutate(op Operation) error {
	next, err := op.Apply(b.value)
	if err != nil {
		return err
	}
	b.value = next
	b.dirty = true
	return nil
}

//-----------------------------------------------------------------------------
// Operation descriptors
//-----------------------------------------------------------------------------

// Append adds an element to the end of an array value.
type Append struct {
	Element runtime.Value
}

func (op Append) Apply(v runtime.Value) (runtime.Value, error) {
	arr, ok := v.(*runtime.ArrayValue)
	if !ok {
		return nil, fmt.Errorf("append: expected array, got %s", v.Kind())
	}
	arr.Elements = append(arr.Elements, runtime.DeepCopy(op.Element))
	return arr, nil
}

// SetIndex replaces the element at a zero-based array index.
type SetIndex struct {
	Index   int
	Element runtime.Value
}

func (op SetIndex) Apply(v runtime.Value) (runtime.Value, error) {
	arr, ok := v.(*runtime.ArrayValue)
	if !ok {
		return nil, fmt.Errorf("set index: expected array, got %s", v.Kind())
	}
	if op.Index < 0 || op.Index >= len(arr.Elements) {
		return nil, fmt.Errorf("set index: %d out of range for length %d", op.Index, len(arr.Elements))
	}
	arr.Elements[op.Index] = runtime.DeepCopy(op.Element)
	return arr, nil
}

// SetKey inserts or replaces a map entry.
type SetKey struct {
	Key     string
	Element runtime.Value
}

func (op SetKey) Apply(v runtime.Value) (runtime.Value, error) {
	m, ok := v.(*runtime.MapValue)
	if !ok {
		return nil, fmt.Errorf("set key: expected map, got %s", v.Kind())
	}
	if m.Entries == nil {
		m.Entries = make(map[string]runtime.Value)
	}
	m.Entries[op.Key] = runtime.DeepCopy(op.Element)
	return m, nil
}

// DeleteKey removes a map entry if present.
type DeleteKey struct {
	Key string
}

func (op DeleteKey) Apply(v runtime.Value) (runtime.Value, error) {
	m, ok := v.(*runtime.MapValue)
	if !ok {
		return nil, fmt.Errorf("delete key: expected map, got %s", v.Kind())
	}
	delete(m.Entries, op.Key)
	return m, nil
}

// Replace substitutes the whole working copy.
type Replace struct {
	Value runtime.Value
}

func (op Replace) Apply(runtime.Value) (runtime.Value, error) {
	return runtime.DeepCopy(op.Value), nil
}
