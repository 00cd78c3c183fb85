package versioned

import (
	"fmt"

	"chrono/runtime-go/pkg/runtime"
)

// Handle is a stable opaque reference to a versioned variable. It names an
// arena slot plus the generation the slot had when the variable was created,
// so a handle kept past Free never resolves to a recycled slot.
type Handle struct {
	index      uint32
	generation uint32
}

// Zero reports whether the handle is the zero value (never issued).
func (h Handle) Zero() bool {
	return h == Handle{}
}

func (h Handle) String() string {
	return fmt.Sprintf("v%d.%d", h.index, h.generation)
}

// before defines the canonical total order over handles used for
// multi-variable lock acquisition.
func (h Handle) before(other Handle) bool {
	if h.index != other.index {
		return h.index < other.index
	}
	return h.generation < other.generation
}

// HandleValue wraps a handle so hosts can store it in an Environment
// alongside ordinary runtime values.
type HandleValue struct {
	Handle Handle
}

func (HandleValue) Kind() runtime.Kind { return runtime.KindHandle }

// sortHandles orders handles canonically and drops duplicates.
func sortHandles(handles []Handle) []Handle {
	sorted := append([]Handle(nil), handles...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].before(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := sorted[:0]
	for i, h := range sorted {
		if i == 0 || sorted[i-1] != h {
			out = append(out, h)
		}
	}
	return out
}
