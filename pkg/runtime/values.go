package runtime

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Kind identifies the runtime value category.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindChar
	KindNil
	KindInteger
	KindFloat
	KindArray
	KindMap
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	case KindNil:
		return "nil"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindHandle:
		return "handle"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// Value is the shared behaviour for all Chrono runtime values.
type Value interface {
	Kind() Kind
}

//-----------------------------------------------------------------------------
// Scalars
//-----------------------------------------------------------------------------

type StringValue struct {
	Val string
}

func (v StringValue) Kind() Kind { return KindString }

type BoolValue struct {
	Val bool
}

func (v BoolValue) Kind() Kind { return KindBool }

type CharValue struct {
	Val rune
}

func (v CharValue) Kind() Kind { return KindChar }

type NilValue struct{}

func (NilValue) Kind() Kind { return KindNil }

type IntegerValue struct {
	Val *big.Int
}

func (v IntegerValue) Kind() Kind { return KindInteger }

type FloatValue struct {
	Val float64
}

func (v FloatValue) Kind() Kind { return KindFloat }

//-----------------------------------------------------------------------------
// Collections
//-----------------------------------------------------------------------------

type ArrayValue struct {
	Elements []Value
}

func (v *ArrayValue) Kind() Kind { return KindArray }

type MapValue struct {
	Entries map[string]Value
}

func (v *MapValue) Kind() Kind { return KindMap }

// NewArray builds an array value from the given elements.
func NewArray(elements ...Value) *ArrayValue {
	return &ArrayValue{Elements: elements}
}

// NewMap builds an empty map value.
func NewMap() *MapValue {
	return &MapValue{Entries: make(map[string]Value)}
}

// Int builds an integer value from a native int64.
func Int(n int64) IntegerValue {
	return IntegerValue{Val: big.NewInt(n)}
}

//-----------------------------------------------------------------------------
// Copying and comparison
//-----------------------------------------------------------------------------

// DeepCopy returns a value sharing no mutable state with the original.
// Scalars are immutable and copied by value; arrays, maps, and big integers
// are cloned element by element.
func DeepCopy(v Value) Value {
	switch val := v.(type) {
	case IntegerValue:
		return IntegerValue{Val: CloneBigInt(val.Val)}
	case *ArrayValue:
		elements := make([]Value, len(val.Elements))
		for i, elem := range val.Elements {
			elements[i] = DeepCopy(elem)
		}
		return &ArrayValue{Elements: elements}
	case *MapValue:
		entries := make(map[string]Value, len(val.Entries))
		for k, elem := range val.Entries {
			entries[k] = DeepCopy(elem)
		}
		return &MapValue{Entries: entries}
	default:
		return v
	}
}

// Equal reports structural equality between two values. Integer values
// compare by magnitude, collections compare element by element.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case StringValue:
		return av.Val == b.(StringValue).Val
	case BoolValue:
		return av.Val == b.(BoolValue).Val
	case CharValue:
		return av.Val == b.(CharValue).Val
	case NilValue:
		return true
	case IntegerValue:
		bv := b.(IntegerValue)
		if av.Val == nil || bv.Val == nil {
			return av.Val == bv.Val
		}
		return av.Val.Cmp(bv.Val) == 0
	case FloatValue:
		return av.Val == b.(FloatValue).Val
	case *ArrayValue:
		bv := b.(*ArrayValue)
		if len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !Equal(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return true
	case *MapValue:
		bv := b.(*MapValue)
		if len(av.Entries) != len(bv.Entries) {
			return false
		}
		for k, elem := range av.Entries {
			other, ok := bv.Entries[k]
			if !ok || !Equal(elem, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Format renders a value for host display.
func Format(v Value) string {
	switch val := v.(type) {
	case StringValue:
		return fmt.Sprintf("%q", val.Val)
	case BoolValue:
		if val.Val {
			return "true"
		}
		return "false"
	case CharValue:
		return fmt.Sprintf("'%c'", val.Val)
	case NilValue:
		return "nil"
	case IntegerValue:
		if val.Val == nil {
			return "0"
		}
		return val.Val.String()
	case FloatValue:
		return fmt.Sprintf("%g", val.Val)
	case *ArrayValue:
		parts := make([]string, len(val.Elements))
		for i, elem := range val.Elements {
			parts[i] = Format(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *MapValue:
		keys := make([]string, 0, len(val.Entries))
		for k := range val.Entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, Format(val.Entries[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		if v == nil {
			return "nil"
		}
		return fmt.Sprintf("[%s]", v.Kind())
	}
}

// CloneBigInt copies the provided big.Int pointer, tolerating nil.
func CloneBigInt(src *big.Int) *big.Int {
	if src == nil {
		return nil
	}
	return new(big.Int).Set(src)
}
