package graph

import (
	"fmt"
	"reflect"
)

// Op is a comparison operator usable in transition predicates.
type Op string

const (
	OpLT Op = "lt"
	OpLE Op = "le"
	OpGT Op = "gt"
	OpGE Op = "ge"
	OpEQ Op = "eq"
	OpNE Op = "ne"
)

// Predicate compares the value at Key against either the literal Value
// or, when ValueFrom is set, the value at another state key. It must be
// total over the state shape tools are expected to produce; a missing
// key or incomparable pair is a transition error, not false.
type Predicate struct {
	Key       string `json:"key"`
	Op        Op     `json:"op"`
	Value     any    `json:"value,omitempty"`
	ValueFrom string `json:"value_from,omitempty"`
}

// Eval evaluates the predicate against the given state.
func (p Predicate) Eval(state State) (bool, error) {
	left, ok := state[p.Key]
	if !ok {
		return false, fmt.Errorf("predicate key %q not present in state", p.Key)
	}
	right := p.Value
	if p.ValueFrom != "" {
		right, ok = state[p.ValueFrom]
		if !ok {
			return false, fmt.Errorf("predicate key %q not present in state", p.ValueFrom)
		}
	}

	switch p.Op {
	case OpEQ, OpNE:
		eq := valuesEqual(left, right)
		if p.Op == OpNE {
			return !eq, nil
		}
		return eq, nil
	case OpLT, OpLE, OpGT, OpGE:
		cmp, err := compareValues(left, right)
		if err != nil {
			return false, fmt.Errorf("predicate on %q: %w", p.Key, err)
		}
		switch p.Op {
		case OpLT:
			return cmp < 0, nil
		case OpLE:
			return cmp <= 0, nil
		case OpGT:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	default:
		return false, fmt.Errorf("unsupported op %q", p.Op)
	}
}

// valuesEqual compares numerics by value (JSON decodes numbers as
// float64, tools often write ints) and everything else reflectively.
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func compareValues(a, b any) (int, error) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case sa < sb:
			return -1, nil
		case sa > sb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, fmt.Errorf("values of type %T are not ordered", a)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
