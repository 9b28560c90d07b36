package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ErrInvalidPredicate is wrapped by every construction and parse failure.
var ErrInvalidPredicate = errors.New("invalid predicate")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPredicate, fmt.Sprintf(format, args...))
}

// Evaluate reports whether params satisfy p. A nil predicate matches
// everything; a missing parameter never matches.
func Evaluate(p Predicate, params map[string]any) bool {
	switch n := p.(type) {
	case nil:
		return true
	case *And:
		for _, op := range n.Operands {
			if !Evaluate(op, params) {
				return false
			}
		}
		return true
	case *Or:
		for _, op := range n.Operands {
			if Evaluate(op, params) {
				return true
			}
		}
		return false
	case *Comparator:
		if params == nil {
			return false
		}
		path := n.path
		if path == nil {
			// built as a literal rather than through NewComparator
			var err error
			if path, err = parsePath(n.Key); err != nil {
				return false
			}
		}
		return resolve(params, path, n.matches)
	default:
		return false
	}
}

// resolve walks path from v and applies leaf to whatever it reaches.
// A wildcard succeeds when any element of the array does.
func resolve(v any, path []segment, leaf func(any) bool) bool {
	if len(path) == 0 {
		return leaf(v)
	}
	seg := path[0]
	switch {
	case seg.wildcard:
		found := false
		eachElement(v, func(el any) bool {
			found = resolve(el, path[1:], leaf)
			return !found
		})
		return found
	case seg.isIndex:
		el, ok := elementAt(v, seg.index)
		if !ok {
			return false
		}
		return resolve(el, path[1:], leaf)
	default:
		child, ok := field(v, seg.key)
		if !ok {
			return false
		}
		return resolve(child, path[1:], leaf)
	}
}

func field(v any, key string) (any, bool) {
	if m, ok := v.(map[string]any); ok {
		child, found := m[key]
		return child, found
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	child := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !child.IsValid() {
		return nil, false
	}
	return child.Interface(), true
}

func elementAt(v any, i int) (any, bool) {
	if i < 0 {
		return nil, false
	}
	if arr, ok := v.([]any); ok {
		if i >= len(arr) {
			return nil, false
		}
		return arr[i], true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || i >= rv.Len() {
		return nil, false
	}
	return rv.Index(i).Interface(), true
}

// eachElement calls fn for every element until fn returns false.
func eachElement(v any, fn func(any) bool) {
	if arr, ok := v.([]any); ok {
		for _, el := range arr {
			if !fn(el) {
				return
			}
		}
		return
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return
	}
	for i := 0; i < rv.Len(); i++ {
		if !fn(rv.Index(i).Interface()) {
			return
		}
	}
}

func (c *Comparator) matches(param any) bool {
	switch c.Operator {
	case OpEq:
		cmp, ok := compare(param, c.Value)
		return ok && cmp == 0
	case OpNeq:
		cmp, ok := compare(param, c.Value)
		return ok && cmp != 0
	case OpLt:
		cmp, ok := compare(param, c.Value)
		return ok && cmp < 0
	case OpLte:
		cmp, ok := compare(param, c.Value)
		return ok && cmp <= 0
	case OpGt:
		cmp, ok := compare(param, c.Value)
		return ok && cmp > 0
	case OpGte:
		cmp, ok := compare(param, c.Value)
		return ok && cmp >= 0
	}

	s, ok := param.(string)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpContains, OpNotContains, OpStartsWith,
		OpIContains, OpINotContains, OpIStartsWith, OpIStrEq, OpIStrNeq:
		want, ok := c.Value.(string)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpContains:
			return strings.Contains(s, want)
		case OpNotContains:
			return !strings.Contains(s, want)
		case OpStartsWith:
			return strings.HasPrefix(s, want)
		case OpIContains:
			return strings.Contains(strings.ToLower(s), strings.ToLower(want))
		case OpINotContains:
			return !strings.Contains(strings.ToLower(s), strings.ToLower(want))
		case OpIStartsWith:
			return strings.HasPrefix(strings.ToLower(s), strings.ToLower(want))
		case OpIStrEq:
			return strings.EqualFold(s, want)
		default:
			return !strings.EqualFold(s, want)
		}
	case OpRegexMatch:
		if c.re == nil {
			return false
		}
		return c.re.MatchString(s)
	case OpIsAny, OpIsNotAny, OpIIsAny, OpIIsNotAny:
		fold := c.Operator == OpIIsAny || c.Operator == OpIIsNotAny
		in := inList(s, c.Value, fold)
		if c.Operator == OpIsAny || c.Operator == OpIIsAny {
			return in
		}
		return !in
	}
	return false
}

func inList(s string, list any, fold bool) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			continue
		}
		if str == s || (fold && strings.EqualFold(str, s)) {
			return true
		}
	}
	return false
}

// compare orders a parameter against a rule value. Numbers compare
// numerically (a numeric string parameter is accepted against a numeric rule
// value), strings lexically; anything else is incomparable.
func compare(param, want any) (int, bool) {
	if w, ok := asFloat64(want); ok {
		p, ok := asFloat64(param)
		if !ok {
			s, isStr := param.(string)
			if !isStr {
				return 0, false
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return 0, false
			}
			p = f
		}
		switch {
		case p < w:
			return -1, true
		case p > w:
			return 1, true
		default:
			return 0, true
		}
	}
	ws, ok := want.(string)
	if !ok {
		return 0, false
	}
	ps, ok := param.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(ps, ws), true
}

func asFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// normalizeValue maps every numeric kind to float64 and typed slices to
// []any so rule values have one representation.
func normalizeValue(v any) any {
	if f, ok := asFloat64(v); ok {
		return f
	}
	switch t := v.(type) {
	case string, nil, bool:
		return t
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = normalizeValue(el)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// Equal reports whether two predicate trees are structurally identical.
func Equal(a, b Predicate) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case *Comparator:
		y, ok := b.(*Comparator)
		return ok && x.Key == y.Key && x.Operator == y.Operator &&
			reflect.DeepEqual(normalizeValue(x.Value), normalizeValue(y.Value))
	case *And:
		y, ok := b.(*And)
		return ok && operandsEqual(x.Operands, y.Operands)
	case *Or:
		y, ok := b.(*Or)
		return ok && operandsEqual(x.Operands, y.Operands)
	}
	return false
}

func operandsEqual(a, b []Predicate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
