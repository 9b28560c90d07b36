package engine

import (
	"bytes"
	"encoding/json"
)

// Parse decodes a rule tree from its wire form:
//
//	{"and":[{"fb_content[*].brand":{"eq":"CoffeeShop"}}]}
//
// Objects keyed "and" or "or" are internal nodes, any other single key is a
// comparator path mapping to a single {operator: value} object.
func Parse(raw []byte) (Predicate, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, invalidf("decode: %v", err)
	}
	return FromValue(v)
}

// ParseString is Parse for rules carried as JSON strings.
func ParseString(raw string) (Predicate, error) {
	return Parse([]byte(raw))
}

// FromValue builds a rule tree from an already decoded JSON (or YAML) value.
func FromValue(v any) (Predicate, error) {
	m, ok := asObject(v)
	if !ok || len(m) != 1 {
		return nil, invalidf("rule node must be an object with exactly one key")
	}
	for key, body := range m {
		switch key {
		case tagAnd, tagOr:
			items, ok := body.([]any)
			if !ok {
				return nil, invalidf("%s expects a list", key)
			}
			operands := make([]Predicate, 0, len(items))
			for _, item := range items {
				p, err := FromValue(item)
				if err != nil {
					return nil, err
				}
				operands = append(operands, p)
			}
			if key == tagAnd {
				return NewAnd(operands...)
			}
			return NewOr(operands...)
		default:
			cond, ok := asObject(body)
			if !ok || len(cond) != 1 {
				return nil, invalidf("comparator %q must map one operator to a value", key)
			}
			for op, value := range cond {
				return NewComparator(key, Operator(op), value)
			}
		}
	}
	return nil, invalidf("unreachable")
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = val
		}
		return out, true
	}
	return nil, false
}

// Marshal encodes p in the wire form accepted by Parse.
func Marshal(p Predicate) ([]byte, error) {
	v, err := toValue(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func toValue(p Predicate) (any, error) {
	switch n := p.(type) {
	case *Comparator:
		return map[string]any{n.Key: map[string]any{string(n.Operator): normalizeValue(n.Value)}}, nil
	case *And:
		ops, err := operandValues(n.Operands)
		if err != nil {
			return nil, err
		}
		return map[string]any{tagAnd: ops}, nil
	case *Or:
		ops, err := operandValues(n.Operands)
		if err != nil {
			return nil, err
		}
		return map[string]any{tagOr: ops}, nil
	}
	return nil, invalidf("unsupported node %T", p)
}

func operandValues(ops []Predicate) ([]any, error) {
	out := make([]any, 0, len(ops))
	for _, op := range ops {
		v, err := toValue(op)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Comparator) MarshalJSON() ([]byte, error) { return Marshal(c) }
func (a *And) MarshalJSON() ([]byte, error)        { return Marshal(a) }
func (o *Or) MarshalJSON() ([]byte, error)         { return Marshal(o) }
