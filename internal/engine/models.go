package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// Operator names a comparator test. Names follow the rule wire format.
type Operator string

const (
	OpEq           Operator = "eq"
	OpNeq          Operator = "neq"
	OpLt           Operator = "lt"
	OpLte          Operator = "lte"
	OpGt           Operator = "gt"
	OpGte          Operator = "gte"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpStartsWith   Operator = "starts_with"
	OpIContains    Operator = "i_contains"
	OpINotContains Operator = "i_not_contains"
	OpIStartsWith  Operator = "i_starts_with"
	OpIStrEq       Operator = "i_str_eq"
	OpIStrNeq      Operator = "i_str_neq"
	OpRegexMatch   Operator = "regex_match"
	OpIsAny        Operator = "is_any"
	OpIsNotAny     Operator = "is_not_any"
	OpIIsAny       Operator = "i_is_any"
	OpIIsNotAny    Operator = "i_is_not_any"
)

var knownOperators = map[Operator]struct{}{
	OpEq: {}, OpNeq: {}, OpLt: {}, OpLte: {}, OpGt: {}, OpGte: {},
	OpContains: {}, OpNotContains: {}, OpStartsWith: {},
	OpIContains: {}, OpINotContains: {}, OpIStartsWith: {},
	OpIStrEq: {}, OpIStrNeq: {}, OpRegexMatch: {},
	OpIsAny: {}, OpIsNotAny: {}, OpIIsAny: {}, OpIIsNotAny: {},
}

// Wire tags of the internal nodes.
const (
	tagAnd = "and"
	tagOr  = "or"
)

// Predicate is a node of a business-rule tree. The variant set is closed:
// *Comparator, *And and *Or are the only implementations.
type Predicate interface {
	predicate()
}

// Comparator is a leaf testing the parameter found at Key.
type Comparator struct {
	Key      string
	Operator Operator
	Value    any // string, float64 or []any of those

	path []segment
	re   *regexp.Regexp
}

// And matches when every operand matches.
type And struct {
	Operands []Predicate
}

// Or matches when at least one operand matches.
type Or struct {
	Operands []Predicate
}

func (*Comparator) predicate() {}
func (*And) predicate()        {}
func (*Or) predicate()         {}

// segment is one step of a parameter path: a map key, an array index or
// the [*] wildcard.
type segment struct {
	key      string
	index    int
	isIndex  bool
	wildcard bool
}

// NewComparator validates op and value and precomputes the parameter path.
func NewComparator(key string, op Operator, value any) (*Comparator, error) {
	if strings.TrimSpace(key) == "" {
		return nil, invalidf("empty comparator key")
	}
	if _, ok := knownOperators[op]; !ok {
		return nil, invalidf("unknown operator %q", op)
	}
	path, err := parsePath(key)
	if err != nil {
		return nil, err
	}
	value = normalizeValue(value)

	c := &Comparator{Key: key, Operator: op, Value: value, path: path}
	switch op {
	case OpRegexMatch:
		pattern, ok := value.(string)
		if !ok {
			return nil, invalidf("regex_match needs a string pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, invalidf("bad pattern %q: %v", pattern, err)
		}
		c.re = re
	case OpIsAny, OpIsNotAny, OpIIsAny, OpIIsNotAny:
		if _, ok := value.([]any); !ok {
			return nil, invalidf("%s needs a list value", op)
		}
	}
	return c, nil
}

// NewAnd builds an AND node; at least one operand is required.
func NewAnd(operands ...Predicate) (*And, error) {
	if len(operands) == 0 {
		return nil, invalidf("and needs operands")
	}
	return &And{Operands: operands}, nil
}

// NewOr builds an OR node; at least one operand is required.
func NewOr(operands ...Predicate) (*Or, error) {
	if len(operands) == 0 {
		return nil, invalidf("or needs operands")
	}
	return &Or{Operands: operands}, nil
}

// parsePath splits "fb_content[*].brand" into key, wildcard and key segments.
func parsePath(key string) ([]segment, error) {
	var out []segment
	for _, part := range strings.Split(key, ".") {
		if part == "" {
			return nil, invalidf("empty segment in path %q", key)
		}
		name := part
		var brackets string
		if i := strings.IndexByte(part, '['); i >= 0 {
			name, brackets = part[:i], part[i:]
		}
		if name != "" {
			out = append(out, segment{key: name})
		}
		for brackets != "" {
			end := strings.IndexByte(brackets, ']')
			if brackets[0] != '[' || end < 0 {
				return nil, invalidf("malformed index in path %q", key)
			}
			inner := brackets[1:end]
			brackets = brackets[end+1:]
			if inner == "*" {
				out = append(out, segment{wildcard: true})
				continue
			}
			n, ok := parseIndex(inner)
			if !ok {
				return nil, invalidf("malformed index %q in path %q", inner, key)
			}
			out = append(out, segment{index: n, isIndex: true})
		}
	}
	if len(out) == 0 {
		return nil, invalidf("empty path %q", key)
	}
	return out, nil
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
