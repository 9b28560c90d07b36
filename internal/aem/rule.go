package aem

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidRule          = errors.New("invalid conversion value rule")
)

// Wire keys of a rule set.
const (
	keyDefaultCurrency      = "default_currency"
	keyCutoffTime           = "cutoff_time"
	keyValidFrom            = "valid_from"
	keyConfigMode           = "config_mode"
	keyBusinessID           = "business_id"
	keyParamRule            = "param_rule"
	keyConversionValueRules = "conversion_value_rules"
	keyConversionValue      = "conversion_value"
	keyPriority             = "priority"
	keyEvents               = "events"
	keyEventName            = "event_name"
	keyValues               = "values"
	keyCurrency             = "currency"
	keyAmount               = "amount"
)

// EventCriterion qualifies one event name. When Values is set the event
// must also carry at least the listed amount in one of its currencies.
type EventCriterion struct {
	EventName string
	Values    map[string]float64 // currency code -> minimum amount
}

// ConversionRule grants ConversionValue when any of its events qualifies.
type ConversionRule struct {
	ConversionValue int
	Priority        int
	Events          []*EventCriterion
}

// ParseRules parses a conversion_value_rules list and sorts it by priority,
// highest first. Equal priorities keep their input order.
func ParseRules(raw any) ([]*ConversionRule, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: rules must be a list", ErrInvalidRule)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no rules", ErrInvalidRule)
	}
	rules := make([]*ConversionRule, 0, len(items))
	for i, item := range items {
		r, err := ParseConversionRule(item)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	return rules, nil
}

// ParseConversionRule parses one element of conversion_value_rules.
func ParseConversionRule(raw any) (*ConversionRule, error) {
	m, ok := asObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: rule must be an object", ErrInvalidRule)
	}
	value, ok := asInt(m[keyConversionValue])
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidRule, keyConversionValue)
	}
	priority, ok := asInt(m[keyPriority])
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidRule, keyPriority)
	}
	rawEvents, ok := m[keyEvents].([]any)
	if !ok || len(rawEvents) == 0 {
		return nil, fmt.Errorf("%w: %s must be a non-empty list", ErrInvalidRule, keyEvents)
	}
	events := make([]*EventCriterion, 0, len(rawEvents))
	for _, re := range rawEvents {
		ev, err := parseEvent(re)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return &ConversionRule{ConversionValue: int(value), Priority: int(priority), Events: events}, nil
}

func parseEvent(raw any) (*EventCriterion, error) {
	m, ok := asObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: event must be an object", ErrInvalidRule)
	}
	name, ok := m[keyEventName].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidRule, keyEventName)
	}
	ev := &EventCriterion{EventName: name}
	rawValues, present := m[keyValues]
	if !present || rawValues == nil {
		return ev, nil
	}
	list, ok := rawValues.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", ErrInvalidRule, keyValues)
	}
	ev.Values = make(map[string]float64, len(list))
	for _, item := range list {
		vm, ok := asObject(item)
		if !ok {
			return nil, fmt.Errorf("%w: value entry must be an object", ErrInvalidRule)
		}
		currency, ok := vm[keyCurrency].(string)
		if !ok || currency == "" {
			return nil, fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidRule, keyCurrency)
		}
		amount, ok := asFloat(vm[keyAmount])
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidRule, keyAmount)
		}
		ev.Values[strings.ToUpper(currency)] = amount
	}
	return ev, nil
}

// qualifies reports whether an event named name carrying value in currency
// satisfies the criterion.
func (e *EventCriterion) qualifies(name, currency string, value float64) bool {
	if e.EventName != name {
		return false
	}
	if len(e.Values) == 0 {
		return true
	}
	threshold, ok := e.Values[strings.ToUpper(currency)]
	return ok && value >= threshold
}

// EventSet returns every event name referenced by rules.
func EventSet(rules []*ConversionRule) map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range rules {
		for _, ev := range r.Events {
			out[ev.EventName] = struct{}{}
		}
	}
	return out
}

// CurrencySet returns every currency that appears in a rule threshold.
func CurrencySet(rules []*ConversionRule) map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range rules {
		for _, ev := range r.Events {
			for currency := range ev.Values {
				out[currency] = struct{}{}
			}
		}
	}
	return out
}

func (r *ConversionRule) wire() map[string]any {
	events := make([]any, 0, len(r.Events))
	for _, ev := range r.Events {
		m := map[string]any{keyEventName: ev.EventName}
		if ev.Values != nil {
			currencies := make([]string, 0, len(ev.Values))
			for c := range ev.Values {
				currencies = append(currencies, c)
			}
			sort.Strings(currencies)
			values := make([]any, 0, len(currencies))
			for _, c := range currencies {
				values = append(values, map[string]any{keyCurrency: c, keyAmount: ev.Values[c]})
			}
			m[keyValues] = values
		}
		events = append(events, m)
	}
	return map[string]any{
		keyConversionValue: r.ConversionValue,
		keyPriority:        r.Priority,
		keyEvents:          events,
	}
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

// asInt accepts integer kinds, whole floats and integral json.Number values.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if math.Trunc(n) != n || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
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
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
