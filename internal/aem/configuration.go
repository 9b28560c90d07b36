package aem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"aem-reporter/internal/engine"
)

// Catalog modes. Business-scoped invocations read the BRL catalog, all
// others the default one.
const (
	DefaultConfigMode  = "DEFAULT"
	BusinessConfigMode = "BRL"
)

// Configuration is one server-distributed rule set. It is immutable once
// parsed; share it by pointer.
type Configuration struct {
	DefaultCurrency      string
	CutoffTime           int64 // attribution window, days
	ValidFrom            int64 // activation epoch, seconds
	ConfigMode           string
	BusinessID           string
	BusinessRule         engine.Predicate
	ConversionValueRules []*ConversionRule // priority descending
}

// ParseConfiguration validates a rule-set payload. It never returns a
// partially valid configuration.
func ParseConfiguration(raw any) (*Configuration, error) {
	m, ok := asObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: payload must be an object", ErrInvalidConfiguration)
	}
	currency, ok := m[keyDefaultCurrency].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidConfiguration, keyDefaultCurrency)
	}
	cutoff, ok := asInt(m[keyCutoffTime])
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidConfiguration, keyCutoffTime)
	}
	validFrom, ok := asInt(m[keyValidFrom])
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidConfiguration, keyValidFrom)
	}

	mode := DefaultConfigMode
	if v, present := m[keyConfigMode]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidConfiguration, keyConfigMode)
		}
		mode = strings.ToUpper(s)
	}
	businessID, _ := m[keyBusinessID].(string)

	rawRules, present := m[keyConversionValueRules]
	if !present {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidConfiguration, keyConversionValueRules)
	}
	rules, err := ParseRules(rawRules)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	return &Configuration{
		DefaultCurrency:      currency,
		CutoffTime:           cutoff,
		ValidFrom:            validFrom,
		ConfigMode:           mode,
		BusinessID:           businessID,
		BusinessRule:         parseBusinessRule(m[keyParamRule], validFrom),
		ConversionValueRules: rules,
	}, nil
}

// parseBusinessRule accepts the rule as a JSON string (the server form) or as
// an already decoded object. A rule that does not parse is dropped.
func parseBusinessRule(raw any, validFrom int64) engine.Predicate {
	var (
		p   engine.Predicate
		err error
	)
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		p, err = engine.ParseString(v)
	default:
		p, err = engine.FromValue(v)
	}
	if err != nil {
		log.Warn().Err(err).Int64("valid_from", validFrom).Msg("ignoring unparsable param_rule")
		return nil
	}
	return p
}

// DecodeConfiguration parses a JSON-encoded rule set.
func DecodeConfiguration(data []byte) (*Configuration, error) {
	raw, err := decodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return ParseConfiguration(raw)
}

// Events returns the event names any rule of c can match.
func (c *Configuration) Events() map[string]struct{} { return EventSet(c.ConversionValueRules) }

// MatchRule returns the highest-priority rule an event qualifies for. An
// empty currency falls back to the configuration default.
func (c *Configuration) MatchRule(ev Event) (*ConversionRule, bool) {
	if c.BusinessRule != nil && !engine.Evaluate(c.BusinessRule, ev.Parameters) {
		return nil, false
	}
	currency := ev.Currency
	if currency == "" {
		currency = c.DefaultCurrency
	}
	for _, r := range c.ConversionValueRules {
		for _, crit := range r.Events {
			if crit.qualifies(ev.Name, currency, ev.Value) {
				return r, true
			}
		}
	}
	return nil, false
}

// MarshalJSON writes c in the same shape the server sends, so the result
// feeds back into DecodeConfiguration.
func (c *Configuration) MarshalJSON() ([]byte, error) {
	rules := make([]any, 0, len(c.ConversionValueRules))
	for _, r := range c.ConversionValueRules {
		rules = append(rules, r.wire())
	}
	out := map[string]any{
		keyDefaultCurrency:      c.DefaultCurrency,
		keyCutoffTime:           c.CutoffTime,
		keyValidFrom:            c.ValidFrom,
		keyConfigMode:           c.ConfigMode,
		keyConversionValueRules: rules,
	}
	if c.BusinessID != "" {
		out[keyBusinessID] = c.BusinessID
	}
	if c.BusinessRule != nil {
		rule, err := engine.Marshal(c.BusinessRule)
		if err != nil {
			return nil, err
		}
		out[keyParamRule] = string(rule)
	}
	return json.Marshal(out)
}

func (c *Configuration) UnmarshalJSON(data []byte) error {
	parsed, err := DecodeConfiguration(data)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
