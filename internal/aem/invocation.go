package aem

import (
	"errors"
	"time"
)

// NoConversionValue is the conversion value of an invocation no event has
// been attributed to yet.
const NoConversionValue = -1

var ErrMissingIdentity = errors.New("invocation requires campaign id and acs token")

// Event is one app event offered for attribution.
type Event struct {
	Name       string
	Currency   string
	Value      float64
	Parameters map[string]any
}

// Identity is the immutable part of an invocation, as carried by the deep link.
type Identity struct {
	CampaignID      string  `json:"campaign_id"`
	ACSToken        string  `json:"acs_token"`
	ACSSharedSecret string  `json:"acs_shared_secret,omitempty"`
	ACSConfigID     string  `json:"acs_config_id,omitempty"`
	AdvertiserID    *string `json:"advertiser_id,omitempty"`
	BusinessID      string  `json:"business_id,omitempty"`
}

// Invocation tracks the attribution of one campaign click. Callers serialise
// access; the type does no locking of its own.
type Invocation struct {
	Identity

	ConfigID        *int64    `json:"config_id,omitempty"` // ValidFrom of the config last matched
	ConversionValue int       `json:"conversion_value"`
	Timestamp       time.Time `json:"timestamp"`
	IsAggregated    bool      `json:"is_aggregated"`
}

// NewInvocation starts an unattributed invocation at now.
func NewInvocation(id Identity, now time.Time) (*Invocation, error) {
	if id.CampaignID == "" || id.ACSToken == "" {
		return nil, ErrMissingIdentity
	}
	return &Invocation{
		Identity:        id,
		ConversionValue: NoConversionValue,
		Timestamp:       now,
	}, nil
}

// ConfigMode selects the catalog partition this invocation is matched against.
func (i *Invocation) ConfigMode() string {
	if i.BusinessID != "" {
		return BusinessConfigMode
	}
	return DefaultConfigMode
}

// FindConfig picks the configuration to attribute against: the one matched
// before if it is still in the catalog, otherwise the latest one activated at
// or before the invocation was created.
func (i *Invocation) FindConfig(catalog map[string][]*Configuration) *Configuration {
	configs := catalog[i.ConfigMode()]
	if i.ConfigID != nil {
		for _, c := range configs {
			if c.ValidFrom == *i.ConfigID && i.inScope(c) {
				return c
			}
		}
	}
	epoch := i.Timestamp.Unix()
	var found *Configuration
	for _, c := range configs {
		if c.ValidFrom <= epoch && i.inScope(c) {
			found = c
		}
	}
	return found
}

func (i *Invocation) inScope(c *Configuration) bool {
	return i.BusinessID == "" || c.BusinessID == i.BusinessID
}

// Attribute offers ev to the invocation. It reports whether a conversion
// rule matched; the conversion value never decreases.
func (i *Invocation) Attribute(ev Event, catalog map[string][]*Configuration, now time.Time) bool {
	if i.IsAggregated {
		return false
	}
	cfg := i.FindConfig(catalog)
	if cfg == nil {
		return false
	}
	if i.outOfWindow(cfg, now) {
		return false
	}
	rule, ok := cfg.MatchRule(ev)
	if !ok {
		return false
	}
	id := cfg.ValidFrom
	i.ConfigID = &id
	if rule.ConversionValue > i.ConversionValue {
		i.ConversionValue = rule.ConversionValue
	}
	return true
}

func (i *Invocation) outOfWindow(cfg *Configuration, now time.Time) bool {
	if cfg.CutoffTime <= 0 {
		return false
	}
	return now.After(i.Timestamp.Add(time.Duration(cfg.CutoffTime) * 24 * time.Hour))
}

// IsExpired reports whether the invocation was created more than window ago.
func (i *Invocation) IsExpired(now time.Time, window time.Duration) bool {
	return now.Sub(i.Timestamp) > window
}

// Clone returns a deep copy safe to hand out of a critical section.
func (i *Invocation) Clone() *Invocation {
	c := *i
	if i.AdvertiserID != nil {
		v := *i.AdvertiserID
		c.AdvertiserID = &v
	}
	if i.ConfigID != nil {
		v := *i.ConfigID
		c.ConfigID = &v
	}
	return &c
}
