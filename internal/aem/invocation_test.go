package aem

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() Identity {
	adv := "advertiserid"
	return Identity{
		CampaignID:      "campaignid",
		ACSToken:        "acstoken",
		ACSSharedSecret: "acssharedsecret",
		ACSConfigID:     "acsconfigid",
		AdvertiserID:    &adv,
	}
}

func catalogWith(t *testing.T, configs ...map[string]any) map[string][]*Configuration {
	t.Helper()
	out := map[string][]*Configuration{}
	for _, raw := range configs {
		cfg, err := ParseConfiguration(raw)
		require.NoError(t, err)
		out[cfg.ConfigMode] = append(out[cfg.ConfigMode], cfg)
	}
	return out
}

func rulesetAt(validFrom int64, rules []any) map[string]any {
	return map[string]any{
		"default_currency":       "USD",
		"cutoff_time":            1,
		"valid_from":             validFrom,
		"config_mode":            DefaultConfigMode,
		"conversion_value_rules": rules,
	}
}

func TestNewInvocation(t *testing.T) {
	now := time.Unix(20000, 0)
	inv, err := NewInvocation(testIdentity(), now)
	require.NoError(t, err)
	assert.Equal(t, NoConversionValue, inv.ConversionValue)
	assert.Nil(t, inv.ConfigID)
	assert.False(t, inv.IsAggregated)
	assert.Equal(t, DefaultConfigMode, inv.ConfigMode())

	_, err = NewInvocation(Identity{CampaignID: "c"}, now)
	assert.ErrorIs(t, err, ErrMissingIdentity)
	_, err = NewInvocation(Identity{ACSToken: "t"}, now)
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestAttribute_MonotonicConversionValue(t *testing.T) {
	created := time.Unix(20000, 0)
	catalog := catalogWith(t, rulesetAt(20000, sampleRules()))
	inv, err := NewInvocation(testIdentity(), created)
	require.NoError(t, err)

	steps := []struct {
		ev   Event
		want int
	}{
		{Event{Name: donate}, 9},
		{Event{Name: purchase, Currency: "USD", Value: 10}, 20},
		{Event{Name: donate}, 20},
		{Event{Name: "unknown"}, 20},
	}
	prev := inv.ConversionValue
	for _, s := range steps {
		inv.Attribute(s.ev, catalog, created.Add(time.Hour))
		assert.Equal(t, s.want, inv.ConversionValue)
		assert.GreaterOrEqual(t, inv.ConversionValue, prev)
		prev = inv.ConversionValue
	}
	require.NotNil(t, inv.ConfigID)
	assert.Equal(t, int64(20000), *inv.ConfigID)
}

func TestAttribute_NoMatch(t *testing.T) {
	created := time.Unix(20000, 0)
	catalog := catalogWith(t, rulesetAt(20000, sampleRules()))

	tests := []struct {
		name    string
		prepare func(inv *Invocation)
		catalog map[string][]*Configuration
		ev      Event
		now     time.Time
	}{
		{"aggregated", func(inv *Invocation) { inv.IsAggregated = true }, catalog, Event{Name: donate}, created},
		{"empty catalog", func(*Invocation) {}, map[string][]*Configuration{}, Event{Name: donate}, created},
		{"config newer than invocation", func(inv *Invocation) { inv.Timestamp = time.Unix(100, 0) },
			catalog, Event{Name: donate}, time.Unix(200, 0)},
		{"outside cutoff window", func(*Invocation) {}, catalog, Event{Name: donate}, created.Add(25 * time.Hour)},
		{"event not in any rule", func(*Invocation) {}, catalog, Event{Name: "fb_mobile_search"}, created},
		{"business scoped without business config", func(inv *Invocation) { inv.BusinessID = "biz" },
			catalog, Event{Name: donate}, created},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := NewInvocation(testIdentity(), created)
			require.NoError(t, err)
			tt.prepare(inv)
			before := *inv
			assert.False(t, inv.Attribute(tt.ev, tt.catalog, tt.now))
			assert.Equal(t, before, *inv)
		})
	}
}

func TestFindConfig(t *testing.T) {
	oneRule := []any{map[string]any{"conversion_value": 1, "priority": 1, "events": []any{map[string]any{"event_name": donate}}}}
	catalog := catalogWith(t, rulesetAt(100, oneRule), rulesetAt(200, oneRule), rulesetAt(300, oneRule))

	inv, err := NewInvocation(testIdentity(), time.Unix(250, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(200), inv.FindConfig(catalog).ValidFrom, "latest activated at or before creation")

	id := int64(100)
	inv.ConfigID = &id
	assert.Equal(t, int64(100), inv.FindConfig(catalog).ValidFrom, "previously matched config is kept")

	gone := int64(150)
	inv.ConfigID = &gone
	assert.Equal(t, int64(200), inv.FindConfig(catalog).ValidFrom, "falls back when matched config was evicted")
}

func TestFindConfig_LowercaseModeFromServer(t *testing.T) {
	raw := rulesetAt(100, sampleRules())
	raw["config_mode"] = "default"
	catalog := catalogWith(t, raw)

	inv, err := NewInvocation(testIdentity(), time.Unix(1000, 0))
	require.NoError(t, err)
	require.NotNil(t, inv.FindConfig(catalog))
	assert.True(t, inv.Attribute(Event{Name: donate}, catalog, time.Unix(1000, 0)))
}

func TestFindConfig_BusinessScope(t *testing.T) {
	oneRule := []any{map[string]any{"conversion_value": 4, "priority": 1, "events": []any{map[string]any{"event_name": donate}}}}
	a := rulesetAt(100, oneRule)
	a["config_mode"], a["business_id"] = BusinessConfigMode, "biz-a"
	b := rulesetAt(200, oneRule)
	b["config_mode"], b["business_id"] = BusinessConfigMode, "biz-b"
	catalog := catalogWith(t, a, b)

	id := testIdentity()
	id.BusinessID = "biz-a"
	inv, err := NewInvocation(id, time.Unix(1000, 0))
	require.NoError(t, err)

	assert.Equal(t, BusinessConfigMode, inv.ConfigMode())
	assert.Equal(t, int64(100), inv.FindConfig(catalog).ValidFrom)
	assert.True(t, inv.Attribute(Event{Name: donate}, catalog, time.Unix(1000, 0)))
	assert.Equal(t, 4, inv.ConversionValue)
}

func TestInvocation_ExpiryAndClone(t *testing.T) {
	now := time.Now()
	inv, err := NewInvocation(testIdentity(), now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.True(t, inv.IsExpired(now, 24*time.Hour))
	assert.False(t, inv.IsExpired(now, 72*time.Hour))

	id := int64(7)
	inv.ConfigID = &id
	c := inv.Clone()
	*c.ConfigID = 8
	*c.AdvertiserID = "other"
	assert.Equal(t, int64(7), *inv.ConfigID)
	assert.Equal(t, "advertiserid", *inv.AdvertiserID)
}

func TestInvocation_JSON(t *testing.T) {
	inv, err := NewInvocation(testIdentity(), time.Unix(20000, 0).UTC())
	require.NoError(t, err)
	id := int64(20000)
	inv.ConfigID = &id
	inv.ConversionValue = 9

	data, err := json.Marshal(inv)
	require.NoError(t, err)
	var decoded Invocation
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, inv.Identity, decoded.Identity)
	assert.Equal(t, inv.ConfigID, decoded.ConfigID)
	assert.Equal(t, inv.ConversionValue, decoded.ConversionValue)
	assert.Equal(t, inv.IsAggregated, decoded.IsAggregated)
	assert.True(t, inv.Timestamp.Equal(decoded.Timestamp))
}
