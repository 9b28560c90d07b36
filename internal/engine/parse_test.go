package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	rules := []string{
		`{"and":[{"fb_content[*].brand":{"eq":"CoffeeShop"}}]}`,
		`{"or":[{"fb_currency":{"is_any":["USD","JPY"]}},{"value":{"gte":100}}]}`,
		`{"and":[{"or":[{"a":{"i_contains":"x"}},{"b[0].c":{"lt":2.5}}]},{"d":{"regex_match":"^z"}}]}`,
	}
	for _, raw := range rules {
		t.Run(raw, func(t *testing.T) {
			p := mustParse(t, raw)
			out, err := Marshal(p)
			require.NoError(t, err)
			assert.JSONEq(t, raw, string(out))

			again, err := Parse(out)
			require.NoError(t, err)
			assert.True(t, Equal(p, again))
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"and":`},
		{"not an object", `[1,2]`},
		{"two keys", `{"a":{"eq":1},"b":{"eq":2}}`},
		{"empty and", `{"and":[]}`},
		{"or without list", `{"or":{"a":{"eq":1}}}`},
		{"comparator with two operators", `{"a":{"eq":1,"gt":0}}`},
		{"comparator with scalar body", `{"a":1}`},
		{"unknown operator", `{"a":{"between":[1,2]}}`},
		{"nested unknown node", `{"and":[{"a":{"eq":1}},{"not":[{"b":{"eq":2}}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidPredicate)
		})
	}
}

func TestFromValue_YAMLMaps(t *testing.T) {
	p, err := FromValue(map[string]any{
		"and": []any{
			map[any]any{"fb_content[*].brand": map[any]any{"eq": "CoffeeShop"}},
		},
	})
	require.NoError(t, err)
	assert.True(t, Evaluate(p, map[string]any{
		"fb_content": []any{map[string]any{"brand": "CoffeeShop"}},
	}))
}

func TestPredicate_MarshalJSON(t *testing.T) {
	c, err := NewComparator("fb_currency", OpEq, "USD")
	require.NoError(t, err)
	or, err := NewOr(c)
	require.NoError(t, err)

	out, err := or.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"or":[{"fb_currency":{"eq":"USD"}}]}`, string(out))
}
