package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "", want: ""},
		{name: "plain", raw: "shop123", want: "shop123"},
		{name: "keeps dash and dot", raw: "shop-1.hn", want: "shop-1.hn"},
		{name: "underscore replaced", raw: "shop_1", want: "shop-1"},
		{name: "control replaced", raw: "shop\t1\n", want: "shop-1-"},
		{name: "spaces and slashes kept", raw: "my shop/1", want: "my shop/1"},
		{name: "vietnamese letters kept", raw: "cửa hàng", want: "cửa hàng"},
		{name: "decomposed input composed", raw: "hé", want: "hé"},
		{name: "invalid utf8", raw: "a\xffb", want: "a-b"},
		{name: "only unsafe", raw: "___", want: "---"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw))
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{"a_b c", "cửa hàng/ 01", "x́y", "\xff\xfe", "..--..", "Điện Thoại", "_́"}
	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "input %q", in)
		assert.NotEmpty(t, once)
		assert.NotContains(t, once, KeySeparator)
	}
}

func TestSanitizeKeepsDistinctTenantsApart(t *testing.T) {
	seen := map[string]string{}
	for _, raw := range []string{"shop a", "shop/a", "shop-a", "shop#a", "shop.a"} {
		s := Sanitize(raw)
		other, dup := seen[s]
		assert.False(t, dup, "%q and %q sanitize to %q", raw, other, s)
		seen[s] = raw
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: "SKU-01", want: "SKU-01"},
		{name: "trimmed", raw: "  shop ", want: "shop"},
		{name: "space escaped", raw: "SKU 01", want: "SKU~2001"},
		{name: "separator escaped", raw: "shop_a", want: "shop~5Fa"},
		{name: "escape mark escaped", raw: "a~20", want: "a~7E20"},
		{name: "letters kept", raw: "cửa", want: "cửa"},
		{name: "decomposed input composed", raw: "hé", want: "hé"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.raw))
		})
	}
}

func TestKeyIsInjective(t *testing.T) {
	raws := []string{"shop a", "shop/a", "shop_a", "shop-a", "shop#a", "shop~5Fa", "shop~2Fa", "SKU 01", "SKU-01", "SKU~2001"}
	seen := map[string]string{}
	for _, raw := range raws {
		k := Key(raw)
		other, dup := seen[k]
		assert.False(t, dup, "%q and %q share key %q", raw, other, k)
		assert.NotContains(t, k, KeySeparator)
		seen[k] = raw
	}
}

func TestCompositeKey(t *testing.T) {
	key := CompositeKey("tenant_a", "SKU 01")
	assert.Equal(t, "tenant~5Fa_SKU~2001", key)

	tenantKey, naturalKey, ok := SplitKey(key)
	require.True(t, ok)
	assert.Equal(t, Key("tenant_a"), tenantKey)
	assert.Equal(t, Key("SKU 01"), naturalKey)

	assert.NotEqual(t, CompositeKey("a", "b_c"), CompositeKey("a_b", "c"))
	assert.NotEqual(t, CompositeKey("shop_a", "IP12"), CompositeKey("shop-a", "IP12"))
	assert.NotEqual(t, CompositeKey("shop", "SKU 01"), CompositeKey("shop", "SKU-01"))
}
