package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantExpr(t *testing.T) {
	assert.Equal(t, `tenant_id == "shop-1"`, TenantExpr("shop-1", ""))
	assert.Equal(t, `tenant_id == "shop-1" && source == "warranty.html"`, TenantExpr("shop-1", "warranty.html"))
	assert.Equal(t, `tenant_id == "shop" && source == "a\"b\\c"`, TenantExpr("shop", `a"b\c`))
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcd", 2))
	// "é" is two bytes; cutting inside it backs off
	assert.Equal(t, "a", truncate("aé", 2))
}
