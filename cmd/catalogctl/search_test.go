package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTerms(t *testing.T) {
	terms, err := parseTerms([]string{"model=iPhone 12", " color =Black", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"model": "iPhone 12", "color": "Black", "note": "a=b"}, terms)

	_, err = parseTerms([]string{"model"})
	assert.Error(t, err)
	_, err = parseTerms([]string{"=x"})
	assert.Error(t, err)
}
