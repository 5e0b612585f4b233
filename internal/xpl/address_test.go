package xpl

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAddressLowercases(t *testing.T) {
	a, err := NewAddress("ACME", "Lamp", "Kitchen-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", a.Vendor())
	assert.Equal(t, "lamp", a.Device())
	assert.Equal(t, "kitchen-1", a.Instance())
	assert.Equal(t, "acme-lamp.kitchen-1", a.String())
}

func TestAddressRoundTrip(t *testing.T) {
	cases := [][3]string{
		{"acme", "lamp", "kitchen"},
		{"ACME", "LAMP", "KITCHEN"},
		{"x10", "dim-mer", "a-1-b"},
		{"v", "d", "i"},
		{"abcdefgh", "abcdefgh", "abcdefghijklmnop"},
	}
	for _, c := range cases {
		a, err := NewAddress(c[0], c[1], c[2])
		require.NoError(t, err, c)

		parsed, err := ParseAddress(a.String())
		require.NoError(t, err, c)

		want, err := NewAddress(strings.ToLower(c[0]), strings.ToLower(c[1]), strings.ToLower(c[2]))
		require.NoError(t, err)
		assert.Equal(t, want, parsed)
	}
}

func TestAddressRejectsDisallowedCharacters(t *testing.T) {
	for _, bad := range []string{"ab_c", "a.b", "a b", "ab*", "é", "a/b", "x!"} {
		a, err := NewAddress("acme", "lamp", bad)
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, ErrValidation), bad)
		// All or nothing: no partially copied value survives.
		assert.True(t, a.IsZero(), bad)

		tok, err := normalizeToken("instance", bad, MaxInstanceLen)
		assert.Error(t, err)
		assert.Empty(t, tok)
	}
}

func TestAddressLengthLimits(t *testing.T) {
	_, err := NewAddress("abcdefghi", "lamp", "k")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NewAddress("acme", "abcdefghi", "k")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NewAddress("acme", "lamp", strings.Repeat("k", 17))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NewAddress("acme", "lamp", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVendorRejectsHyphen(t *testing.T) {
	_, err := NewAddress("ac-me", "lamp", "k")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "vendor", ve.Field)
}

func TestParseTarget(t *testing.T) {
	b, err := ParseTarget("*")
	require.NoError(t, err)
	assert.True(t, b.IsBroadcast())
	assert.Equal(t, "*", b.String())

	g, err := ParseTarget("acme-lamp.*")
	require.NoError(t, err)
	assert.True(t, g.IsWildcard())
	assert.False(t, g.IsBroadcast())
	assert.True(t, g.Matches(MustAddress("acme", "lamp", "one")))
	assert.False(t, g.Matches(MustAddress("acme", "dimmer", "one")))

	grp, err := ParseTarget("xpl-group.lights")
	require.NoError(t, err)
	assert.True(t, grp.IsGroup())

	_, err = ParseAddress("acme-lamp.*")
	assert.ErrorIs(t, err, ErrValidation)

	for _, bad := range []string{"", "acme", "acme-lamp", "acme.lamp", "-lamp.k", "acme-.k", "acme-lamp."} {
		_, err := ParseTarget(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}

func TestAddressMatches(t *testing.T) {
	a := MustAddress("acme", "lamp", "kitchen")
	assert.True(t, Broadcast.Matches(a))
	assert.True(t, a.Matches(a))
	assert.False(t, MustAddress("acme", "lamp", "hall").Matches(a))
}

func TestSchema(t *testing.T) {
	s, err := ParseSchema("HBEAT.App")
	require.NoError(t, err)
	assert.Equal(t, SchemaHeartbeat, s)
	assert.Equal(t, "hbeat.app", s.String())

	_, err = ParseSchema("hbeat")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ParseSchema("hbeat.a_p")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NewSchema("classname1", "x")
	assert.ErrorIs(t, err, ErrValidation)
}
