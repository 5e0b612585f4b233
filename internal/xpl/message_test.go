package xpl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const heartbeatWire = "xpl-stat\n{\nhop=1\nsource=acme-lamp.kitchen\ntarget=*\n}\nhbeat.app\n{\ninterval=300\nport=3865\nremote-ip=192.168.1.20\n}\n"

func TestParseHeartbeat(t *testing.T) {
	m, err := Parse([]byte(heartbeatWire))
	require.NoError(t, err)

	assert.Equal(t, Status, m.Type)
	assert.Equal(t, 1, m.Hop)
	assert.Equal(t, MustAddress("acme", "lamp", "kitchen"), m.Source)
	assert.True(t, m.Target.IsBroadcast())
	assert.Equal(t, SchemaHeartbeat, m.Schema)
	assert.True(t, IsHeartbeat(m))
	assert.False(t, IsGoodbye(m))

	d, ok := HeartbeatInterval(m)
	require.True(t, ok)
	assert.Equal(t, 300*time.Second, d)

	addr, ok := HeartbeatTransportAddr(m)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.20:3865", addr)
}

func TestMarshalMatchesWireFormat(t *testing.T) {
	m := NewHeartbeat(MustAddress("acme", "lamp", "kitchen"), SchemaHeartbeat, 300*time.Second,
		HeartbeatInfo{Port: 3865, RemoteIP: "192.168.1.20"})
	assert.Equal(t, heartbeatWire, string(m.Marshal()))
}

func TestRoundTrip(t *testing.T) {
	m := NewMessage(Trigger, MustAddress("acme", "sensor", "attic"), MustAddress("acme", "logger", "main"), MustSchema("sensor", "basic"))
	m.Hop = 4
	require.NoError(t, m.Body.Add("device", "temp1"))
	require.NoError(t, m.Body.Add("current", "21.5"))
	require.NoError(t, m.Body.Add("current", "21.7"))
	require.NoError(t, m.Body.Add("note", "a = b, with spaces"))
	require.NoError(t, m.Validate())

	parsed, err := Parse(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
	assert.Equal(t, []string{"21.5", "21.7"}, parsed.Body.Values("current"))
}

func TestRoundTripEmptyBody(t *testing.T) {
	m := NewMessage(Command, MustAddress("acme", "remote", "one"), Broadcast, MustSchema("x10", "basic"))
	parsed, err := Parse(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestParseAcceptsCRLF(t *testing.T) {
	raw := "xpl-cmnd\r\n{\r\nhop=2\r\nsource=acme-remote.one\r\ntarget=acme-lamp.*\r\n}\r\ncontrol.basic\r\n{\r\ncurrent=on\r\n}\r\n"
	m, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, Command, m.Type)
	assert.Equal(t, 2, m.Hop)
	assert.True(t, m.Target.IsWildcard())
	v, ok := m.Body.Get("current")
	assert.True(t, ok)
	assert.Equal(t, "on", v)
}

func TestParseBlankLineEndsBody(t *testing.T) {
	raw := "xpl-trig\n{\nhop=1\nsource=acme-lamp.k\ntarget=*\n}\nlighting.basic\n{\nlevel=50\n\ntrailing=ignored\n"
	m, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Body.Len())
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"unknown type":     "xpl-foo\n{\nhop=1\nsource=a-b.c\ntarget=*\n}\nx.y\n{\n}\n",
		"missing brace":    "xpl-stat\nhop=1\n",
		"header no equals": "xpl-stat\n{\nhop 1\nsource=a-b.c\ntarget=*\n}\nx.y\n{\n}\n",
		"bad hop":          "xpl-stat\n{\nhop=0\nsource=a-b.c\ntarget=*\n}\nx.y\n{\n}\n",
		"missing source":   "xpl-stat\n{\nhop=1\ntarget=*\n}\nx.y\n{\n}\n",
		"wildcard source":  "xpl-stat\n{\nhop=1\nsource=a-b.*\ntarget=*\n}\nx.y\n{\n}\n",
		"bad source char":  "xpl-stat\n{\nhop=1\nsource=a-b.c_d\ntarget=*\n}\nx.y\n{\n}\n",
		"unknown header":   "xpl-stat\n{\nhop=1\nsource=a-b.c\ntarget=*\nfoo=bar\n}\nx.y\n{\n}\n",
		"duplicate header": "xpl-stat\n{\nhop=1\nhop=2\nsource=a-b.c\ntarget=*\n}\nx.y\n{\n}\n",
		"unterminated":     "xpl-stat\n{\nhop=1\nsource=a-b.c\n",
		"bad schema":       "xpl-stat\n{\nhop=1\nsource=a-b.c\ntarget=*\n}\nxy\n{\n}\n",
		"body no equals":   "xpl-stat\n{\nhop=1\nsource=a-b.c\ntarget=*\n}\nx.y\n{\nnovalue\n}\n",
		"non ascii":        "xpl-stat\n{\nhop=1\nsource=a-b.c\ntarget=*\n}\nx.y\n{\nname=caf\xc3\xa9\n}\n",
	}
	for name, raw := range cases {
		m, err := Parse([]byte(raw))
		assert.ErrorIs(t, err, ErrValidation, name)
		assert.Nil(t, m, name)
	}
}

func TestValidate(t *testing.T) {
	src := MustAddress("acme", "lamp", "k")
	m := NewMessage(Status, src, Broadcast, SchemaHeartbeat)
	require.NoError(t, m.Validate())

	bad := m.Clone()
	bad.Source = Address{}
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = m.Clone()
	bad.Source, _ = NewGroupAddress("acme", "lamp")
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = m.Clone()
	bad.Type = 0
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = m.Clone()
	bad.Body = Body{{Name: "Upper", Value: "x"}}
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}

func TestBodySetAndDuplicates(t *testing.T) {
	var b Body
	require.NoError(t, b.Add("group", "a"))
	require.NoError(t, b.Add("interval", "5"))
	require.NoError(t, b.Add("group", "b"))
	assert.Equal(t, []string{"a", "b"}, b.Values("group"))

	require.NoError(t, b.Set("group", "c"))
	assert.Equal(t, Body{{"group", "c"}, {"interval", "5"}}, b)

	assert.ErrorIs(t, b.Add("bad name", "x"), ErrValidation)
	assert.ErrorIs(t, b.Add("ok", "line\nbreak"), ErrValidation)
}

func TestGoodbye(t *testing.T) {
	src := MustAddress("acme", "lamp", "k")
	assert.True(t, IsGoodbye(NewHeartbeat(src, SchemaHeartbeatEnd, 5*time.Second, HeartbeatInfo{})))
	assert.True(t, IsGoodbye(NewHeartbeat(src, SchemaHeartbeat, 0, HeartbeatInfo{})))
	assert.False(t, IsGoodbye(NewHeartbeat(src, SchemaHeartbeat, 5*time.Second, HeartbeatInfo{})))
	assert.False(t, IsHeartbeat(NewMessage(Command, src, Broadcast, SchemaHeartbeatRequest)))
}

func TestHeartbeatIntervalClamped(t *testing.T) {
	src := MustAddress("acme", "sensor", "a")
	for _, v := range []string{"5000000000", "99999999999999999999999"} {
		m := NewMessage(Status, src, Broadcast, SchemaHeartbeat)
		require.NoError(t, m.Body.Add(FieldInterval, v))
		d, ok := HeartbeatInterval(m)
		require.True(t, ok, v)
		assert.Equal(t, MaxHeartbeatInterval, d, v)
	}

	m := NewMessage(Status, src, Broadcast, SchemaHeartbeat)
	require.NoError(t, m.Body.Add(FieldInterval, "-5"))
	_, ok := HeartbeatInterval(m)
	assert.False(t, ok)
}

func TestFilter(t *testing.T) {
	f, err := ParseFilter("xpl-cmnd.acme.*.*.control.basic")
	require.NoError(t, err)

	m := NewMessage(Command, MustAddress("acme", "remote", "one"), Broadcast, MustSchema("control", "basic"))
	assert.True(t, f.Match(m))

	m.Type = Status
	assert.False(t, f.Match(m))

	all, err := ParseFilter("*.*.*.*.*.*")
	require.NoError(t, err)
	assert.True(t, all.Match(m))
	assert.Equal(t, "*.*.*.*.*.*", all.String())

	_, err = ParseFilter("xpl-cmnd.acme")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ParseFilter("xpl-bad.*.*.*.*.*")
	assert.ErrorIs(t, err, ErrValidation)
}
