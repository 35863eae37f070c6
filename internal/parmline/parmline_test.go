package parmline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~dlee/ttcom/internal/parmline"
)

func TestParseBasicFrame(t *testing.T) {
	l, err := parmline.Parse(`addchannel channel="Lobby" chanid=1 parentid=0`)
	require.NoError(t, err)
	assert.Equal(t, "addchannel", l.Event)
	require.Len(t, l.Params, 3)

	ch, ok := l.Get("channel")
	require.True(t, ok)
	assert.Equal(t, `channel="Lobby"`, ch.String())

	id, ok := l.Get("chanid")
	require.True(t, ok)
	assert.Equal(t, parmline.Int{K: "chanid", V: 1}, id)
}

func TestRoundTrip(t *testing.T) {
	cases := []string{
		`welcome servername="Test Server" version="5.4" protocol="5.4"`,
		`addchannel channel="Lobby" chanid=1 parentid=0`,
		`subscriptions userid=7 list=[1,2,3]`,
		`kick list=[]`,
		`negint value=-42`,
		`escaped text="line one\nline two\\done"`,
	}
	for _, c := range cases {
		l, err := parmline.Parse(c)
		require.NoError(t, err, c)

		l2, err := parmline.Parse(l.String())
		require.NoError(t, err, c)

		assert.True(t, l.Equal(l2), "round trip mismatch for %q: %q != %q", c, l.String(), l2.String())
	}
}

func TestEscapedStringDecoding(t *testing.T) {
	l, err := parmline.Parse(`chat text="hello\nworld\\end"`)
	require.NoError(t, err)
	v, ok := l.Get("text")
	require.True(t, ok)
	s, ok := v.(parmline.String)
	require.True(t, ok)
	assert.Equal(t, "hello\nworld\\end", s.Raw)
	assert.Equal(t, `hello\nworld\\end`, s.Encoded())
}

func TestListParam(t *testing.T) {
	l, err := parmline.Parse(`subscriptions userid=7 list=[1,2,3]`)
	require.NoError(t, err)
	v, ok := l.Get("list")
	require.True(t, ok)
	lst, ok := v.(parmline.List)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, lst.V)
}

func TestEmptyList(t *testing.T) {
	l, err := parmline.Parse(`kick bannedids=[]`)
	require.NoError(t, err)
	v, ok := l.Get("bannedids")
	require.True(t, ok)
	lst, ok := v.(parmline.List)
	require.True(t, ok)
	assert.Empty(t, lst.V)
	assert.Equal(t, "bannedids=[]", lst.String())
}

func TestBareKeywordNoValue(t *testing.T) {
	l, err := parmline.Parse("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", l.Event)
	assert.Empty(t, l.Params)
}

func TestStrictModeRejectsBareKeywordToken(t *testing.T) {
	_, err := parmline.Parse(`-m match="foo"`)
	assert.Error(t, err)
}

func TestStrictModeRejectsUnquotedString(t *testing.T) {
	_, err := parmline.Parse(`say text=hello`)
	assert.Error(t, err)
}

func TestRelaxedModeAcceptsBareToken(t *testing.T) {
	l, err := parmline.ParseRelaxed(`-m match="foo"`)
	require.NoError(t, err)
	assert.Equal(t, "-m", l.Event)
	v, ok := l.Get("match")
	require.True(t, ok)
	assert.Equal(t, "foo", v.StringValue())
}

func TestRelaxedModeAcceptsBareWordParams(t *testing.T) {
	l, err := parmline.ParseRelaxed(`server shortname sayhi`)
	require.NoError(t, err)
	assert.Equal(t, "server", l.Event)
	require.Len(t, l.Params, 2)
	assert.Equal(t, "shortname", l.Params[0].Name())
	assert.Equal(t, "sayhi", l.Params[1].Name())
}

func TestParmsFlattening(t *testing.T) {
	l, err := parmline.Parse(`addchannel channel="Lobby" chanid=1`)
	require.NoError(t, err)
	d := l.Parms()
	assert.Equal(t, "Lobby", d.GetDefault("channel", ""))
	assert.Equal(t, "1", d.GetDefault("chanid", ""))
	// chanid/channelid alias applies through the flattened view too.
	assert.Equal(t, "1", d.GetDefault("channelid", ""))
}

func TestRawPreservedForWholeLineMatching(t *testing.T) {
	l, err := parmline.Parse(`chat channelid=1 text="hi there"`)
	require.NoError(t, err)
	assert.Equal(t, `chat channelid=1 text="hi there"`, l.Raw)
}

func TestNewBuildsEmittableLine(t *testing.T) {
	l := parmline.New("login",
		parmline.String{K: "username", Raw: "bob"},
		parmline.Int{K: "nosysmsg", V: 1},
	)
	assert.Equal(t, `login username="bob" nosysmsg=1`, l.String())
}
