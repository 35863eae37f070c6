package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server home {
	host teamtalk.example.com
	tcpport 10333
	autologin 1
	silent 1
	encrypted true
	nickname "bob"
	match kickwatch.m1 kicked kickerid="7"
	action kickwatch.a1 say you were kicked
}

server other {
	host other.example.com
	tcpport 10333
}
`

func TestParseReaderLoadsServers(t *testing.T) {
	servers, err := ParseReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	require.Len(t, servers, 2)

	home := servers[0]
	assert.Equal(t, "home", home.Shortname)
	assert.Equal(t, "teamtalk.example.com", home.Host)
	assert.Equal(t, 10333, home.TCPPort)
	assert.Equal(t, 1, home.AutoLogin)
	assert.True(t, home.Silent)
	assert.True(t, home.Encrypted)
	assert.Equal(t, "bob", home.LoginParms.GetDefault("nickname", ""))
}

func TestParseReaderCollectsTriggerRules(t *testing.T) {
	servers, err := ParseReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	home := servers[0]

	require.Len(t, home.Matches, 1)
	assert.Equal(t, "kickwatch", home.Matches[0].TriggerName)
	assert.Equal(t, "m1", home.Matches[0].SubName)
	assert.Contains(t, home.Matches[0].Value, "kicked")

	require.Len(t, home.Actions, 1)
	assert.Equal(t, "kickwatch", home.Actions[0].TriggerName)
	assert.Equal(t, "say you were kicked", home.Actions[0].Value)
}

func TestSplitTriggerKeyWithoutSubname(t *testing.T) {
	name, sub := splitTriggerKey("kickwatch")
	assert.Equal(t, "kickwatch", name)
	assert.Equal(t, "", sub)
}
