package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
)

func TestNonEmptyNicknameFallsBackToUserid(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	assert.Equal(t, "<userid 99>", s.NonEmptyNickname("99", false, false, false))
}

func TestNonEmptyNicknamePrefersNicknameOverUsername(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	u := attrdict.New()
	u.Set("userid", "1")
	u.Set("nickname", "alice")
	u.Set("username", "alice99")
	s.Users["1"] = u

	assert.Equal(t, `"alice" (alice99)`, s.NonEmptyNickname("1", false, false, false))
}

func TestNonEmptyNicknameIncludesUserType(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	u := attrdict.New()
	u.Set("userid", "1")
	u.Set("nickname", "alice")
	u.Set("usertype", "2")
	s.Users["1"] = u

	assert.Equal(t, `Admin "alice"`, s.NonEmptyNickname("1", false, true, false))
}

func TestChannelNameRootSubstitution(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	root := attrdict.New()
	root.Set("channelid", "1")
	root.Set("channel", "/")
	s.Channels["1"] = root

	assert.Equal(t, "the root channel", s.ChannelName("1", false))
	assert.Equal(t, "/", s.ChannelName("1", true))
}

func TestChannelNameUnknownID(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	assert.Equal(t, "", s.ChannelName("404", false))
}
