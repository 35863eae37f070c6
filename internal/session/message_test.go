package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
)

func TestFormattedMessageUserMessageToMe(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	me := attrdict.New()
	me.Set("userid", "1")
	s.Me = me
	src := attrdict.New()
	src.Set("userid", "2")
	src.Set("nickname", "bob")
	s.Users["2"] = src

	parms := attrdict.New()
	parms.Set("type", MsgUser)
	parms.Set("srcuserid", "2")
	parms.Set("destuserid", "1")
	parms.Set("content", "hello")

	msg := s.FormattedMessage(parms)
	assert.Contains(t, msg, "User message from")
	assert.Contains(t, msg, "hello")
}

func TestFormattedMessageChannelMessageToOtherChannel(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	me := attrdict.New()
	me.Set("userid", "1")
	me.Set("channelid", "5")
	s.Me = me
	src := attrdict.New()
	src.Set("userid", "2")
	src.Set("nickname", "bob")
	s.Users["2"] = src

	parms := attrdict.New()
	parms.Set("type", MsgChannel)
	parms.Set("srcuserid", "2")
	parms.Set("channelid", "9")
	parms.Set("channel", "/other")
	parms.Set("content", "hi all")

	msg := s.FormattedMessage(parms)
	assert.Contains(t, msg, "Channel message from")
	assert.Contains(t, msg, "/other")
}

func TestFormattedMessageUnknownTypeFallsBackToRaw(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	parms := attrdict.New()
	parms.Set("type", "99")
	parms.Set("content", "x")

	msg := s.FormattedMessage(parms)
	assert.Contains(t, msg, "messagedeliver")
}
