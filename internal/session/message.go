package session

import (
	"fmt"
	"sort"
	"strings"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
)

// Message types carried by a messagedeliver frame's type= parameter.
const (
	MsgUser      = "1"
	MsgChannel   = "2"
	MsgBroadcast = "3"
	MsgTyping    = "4"
)

// FormattedMessage renders an incoming messagedeliver frame's parms as a
// human-readable line, or "" if nothing should be shown.
func (s *Server) FormattedMessage(parms attrdict.Dict) string {
	mtype := parms.GetDefault("type", "")
	content := strings.ReplaceAll(parms.GetDefault("content", ""), `\r\n`, "\r\n")
	me := ""
	if s.Me != nil {
		me = s.Me.GetDefault("userid", "")
	}

	switch mtype {
	case MsgUser:
		s.play("user.wav")
		src := s.NonEmptyNickname(parms.GetDefault("srcuserid", ""), false, false, true)
		if parms.GetDefault("destuserid", "") == me {
			return fmt.Sprintf("User message from %s:\n%s", src, content)
		}
		dst := s.NonEmptyNickname(parms.GetDefault("destuserid", ""), false, false, true)
		return fmt.Sprintf("User message from %s to %s:\n%s", src, dst, content)

	case MsgChannel:
		src := s.NonEmptyNickname(parms.GetDefault("srcuserid", ""), false, false, true)
		myChannel := ""
		if s.Me != nil {
			myChannel = s.Me.GetDefault("channelid", "")
		}
		chanID := parms.GetDefault("channelid", "")
		if myChannel != "" && chanID == myChannel {
			s.play("channel.wav")
			return fmt.Sprintf("Channel message from %s:\n%s", src, content)
		}
		return fmt.Sprintf("Channel message from %s to %s:\n%s", src, parms.GetDefault("channel", ""), content)

	case MsgBroadcast:
		s.play("broadcast.wav")
		src := s.NonEmptyNickname(parms.GetDefault("srcuserid", ""), false, false, true)
		return fmt.Sprintf("*** Broadcast message from %s:\n%s", src, content)

	case MsgTyping:
		content = strings.ReplaceAll(content, "\r\n", " ")
		src := s.NonEmptyNickname(parms.GetDefault("srcuserid", ""), false, false, true)
		if parms.GetDefault("destuserid", "") == me {
			return fmt.Sprintf("User %s %s", src, content)
		}
		dst := s.NonEmptyNickname(parms.GetDefault("destuserid", ""), false, false, true)
		return fmt.Sprintf("User %s %s to %s", src, content, dst)

	default:
		keys := parms.Keys()
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + parms[k]
		}
		return "messagedeliver " + strings.Join(parts, " ")
	}
}
