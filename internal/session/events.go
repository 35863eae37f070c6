package session

import (
	"context"
	"fmt"
	"time"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
)

// eventHandler processes one dispatched event's flattened parameters. It
// returns true when it has fully handled (and should suppress the
// default raw-line echo for) the event.
type eventHandler func(s *Server, parms attrdict.Dict) bool

var eventHandlers = map[string]eventHandler{
	"_connected_":    (*Server).eventConnected,
	"_disconnected_": (*Server).eventDisconnected,
	"begin":          (*Server).eventBegin,
	"end":            (*Server).eventEnd,
	"welcome":        (*Server).eventWelcome,
	"ok":             (*Server).eventOK,
	"accepted":       (*Server).eventAccepted,
	"loggedin":       (*Server).eventLoggedIn,
	"serverupdate":   (*Server).eventServerUpdate,
	"addchannel":     (*Server).eventAddChannel,
	"removechannel":  (*Server).eventRemoveChannel,
	"updatechannel":  (*Server).eventUpdateChannel,
	"adduser":        (*Server).eventAddUser,
	"removeuser":     (*Server).eventRemoveUser,
	"loggedout":      (*Server).eventLoggedOut,
	"updateuser":     (*Server).eventUpdateUser,
	"messagedeliver": (*Server).eventMessageDeliver,
	"joined":         (*Server).eventJoined,
	"left":           (*Server).eventLeft,
	"addfile":        (*Server).eventAddFile,
	"removefile":     (*Server).eventRemoveFile,
	"kicked":         (*Server).eventKicked,
	"stats":          (*Server).eventStats,
	"useraccount":    (*Server).eventPassthroughLine,
	"userbanned":     (*Server).eventPassthroughLine,
	"pong":           (*Server).eventPong,
	"error":          (*Server).eventError,
}

func (s *Server) eventConnected(parms attrdict.Dict) bool {
	s.outputFromEvent("Connected")
	return true
}

func (s *Server) eventDisconnected(parms attrdict.Dict) bool {
	s.outputFromEvent("Disconnected")
	s.clear()
	s.handleRecycling(false)
	return true
}

func (s *Server) eventBegin(parms attrdict.Dict) bool {
	s.mu.Lock()
	waitID := s.waitID
	s.mu.Unlock()
	return waitID != 0 && parms.GetDefault("id", "") == fmt.Sprint(waitID)
}

func (s *Server) eventEnd(parms attrdict.Dict) bool {
	s.mu.Lock()
	waitID := s.waitID
	s.mu.Unlock()
	if waitID != 0 && parms.GetDefault("id", "") == fmt.Sprint(waitID) {
		s.mu.Lock()
		s.waitID = 0
		s.mu.Unlock()
		s.evIdblockDone.Set()
		return true
	}
	return false
}

func (s *Server) eventWelcome(parms attrdict.Dict) bool {
	s.UpdateParms("Welcome", s.Info, parms, true)
	userid := s.Info.GetDefault("userid", "")
	me, ok := s.Users[userid]
	if !ok {
		me = attrdict.New()
		s.Users[userid] = me
	}
	me.Set("userid", userid)
	s.Me = me
	return true
}

func (s *Server) eventOK(parms attrdict.Dict) bool {
	if s.State() != LoggingIn {
		return false
	}
	s.setState(LoggedIn)
	s.PlaySounds = true
	ver := s.Info.GetDefault("version", "")
	if len(ver) > 3 {
		ver = ver[:3]
	}
	s.outputFromEvent(fmt.Sprintf("Login successful (server version %s)", ver))
	s.LastError = ""
	s.evLoggedIn.Set()
	s.handleInitChannel()
	return true
}

func (s *Server) handleInitChannel() {
	chanID := s.LoginParms.GetDefault("chanid", "")
	channel := s.LoginParms.GetDefault("channel", "")
	if chanID == "" && channel != "" {
		if channel == "/" {
			chanID = "1"
		} else {
			for id, ch := range s.Channels {
				if s.ChannelName(id, false) == channel {
					chanID = ch.GetDefault("channelid", id)
					break
				}
			}
		}
	}
	if chanID == "" {
		return
	}
	line := "join chanid=" + chanID
	if pw := s.LoginParms.GetDefault("chanpassword", ""); pw != "" {
		line += fmt.Sprintf(" password=%q", pw)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Send(ctx, line)
}

func (s *Server) eventAccepted(parms attrdict.Dict) bool {
	userid := parms.GetDefault("userid", "")
	user, ok := s.Users[userid]
	if !ok {
		user = attrdict.New()
		s.Users[userid] = user
	}
	s.UpdateParms("Login accepted", user, parms, true)
	s.reportRightsIssues()
	return true
}

func (s *Server) reportRightsIssues() {
	if s.Me == nil {
		return
	}
	rightsStr, ok := s.Me.Get("userrights")
	if !ok {
		return
	}
	var rights int
	fmt.Sscanf(rightsStr, "%d", &rights)
	if rights&0x1 == 0 {
		s.errorFromEvent("Warning: Multiple logins disallowed")
	}
	if rights&0x2 == 0 {
		s.errorFromEvent("Warning: Unable to see channel participants")
	}
}

func (s *Server) eventLoggedIn(parms attrdict.Dict) bool {
	userid := parms.GetDefault("userid", "")
	user, ok := s.Users[userid]
	if !ok {
		user = attrdict.New()
		s.Users[userid] = user
	}
	s.play("in.wav")
	s.UpdateParms("Logged in", user, parms, true)
	if s.State() != LoggingIn && user.GetDefault("nickname", "") != "" {
		s.outputFromEvent(fmt.Sprintf("%s logged in", s.NonEmptyNickname(userid, false, true, true)))
	}
	return true
}

func (s *Server) eventServerUpdate(parms attrdict.Dict) bool {
	s.UpdateParms("Server update", s.Info, parms, s.State() == LoggingIn)
	if v, ok := parms.Get("usertimeout"); ok && s.conn != nil {
		var sec int
		fmt.Sscanf(v, "%d", &sec)
		s.conn.SetUserTimeout(sec)
	}
	return true
}

func (s *Server) eventAddChannel(parms attrdict.Dict) bool {
	cid := parms.GetDefault("channelid", "")
	ch, ok := s.Channels[cid]
	if !ok {
		ch = attrdict.New()
		s.Channels[cid] = ch
	}
	s.UpdateParms("Add channel", ch, parms, true)
	if s.State() != LoggingIn {
		s.outputFromEvent("New channel " + ch.GetDefault("channel", ""))
	}
	return true
}

func (s *Server) eventRemoveChannel(parms attrdict.Dict) bool {
	cid := parms.GetDefault("channelid", "")
	if ch, ok := s.Channels[cid]; ok {
		s.outputFromEvent("Removed channel " + ch.GetDefault("channel", ""))
	}
	delete(s.Channels, cid)
	return true
}

func (s *Server) eventUpdateChannel(parms attrdict.Dict) bool {
	cid := parms.GetDefault("channelid", "")
	ch, ok := s.Channels[cid]
	if !ok {
		ch = attrdict.New()
		s.Channels[cid] = ch
	}
	name := ch.GetDefault("channel", "")
	s.UpdateParms(name, ch, parms, false, "parentid", "channel")
	return true
}

func (s *Server) eventAddUser(parms attrdict.Dict) bool {
	userid := parms.GetDefault("userid", "")
	user, existed := s.Users[userid]
	if !existed {
		user = attrdict.New()
		s.Users[userid] = user
		s.UpdateParms("Add user to channel", user, parms, true)
		user.Set("temporary", "1")
	} else {
		s.UpdateParms("Add user", user, parms, true)
	}
	s.play("join.wav")
	if s.State() != LoggingIn {
		s.outputFromEvent(fmt.Sprintf("%s joined %s",
			s.NonEmptyNickname(userid, false, false, true),
			s.ChannelName(parms.GetDefault("channelid", ""), false),
		))
	}
	return true
}

func (s *Server) eventRemoveUser(parms attrdict.Dict) bool {
	userid := parms.GetDefault("userid", "")
	s.play("leave.wav")
	s.outputFromEvent(fmt.Sprintf("%s left %s",
		s.NonEmptyNickname(userid, false, false, true),
		s.ChannelName(parms.GetDefault("channelid", ""), false),
	))
	if u, ok := s.Users[userid]; ok {
		u.Del("channelid")
		u.Del("channel")
		if u.GetDefault("temporary", "") != "" {
			delete(s.Users, userid)
		}
	}
	return true
}

func (s *Server) eventLoggedOut(parms attrdict.Dict) bool {
	if len(parms) == 0 {
		s.outputFromEvent("You are logged out")
		s.setState(Connected)
		s.Channels = map[string]attrdict.Dict{}
		s.Users = map[string]attrdict.Dict{}
		userid := s.Info.GetDefault("userid", "")
		me := attrdict.New()
		me.Set("userid", userid)
		s.Users[userid] = me
		s.Me = me
		s.evLoggedIn.Clear()
		s.evLoggedOut.Set()
		s.handleRecycling(false)
		return true
	}
	userid := parms.GetDefault("userid", "")
	if u, ok := s.Users[userid]; ok && u.GetDefault("nickname", "") != "" {
		s.play("out.wav")
		s.outputFromEvent(fmt.Sprintf("%s logged out", s.nonEmptyNicknameFor(u, false, true, true)))
	}
	delete(s.Users, userid)
	return true
}

func (s *Server) eventUpdateUser(parms attrdict.Dict) bool {
	userid := parms.GetDefault("userid", "")
	user, existed := s.Users[userid]
	if !existed {
		user = attrdict.New()
		s.Users[userid] = user
		s.UpdateParms("Add user to server", user, parms, true)
		user.Set("temporary", "1")
		return true
	}
	name := s.NonEmptyNickname(userid, false, false, true)
	s.UpdateParms(name, user, parms, false)
	return true
}

func (s *Server) eventMessageDeliver(parms attrdict.Dict) bool {
	if msg := s.FormattedMessage(parms); msg != "" {
		s.outputFromEvent(msg)
	}
	return true
}

func (s *Server) eventJoined(parms attrdict.Dict) bool {
	s.play("join.wav")
	s.outputFromEvent("Joined " + s.ChannelName(parms.GetDefault("channelid", ""), false))
	return true
}

func (s *Server) eventLeft(parms attrdict.Dict) bool {
	s.play("leave.wav")
	s.outputFromEvent("Left channel " + s.ChannelName(parms.GetDefault("channelid", ""), false))
	return true
}

func (s *Server) eventAddFile(parms attrdict.Dict) bool {
	fid := parms.GetDefault("chanid", "") + ":" + parms.GetDefault("filename", "")
	s.play("file.wav")
	f, ok := s.Files[fid]
	if !ok {
		f = attrdict.New()
		s.Files[fid] = f
	}
	s.UpdateParms("Add file", f, parms, true)
	if s.State() == LoggingIn {
		return true
	}
	s.outputFromEvent(fmt.Sprintf("%s sent to %s file %s (id %s)",
		parms.GetDefault("owner", ""),
		s.ChannelName(parms.GetDefault("chanid", ""), false),
		parms.GetDefault("filename", ""),
		parms.GetDefault("fileid", ""),
	))
	return true
}

func (s *Server) eventRemoveFile(parms attrdict.Dict) bool {
	fid := parms.GetDefault("chanid", "") + ":" + parms.GetDefault("filename", "")
	s.play("file.wav")
	s.outputFromEvent(fmt.Sprintf("File %s removed from channel %s",
		parms.GetDefault("filename", ""),
		s.ChannelName(parms.GetDefault("chanid", ""), false),
	))
	delete(s.Files, fid)
	return true
}

func (s *Server) eventKicked(parms attrdict.Dict) bool {
	kicker := s.NonEmptyNickname(parms.GetDefault("kickerid", ""), false, false, false)
	s.outputFromEvent(fmt.Sprintf("%s has kicked you from the server", kicker))
	s.manualCM = s.AutoLogin != 2
	return true
}

func (s *Server) eventStats(parms attrdict.Dict) bool {
	lines := []string{"Server statistics:"}
	for _, k := range parms.Keys() {
		lines = append(lines, fmt.Sprintf("    %s: %s", k, parms[k]))
	}
	msg := lines[0]
	for _, l := range lines[1:] {
		msg += "\n" + l
	}
	s.outputFromEvent(msg)
	return true
}

// eventPassthroughLine handles useraccount/userbanned: each is one row of
// a listing command's response and is simply echoed, never trigger-
// matched (the registry's event hook skips triggers for these two events).
func (s *Server) eventPassthroughLine(parms attrdict.Dict) bool {
	return false
}

func (s *Server) eventPong(parms attrdict.Dict) bool {
	// A user-initiated ping's reply; handled like any unrecognized line
	// (printed raw). Internally generated keepalive pings never reach
	// here because ttnet's watcher eats unsolicited pongs.
	return false
}

func (s *Server) eventError(parms attrdict.Dict) bool {
	msg := fmt.Sprintf("Error %s: %s", parms.GetDefault("number", ""), parms.GetDefault("message", ""))
	for _, k := range parms.Keys() {
		if k == "number" || k == "message" {
			continue
		}
		msg += fmt.Sprintf(", %s=%s", k, parms[k])
	}
	s.outputFromEvent("*** " + msg)
	if !s.evLoggedIn.IsSet() {
		s.LastError = msg
	}
	if s.State() == LoggingIn {
		s.setState(LoginError)
		s.evLoggedIn.Set()
	}
	return true
}
