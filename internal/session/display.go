package session

import (
	"fmt"
	"regexp"
	"strings"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
)

var reFacebookUsername = regexp.MustCompile(`^\d+@facebook\.com`)

// NonEmptyNickname renders a display name for a user given its userid,
// falling back through nickname, username, and finally a synthetic
// "<userid N>"/"<nameless user N>" placeholder so a blank nickname is
// never printed silently. forceDetails adds the userid and IP/UDP
// address; includeUserType prefixes "User"/"Admin"; shortenFacebook
// replaces an unconfirmed Facebook login id with "Facebook" once both
// ends are known to be at least version 5.3.
func (s *Server) NonEmptyNickname(userid string, forceDetails, includeUserType, shortenFacebook bool) string {
	user, ok := s.Users[userid]
	if !ok {
		return fmt.Sprintf("<userid %s>", userid)
	}
	return s.nonEmptyNicknameFor(user, forceDetails, includeUserType, shortenFacebook)
}

func (s *Server) nonEmptyNicknameFor(user attrdict.Dict, forceDetails, includeUserType, shortenFacebook bool) string {
	nickname := user.GetDefault("nickname", "")
	username := user.GetDefault("username", "")

	if shortenFacebook {
		sver := s.Info.GetDefault("version", "")
		uver := user.GetDefault("version", "")
		if sver != "" && uver != "" && sver >= "5.3" && uver >= "5.3" {
			username = reFacebookUsername.ReplaceAllString(username, "Facebook")
		}
	}

	var name string
	idIncluded := false
	switch {
	case nickname != "":
		name = `"` + nickname + `"`
		if username != "" {
			name += " (" + username + ")"
		}
	case username != "":
		name = "(" + username + ")"
	default:
		name = fmt.Sprintf("<nameless user %s>", user.GetDefault("userid", ""))
		forceDetails = true
		idIncluded = true
	}

	if includeUserType {
		utype := user.GetDefault("usertype", "")
		switch utype {
		case "1":
			utype = "User"
		case "2":
			utype = "Admin"
		default:
			utype = "UserType" + utype
		}
		name = utype + " " + name
	}

	if !forceDetails {
		return name
	}

	ip := user.GetDefault("ipaddr", "")
	if ip == "" || strings.HasPrefix(ip, "0.0.0.0") {
		udp := user.GetDefault("udpaddr", "")
		if udp != "" && !strings.HasPrefix(udp, "0.0.0.0") {
			ip = "UDP " + stripUDPPort(udp)
		} else {
			ip = ""
		}
	}
	if ip != "" {
		name += " from " + ip
	}
	if !idIncluded {
		name += fmt.Sprintf(" (userid %s)", user.GetDefault("userid", ""))
	}
	return name
}

// ChannelName renders a channel for printing, given its channelid.
// preserveRootName keeps "/" as-is instead of substituting "the root
// channel".
func (s *Server) ChannelName(channelID string, preserveRootName bool) string {
	ch, ok := s.Channels[channelID]
	name := ""
	if ok {
		name = ch.GetDefault("channel", "")
	}
	if name == "" && ok {
		name = s.computeChannelPath(ch)
	}
	if name == "/" && !preserveRootName {
		return "the root channel"
	}
	return name
}

func (s *Server) computeChannelPath(ch attrdict.Dict) string {
	name := ""
	cur := ch
	for {
		parentID := cur.GetDefault("parentid", "")
		segment := cur.GetDefault("name", "")
		name = segment + "/" + name
		if parentID == "" || parentID == "0" {
			break
		}
		next, ok := s.Channels[parentID]
		if !ok {
			break
		}
		cur = next
	}
	return "/" + strings.TrimSuffix(name, "/")
}
