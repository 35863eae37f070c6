package session

import (
	"fmt"
	"regexp"
)

var reMinorVersion = regexp.MustCompile(`(\d\.\d)\..*`)

const ttFileTemplate = `<?xml version="1.0" encoding="UTF-8" ?>
<teamtalk version="%s">
    <host>
        <name>%s</name>
        <address>%s</address>
        <password>%s</password>
        <tcpport>%s</tcpport>
        <udpport>%s</udpport>
        <encrypted>%s</encrypted>
        <auth>
            <username>%s</username>
            <password>%s</password>
        </auth>
        <join>
            <channel>%s</channel>
            <password>%s</password>
        </join>
    </host>
</teamtalk>
`

// UserInfo holds optional saved-login credentials for a .tt file.
type UserInfo struct {
	Username string
	Password string
}

// MakeTTFile renders a .tt connection-shortcut file for this server,
// usable only once logged in (the channel id and server info it needs
// come from the live model). channelID of "" omits the initial join.
func (s *Server) MakeTTFile(user *UserInfo, channelID string, verGiven string) (string, error) {
	if s.State() != LoggedIn {
		return "", fmt.Errorf("session: %s: MakeTTFile requires a logged-in connection", s.Shortname)
	}

	ver := verGiven
	if ver == "" {
		ver = s.Info.GetDefault("version", "")
		if ver < "5.0" {
			ver = "4.0"
		} else if m := reMinorVersion.FindStringSubmatch(ver); m != nil {
			ver = m[1]
		} else {
			ver = ""
		}
		if ver == "" {
			ver = "5.0"
		}
	}

	username, password := "", ""
	if user != nil {
		username, password = user.Username, user.Password
	}

	channel, chanPassword := "", ""
	if channelID != "" {
		if ch, ok := s.Channels[channelID]; ok {
			channel = ch.GetDefault("channel", "")
			chanPassword = ch.GetDefault("password", "")
		}
	}

	return fmt.Sprintf(ttFileTemplate,
		ver,
		s.Shortname,
		s.Host,
		s.Info.GetDefault("serverpassword", ""),
		s.Info.GetDefault("tcpport", ""),
		s.Info.GetDefault("udpport", ""),
		boolLower(s.Encrypted),
		username,
		password,
		channel,
		chanPassword,
	), nil
}

func boolLower(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
