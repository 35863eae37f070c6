// Package config loads server and trigger configuration for a TTCom-style
// client from an scfg configuration file, the format senpai itself reads
// its own configuration in.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"git.sr.ht/~emersion/go-scfg"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
)

// TriggerRule is one "match" or "action" directive attached to a server
// block, not yet compiled into a trigger.Match/trigger.Action.
type TriggerRule struct {
	TriggerName string
	SubName     string
	Value       string
}

// ServerConfig is one configured server connection, as read from a
// "server <shortname> { ... }" block.
type ServerConfig struct {
	Shortname   string
	Host        string
	TCPPort     int
	Encrypted   bool
	AutoLogin   int
	Silent      bool
	Hidden      bool
	SoundsDir   string
	SoundVolume int
	LoginParms  attrdict.Dict
	Matches     []TriggerRule
	Actions     []TriggerRule
}

// Source loads the configured server list. ScfgSource is the only
// implementation; the interface exists so tests and alternate front ends
// (e.g. a future in-memory or HTTP-fetched config) can substitute their
// own.
type Source interface {
	Load() ([]ServerConfig, error)
}

// ScfgSource reads server configuration from an scfg file at Path.
type ScfgSource struct {
	Path string
}

// Load reads and parses the configuration file named by s.Path.
func (s ScfgSource) Load() ([]ServerConfig, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return ParseReader(f)
}

// ParseReader parses scfg-formatted server configuration from r. Each
// top-level "server <shortname> { ... }" block becomes one ServerConfig;
// any other top-level directive is ignored.
func ParseReader(r io.Reader) ([]ServerConfig, error) {
	block, err := scfg.Load(r)
	if err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	var out []ServerConfig
	for _, d := range block {
		if d.Name != "server" || len(d.Params) == 0 {
			continue
		}
		sc, err := parseServer(d)
		if err != nil {
			return nil, fmt.Errorf("config: server %q: %w", d.Params[0], err)
		}
		out = append(out, sc)
	}
	return out, nil
}

func parseServer(d *scfg.Directive) (ServerConfig, error) {
	sc := ServerConfig{
		Shortname:  d.Params[0],
		LoginParms: attrdict.New(),
	}
	for _, child := range d.Children {
		name := strings.ToLower(child.Name)
		val := strings.Join(child.Params, " ")
		switch name {
		case "host":
			sc.Host = val
		case "tcpport":
			n, err := strconv.Atoi(val)
			if err != nil {
				return sc, fmt.Errorf("tcpport: %w", err)
			}
			sc.TCPPort = n
		case "autologin":
			n, err := strconv.Atoi(val)
			if err != nil {
				return sc, fmt.Errorf("autologin: %w", err)
			}
			sc.AutoLogin = n
		case "silent":
			sc.Silent = parseBool(val)
		case "hidden":
			sc.Hidden = parseBool(val)
		case "encrypted":
			sc.Encrypted = parseBool(val)
		case "soundsdir":
			sc.SoundsDir = val
		case "soundvolume":
			n, _ := strconv.Atoi(val)
			sc.SoundVolume = n
		case "match", "action":
			triggerName, subName := splitTriggerKey(child.Params[0])
			rule := TriggerRule{
				TriggerName: triggerName,
				SubName:     subName,
				Value:       strings.Join(child.Params[1:], " "),
			}
			if name == "match" {
				sc.Matches = append(sc.Matches, rule)
			} else {
				sc.Actions = append(sc.Actions, rule)
			}
		default:
			if len(child.Params) == 0 {
				sc.LoginParms.Set(name, "")
			} else {
				sc.LoginParms.Set(name, val)
			}
		}
	}
	return sc, nil
}

func splitTriggerKey(key string) (triggerName, subName string) {
	if i := strings.Index(key, "."); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
