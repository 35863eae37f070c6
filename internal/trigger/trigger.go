// Package trigger implements match/action triggers fired off a server's
// event stream: a trigger names an ordered set of regexp matches against
// an event line, and an ordered set of actions to run (in command-typed,
// send, sendwithwait, or say form) the first time any of its matches
// fires.
package trigger

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
	"git.sr.ht/~dlee/ttcom/internal/parmline"
	"git.sr.ht/~dlee/ttcom/internal/session"
)

// Match is one named match rule within a Trigger. Spec's event and
// parameter values are regular expressions, implicitly anchored at both
// ends and matched case-insensitively. A parameter named "address"
// matches against any of the event's "*addr" parameters (ipaddr, udpaddr,
// ...) using address-aware comparison rather than plain regexp, and an
// event named "line" with a "match" parameter matches the event's whole
// raw line instead of its event keyword and parameters.
type Match struct {
	Name string
	Spec parmline.Line
}

// Action is one named action within a Trigger, run in the order added
// when any of the trigger's matches fires.
type Action struct {
	Name  string
	Value string
}

// Trigger groups a set of matches sharing a set of actions.
type Trigger struct {
	Name    string
	Matches []Match
	Actions []Action
}

func newTrigger(name string) *Trigger {
	return &Trigger{Name: name}
}

// AddMatch appends a match to t, or replaces in place the match already
// carrying the same name. An empty name is replaced with a generated
// "(matchNNN)" placeholder.
func (t *Trigger) AddMatch(spec parmline.Line, name string) {
	if name == "" {
		name = fmt.Sprintf("(match%03d)", len(t.Matches)+1)
	}
	for i := range t.Matches {
		if t.Matches[i].Name == name {
			t.Matches[i].Spec = spec
			return
		}
	}
	t.Matches = append(t.Matches, Match{Name: name, Spec: spec})
}

// AddAction appends an action to t, or replaces in place the action
// already carrying the same name. An empty name is replaced with a
// generated "(actionNNN)" placeholder.
func (t *Trigger) AddAction(value string, name string) {
	if name == "" {
		name = fmt.Sprintf("(action%03d)", len(t.Actions)+1)
	}
	for i := range t.Actions {
		if t.Actions[i].Name == name {
			t.Actions[i].Value = value
			return
		}
	}
	t.Actions = append(t.Actions, Action{Name: name, Value: value})
}

// Apply checks every match in t against line in order, and if one
// matches, reports it and runs every configured action, then returns
// true. Only the first matching rule in a trigger fires.
func (t *Trigger) Apply(s *session.Server, line parmline.Line, runCommand func(string)) bool {
	for _, m := range t.Matches {
		if !isMatch(m, line) {
			continue
		}
		uinfo := ""
		if uid, ok := line.Parms().Get("userid"); ok && uid != "" {
			uinfo = fmt.Sprintf(" (userid %s)", uid)
		}
		s.ErrorFromEvent(fmt.Sprintf("%s triggers %s %s%s", line.Event, t.Name, m.Name, uinfo))
		for _, a := range t.Actions {
			doAction(s, line, a, runCommand)
		}
		return true
	}
	return false
}

func anchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)^(?:" + pattern + ")$")
}

func isMatch(m Match, line parmline.Line) bool {
	spec := m.Spec
	if strings.EqualFold(spec.Event, "line") {
		if matchRE, ok := spec.Get("match"); ok {
			re, err := anchored(matchRE.StringValue())
			if err != nil {
				return false
			}
			return re.MatchString(line.Raw)
		}
	}

	eventRE, err := anchored(spec.Event)
	if err != nil || !eventRE.MatchString(line.Event) {
		return false
	}

	parms := line.Parms()
	for _, p := range spec.Params {
		key := p.Name()
		matchRE := p.StringValue()
		if strings.EqualFold(key, "address") {
			if !matchAnyAddress(matchRE, parms) {
				return false
			}
			continue
		}
		val, ok := parms.Get(key)
		if !ok {
			return false
		}
		re, err := anchored(matchRE)
		if err != nil || !re.MatchString(val) {
			return false
		}
	}
	return true
}

func matchAnyAddress(matchval string, parms attrdict.Dict) bool {
	for _, k := range parms.Keys() {
		if !strings.HasSuffix(strings.ToLower(k), "addr") {
			continue
		}
		if matchAddress(matchval, parms[k]) {
			return true
		}
	}
	return false
}

var reIPv6Bracketed = regexp.MustCompile(`^\[(.*?)]`)
var reIPv4MappedPrefix = regexp.MustCompile(`(?i)^::ffff:`)
var reTrailingPort = regexp.MustCompile(`:\d+$`)

// matchAddress reports whether addr (an event address parameter value,
// possibly IPv6-bracketed and/or port-suffixed) starts with matchval,
// treating a partial dotted-quad matchval as a prefix of its next octet
// rather than a plain string prefix (so "10.1" doesn't match "10.10").
func matchAddress(matchval, addr string) bool {
	if m := reIPv6Bracketed.FindStringSubmatch(addr); m != nil {
		addr = m[1]
	}
	if !strings.HasPrefix(matchval, ":") {
		addr = reIPv4MappedPrefix.ReplaceAllString(addr, "")
	}
	addr = reTrailingPort.ReplaceAllString(addr, "")
	if len(strings.Split(matchval, ".")) < 4 {
		matchval += "."
	}
	return strings.HasPrefix(addr, matchval)
}

var reSubst = regexp.MustCompile(`%\((\S+?)\)`)

func doAction(s *session.Server, line parmline.Line, action Action, runCommand func(string)) {
	a, ok := substitute(action.Value, line.Parms())
	if !ok {
		return
	}

	lower := strings.ToLower(a)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case strings.HasPrefix(lower, "send "):
		rest := strings.SplitN(a, " ", 2)[1]
		s.Send(ctx, rest)
		return
	case strings.HasPrefix(lower, "sendwithwait "):
		rest := strings.SplitN(a, " ", 2)[1]
		s.SendWithWait(ctx, rest, false)
		return
	case strings.HasPrefix(lower, "say "):
		// This package does not speak the text itself and calls no
		// sideeffect.Speaker: the action is passed to the caller's
		// runCommand as "say <text>", with the prefix lower-cased.
		rest := strings.SplitN(a, " ", 2)[1]
		runCommand("say " + rest)
		return
	}
	runCommand(fmt.Sprintf("server %s %s", s.Shortname, a))
}

// substitute expands every %(key)/%(!key) reference in value against
// parms. An unknown key aborts the whole substitution (ok == false), so
// the caller never dispatches an action built on a typo'd name.
func substitute(value string, parms attrdict.Dict) (string, bool) {
	var ok = true
	result := reSubst.ReplaceAllStringFunc(value, func(m string) string {
		if !ok {
			return ""
		}
		key := reSubst.FindStringSubmatch(m)[1]
		rendered, found := doSubs(key, parms)
		if !found {
			ok = false
			return ""
		}
		return rendered
	})
	if !ok {
		return "", false
	}
	return result, true
}

// doSubs renders one %(key) or %(!key) substitution. A "!" prefix omits
// the "key=" portion, leaving only the bare, unquoted value. found is false when
// key (after stripping "!") isn't present in parms at all.
func doSubs(key string, parms attrdict.Dict) (rendered string, found bool) {
	excludeName := false
	if strings.HasPrefix(key, "!") {
		excludeName = true
		key = key[1:]
	}
	if !parms.Has(key) {
		return "", false
	}
	val := parms.GetDefault(key, "")
	if excludeName {
		return val, true
	}
	return fmt.Sprintf("%s=%q", key, val), true
}

// CustomCode is the programmatic escape hatch a caller can implement to
// react to every event alongside config-driven triggers, mirroring the
// original client's dynamically reloaded ttcom_triggers module.
type CustomCode interface {
	Apply(s *session.Server, line parmline.Line, runCommand func(string))
}

// Triggers holds every configured trigger for one or more servers plus an
// optional CustomCode hook, and applies them against event lines either
// synchronously or via a background queue.
type Triggers struct {
	RunCommand func(string)
	Custom     CustomCode

	mu       sync.Mutex
	triggers map[string]*Trigger
	order    []string

	queueMu   sync.Mutex
	queue     []queuedApply
	queueOnce sync.Once
}

type queuedApply struct {
	server *session.Server
	line   parmline.Line
}

// NewTriggers returns an empty Triggers set. runCommand is invoked for
// actions that aren't a direct send/sendwithwait/say, as if the action
// text had been typed by a user.
func NewTriggers(runCommand func(string)) *Triggers {
	return &Triggers{
		RunCommand: runCommand,
		triggers:   map[string]*Trigger{},
	}
}

// Get returns (creating if necessary) the named trigger.
func (ts *Triggers) Get(name string) *Trigger {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.triggers[name]
	if !ok {
		t = newTrigger(name)
		ts.triggers[name] = t
		ts.order = append(ts.order, name)
	}
	return t
}

// AddMatch adds a match to the named trigger, creating it if needed.
func (ts *Triggers) AddMatch(triggerName string, spec parmline.Line, matchName string) {
	ts.Get(triggerName).AddMatch(spec, matchName)
}

// AddAction adds an action to the named trigger, creating it if needed.
func (ts *Triggers) AddAction(triggerName string, value string, actionName string) {
	ts.Get(triggerName).AddAction(value, actionName)
}

// Apply runs every trigger against line in insertion order, then the
// CustomCode hook if one is set. All matching triggers fire, not just
// the first.
func (ts *Triggers) Apply(s *session.Server, line parmline.Line) {
	ts.mu.Lock()
	names := append([]string(nil), ts.order...)
	ts.mu.Unlock()

	for _, name := range names {
		ts.mu.Lock()
		t := ts.triggers[name]
		ts.mu.Unlock()
		t.Apply(s, line, ts.RunCommand)
	}
	if ts.Custom != nil {
		ts.Custom.Apply(s, line, ts.RunCommand)
	}
}

// Queue defers an Apply call to a background worker goroutine, started
// lazily on first use, so a busy event handler isn't blocked by
// potentially slow trigger actions.
func (ts *Triggers) Queue(s *session.Server, line parmline.Line) {
	ts.queueMu.Lock()
	ts.queue = append(ts.queue, queuedApply{server: s, line: line})
	ts.queueMu.Unlock()
	ts.queueOnce.Do(func() { go ts.queueWatch() })
}

func (ts *Triggers) queueWatch() {
	for {
		ts.queueMu.Lock()
		if len(ts.queue) == 0 {
			ts.queueMu.Unlock()
			time.Sleep(500 * time.Millisecond)
			continue
		}
		next := ts.queue[0]
		ts.queue = ts.queue[1:]
		ts.queueMu.Unlock()
		ts.Apply(next.server, next.line)
	}
}
