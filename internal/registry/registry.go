// Package registry owns the live set of connected servers for a TTCom
// client: it reconciles the configured server list against what's
// currently running, wires each server's triggers and event log, and
// hands out a stable per-shortname lookup to command implementations.
package registry

import (
	"context"
	"fmt"
	"sync"

	"git.sr.ht/~dlee/ttcom/internal/config"
	"git.sr.ht/~dlee/ttcom/internal/parmline"
	"git.sr.ht/~dlee/ttcom/internal/session"
	"git.sr.ht/~dlee/ttcom/internal/trigger"
)

// entry bundles a running server with the pieces Reconcile needs to
// decide whether to keep, replace, or drop it.
type entry struct {
	server   *session.Server
	cfg      config.ServerConfig
	triggers *trigger.Triggers
}

// Registry holds every currently configured server connection.
type Registry struct {
	Log        *EventLog
	RunCommand func(string)
	Output     session.OutputFunc

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

// New returns an empty Registry. log may be nil to disable event
// logging; runCommand is used both as the trigger action fallback and
// (if triggers want it) for custom code.
func New(log *EventLog, runCommand func(string), output session.OutputFunc) *Registry {
	return &Registry{
		Log:        log,
		RunCommand: runCommand,
		Output:     output,
		entries:    map[string]*entry{},
	}
}

// Get returns the named server, if configured.
func (r *Registry) Get(shortname string) (*session.Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[shortname]
	if !ok {
		return nil, false
	}
	return e.server, true
}

// Shortnames returns every configured server's shortname, in the order
// they were added by the most recent Reconcile.
func (r *Registry) Shortnames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Servers returns every configured server, in Shortnames order.
func (r *Registry) Servers() []*session.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Server, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].server)
	}
	return out
}

// Reconcile brings the running server set in line with configs: servers
// no longer present are terminated and dropped, new servers are built
// and added (not yet connected — callers decide when to dial based on
// autologin), and servers whose connection parameters changed are
// terminated and rebuilt. A server present in both old and new config
// with unchanged host/port/encryption keeps its live connection and
// has its AutoLogin/Silent/Hidden/SoundsDir settings and its trigger set
// refreshed; a change to its login parameters alone is not applied to
// the kept server.
func (r *Registry) Reconcile(configs []config.ServerConfig) []*session.Server {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]config.ServerConfig, len(configs))
	for _, c := range configs {
		wanted[c.Shortname] = c
	}

	for name := range r.entries {
		if _, ok := wanted[name]; !ok {
			r.removeLocked(name)
		}
	}

	var added []*session.Server
	newOrder := make([]string, 0, len(configs))
	for _, c := range configs {
		newOrder = append(newOrder, c.Shortname)
		existing, ok := r.entries[c.Shortname]
		if !ok {
			e := r.buildLocked(c)
			added = append(added, e.server)
			continue
		}
		if connectionChanged(existing.cfg, c) {
			r.logGlobal(fmt.Sprintf("Changing connection information for %s", c.Shortname))
			existing.server.Terminate()
			e := r.buildLocked(c)
			added = append(added, e.server)
			continue
		}
		existing.cfg = c
		existing.server.AutoLogin = c.AutoLogin
		existing.server.Silent = c.Silent
		existing.server.Hidden = c.Hidden
		existing.server.SoundsDir = c.SoundsDir
		existing.triggers = buildTriggers(c, r.RunCommand)
		for _, h := range existing.server.Hooks {
			if rh, ok := h.(*registryHook); ok {
				rh.triggers = existing.triggers
			}
		}
	}
	r.order = newOrder
	return added
}

func connectionChanged(old, new_ config.ServerConfig) bool {
	return old.Host != new_.Host || old.TCPPort != new_.TCPPort || old.Encrypted != new_.Encrypted
}

func (r *Registry) buildLocked(c config.ServerConfig) *entry {
	srv := session.New(c.Shortname, c.Host, c.TCPPort, c.LoginParms)
	srv.Encrypted = c.Encrypted
	srv.AutoLogin = c.AutoLogin
	srv.Silent = c.Silent
	srv.Hidden = c.Hidden
	srv.SoundsDir = c.SoundsDir
	srv.Output = r.Output

	triggers := buildTriggers(c, r.RunCommand)
	e := &entry{server: srv, cfg: c, triggers: triggers}

	srv.Hooks = append(srv.Hooks, &registryHook{log: r.Log, shortname: c.Shortname, triggers: triggers})

	r.entries[c.Shortname] = e
	return e
}

func (r *Registry) removeLocked(shortname string) {
	e, ok := r.entries[shortname]
	if !ok {
		return
	}
	r.logGlobal("Deleting " + shortname)
	e.server.Terminate()
	delete(r.entries, shortname)
}

// Remove terminates and drops one server outside of a full Reconcile.
func (r *Registry) Remove(shortname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(shortname)
	kept := r.order[:0:0]
	for _, n := range r.order {
		if n != shortname {
			kept = append(kept, n)
		}
	}
	r.order = kept
}

func (r *Registry) logGlobal(event string) {
	if r.Log != nil {
		r.Log.WriteGlobal(event)
	}
}

// LoginAll connects and logs in every server configured with a nonzero
// AutoLogin, as the startup path does for a freshly read configuration.
func (r *Registry) LoginAll(ctx context.Context) {
	for _, srv := range r.Servers() {
		if srv.AutoLogin == 0 {
			continue
		}
		go srv.Login(ctx)
	}
}

func buildTriggers(c config.ServerConfig, runCommand func(string)) *trigger.Triggers {
	ts := trigger.NewTriggers(runCommand)
	for _, m := range c.Matches {
		spec, err := parmline.ParseRelaxed(m.Value)
		if err != nil {
			continue
		}
		ts.AddMatch(m.TriggerName, spec, m.SubName)
	}
	for _, a := range c.Actions {
		ts.AddAction(a.TriggerName, a.Value, a.SubName)
	}
	return ts
}

// registryHook writes each event's raw line to the event log before
// dispatch and applies that server's triggers after dispatch, skipping
// userbanned/useraccount frames since those are listing-command
// responses rather than standalone activity.
type registryHook struct {
	log       *EventLog
	shortname string
	triggers  *trigger.Triggers
}

func (h *registryHook) Hook(s *session.Server, line parmline.Line, afterDispatch bool) {
	if !afterDispatch {
		if h.log != nil {
			h.log.Write(h.shortname, line.Raw)
		}
		return
	}
	if line.Event == "userbanned" || line.Event == "useraccount" {
		return
	}
	h.triggers.Apply(s, line)
}
