// Package session implements a single TT4/TT5 server connection: the
// login state machine, the in-memory channel/user/file model and its
// diffing updater, the request correlator, and event dispatch.
package session

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
	"git.sr.ht/~dlee/ttcom/internal/parmline"
	"git.sr.ht/~dlee/ttcom/internal/sideeffect"
	"git.sr.ht/~dlee/ttcom/internal/ttnet"
)

// EventHook is called twice for every dispatched event: once before and
// once after the event's handler runs. The registry's event log and the
// trigger engine both attach through this interface.
type EventHook interface {
	Hook(s *Server, line parmline.Line, afterDispatch bool)
}

// EventHookFunc adapts a plain function to EventHook.
type EventHookFunc func(s *Server, line parmline.Line, afterDispatch bool)

func (f EventHookFunc) Hook(s *Server, line parmline.Line, afterDispatch bool) { f(s, line, afterDispatch) }

// OutputFunc receives human-readable activity lines for a server, e.g. to
// print to a console or feed to a command loop. Formatting and display
// are outside this module's scope; OutputFunc is the seam a caller wires
// to whatever surface it has.
type OutputFunc func(shortname, line string, fromEvent bool)

// Dispatcher runs a command line typed by a user or produced by a
// trigger action that isn't a direct send/sendwithwait/say. Argument
// parsing and command tables live outside this module; Dispatcher is
// the seam the trigger engine calls into instead of owning a command
// loop itself.
type Dispatcher interface {
	RunCommand(line string)
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(line string)

func (f DispatcherFunc) RunCommand(line string) { f(line) }

var reEventName = regexp.MustCompile(`^[a-zA-Z_]+$`)

// Server is one configured TT server connection and its in-memory model.
type Server struct {
	Shortname  string
	Host       string
	TCPPort    int
	Encrypted  bool
	LoginParms attrdict.Dict
	// AutoLogin: 0 = never auto-reconnect, 1 = auto-reconnect unless a
	// manual logout/kick suppressed it, 2 = always auto-reconnect even
	// after a kick.
	AutoLogin int
	Silent    bool
	Hidden    bool
	SoundsDir string

	Logger      Logger
	Output      OutputFunc
	Sound       sideeffect.SoundPlayer
	Hooks       []EventHook
	PlaySounds  bool

	mu       sync.Mutex
	state    State
	Info     attrdict.Dict
	Channels map[string]attrdict.Dict
	Users    map[string]attrdict.Dict
	Files    map[string]attrdict.Dict
	Me       attrdict.Dict
	LastError string

	manualCM bool
	conn     *ttnet.Conn
	dialer   *ttnet.Dialer

	curID            int
	waitID           int
	maxID            int
	collecting       int
	outputCollection []parmline.Line

	evLoggedIn    *event
	evLoggedOut   *event
	evIdblockDone *event
}

const clientName = "TTCom"
const clientVersion = "1.0"

// New builds a Server ready to Connect. loginParms is copied; chanid,
// channel, and chanpassword are login-time join parameters handled
// separately by the post-login join step, not forced defaults here.
func New(shortname, host string, tcpport int, loginParms attrdict.Dict) *Server {
	lp := loginParms.Copy()
	lp.Set("clientname", clientName)
	lp.Set("version", clientVersion)
	if !lp.Has("udpport") {
		lp.Set("udpport", strconv.Itoa(tcpport))
	}
	// TT4.3 clients report "User not found" on login with no nickname=.
	if !lp.Has("nickname") {
		lp.Set("nickname", "")
	}
	s := &Server{
		Shortname:  shortname,
		Host:       host,
		TCPPort:    tcpport,
		LoginParms: lp,
		maxID:      127,
		Logger:     DiscardLogger{},
		Sound:      sideeffect.Silent{},
		dialer:     &ttnet.Dialer{},
	}
	s.clear()
	return s
}

func (s *Server) clear() {
	s.conn = nil
	s.waitID = 0
	s.curID = 0
	s.evLoggedIn = newEvent()
	s.evLoggedOut = newEvent()
	s.evIdblockDone = newEvent()
	s.state = Disconnected
	s.Info = attrdict.New()
	s.Channels = map[string]attrdict.Dict{}
	s.Users = map[string]attrdict.Dict{}
	s.Files = map[string]attrdict.Dict{}
	s.Me = nil
}

// State returns the current connection state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Server) is5() bool {
	ver, _ := s.Info.Get("version")
	return strings.HasPrefix(ver, "5")
}

func (s *Server) play(sound string) {
	if s.PlaySounds && s.Sound != nil {
		s.Sound.Play(sound)
	}
}

func (s *Server) output(line string, fromEvent bool) {
	if s.Output != nil {
		s.Output(s.Shortname, line, fromEvent)
	}
}

func (s *Server) outputFromEvent(line string) {
	s.Logger.Logf("ttcom", "%s: %s", s.Shortname, line)
	s.Logger.Logf(s.Shortname, "%s", line)
	if s.Silent {
		return
	}
	s.output(line, true)
}

func (s *Server) errorFromEvent(line string) {
	s.output(line, true)
}

// ErrorFromEvent prints line even when the server is configured silent,
// the seam triggers use to report their own matches and failures.
func (s *Server) ErrorFromEvent(line string) {
	s.errorFromEvent(line)
}

// OutputFromEvent prints line, suppressed when the server is silent, and
// logs it. Exported for callers outside this package, such as the trigger
// engine's custom-code hook.
func (s *Server) OutputFromEvent(line string) {
	s.outputFromEvent(line)
}

// Connect dials the server and processes the welcome handshake. Callers
// normally use Login instead, which connects as part of logging in.
func (s *Server) Connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	s.setState(Connecting)
	conn, err := ttnet.Connect(ctx, s.dialer, s.Host, s.TCPPort, s.Encrypted)
	if err != nil {
		s.setState(Disconnected)
		return err
	}
	s.conn = conn
	s.setState(Connected)
	ip, port := conn.PeerAddr()
	connected := parmline.New("_connected_", parmline.String{K: "ipaddr", Raw: ip}, parmline.Int{K: "tcpport", V: port})
	connected.Raw = connected.String()
	s.ProcessLine(connected)
	go s.watchLoop()
	return nil
}

func (s *Server) watchLoop() {
	for l := range s.conn.Lines() {
		s.ProcessLine(l)
	}
}

// Send writes a raw command line (without a correlation id).
func (s *Server) Send(ctx context.Context, line string) error {
	if s.conn == nil {
		return fmt.Errorf("session: %s: not connected", s.Shortname)
	}
	return s.conn.Send(ctx, line)
}

// Login connects if necessary and sends the login command, waiting up to
// 10s for the server to confirm or reject it. manualCM is cleared, which
// is how a user-initiated login re-enables auto-reconnect after a kick
// suppressed it.
func (s *Server) Login(ctx context.Context) error {
	s.manualCM = false
	if err := s.Connect(ctx); err != nil {
		s.errorFromEvent("Connect failed, login aborted")
		return err
	}
	if s.evLoggedIn.IsSet() {
		return nil
	}
	s.setState(LoggingIn)

	lp := s.LoginParms.Copy()
	lp.Del("chanid")
	lp.Del("channel")
	lp.Del("chanpassword")

	if err := s.Send(ctx, parmline.New("login", parmsToParams(lp)...).String()); err != nil {
		s.errorFromEvent("Connection failed during login attempt")
		s.Disconnect()
		return err
	}
	if !s.evLoggedIn.Wait(10 * time.Second) {
		s.errorFromEvent("Login timed out")
		return fmt.Errorf("session: %s: login timed out", s.Shortname)
	}
	if s.State() == LoginError {
		s.evLoggedIn.Clear()
		s.setState(Connected)
		return nil
	}
	s.setState(LoggedIn)
	return nil
}

// parmsToParams renders a plain string dict as an ordered (sorted, for
// determinism) list of typed String parameters for outgoing commands.
func parmsToParams(d attrdict.Dict) []parmline.Param {
	keys := d.Keys()
	sort.Strings(keys)
	out := make([]parmline.Param, 0, len(keys))
	for _, k := range keys {
		out = append(out, parmline.String{K: k, Raw: d[k]})
	}
	return out
}

// Logout logs out of the server if logged in, waiting up to 10s for
// confirmation.
func (s *Server) Logout(ctx context.Context) error {
	if !s.evLoggedIn.IsSet() {
		return nil
	}
	s.manualCM = true
	s.evLoggedOut.Clear()
	if _, err := s.SendWithWait(ctx, "logout", false); err != nil {
		return err
	}
	if !s.evLoggedOut.Wait(10 * time.Second) {
		s.errorFromEvent("Timeout on logging out")
		return fmt.Errorf("session: %s: logout timed out", s.Shortname)
	}
	if s.evLoggedIn.IsSet() {
		s.errorFromEvent("Timeout on logging out (loggedIn flag still set)")
		return fmt.Errorf("session: %s: loggedIn flag stuck set after logout", s.Shortname)
	}
	return nil
}

// Disconnect tears down the connection and resets in-memory state.
func (s *Server) Disconnect() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.clear()
}

// Terminate permanently disables auto-reconnect and disconnects.
func (s *Server) Terminate() {
	s.AutoLogin = 0
	s.Disconnect()
}

func (s *Server) handleRecycling(force bool) {
	if force || (s.AutoLogin != 0 && !s.manualCM) {
		s.outputFromEvent("Reconnecting")
		time.AfterFunc(5*time.Second, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.Login(ctx)
		})
	}
}

// ProcessLine dispatches one inbound (or internally generated) frame: it
// first gives the correlator a chance to consume it, then calls the
// matching event_<name> handler, invoking registered hooks before and
// after (except around the begin/end frames belonging to a correlated
// wait, which are eaten silently and never hooked).
func (s *Server) ProcessLine(line parmline.Line) {
	if s.handleCollection(line) {
		return
	}

	isOurBlockMarker := s.waitID > 0 &&
		(line.Event == "begin" || line.Event == "end") &&
		line.Parms().GetDefault("id", "") == strconv.Itoa(s.waitID)

	if !isOurBlockMarker {
		s.hookEvents(line, false)
	}
	defer func() {
		if !isOurBlockMarker {
			s.hookEvents(line, true)
		}
	}()

	if !reEventName.MatchString(line.Event) {
		s.errorFromEvent("Invalid line:  " + line.Raw)
		return
	}

	handler, ok := eventHandlers[line.Event]
	if !ok {
		s.errorFromEvent("Unrecognized line:  " + line.Raw)
		return
	}
	if !handler(s, line.Parms()) {
		s.outputFromEvent(strings.TrimRight(line.Raw, "\r\n"))
	}
}

func (s *Server) hookEvents(line parmline.Line, after bool) {
	for _, h := range s.Hooks {
		h.Hook(s, line, after)
	}
}

// event is a reusable substitute for Python's threading.Event: Set/Clear
// flip a latched boolean and Wait blocks until either it is set or the
// timeout elapses.
type event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

func (e *event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

func (e *event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

func (e *event) Wait(timeout time.Duration) bool {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return e.IsSet()
	}
}
