package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
	"git.sr.ht/~dlee/ttcom/internal/parmline"
)

func TestEventWelcomeSeedsMeAndInfo(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	s.Output = func(string, string, bool) {}

	parms := attrdict.New()
	parms.Set("userid", "42")
	parms.Set("version", "5.4.2.1000")
	s.eventWelcome(parms)

	require.NotNil(t, s.Me)
	assert.Equal(t, "42", s.Me.GetDefault("userid", ""))
	assert.Equal(t, "5.4.2.1000", s.Info.GetDefault("version", ""))
	_, ok := s.Users["42"]
	require.True(t, ok)
	assert.Equal(t, s.Me, s.Users["42"])
}

func TestEventOKTransitionsToLoggedInOnlyWhileLoggingIn(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	s.Output = func(string, string, bool) {}

	assert.False(t, s.eventOK(attrdict.New()))
	assert.Equal(t, Disconnected, s.State())

	s.setState(LoggingIn)
	assert.True(t, s.eventOK(attrdict.New()))
	assert.Equal(t, LoggedIn, s.State())
	assert.True(t, s.evLoggedIn.IsSet())
}

func TestEventAddUserMarksTemporaryOnFirstSight(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	s.Output = func(string, string, bool) {}
	s.setState(LoggedIn)

	parms := attrdict.New()
	parms.Set("userid", "7")
	parms.Set("channelid", "1")
	s.eventAddUser(parms)

	u, ok := s.Users["7"]
	require.True(t, ok)
	assert.Equal(t, "1", u.GetDefault("temporary", ""))
}

func TestEventRemoveUserDropsTemporaryEntry(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	s.Output = func(string, string, bool) {}
	s.setState(LoggedIn)

	add := attrdict.New()
	add.Set("userid", "7")
	add.Set("channelid", "1")
	s.eventAddUser(add)

	rm := attrdict.New()
	rm.Set("userid", "7")
	rm.Set("channelid", "1")
	s.eventRemoveUser(rm)

	_, ok := s.Users["7"]
	assert.False(t, ok)
}

func TestEventAddChannelCreatesEntry(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	s.Output = func(string, string, bool) {}
	s.setState(LoggedIn)

	parms := attrdict.New()
	parms.Set("channelid", "3")
	parms.Set("channel", "/lobby")
	s.eventAddChannel(parms)

	ch, ok := s.Channels["3"]
	require.True(t, ok)
	assert.Equal(t, "/lobby", ch.GetDefault("channel", ""))
}

func TestEventErrorSetsLastErrorBeforeLogin(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	s.Output = func(string, string, bool) {}

	parms := attrdict.New()
	parms.Set("number", "4")
	parms.Set("message", "Invalid username or password")
	s.eventError(parms)

	assert.Contains(t, s.LastError, "Invalid username or password")
}

func TestEventErrorDuringLoginUnblocksWait(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	s.Output = func(string, string, bool) {}
	s.setState(LoggingIn)

	parms := attrdict.New()
	parms.Set("number", "4")
	parms.Set("message", "bad creds")
	s.eventError(parms)

	assert.Equal(t, LoginError, s.State())
	assert.True(t, s.evLoggedIn.IsSet())
}

func TestProcessLineDispatchesUnrecognizedEventAsRawOutput(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	var captured []string
	s.Output = func(_, line string, _ bool) { captured = append(captured, line) }

	s.ProcessLine(parmline.Line{Event: "nonexistentevent", Raw: "nonexistentevent foo=1"})

	require.NotEmpty(t, captured)
	assert.Contains(t, captured[0], "Unrecognized line")
}

func TestProcessLineRejectsMalformedEventName(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	var captured []string
	s.Output = func(_, line string, _ bool) { captured = append(captured, line) }

	s.ProcessLine(parmline.Line{Event: "123bad", Raw: "123bad"})

	require.NotEmpty(t, captured)
	assert.Contains(t, captured[0], "Invalid line")
}

func TestProcessLineRunsHooksAroundDispatch(t *testing.T) {
	s := New("test", "h", 10333, attrdict.New())
	s.Output = func(string, string, bool) {}

	var seq []bool
	s.Hooks = append(s.Hooks, EventHookFunc(func(_ *Server, _ parmline.Line, after bool) {
		seq = append(seq, after)
	}))

	s.ProcessLine(parmline.Line{Event: "stats", Raw: "stats"})

	require.Len(t, seq, 2)
	assert.False(t, seq[0])
	assert.True(t, seq[1])
}
