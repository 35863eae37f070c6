package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
	"git.sr.ht/~dlee/ttcom/internal/config"
)

func noopOutput(string, string, bool) {}

func TestReconcileAddsNewServers(t *testing.T) {
	r := New(nil, func(string) {}, noopOutput)
	added := r.Reconcile([]config.ServerConfig{
		{Shortname: "home", Host: "h1", TCPPort: 10333, LoginParms: attrdict.New()},
	})
	require.Len(t, added, 1)
	srv, ok := r.Get("home")
	require.True(t, ok)
	assert.Equal(t, "h1", srv.Host)
}

func TestReconcileRemovesDroppedServers(t *testing.T) {
	r := New(nil, func(string) {}, noopOutput)
	r.Reconcile([]config.ServerConfig{
		{Shortname: "home", Host: "h1", TCPPort: 10333, LoginParms: attrdict.New()},
	})
	r.Reconcile(nil)
	_, ok := r.Get("home")
	assert.False(t, ok)
}

func TestReconcileKeepsServerWhenUnchanged(t *testing.T) {
	r := New(nil, func(string) {}, noopOutput)
	r.Reconcile([]config.ServerConfig{
		{Shortname: "home", Host: "h1", TCPPort: 10333, LoginParms: attrdict.New()},
	})
	first, _ := r.Get("home")

	added := r.Reconcile([]config.ServerConfig{
		{Shortname: "home", Host: "h1", TCPPort: 10333, LoginParms: attrdict.New(), Silent: true},
	})
	assert.Empty(t, added)
	second, _ := r.Get("home")
	assert.Same(t, first, second)
	assert.True(t, second.Silent)
}

func TestReconcileReplacesServerOnHostChange(t *testing.T) {
	r := New(nil, func(string) {}, noopOutput)
	r.Reconcile([]config.ServerConfig{
		{Shortname: "home", Host: "h1", TCPPort: 10333, LoginParms: attrdict.New()},
	})
	first, _ := r.Get("home")

	added := r.Reconcile([]config.ServerConfig{
		{Shortname: "home", Host: "h2", TCPPort: 10333, LoginParms: attrdict.New()},
	})
	require.Len(t, added, 1)
	second, _ := r.Get("home")
	assert.NotSame(t, first, second)
	assert.Equal(t, "h2", second.Host)
}

func TestShortnamesReflectsReconcileOrder(t *testing.T) {
	r := New(nil, func(string) {}, noopOutput)
	r.Reconcile([]config.ServerConfig{
		{Shortname: "a", Host: "ha", TCPPort: 1, LoginParms: attrdict.New()},
		{Shortname: "b", Host: "hb", TCPPort: 1, LoginParms: attrdict.New()},
	})
	assert.Equal(t, []string{"a", "b"}, r.Shortnames())
}
