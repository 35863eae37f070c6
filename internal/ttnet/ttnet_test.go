package ttnet_test

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~dlee/ttcom/internal/ttnet"
)

// fakeServer starts a listener that sends the given welcome line (which
// may use the "teamtalk " keyword form) to whatever connects, then answers
// each "ping" it receives with a bare "pong".
func fakeServer(t *testing.T, welcome string) (addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte(welcome + "\r\n"))

		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == "ping\r\n" {
				conn.Write([]byte("pong\r\n"))
			}
		}
	}()

	return ln.Addr().String()
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestConnectWelcomeRewriteAndFields(t *testing.T) {
	addr := fakeServer(t, `teamtalk servername="Test" version="5.4" protocol="5.4" usertimeout=5`)
	host, port := splitHostPort(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := ttnet.Connect(ctx, &ttnet.Dialer{}, host, port, false)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case l := <-conn.Lines():
		assert.Equal(t, "welcome", l.Event)
		v, ok := l.Get("usertimeout")
		require.True(t, ok)
		assert.Equal(t, "5", v.StringValue())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for welcome line")
	}

	assert.EqualValues(t, 5, conn.UserTimeout)

	ip, peerPort := conn.PeerAddr()
	assert.Equal(t, host, ip)
	assert.Equal(t, port, peerPort)
}

func TestDisconnectSentinelEmittedOnce(t *testing.T) {
	addr := fakeServer(t, `welcome servername="Test" usertimeout=0`)
	host, port := splitHostPort(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := ttnet.Connect(ctx, &ttnet.Dialer{}, host, port, false)
	require.NoError(t, err)

	<-conn.Lines() // welcome

	conn.Close()

	seen := 0
	for l := range conn.Lines() {
		if l.Event == "_disconnected_" {
			seen++
		}
	}
	assert.Equal(t, 1, seen, "_disconnected_ must be emitted exactly once")
}
