// Package ttnet implements the low-level TT4/TT5 connection: dialing,
// the welcome handshake, a background watcher that eats ping replies,
// and a background pinger that keeps the connection alive.
package ttnet

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"git.sr.ht/~dlee/ttcom/internal/parmline"
)

// ErrNotWelcome is returned when the first line off a freshly dialed
// connection is not a welcome/teamtalk frame.
var ErrNotWelcome = errors.New("ttnet: welcome line expected")

const (
	connectTimeout  = 10 * time.Second
	welcomeTimeout  = 20 * time.Second
	defaultTCPPort  = 10333
	eventDisconnect = "_disconnected_"
)

// Dialer configures how connections are established: an optional SOCKS5
// upstream proxy (for multi-server clients run behind a single outbound
// proxy) and the initial connect timeout.
type Dialer struct {
	// ProxyAddr, if non-empty, routes the TCP dial through a SOCKS5 proxy
	// at this address instead of dialing directly.
	ProxyAddr string
	// ConnectTimeout bounds the TCP (and, for encrypted connections, TLS
	// handshake) setup. Zero means the package default of 10s.
	ConnectTimeout time.Duration
}

func (d *Dialer) connectTimeout() time.Duration {
	if d.ConnectTimeout > 0 {
		return d.ConnectTimeout
	}
	return connectTimeout
}

func (d *Dialer) dial(ctx context.Context, addr string) (net.Conn, error) {
	if d.ProxyAddr == "" {
		nd := net.Dialer{Timeout: d.connectTimeout()}
		return nd.DialContext(ctx, "tcp", addr)
	}
	p, err := proxy.SOCKS5("tcp", d.ProxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("ttnet: building proxy dialer: %w", err)
	}
	type ctxDialer interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	}
	if cd, ok := p.(ctxDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return p.Dial("tcp", addr)
}

// Conn is an established TT connection: a connected socket plus the
// watcher and pinger goroutines that keep it alive and feed parsed
// frames back to the caller.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader

	sendMu  sync.Mutex
	limiter *rate.Limiter

	lines chan parmline.Line
	done  chan struct{}

	running atomic.Value // bool
	closeOnce sync.Once

	// UserTimeout is the effective usertimeout reported by the welcome
	// line, used to pace the pinger. A serverupdate line may change it
	// later via SetUserTimeout.
	UserTimeout int32
}

// Connect dials host:port (optionally through Dialer.ProxyAddr), performs
// the welcome handshake, and starts the background watcher and pinger.
// The returned Conn's Lines channel receives the rewritten welcome frame
// as its first value.
func Connect(ctx context.Context, d *Dialer, host string, port int, encrypted bool) (*Conn, error) {
	if d == nil {
		d = &Dialer{}
	}
	if port == 0 {
		port = defaultTCPPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	nc, err := d.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("ttnet: dialing %s: %w", addr, err)
	}

	if encrypted {
		tc := tls.Client(nc, &tls.Config{
			// TT servers are routinely self-signed; verification is
			// intentionally disabled here, matching the reference
			// client's own SSLContext (CERT_NONE, check_hostname off).
			InsecureSkipVerify: true,
		})
		_ = nc.SetDeadline(time.Now().Add(d.connectTimeout()))
		if err := tc.Handshake(); err != nil {
			nc.Close()
			return nil, fmt.Errorf("ttnet: TLS handshake with %s: %w", addr, err)
		}
		_ = nc.SetDeadline(time.Time{})
		nc = tc
	}

	c := &Conn{
		nc:      nc,
		r:       bufio.NewReader(nc),
		limiter: rate.NewLimiter(2, 8),
		lines:   make(chan parmline.Line, 128),
		done:    make(chan struct{}),
	}
	c.running.Store(true)

	welcome, err := c.readWelcome()
	if err != nil {
		nc.Close()
		return nil, err
	}

	c.lines <- welcome
	if v, ok := welcome.Parms().Get("usertimeout"); ok {
		n, _ := strconv.Atoi(v)
		atomic.StoreInt32(&c.UserTimeout, int32(n))
	}

	go c.watch()
	go c.pingLoop()

	return c, nil
}

func (c *Conn) readWelcome() (parmline.Line, error) {
	_ = c.nc.SetReadDeadline(time.Now().Add(welcomeTimeout))
	defer c.nc.SetReadDeadline(time.Time{})

	raw, err := c.r.ReadString('\n')
	if err != nil {
		return parmline.Line{}, fmt.Errorf("ttnet: reading welcome line: %w", err)
	}
	if strings.HasPrefix(raw, "teamtalk ") {
		raw = "welcome " + raw[len("teamtalk "):]
	}
	l, err := parmline.Parse(raw)
	if err != nil {
		return parmline.Line{}, fmt.Errorf("ttnet: parsing welcome line: %w", err)
	}
	if l.Event != "welcome" {
		return parmline.Line{}, fmt.Errorf("%w, got %q instead", ErrNotWelcome, l.Event)
	}
	return l, nil
}

// Lines returns the channel of inbound frames. It is closed after the
// final _disconnected_ sentinel frame is delivered.
func (c *Conn) Lines() <-chan parmline.Line {
	return c.lines
}

// Running reports whether the connection is still believed open.
func (c *Conn) Running() bool {
	v, _ := c.running.Load().(bool)
	return v
}

// PeerAddr returns the dialed remote address split into host and port, as
// needed for the synthetic _connected_ event's ipaddr/tcpport parameters.
// It returns a zero port if the remote address can't be split (shouldn't
// happen for a live TCP/TLS connection).
func (c *Conn) PeerAddr() (ip string, port int) {
	addr := c.nc.RemoteAddr().String()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	p, _ := strconv.Atoi(portStr)
	return host, p
}

// Close tears down the connection. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.running.Store(false)
		close(c.done)
		err = c.nc.Close()
	})
	return err
}

// SetUserTimeout updates the pinger's pacing, e.g. in response to a
// serverupdate frame that changes usertimeout.
func (c *Conn) SetUserTimeout(seconds int) {
	atomic.StoreInt32(&c.UserTimeout, int32(seconds))
}

// Send writes a command line to the server, appending the CRLF
// terminator. Sends are shaped by a per-connection token-bucket limiter
// so a runaway trigger action or command flood cannot hammer the server.
func (c *Conn) Send(ctx context.Context, line string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ttnet: send throttled: %w", err)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.nc.Write([]byte(strings.TrimRight(line, "\r\n") + "\r\n"))
	if err != nil {
		c.Close()
		return fmt.Errorf("ttnet: send: %w", err)
	}
	return nil
}

// watch reads inbound frames until EOF or error, eating bare "pong"
// lines that are not part of a correlated begin/end block (those are
// replies to our own pings, not to a user command), and rewriting a
// leading "teamtalk " keyword to "welcome " for servers that repeat it.
// Exactly one _disconnected_ sentinel frame is emitted when the loop
// ends, however it ends.
func (c *Conn) watch() {
	var curID string
	defer func() {
		c.running.Store(false)
		c.lines <- parmline.Line{Event: eventDisconnect}
		close(c.lines)
	}()

	for {
		raw, err := c.r.ReadString('\n')
		if err != nil {
			return
		}
		if strings.HasPrefix(raw, "teamtalk ") {
			raw = "welcome " + raw[len("teamtalk "):]
		}
		select {
		case <-c.done:
			return
		default:
		}

		trimmedLower := strings.ToLower(strings.TrimRight(raw, "\r\n"))
		switch {
		case strings.HasPrefix(trimmedLower, "begin id="):
			curID = strings.TrimPrefix(trimmedLower, "begin id=")
		case strings.HasPrefix(trimmedLower, "end id="):
			curID = ""
		case curID == "" && trimmedLower == "pong":
			continue
		}

		l, err := parmline.Parse(raw)
		if err != nil {
			continue
		}
		c.lines <- l
	}
}

// pingLoop sends a bare "ping" line on the interval dictated by
// UserTimeout: 0.3s below 1s, 0.5s below 1.5s, otherwise 3/4 of
// UserTimeout. It stops once the connection is no longer running.
func (c *Conn) pingLoop() {
	for c.Running() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.Send(ctx, "ping")
		cancel()
		if err != nil {
			return
		}

		sec := float64(atomic.LoadInt32(&c.UserTimeout))
		var wait time.Duration
		switch {
		case sec < 1:
			wait = 300 * time.Millisecond
		case sec < 1.5:
			wait = 500 * time.Millisecond
		default:
			wait = time.Duration(sec*0.75*1000) * time.Millisecond
		}

		select {
		case <-time.After(wait):
		case <-c.done:
			return
		}
	}
}
