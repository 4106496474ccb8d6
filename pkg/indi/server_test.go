package indi

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"astrobridge/pkg/policy"

	"github.com/stretchr/testify/require"
)

// fakeServer accepts client connections and records the messages it
// receives.
type fakeServer struct {
	ln       net.Listener
	conns    chan net.Conn
	received chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		ln:       ln,
		conns:    make(chan net.Conn, 4),
		received: make(chan string, 256),
	}
	go s.acceptLoop()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeServer) addr() string {
	return s.ln.Addr().String()
}

func (s *fakeServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.conns <- conn
		go s.readLoop(conn)
	}
}

func (s *fakeServer) readLoop(conn net.Conn) {
	f := newFramer()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, _ := f.Feed(buf[:n])
			for _, m := range msgs {
				select {
				case s.received <- string(m):
				default:
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *fakeServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("no client connection")
		return nil
	}
}

// expect returns the next received message, which must start with prefix.
func (s *fakeServer) expect(t *testing.T, prefix string) string {
	t.Helper()
	select {
	case m := <-s.received:
		require.True(t, strings.HasPrefix(m, prefix), "got %s, want prefix %s", m, prefix)
		return m
	case <-time.After(3 * time.Second):
		t.Fatalf("nothing received, want %s", prefix)
		return ""
	}
}

func (s *fakeServer) expectNothing(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m := <-s.received:
		t.Fatalf("unexpected traffic: %s", m)
	case <-time.After(d):
	}
}

func send(t *testing.T, conn net.Conn, msg string) {
	t.Helper()
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
}

func testPolicy() policy.Policy {
	p := policy.Default()
	p.Connection = 2 * time.Second
	p.MessageCompletion = 200 * time.Millisecond
	p.BinaryTransfer = 500 * time.Millisecond
	p.PropertyRead = 200 * time.Millisecond
	p.PropertyWrite = time.Second
	p.PollInterval = 10 * time.Millisecond
	p.Keepalive = time.Hour
	p.ReconnectBase = 10 * time.Millisecond
	p.ReconnectMax = 40 * time.Millisecond
	p.MaxReconnectAttempts = 3
	return p
}

// connect returns a connected client and the server side of its
// connection.
func connect(t *testing.T, srv *fakeServer, opts ...Option) (*Client, net.Conn) {
	t.Helper()
	opts = append([]Option{WithSettleWindow(50 * time.Millisecond)}, opts...)
	c := NewClient(srv.addr(), testPolicy(), opts...)
	t.Cleanup(func() { _ = c.Close() })

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()

	conn := srv.accept(t)
	srv.expect(t, "<getProperties")
	require.NoError(t, <-errCh)
	return c, conn
}

const focuserDefs = `<defNumberVector device="Focuser Simulator" name="ABS_FOCUS_POSITION" label="Absolute Position" group="Main Control" state="Ok" perm="rw" timeout="60" timestamp="2024-03-01T21:00:00">
  <defNumber name="FOCUS_ABSOLUTE_POSITION" label="Steps" format="%.f" min="0" max="100000" step="1000">0</defNumber>
</defNumberVector>
<defNumberVector device="Focuser Simulator" name="FOCUS_TEMPERATURE" label="Temperature" group="Main Control" state="Idle" perm="ro">
  <defNumber name="TEMPERATURE" format="%.2f" min="-50" max="70" step="0">12.5</defNumber>
</defNumberVector>
<defSwitchVector device="Focuser Simulator" name="FOCUS_ABORT_MOTION" label="Abort" group="Main Control" state="Idle" perm="rw" rule="AtMostOne">
  <defSwitch name="ABORT">Off</defSwitch>
</defSwitchVector>
`

func defineFocuser(t *testing.T, c *Client, conn net.Conn) {
	t.Helper()
	send(t, conn, focuserDefs)
	require.Eventually(t, func() bool { return c.Registry().Len() == 3 }, 2*time.Second, 5*time.Millisecond)
}
