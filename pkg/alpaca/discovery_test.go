package alpaca

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	r, err := NewResponder("127.0.0.1:0", 11111, log.StandardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	d := NewDiscoverer("127.0.0.1", r.Addr().Port, log.StandardLogger())
	endpoints, err := d.Discover(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:11111"}, endpoints)
}

func TestDiscoverIgnoresGarbage(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 64)
		_, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		_, _ = conn.WriteToUDP([]byte("hello"), from)
		_, _ = conn.WriteToUDP([]byte(`{"AlpacaPort": 4567}`), from)
		_, _ = conn.WriteToUDP([]byte(`{"AlpacaPort": 4567}`), from)
	}()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	d := NewDiscoverer("127.0.0.1", port, log.StandardLogger())
	endpoints, err := d.Discover(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{net.JoinHostPort("127.0.0.1", strconv.Itoa(4567))}, endpoints)
}

func TestDiscoverNoServers(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	d := NewDiscoverer("127.0.0.1", conn.LocalAddr().(*net.UDPAddr).Port, log.StandardLogger())
	start := time.Now()
	endpoints, err := d.Discover(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, endpoints)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestDiscoverCancelled(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	d := NewDiscoverer("127.0.0.1", conn.LocalAddr().(*net.UDPAddr).Port, log.StandardLogger())
	_, err = d.Discover(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
