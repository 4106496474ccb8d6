// Package indi implements a client for the INDI network property protocol:
// a property cache fed by one connection, serialized writes, keepalive
// probes and automatic reconnection with exponential backoff.
package indi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"astrobridge/internal/pool"
	"astrobridge/pkg/device"
	"astrobridge/pkg/policy"

	"github.com/cenkalti/backoff/v4"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultPort is the standard server port.
	DefaultPort = 7624

	defaultSettleWindow = time.Second
	readBufferSize      = 64 << 10
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger log.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.dial = dial }
}

// WithSettleWindow sets how long a silent server is given to start its
// initial snapshot before the connection is considered established anyway.
func WithSettleWindow(d time.Duration) Option {
	return func(c *Client) { c.settle = d }
}

// Client is a connection to one server. It owns the property registry and
// the connection health; both are safe for concurrent readers.
type Client struct {
	addr     string
	policy   policy.Policy
	logger   log.FieldLogger
	metrics  *Metrics
	dial     dialFunc
	settle   time.Duration
	registry *Registry

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	started atomic.Bool

	mu       sync.RWMutex
	health   Health
	session  *session
	terminal error

	writeMu sync.Mutex

	probing atomic.Bool
	lastRx  atomic.Int64

	blobSeq     atomic.Uint64
	blobWaiters *xsync.MapOf[uint64, *BlobWaiter]
}

// session is one TCP connection. It fails at most once.
type session struct {
	conn      net.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
	failOnce  sync.Once
	err       error
	activity  chan struct{}

	// blobDevices is only accessed by the reader.
	blobDevices map[string]bool
}

func (s *session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *session) fail(err error) {
	s.failOnce.Do(func() {
		s.err = err
		s.cancel()
		_ = s.conn.Close()
	})
}

// NewClient returns a client for addr ("host" or "host:port"). It does not
// connect.
func NewClient(addr string, p policy.Policy, opts ...Option) *Client {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}

	var d net.Dialer
	c := &Client{
		addr:        addr,
		policy:      p,
		logger:      log.WithField("server", addr),
		dial:        d.DialContext,
		settle:      defaultSettleWindow,
		registry:    NewRegistry(),
		blobWaiters: xsync.NewMapOf[uint64, *BlobWaiter](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// Registry returns the property cache.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Health returns a snapshot of the connection state.
func (c *Client) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Err returns the terminal error once reconnection gave up or the client
// was closed.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terminal
}

// Connect dials the server, requests all properties and returns once the
// initial snapshot started or the settle window elapsed. Later failures are
// recovered in the background.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	c.updateHealth(func(h *Health) {
		h.Phase = PhaseConnecting
		h.Failures = 0
	})
	c.mu.Lock()
	c.terminal = nil
	c.mu.Unlock()

	s, err := c.establish(ctx)
	if err != nil {
		c.started.Store(false)
		err = fmt.Errorf("%w: %s: %v", device.ErrConnection, c.addr, err)
		c.updateHealth(func(h *Health) {
			h.Phase = PhaseDisconnected
			h.LastError = err
		})
		return err
	}

	c.wg.Add(1)
	go c.supervise(s)
	return nil
}

// Close disconnects and stops reconnecting. Pending waiters fail with
// ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.cancel()
	if s := c.current(); s != nil {
		s.fail(ErrClosed)
	}
	c.wg.Wait()

	c.mu.Lock()
	c.terminal = ErrClosed
	c.mu.Unlock()
	c.updateHealth(func(h *Health) { h.Phase = PhaseDisconnected })
	c.failBlobWaiters(ErrClosed)

	c.logger.Infof("Disconnected from %s", c.addr)
	return nil
}

func (c *Client) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) updateHealth(fn func(h *Health)) {
	c.mu.Lock()
	prev := c.health.Phase
	fn(&c.health)
	h := c.health
	c.mu.Unlock()

	c.metrics.setPhase(h.Phase)
	if h.Phase != prev {
		c.logger.Infof("Connection to %s is %s", c.addr, h)
	}
}

func (c *Client) establish(ctx context.Context) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.policy.Connection)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}

	sctx, scancel := context.WithCancel(c.ctx)
	s := &session{
		conn:        conn,
		ctx:         sctx,
		cancel:      scancel,
		ready:       make(chan struct{}),
		activity:    make(chan struct{}, 1),
		blobDevices: make(map[string]bool),
	}

	c.wg.Add(2)
	go c.read(s)
	go c.keepalive(s)

	if err := c.write(s, encodeGetProperties("", "")); err != nil {
		return nil, err
	}

	settle := time.AfterFunc(c.settle, s.markReady)
	defer settle.Stop()

	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return nil, s.err
	case <-ctx.Done():
		s.fail(ctx.Err())
		return nil, ctx.Err()
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.updateHealth(func(h *Health) {
		h.Phase = PhaseConnected
		h.Failures = 0
		h.Delay = 0
	})
	return s, nil
}

// supervise replaces failed sessions until reconnection gives up or the
// client is closed.
func (c *Client) supervise(s *session) {
	defer c.wg.Done()

	for {
		<-s.ctx.Done()
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warnf("Connection to %s lost: %v", c.addr, s.err)

		next, err := c.reconnect(s.err)
		if err != nil {
			if c.ctx.Err() == nil {
				c.giveUp(err)
			}
			return
		}
		s = next
	}
}

func (c *Client) reconnect(cause error) (*session, error) {
	b := backoff.WithContext(newReconnectBackOff(c.policy), c.ctx)
	lastErr := cause

	for n := 1; ; n++ {
		c.updateHealth(func(h *Health) {
			h.Phase = PhaseDegraded
			h.Failures = n
			h.LastError = lastErr
		})

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			if err := c.ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s unreachable after %d attempts: %v", device.ErrConnection, c.addr, n-1, lastErr)
		}

		c.updateHealth(func(h *Health) {
			h.Phase = PhaseReconnecting
			h.Delay = delay
		})
		c.metrics.incReconnects()

		if err := pool.Sleep(c.ctx, delay); err != nil {
			return nil, err
		}

		c.updateHealth(func(h *Health) { h.Phase = PhaseConnecting })
		s, err := c.establish(c.ctx)
		if err == nil {
			c.logger.Infof("Reconnected to %s after %d attempts", c.addr, n)
			return s, nil
		}
		c.logger.Warnf("Reconnection attempt %d to %s failed: %v", n, c.addr, err)
		lastErr = err
	}
}

func (c *Client) giveUp(err error) {
	c.mu.Lock()
	c.terminal = err
	c.mu.Unlock()
	c.updateHealth(func(h *Health) {
		h.Phase = PhaseDisconnected
		h.LastError = err
	})
	c.failBlobWaiters(err)
	c.started.Store(false)
	c.logger.Errorf("Giving up on %s: %v", c.addr, err)
}

// read feeds the framer until the session fails. A partially received
// message must complete within the message completion timeout, or the
// binary transfer timeout for BLOBs.
func (c *Client) read(s *session) {
	defer c.wg.Done()

	f := newFramer()
	buf := make([]byte, readBufferSize)
	var started time.Time

	for {
		var deadline time.Time
		if f.Pending() {
			deadline = started.Add(c.completionTimeout(f.Root()))
		}
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			s.fail(fmt.Errorf("%w: %v", device.ErrConnection, err))
			return
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			c.lastRx.Store(time.Now().UnixNano())
			select {
			case s.activity <- struct{}{}:
			default:
			}

			wasPending := f.Pending()
			msgs, ferr := f.Feed(buf[:n])
			for _, raw := range msgs {
				c.handle(s, raw)
			}
			if ferr != nil {
				s.fail(ferr)
				return
			}
			if f.Pending() && (!wasPending || len(msgs) > 0) {
				started = time.Now()
			}
		}

		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && f.Pending() {
				root := f.Root()
				f.Reset()
				err = fmt.Errorf("%w: incomplete %s discarded after %v", device.ErrProtocol, root, c.completionTimeout(root))
				c.logger.Error(err)
			} else if s.ctx.Err() == nil {
				err = fmt.Errorf("%w: read from %s: %v", device.ErrConnection, c.addr, err)
			}
			s.fail(err)
			return
		}
	}
}

func (c *Client) completionTimeout(root string) time.Duration {
	if root == "setBLOBVector" {
		return c.policy.BinaryTransfer
	}
	return c.policy.MessageCompletion
}

func (c *Client) handle(s *session, raw []byte) {
	c.metrics.incMessagesIn()

	msg, err := decode(raw)
	if err != nil {
		c.logger.Warnf("Discarding malformed %s message: %v", msg.tag, err)
		if p := msg.property; msg.tag == "setBLOBVector" && p.Device != "" && p.Name != "" {
			c.metrics.incBlobRejects()
			c.deliverBlob(p.Key(), blobResult{err: fmt.Errorf("%w: %v", ErrBlobTransfer, err)})
		}
		return
	}

	p := msg.property
	switch msg.kind {
	case kindDefine:
		if c.registry.Define(p) {
			c.logger.Infof("Device %q defined", p.Device)
		}
		c.logger.Debugf("Defined %s (%s, %s, %s)", p.Key(), p.Type, p.Perm, p.State)
		if p.Type == TypeBLOB && !s.blobDevices[p.Device] {
			s.blobDevices[p.Device] = true
			if err := c.write(s, encodeEnableBLOB(p.Device, "", BlobAlso)); err != nil {
				c.logger.Errorf("Failed to enable BLOBs for %q: %v", p.Device, err)
			}
		}
		s.markReady()

	case kindSet:
		if p.Type == TypeBLOB {
			c.handleBlob(&p, msg.hasState)
		}
		if !c.registry.Update(p, msg.hasState) {
			c.logger.Debugf("Ignoring update of undefined property %s", p.Key())
			return
		}
		c.logger.Debugf("Updated %s (%s)", p.Key(), p.State)

	case kindDelete:
		n := c.registry.Delete(msg.device, p.Name)
		c.logger.Debugf("Deleted %d properties of %q %s", n, msg.device, p.Name)

	case kindMessage:
	}

	if msg.text != "" {
		c.logger.WithField("device", msg.device).Info(msg.text)
	}
}

func (c *Client) handleBlob(p *Property, hasState bool) {
	var (
		delivered *BLOB
		failure   error
		kept      []Element
	)

	for _, e := range p.Elements {
		if e.Text == "" {
			continue
		}
		if err := decodeBLOB(&e); err != nil {
			c.metrics.incBlobRejects()
			c.logger.Errorf("Rejected BLOB %s.%s: %v", p.Key(), e.Name, err)
			failure = err
			continue
		}
		kept = append(kept, e)
		if delivered == nil {
			delivered = &BLOB{Device: p.Device, Property: p.Name, Element: e.Name, Format: e.Format, Data: e.BLOB}
		}
	}
	p.Elements = kept

	switch {
	case delivered != nil:
		c.deliverBlob(p.Key(), blobResult{blob: *delivered})
	case failure != nil:
		c.deliverBlob(p.Key(), blobResult{err: failure})
	case hasState && p.State == StateAlert:
		c.deliverBlob(p.Key(), blobResult{err: device.Alert("%s: %s", p.Key(), p.Message)})
	}
}

// write sends one message through the serialized writer. A failed write
// fails the session.
func (c *Client) write(s *session, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", device.ErrConnection, c.addr, s.err)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(c.policy.PropertyWrite)); err != nil {
		s.fail(err)
		return fmt.Errorf("%w: %v", device.ErrConnection, err)
	}
	if _, err := s.conn.Write(data); err != nil {
		err = fmt.Errorf("%w: write to %s: %v", device.ErrConnection, c.addr, err)
		s.fail(err)
		return err
	}

	c.metrics.incMessagesOut()
	c.logger.Debugf("Sent %s", data)
	return nil
}

// keepalive probes the server every keepalive interval.
func (c *Client) keepalive(s *session) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.policy.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			c.probe(s)
		}
	}
}

// probe sends a getProperties for a known property and counts any inbound
// traffic within the property read timeout as an answer. It returns false
// without sending anything while the previous probe is outstanding.
func (c *Client) probe(s *session) bool {
	if !c.probing.CompareAndSwap(false, true) {
		return false
	}

	sent := time.Now().UnixNano()
	k, _ := c.registry.Any()
	if err := c.write(s, encodeGetProperties(k.Device, k.Name)); err != nil {
		c.probing.Store(false)
		return true
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.probing.Store(false)

		timer := pool.GetTimer(c.policy.PropertyRead)
		defer pool.PutTimer(timer)

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-s.activity:
				if c.lastRx.Load() >= sent {
					c.keepaliveAnswered()
					return
				}
			case <-timer.C:
				if c.lastRx.Load() >= sent {
					c.keepaliveAnswered()
					return
				}
				c.metrics.incKeepaliveFailures()
				s.fail(fmt.Errorf("%w: keepalive unanswered within %v", device.ErrConnection, c.policy.PropertyRead))
				return
			}
		}
	}()
	return true
}

func (c *Client) keepaliveAnswered() {
	c.updateHealth(func(h *Health) { h.LastKeepalive = time.Now() })
}
