package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DiscoveryPort is the UDP port Alpaca servers listen on for discovery.
	DiscoveryPort    = 32227
	discoveryMessage = "alpacadiscovery1"
)

type discoveryReply struct {
	AlpacaPort int `json:"AlpacaPort"`
}

// Discoverer finds Alpaca servers by broadcasting a discovery request.
type Discoverer struct {
	target string
	port   int
	logger log.FieldLogger
}

// NewDiscoverer returns a discoverer sending to target (usually the
// broadcast address "255.255.255.255") on port.
func NewDiscoverer(target string, port int, logger log.FieldLogger) *Discoverer {
	if target == "" {
		target = "255.255.255.255"
	}
	if port == 0 {
		port = DiscoveryPort
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Discoverer{target: target, port: port, logger: logger}
}

// Discover sends one request and collects replies until wait elapsed. It
// returns the "host:port" of every server that answered, sorted.
func (d *Discoverer) Discover(ctx context.Context, wait time.Duration) ([]string, error) {
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(d.target, strconv.Itoa(d.port)))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve discovery address: %v", err)
	}

	sock, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("cannot bind discovery socket: %v", err)
	}
	defer sock.Close()

	if _, err := sock.WriteToUDP([]byte(discoveryMessage), dst); err != nil {
		return nil, fmt.Errorf("cannot send discovery request: %v", err)
	}
	d.logger.Debugf("Discovery request sent to %s", dst)

	deadline := time.Now().Add(wait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	sock.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		sock.SetReadDeadline(time.Now())
	})
	defer stop()

	seen := map[string]struct{}{}
	buf := make([]byte, 1024)
	for {
		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return nil, err
		}

		var reply discoveryReply
		if err := json.Unmarshal(buf[:n], &reply); err != nil || reply.AlpacaPort <= 0 {
			d.logger.Debugf("Ignoring discovery reply %q from %s", buf[:n], from)
			continue
		}
		endpoint := net.JoinHostPort(from.IP.String(), strconv.Itoa(reply.AlpacaPort))
		if _, ok := seen[endpoint]; !ok {
			d.logger.Debugf("Alpaca server at %s", endpoint)
			seen[endpoint] = struct{}{}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	endpoints := make([]string, 0, len(seen))
	for e := range seen {
		endpoints = append(endpoints, e)
	}
	slices.Sort(endpoints)
	return endpoints, nil
}

// Responder answers discovery requests on behalf of an Alpaca server
// listening on alpacaPort.
type Responder struct {
	conn     *net.UDPConn
	response []byte
	logger   log.FieldLogger
}

// NewResponder binds the discovery socket at addr ("host:port").
func NewResponder(addr string, alpacaPort int, logger log.FieldLogger) (*Responder, error) {
	local, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve responder address: %v", err)
	}
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("cannot bind receive socket: %v", err)
	}
	return &Responder{
		conn:     conn,
		response: []byte(fmt.Sprintf(`{"AlpacaPort": %d}`, alpacaPort)),
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (r *Responder) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Run answers requests until ctx is done.
func (r *Responder) Run(ctx context.Context) error {
	defer r.conn.Close()
	stop := context.AfterFunc(ctx, func() {
		r.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 1024)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Debugf("Error reading from socket: %v", err)
			continue
		}

		data := string(buf[:n])
		r.logger.Debugf("Received %s from %s", data, from)
		if strings.Contains(data, discoveryMessage) {
			if _, err := r.conn.WriteToUDP(r.response, from); err != nil {
				r.logger.Errorf("Error writing to socket: %v", err)
			}
		}
	}
}
