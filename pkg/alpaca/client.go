// Package alpaca is a client for ASCOM Alpaca REST devices and for Alpaca
// discovery.
package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"astrobridge/pkg/device"

	log "github.com/sirupsen/logrus"
)

const apiVersion = 1

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger log.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClientID sets the ClientID sent with every request.
func WithClientID(id uint32) Option {
	return func(c *Client) { c.clientID = id }
}

// Client talks to one Alpaca server.
type Client struct {
	base     string
	http     *http.Client
	clientID uint32
	logger   log.FieldLogger

	txCounter atomic.Uint32
}

// NewClient returns a client for the server at addr ("host:port" or a base
// URL).
func NewClient(addr string, opts ...Option) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	c := &Client{
		base:     strings.TrimRight(base, "/"),
		http:     http.DefaultClient,
		clientID: rand.Uint32N(65535) + 1,
		logger:   log.WithField("server", addr),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Base returns the server base URL.
func (c *Client) Base() string {
	return c.base
}

func (c *Client) devicePath(typ device.Type, number int, member string) string {
	return fmt.Sprintf("/api/v%d/%s/%d/%s", apiVersion, strings.ToLower(typ.String()), number, strings.ToLower(member))
}

// Get calls a GET member and returns the raw Value.
func (c *Client) Get(ctx context.Context, path string, timeout time.Duration) (json.RawMessage, error) {
	params := c.params(nil)
	return c.do(ctx, http.MethodGet, path+"?"+params.Encode(), nil, timeout)
}

// Put calls a PUT member with form parameters and returns the raw Value.
func (c *Client) Put(ctx context.Context, path string, form url.Values, timeout time.Duration) (json.RawMessage, error) {
	params := c.params(form)
	return c.do(ctx, http.MethodPut, path, strings.NewReader(params.Encode()), timeout)
}

func (c *Client) params(values url.Values) url.Values {
	params := url.Values{}
	for k, v := range values {
		params[k] = v
	}
	params.Set("ClientID", strconv.FormatUint(uint64(c.clientID), 10))
	params.Set("ClientTransactionID", strconv.FormatUint(uint64(c.txCounter.Add(1)), 10))
	return params
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debugf("%s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s after %v", device.ErrTimeout, method, path, timeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %v", device.ErrConnection, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", device.ErrConnection, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", device.ErrNotSupported, method, path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s %s: HTTP %d: %s", device.ErrProtocol, method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var r baseResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", device.ErrProtocol, method, path, err)
	}
	if r.ErrorNumber != 0 {
		return nil, toError(r.ErrorNumber, r.ErrorMessage)
	}
	return r.Value, nil
}
