package alpaca

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"astrobridge/pkg/device"
	"astrobridge/pkg/policy"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// reply is what the fake server answers for a member.
type reply struct {
	value  any
	errNum int
	errMsg string
	status int
	delay  time.Duration
}

type request struct {
	method string
	path   string
	form   map[string]string
}

// fakeServer is a scripted Alpaca server.
type fakeServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	replies  map[string]reply
	requests []request
	serverTx uint32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{replies: map[string]reply{}}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeServer) addr() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

// on scripts the reply of "METHOD /path".
func (s *fakeServer) on(method, path string, r reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[method+" "+path] = r
}

func (s *fakeServer) last() request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return request{}
	}
	return s.requests[len(s.requests)-1]
}

func (s *fakeServer) find(method, path string) (request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].method == method && s.requests[i].path == path {
			return s.requests[i], true
		}
	}
	return request{}, false
}

func (s *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}

	s.mu.Lock()
	s.requests = append(s.requests, request{method: r.Method, path: r.URL.Path, form: form})
	rep, ok := s.replies[r.Method+" "+r.URL.Path]
	s.serverTx++
	serverTx := s.serverTx
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if rep.delay > 0 {
		select {
		case <-time.After(rep.delay):
		case <-r.Context().Done():
			return
		}
	}
	if rep.status != 0 {
		http.Error(w, "scripted failure", rep.status)
		return
	}

	clientTx, _ := strconv.ParseUint(form["ClientTransactionID"], 10, 32)
	body := map[string]any{
		"ClientTransactionID": clientTx,
		"ServerTransactionID": serverTx,
		"ErrorNumber":         rep.errNum,
		"ErrorMessage":        rep.errMsg,
	}
	if rep.value != nil {
		body["Value"] = rep.value
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func testPolicy() policy.Policy {
	p := policy.Default()
	p.Connection = time.Second
	p.PropertyRead = 200 * time.Millisecond
	p.PropertyWrite = 200 * time.Millisecond
	p.FocuserMove = 500 * time.Millisecond
	p.PollInterval = 10 * time.Millisecond
	return p
}

func newTestDevice(t *testing.T, s *fakeServer, typ device.Type) device.Device {
	t.Helper()
	id := device.Identity{Transport: device.TransportAlpaca, Type: typ, Name: s.addr() + "/0"}
	d, err := NewDevice(id, testPolicy(), WithClientID(42), WithLogger(log.WithField("test", t.Name())))
	require.NoError(t, err)
	return d
}
