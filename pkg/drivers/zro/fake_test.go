package zro

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"astrobridge/pkg/device"
	"astrobridge/pkg/policy"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeController is an MQTT client wired to a scripted dome controller. It
// acknowledges every command unless told otherwise.
type fakeController struct {
	root       string
	connectErr error

	mu        sync.Mutex
	connected bool
	handlers  map[string]mqtt.MessageHandler
	commands  []string
	nack      map[byte]bool
	silent    map[byte]bool
}

func newFakeController(root string) *fakeController {
	return &fakeController{
		root:     root,
		handlers: map[string]mqtt.MessageHandler{},
		nack:     map[byte]bool{},
		silent:   map[byte]bool{},
	}
}

func (f *fakeController) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeController) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeController) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return newToken(f.connectErr)
	}
	f.connected = true
	return newToken(nil)
}

func (f *fakeController) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeController) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	msg := payload.(string)
	cmd := strings.TrimSuffix(strings.TrimPrefix(msg, "_"), ";")

	f.mu.Lock()
	f.commands = append(f.commands, msg)
	nack, silent := f.nack[cmd[0]], f.silent[cmd[0]]
	handler := f.handlers[f.root+"/responses"]
	f.mu.Unlock()

	if topic != f.root+"/commands" || silent || handler == nil {
		return newToken(nil)
	}

	var reply string
	switch {
	case nack:
		reply = "_NACK_" + cmd[:1] + ";"
	case cmd == "V":
		reply = "_ACK_V=(1.2.3);"
	default:
		reply = "_ACK_" + cmd + ";"
	}
	go handler(f, fakeMessage{topic: f.root + "/responses", payload: []byte(reply)})
	return newToken(nil)
}

func (f *fakeController) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = callback
	return newToken(nil)
}

func (f *fakeController) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic := range filters {
		f.Subscribe(topic, 0, callback)
	}
	return newToken(nil)
}

func (f *fakeController) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	return newToken(nil)
}

func (f *fakeController) AddRoute(topic string, callback mqtt.MessageHandler) {}

func (f *fakeController) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// emit delivers a message on root/name as if the controller published it.
func (f *fakeController) emit(name, payload string) {
	f.mu.Lock()
	handler := f.handlers[f.root+"/"+name]
	f.mu.Unlock()
	if handler != nil {
		handler(f, fakeMessage{topic: f.root + "/" + name, payload: []byte(payload)})
	}
}

func (f *fakeController) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeController) subscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeController) script(code byte, nack, silent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nack[code] = nack
	f.silent[code] = silent
}

var errBrokerDown = errors.New("connection refused")

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func testPolicy() policy.Policy {
	p := policy.Default()
	p.Connection = time.Second
	p.PropertyWrite = 200 * time.Millisecond
	p.PollInterval = 10 * time.Millisecond
	return p
}

func newTestDriver(t *testing.T, store *Store) (*Driver, *fakeController) {
	t.Helper()
	cfg, err := store.GetConfig()
	require.NoError(t, err)

	fake := newFakeController(cfg.TopicRoot)
	id := device.Identity{Transport: device.TransportMQTT, Type: device.TypeDome, Name: "zro"}
	d, err := NewDriver(id, store, testPolicy(), log.WithField("device", "zro"),
		WithClientFactory(func(MQTTConfig) mqtt.Client { return fake }))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, fake
}
