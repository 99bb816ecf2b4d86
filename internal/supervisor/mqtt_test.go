package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/yardcam/internal/observability"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeBroker stands in for a paho client connected to a broker.
type fakeBroker struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connectErr   error
	subscribeErr error
	topic        string
	qos          byte
	handler      mqtt.MessageHandler
	disconnected bool
	subscribed   chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subscribed: make(chan struct{})}
}

func (b *fakeBroker) newClient(opts *mqtt.ClientOptions) mqtt.Client {
	b.mu.Lock()
	b.opts = opts
	b.mu.Unlock()
	return b
}

func (b *fakeBroker) IsConnected() bool      { return true }
func (b *fakeBroker) IsConnectionOpen() bool { return true }
func (b *fakeBroker) Connect() mqtt.Token    { return &fakeToken{err: b.connectErr} }
func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	b.disconnected = true
	b.mu.Unlock()
}
func (b *fakeBroker) Publish(string, byte, bool, interface{}) mqtt.Token { return &fakeToken{} }
func (b *fakeBroker) Subscribe(topic string, qos byte, h mqtt.MessageHandler) mqtt.Token {
	if b.subscribeErr != nil {
		return &fakeToken{err: b.subscribeErr}
	}
	b.mu.Lock()
	b.topic, b.qos, b.handler = topic, qos, h
	b.mu.Unlock()
	close(b.subscribed)
	return &fakeToken{}
}
func (b *fakeBroker) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (b *fakeBroker) Unsubscribe(...string) mqtt.Token        { return &fakeToken{} }
func (b *fakeBroker) AddRoute(string, mqtt.MessageHandler)    {}
func (b *fakeBroker) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (b *fakeBroker) deliver(payload string) {
	b.mu.Lock()
	h, topic := b.handler, b.topic
	b.mu.Unlock()
	h(b, fakeMessage{topic: topic, payload: []byte(payload)})
}

func (b *fakeBroker) dropConnection(err error) {
	b.mu.Lock()
	lost := b.opts.OnConnectionLost
	b.mu.Unlock()
	lost(b, err)
}

func newTestMQTTSource(b *fakeBroker) *MQTTSource {
	return &MQTTSource{
		Broker:    "localhost:1883",
		ClientID:  "yardcam-cam-1",
		Topic:     "yardcam/cameras/cam-1/occupancy",
		QoS:       1,
		Logger:    observability.Discard(),
		NewClient: b.newClient,
	}
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", BrokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", BrokerURL("ssl://broker:8883"))
}

func TestMQTTSource_DeliversReadings(t *testing.T) {
	b := newFakeBroker()
	src := newTestMQTTSource(b)

	var mu sync.Mutex
	var got []Reading
	emit := func(r Reading) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, emit) }()

	<-b.subscribed
	b.deliver(`{"region":"S1","occupied":true}`)
	b.deliver(`garbage`)
	b.deliver(`{"region":"S2","occupied":false}`)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, []Reading{
		{Region: "S1", Occupied: true},
		{Region: "S2", Occupied: false},
	}, got)

	assert.Equal(t, "yardcam/cameras/cam-1/occupancy", b.topic)
	assert.Equal(t, byte(1), b.qos)
	assert.True(t, b.disconnected)
	require.Len(t, b.opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", b.opts.Servers[0].String())
	assert.Equal(t, "yardcam-cam-1", b.opts.ClientID)
	assert.False(t, b.opts.AutoReconnect)
}

func TestMQTTSource_ConnectionLost(t *testing.T) {
	b := newFakeBroker()
	src := newTestMQTTSource(b)

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background(), func(Reading) {}) }()

	<-b.subscribed
	b.dropConnection(errors.New("EOF"))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mqtt connection lost")
	case <-time.After(time.Second):
		t.Fatal("Run did not return after connection loss")
	}
}

func TestMQTTSource_ConnectFailure(t *testing.T) {
	b := newFakeBroker()
	b.connectErr = errors.New("connection refused")

	err := newTestMQTTSource(b).Run(context.Background(), func(Reading) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt connection failed")
	assert.False(t, b.disconnected)
}

func TestMQTTSource_SubscribeFailure(t *testing.T) {
	b := newFakeBroker()
	b.subscribeErr = errors.New("not authorized")

	err := newTestMQTTSource(b).Run(context.Background(), func(Reading) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt subscribe failed")
	assert.True(t, b.disconnected)
}
