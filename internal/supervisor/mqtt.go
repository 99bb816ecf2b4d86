package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultConnectTimeout bounds the MQTT connect and subscribe handshakes.
const DefaultConnectTimeout = 5 * time.Second

// MQTTSource subscribes to a camera's occupancy topic.
//
// Payloads are JSON readings: {"region":"S1","occupied":true}.
// Automatic reconnection is disabled: a lost connection ends Run with an
// error and the supervisor restarts the source with backoff.
type MQTTSource struct {
	Broker         string
	ClientID       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	Logger         *slog.Logger

	// NewClient builds the paho client. Defaults to mqtt.NewClient.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

// BrokerURL adds the tcp:// scheme when the address has none.
func BrokerURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "tcp://" + addr
}

// Run implements Source.
func (s *MQTTSource) Run(ctx context.Context, emit func(Reading)) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := s.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	newClient := s.NewClient
	if newClient == nil {
		newClient = mqtt.NewClient
	}

	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(s.Broker))
	opts.SetClientID(s.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(timeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := newClient(opts)

	logger.Info("connecting to mqtt broker", "broker", s.Broker, "client_id", s.ClientID)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		reading, err := DecodeReading(msg.Payload())
		if err != nil {
			logger.Warn("skipping malformed mqtt reading", "topic", msg.Topic(), "error", err)
			return
		}
		emit(reading)
	}

	sub := client.Subscribe(s.Topic, s.QoS, handler)
	if !sub.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt subscribe timeout (topic=%s)", s.Topic)
	}
	if err := sub.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe failed (topic=%s): %w", s.Topic, err)
	}
	logger.Info("mqtt subscribed", "topic", s.Topic, "qos", s.QoS)

	select {
	case <-ctx.Done():
		return nil
	case err := <-lost:
		return fmt.Errorf("mqtt connection lost: %w", err)
	}
}
