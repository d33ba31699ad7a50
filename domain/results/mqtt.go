package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttDisconnectMs   = 250
)

// MQTTOptions configures the MQTT sink.
type MQTTOptions struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	ClientID string // generated when empty
	QoS      byte
	Retained bool
}

// mqttClient is the part of mqtt.Client the sink uses.
type mqttClient interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes events as JSON. Symbol events go to Topic, errors to
// Topic + "/errors".
type MQTTSink struct {
	opts   MQTTOptions
	logger *slog.Logger
	client mqttClient

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTSink builds a sink with a paho client. Call Connect before use.
func NewMQTTSink(logger *slog.Logger, opts MQTTOptions) *MQTTSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.ClientID == "" {
		opts.ClientID = "qrscan-" + uuid.NewString()[:8]
	}
	s := &MQTTSink{opts: opts, logger: logger}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connection established", "broker", opts.Broker, "client_id", opts.ClientID)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", opts.Broker, "error", err)
	}
	s.client = mqtt.NewClient(co)
	return s
}

func newMQTTSinkWithClient(logger *slog.Logger, opts MQTTOptions, client mqttClient) *MQTTSink {
	return &MQTTSink{opts: opts, logger: logger, client: client}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Connect establishes the broker connection.
func (s *MQTTSink) Connect(ctx context.Context) error {
	token := s.client.Connect()
	if err := wait(ctx, token, mqttConnectTimeout); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.opts.Broker, err)
	}
	s.setConnected(true)
	return nil
}

func (s *MQTTSink) topic(e Event) string {
	if e.Kind == KindError {
		return s.opts.Topic + "/errors"
	}
	return s.opts.Topic
}

func (s *MQTTSink) Publish(ctx context.Context, e Event) error {
	if !s.isConnected() {
		s.countError()
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		s.countError()
		return fmt.Errorf("mqtt marshal: %w", err)
	}
	topic := s.topic(e)
	if err := wait(ctx, s.client.Publish(topic, s.opts.QoS, s.opts.Retained, payload), 0); err != nil {
		s.countError()
		return fmt.Errorf("mqtt publish: %w", err)
	}
	s.mu.Lock()
	s.published++
	s.mu.Unlock()
	s.logger.Debug("event published", "topic", topic, "qos", s.opts.QoS, "size", len(payload))
	return nil
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// MQTTStats reports sink counters.
type MQTTStats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

func (s *MQTTSink) Stats() MQTTStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MQTTStats{Connected: s.connected, Published: s.published, Errors: s.errors}
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectMs)
		s.logger.Info("mqtt disconnected")
	}
	s.setConnected(false)
	return nil
}

// wait blocks until token completes, ctx ends or timeout elapses
// (timeout <= 0 waits on ctx only).
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
