// Package mqtt provides an MQTT transport for receiving message segments
// from a radio gateway.
//
// Segments are published by the gateway as base64-encoded segment frames on
// "{prefix}/{gatewayID}/segments" with QoS 1. Automatic acknowledgement is
// disabled: a PUBACK is sent only once the segment handler reports
// core.Handled, so a segment that was not persisted is redelivered by the
// broker when the session resumes.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/codec"
	"github.com/kabili207/smsinbound/core/sms"
	"github.com/kabili207/smsinbound/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "smsinbound"

	// DefaultHandleTimeout bounds how long one segment may take to process.
	DefaultHandleTimeout = 30 * time.Second

	segmentQoS = 1
)

// Config holds the configuration for an MQTT transport.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is
	// generated. Set it to keep the broker session, and with it any
	// unacknowledged segments, across restarts.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "smsinbound").
	TopicPrefix string
	// GatewayID identifies the radio gateway whose segments are received.
	GatewayID string
	// HandleTimeout bounds the processing of one segment. Default: 30s.
	HandleTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg            Config
	client         paho.Client
	log            *slog.Logger
	ctx            context.Context
	mu             sync.RWMutex
	connected      bool
	segmentHandler transport.SegmentHandler
	stateHandler   transport.StateHandler
}

// New creates a new MQTT transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = DefaultHandleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt"),
		ctx: context.Background(),
	}
}

// Start connects to the MQTT broker and begins receiving segments.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.GatewayID == "" {
		return errors.New("gateway ID is required")
	}

	clientID := t.cfg.ClientID
	cleanSession := false
	if clientID == "" {
		clientID = "smsinbound-" + randomString(16)
		cleanSession = true
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(cleanSession).
		SetOrderMatters(false).
		SetAutoAckDisabled(true).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	t.mu.Lock()
	t.ctx = ctx
	t.client = paho.NewClient(opts)
	client := t.client
	t.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Disconnect(1000)
		t.connected = false
	}
	return nil
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

// SetSegmentHandler sets the callback for incoming segments.
func (t *Transport) SetSegmentHandler(fn transport.SegmentHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segmentHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

func (t *Transport) segmentTopic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.GatewayID + "/segments"
}

func (t *Transport) notifyTopic(action string) string {
	return t.cfg.TopicPrefix + "/" + t.cfg.GatewayID + "/notify/" + action
}

func (t *Transport) subscribe() {
	topic := t.segmentTopic()
	t.client.Subscribe(topic, segmentQoS, t.handleMessage)
	t.log.Debug("subscribed to segment topic", "topic", topic)
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	if t.handlePayload(message.Payload()) == core.Handled {
		message.Ack()
	}
}

// handlePayload decodes one published segment and passes it to the
// segment handler. Anything that cannot be decoded is reported as
// core.GenericError and left unacknowledged.
func (t *Transport) handlePayload(payload []byte) core.Outcome {
	t.mu.RLock()
	handler := t.segmentHandler
	parent := t.ctx
	t.mu.RUnlock()

	if handler == nil {
		return core.GenericError
	}

	rawData, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		t.log.Warn("failed to decode base64 payload", "error", err)
		return core.GenericError
	}

	var frame codec.SegmentFrame
	if err := frame.ReadFrom(rawData); err != nil {
		t.log.Warn("failed to parse segment frame", "error", err)
		return core.GenericError
	}
	msg, err := sms.FromFrame(&frame)
	if err != nil {
		t.log.Warn("failed to decode segment", "id", frame.ID, "error", err)
		return core.GenericError
	}

	ctx, cancel := context.WithTimeout(parent, t.cfg.HandleTimeout)
	defer cancel()
	out := handler(ctx, msg, transport.SourceMQTT)
	t.log.Debug("segment processed", "id", frame.ID, "outcome", out)
	return out
}

func (t *Transport) onConnected(_ paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.subscribe()
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
