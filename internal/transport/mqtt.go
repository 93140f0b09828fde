// Package transport delivers encoded payloads to the message broker.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt not connected")

// Config contains the broker connection settings.
type Config struct {
	Host           string
	Port           int
	ClientID       string        // default: people-counter-<uuid>
	Username       string
	Password       string
	KeepAlive      time.Duration // default: 60s
	QoS            byte
	ConnectTimeout time.Duration // per attempt, default: 5s
	PublishTimeout time.Duration // default: 2s
	Backoff        BackoffConfig
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 3001
	}
	if c.ClientID == "" {
		c.ClientID = "people-counter-" + uuid.New().String()
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 2 * time.Second
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoffConfig()
	}
	return c
}

// Broker returns the broker URL.
func (c Config) Broker() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Stats contains transport statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// MQTT publishes payloads to an MQTT broker.
//
// Paho reconnects automatically after the initial connection; while it is
// down Publish fails fast with ErrNotConnected.
type MQTT struct {
	cfg    Config
	client mqtt.Client

	connected atomic.Bool
	errors    atomic.Uint64

	mu        sync.Mutex
	published map[string]uint64

	closeOnce sync.Once
}

// newClient is replaced in tests.
var newClient = mqtt.NewClient

// Dial connects to the broker, retrying with exponential backoff.
func Dial(ctx context.Context, cfg Config) (*MQTT, error) {
	cfg = cfg.withDefaults()

	t := &MQTT{
		cfg:       cfg,
		published: make(map[string]uint64),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker())
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	if cfg.Backoff.MaxRetryDelay > 0 {
		opts.SetMaxReconnectInterval(cfg.Backoff.MaxRetryDelay)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.OnConnect = func(c mqtt.Client) {
		t.connected.Store(true)
		slog.Info("transport: mqtt connection established",
			"broker", cfg.Broker(),
			"client_id", cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		t.connected.Store(false)
		slog.Warn("transport: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker(),
		)
	}

	t.client = newClient(opts)

	slog.Info("transport: connecting to mqtt broker", "broker", cfg.Broker(), "keep_alive", cfg.KeepAlive)

	err := Retry(ctx, func(ctx context.Context) error {
		token := t.client.Connect()
		if !token.WaitTimeout(cfg.ConnectTimeout) {
			return fmt.Errorf("mqtt connection timeout after %v", cfg.ConnectTimeout)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
		return nil
	}, cfg.Backoff)
	if err != nil {
		return nil, fmt.Errorf("transport: %s: %w", cfg.Broker(), err)
	}

	t.connected.Store(true)
	return t, nil
}

// Publish implements peoplecounter.Transport
func (t *MQTT) Publish(topic string, payload []byte) error {
	if !t.connected.Load() {
		t.errors.Add(1)
		return ErrNotConnected
	}

	token := t.client.Publish(topic, t.cfg.QoS, false, payload)
	if !token.WaitTimeout(t.cfg.PublishTimeout) {
		t.errors.Add(1)
		return fmt.Errorf("publish to %s: timeout after %v", topic, t.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		t.errors.Add(1)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	t.mu.Lock()
	t.published[topic]++
	t.mu.Unlock()

	slog.Debug("transport: published", "topic", topic, "qos", t.cfg.QoS, "size", len(payload))
	return nil
}

// Close disconnects from the broker. Idempotent.
func (t *MQTT) Close() error {
	t.closeOnce.Do(func() {
		if t.client.IsConnected() {
			t.client.Disconnect(250)
			slog.Info("transport: mqtt disconnected", "broker", t.cfg.Broker())
		}
		t.connected.Store(false)
	})
	return nil
}

// Connected reports whether the broker connection is up.
func (t *MQTT) Connected() bool {
	return t.connected.Load()
}

// Stats returns transport statistics
func (t *MQTT) Stats() Stats {
	t.mu.Lock()
	published := make(map[string]uint64, len(t.published))
	for k, v := range t.published {
		published[k] = v
	}
	t.mu.Unlock()

	return Stats{
		Connected: t.connected.Load(),
		Published: published,
		Errors:    t.errors.Load(),
	}
}
