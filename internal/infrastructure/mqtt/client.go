package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

// Logger is the subset of slog.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is identityd's broker connection. It keeps a retained
// online/offline status on Topics().SystemStatus() and publishes session
// events. Safe for concurrent use; a zero Client is disconnected.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool

	mu     sync.RWMutex
	logger Logger
}

// Connect dials the broker with an offline LWT registered and waits for
// the first connection. paho reconnects on its own afterwards; every
// (re)connect republishes the online status.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, topics: Topics{Prefix: cfg.TopicPrefix}}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no answer from %s:%d within %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// onConnect runs on paho's goroutine and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) onConnect() {
	c.connected.Store(true)
	c.publishStatus(buildOnlinePayload(c.cfg.Broker.ClientID), false)
	c.log().Info("mqtt connected", "client_id", c.cfg.Broker.ClientID)
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)
	c.log().Warn("mqtt connection lost", "error", err)
}

// publishStatus sets the retained status message, waiting for the broker's
// acknowledgement only when wait is true.
func (c *Client) publishStatus(payload []byte, wait bool) {
	token := c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, payload)
	if wait {
		token.WaitTimeout(defaultPublishTimeout)
	}
}

// Close replaces the retained status with a graceful offline message and
// disconnects. Safe to call more than once.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.connected.Swap(false) {
		c.publishStatus(buildOfflinePayload(c.cfg.Broker.ClientID), true)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the live connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetLogger sets the logger for connection events. Nil silences them.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return nopLogger{}
	}
	return c.logger
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
