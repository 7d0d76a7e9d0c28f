package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
	// ErrMissingTarget is returned by Connect without a URL or bucket.
	ErrMissingTarget = errors.New("influxdb: url and bucket are required")
	// ErrConnectionFailed wraps the first ping failure.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	// ErrNotConnected is returned by HealthCheck before Connect or after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client holds one batched write API on the configured org and bucket.
// Safe for concurrent use; a zero Client behaves as disconnected.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect pings the server and opens the write API. It returns ErrDisabled
// when the store is switched off, so callers can treat it as optional.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, ErrMissingTarget
	}

	c := &Client{client: influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.writeAPI = c.client.WriteAPI(cfg.Org, cfg.Bucket)
	c.connected = true
	go c.forwardErrors(c.writeAPI.Errors())

	return c, nil
}

// clientOptions maps batch_size and flush_interval (seconds) onto the
// client's batching, falling back to defaults for unset values.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush <= 0 {
		flush = defaultFlushInterval
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).                   //nolint:gosec // positive
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive
}

func (c *Client) ping(ctx context.Context) error {
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server not ready")
	}
	return nil
}

// forwardErrors hands asynchronous write failures to the SetOnError callback.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		cb := c.onError
		c.mu.RUnlock()
		if cb != nil {
			cb(err)
		}
	}
}

// Close flushes buffered points and releases the client. Safe on a zero Client.
func (c *Client) Close() error {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if !wasConnected {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether Connect succeeded and Close has not run.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(cb func(err error)) {
	c.mu.Lock()
	c.onError = cb
	c.mu.Unlock()
}

// Flush blocks until buffered points are sent. No-op when disconnected.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
