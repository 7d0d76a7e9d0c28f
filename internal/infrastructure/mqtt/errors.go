package mqtt

import "errors"

// Errors returned by Client and EventPublisher; compare with errors.Is.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: not connected to broker")

	// Publish input errors.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrPublishFailed wraps timeouts, oversize payloads and broker errors.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrPublisherClosed is returned by a second EventPublisher.Close.
	ErrPublisherClosed = errors.New("mqtt: session event publisher closed")
)
