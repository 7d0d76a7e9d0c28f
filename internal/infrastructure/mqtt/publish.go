package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps a single message at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge it.
// Session events are never retained; only the status topic is.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	switch {
	case !token.WaitTimeout(defaultPublishTimeout):
		return fmt.Errorf("%w: no ack on %s after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	case token.Error() != nil:
		return fmt.Errorf("%w: %w", ErrPublishFailed, token.Error())
	}
	return nil
}

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload over the %d byte limit", ErrPublishFailed, n, maxPayloadSize)
	}
	return nil
}

// PublishJSON encodes v and publishes it, unretained, at the configured QoS.
func (c *Client) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), false)
}
