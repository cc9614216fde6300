package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic filter.
//
// Subscriptions belong to the current session only. After the connection
// is lost they must be registered again on the next successful Connect.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "sensors/+/+/alerts"
//   - # (multi-level): "sensors/ST_0777/LABJAV09-G1/alerts/#"
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}
