package tinymq

import (
	"encoding/json"
	"fmt"

	"github.com/RodrigoJC20/tinymq-client/internal/wire"
)

// Handler consumes one inbound message delivered on a subscribed topic.
type Handler func(topic, message string)

// Publish computes the effective topic for message and sends it as a
// PUB frame. If message parses as a JSON object carrying a "cliente"
// field, the effective topic is "<cliente>/<topic>"; otherwise it is
// "<client_id>/<topic>". Fails synchronously if the encoded topic
// exceeds the 255-byte wire limit.
func (c *Client) Publish(topic, message string) error {
	effective := c.effectiveTopic(topic, message)

	topicJSON, err := json.Marshal([]string{effective})
	if err != nil {
		return fmt.Errorf("tinymq: encode topic: %w", err)
	}
	if len(topicJSON) > 255 {
		return ErrTopicTooLong
	}

	payload := make([]byte, 0, 1+len(topicJSON)+len(message))
	payload = append(payload, byte(len(topicJSON)))
	payload = append(payload, topicJSON...)
	payload = append(payload, message...)

	return c.send(wire.PUB, 0, payload)
}

// effectiveTopic applies the "cliente" override rule.
func (c *Client) effectiveTopic(topic, message string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(message), &obj); err == nil {
		if cliente, ok := obj["cliente"].(string); ok && cliente != "" {
			return cliente + "/" + topic
		}
	}
	return c.clientID + "/" + topic
}

// Subscribe sends SUB for topic and, on success, records handler keyed
// by topic. Subscribing twice to the same topic replaces the prior
// handler.
func (c *Client) Subscribe(topic string, handler Handler) error {
	payload, err := json.Marshal([]string{topic})
	if err != nil {
		return fmt.Errorf("tinymq: encode topic: %w", err)
	}
	if err := c.send(wire.SUB, 0, payload); err != nil {
		return err
	}

	c.pubsubMu.Lock()
	c.handlers[topic] = handler
	c.pubsubMu.Unlock()
	return nil
}

// Unsubscribe sends UNSUB for topic and clears its handler regardless
// of whether the send succeeds.
func (c *Client) Unsubscribe(topic string) error {
	payload, err := json.Marshal([]string{topic})
	if err != nil {
		return fmt.Errorf("tinymq: encode topic: %w", err)
	}
	sendErr := c.send(wire.UNSUB, 0, payload)

	c.pubsubMu.Lock()
	delete(c.handlers, topic)
	c.pubsubMu.Unlock()

	return sendErr
}

// handleInboundPub decodes a PUB frame's JSON body and dispatches it to
// the matching handler, trying the raw topic field first and the
// normalised form second (the legacy source double-encodes some topics
// as a JSON string containing a single-element array).
func (c *Client) handleInboundPub(payload []byte) {
	var envelope struct {
		Topic   json.RawMessage `json:"topic"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.log.Debug("tinymq: malformed PUB payload, dropping", "error", err)
		return
	}

	rawTopic, normalized := decodeInboundTopic(envelope.Topic)

	c.pubsubMu.Lock()
	handler, ok := c.handlers[rawTopic]
	if !ok {
		handler, ok = c.handlers[normalized]
	}
	c.pubsubMu.Unlock()

	if !ok {
		c.log.Debug("tinymq: PUB with no matching subscription handler", "topic", normalized)
		return
	}
	handler(normalized, envelope.Message)
}

// decodeInboundTopic accepts a topic field that is a plain JSON string,
// a single-element JSON array, or (legacy) a JSON string that is itself
// the encoding of a single-element array. It returns the value as
// originally decoded (rawTopic) and the fully unwrapped form (normalized).
func decodeInboundTopic(raw json.RawMessage) (rawTopic, normalized string) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		return arr[0], arr[0]
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		rawTopic = string(raw)
	} else {
		rawTopic = s
	}

	var nested []string
	if err := json.Unmarshal([]byte(rawTopic), &nested); err == nil && len(nested) == 1 {
		normalized = nested[0]
	} else {
		normalized = rawTopic
	}
	return rawTopic, normalized
}
