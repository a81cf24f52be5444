// Package events connects the engine to the message bus: it delivers CDC
// messages from the entity streams and publishes attribution events.
package events

import (
	"context"
	"strings"
)

// TopicAttributions is the stream attribution events are published on.
const TopicAttributions = "attributions"

// Message is one CDC message received from the bus.
type Message struct {
	Stream  string // logical stream name, subject prefix removed
	Subject string // subject the message arrived on
	Data    []byte

	ack  func() error
	term func() error
}

// NewMessage builds a message without acknowledgment hooks, as delivered by
// core NATS or read back from a capture file.
func NewMessage(stream, subject string, data []byte) Message {
	return Message{Stream: stream, Subject: subject, Data: data}
}

// WithAcker returns a copy of m that acknowledges through ack and term.
func (m Message) WithAcker(ack, term func() error) Message {
	m.ack = ack
	m.term = term
	return m
}

// Ack acknowledges the message so the bus will not redeliver it. It is a
// no-op for transports without acknowledgment.
func (m Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// Term tells the bus the message can never be processed and must not be
// redelivered. It is a no-op for transports without acknowledgment.
func (m Message) Term() error {
	if m.term == nil {
		return nil
	}
	return m.term()
}

// Subject returns the bus subject carrying stream under prefix.
func Subject(prefix, stream string) string {
	if prefix == "" {
		return stream
	}
	return prefix + "." + stream
}

// StreamFromSubject strips prefix from subject. Subjects outside the prefix
// are returned unchanged; the dispatcher ignores them as unknown streams.
func StreamFromSubject(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return strings.TrimPrefix(subject, prefix+".")
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber delivers CDC messages from the entity streams.
type Subscriber interface {
	// Subscribe delivers messages for the given streams on the returned
	// channel. Call the returned cancel function to unsubscribe and close
	// the channel.
	Subscribe(ctx context.Context, streams []string) (<-chan Message, func(), error)
	Close() error
}
