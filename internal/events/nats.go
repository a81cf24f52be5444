package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes JSON-encoded events to NATS subjects under a prefix.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to url. Topics passed to Publish are placed under
// prefix.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.conn.Publish(Subject(p.prefix, topic), data)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber receives CDC messages over core NATS. Delivery is
// at-most-once and messages carry no acknowledgment.
type NATSSubscriber struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSubscriber connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSSubscriber(url, prefix string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc, prefix: prefix}, nil
}

// Subscribe takes one wildcard subscription under the prefix and forwards
// messages for the requested streams onto the channel. A single
// subscription is delivered on a single goroutine, so messages keep their
// publish order across streams. The handler blocks while the channel is
// full, which leaves backpressure to the NATS client's pending buffer rather
// than dropping CDC rows.
func (s *NATSSubscriber) Subscribe(ctx context.Context, streams []string) (<-chan Message, func(), error) {
	wanted := make(map[string]bool, len(streams))
	for _, stream := range streams {
		wanted[stream] = true
	}

	out := newFanIn(64)
	subject := Subject(s.prefix, ">")
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		stream := StreamFromSubject(s.prefix, msg.Subject)
		if !wanted[stream] {
			return
		}
		out.send(NewMessage(stream, msg.Subject, msg.Data))
	})
	if err != nil {
		out.close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		out.close()
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		out.stop(func() { _ = sub.Unsubscribe() })
	}
	return out.ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

// fanIn is the channel a bus callback feeds. Senders block until
// the consumer reads or the fan-in is stopped; the channel is closed only
// once no sender can touch it.
type fanIn struct {
	ch   chan Message
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func newFanIn(size int) *fanIn {
	return &fanIn{ch: make(chan Message, size), done: make(chan struct{})}
}

func (f *fanIn) send(m Message) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- m:
	case <-f.done:
	}
}

// stop unblocks pending senders, runs detach to stop new deliveries, and
// closes the channel. Safe to call more than once.
func (f *fanIn) stop(detach func()) {
	f.once.Do(func() {
		close(f.done)
		detach()
		f.mu.Lock()
		f.closed = true
		close(f.ch)
		f.mu.Unlock()
	})
}

func (f *fanIn) close() {
	f.stop(func() {})
}
