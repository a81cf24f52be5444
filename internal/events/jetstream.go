package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamSubscriber receives CDC messages from a JetStream stream through a
// durable consumer with explicit acknowledgment. On first start the consumer
// delivers the stream from the beginning; afterwards it resumes from the last
// acknowledged message.
type JetStreamSubscriber struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	stream  string
	durable string
	prefix  string
}

// NewJetStreamSubscriber connects to url and binds to the named JetStream
// stream. The stream must already exist.
func NewJetStreamSubscriber(url, stream, durable, prefix string, opts ...nats.Option) (*JetStreamSubscriber, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	return &JetStreamSubscriber{conn: nc, js: js, stream: stream, durable: durable, prefix: prefix}, nil
}

// Subscribe creates (or updates) the durable consumer filtered to the
// subjects of streams and starts consuming. Messages must be acknowledged
// with Message.Ack or Message.Term.
func (s *JetStreamSubscriber) Subscribe(ctx context.Context, streams []string) (<-chan Message, func(), error) {
	subjects := make([]string, 0, len(streams))
	for _, stream := range streams {
		subjects = append(subjects, Subject(s.prefix, stream))
	}

	cons, err := s.js.CreateOrUpdateConsumer(ctx, s.stream, jetstream.ConsumerConfig{
		Durable:        s.durable,
		FilterSubjects: subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating consumer %s on %s: %w", s.durable, s.stream, err)
	}

	out := newFanIn(64)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		stream := StreamFromSubject(s.prefix, msg.Subject())
		out.send(NewMessage(stream, msg.Subject(), msg.Data()).WithAcker(msg.Ack, msg.Term))
	})
	if err != nil {
		out.close()
		return nil, nil, fmt.Errorf("consuming %s: %w", s.stream, err)
	}

	cancel := func() {
		out.stop(cc.Stop)
	}
	return out.ch, cancel, nil
}

func (s *JetStreamSubscriber) Close() error {
	s.conn.Close()
	return nil
}
