package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/permitlink/internal/decode"
	"github.com/alfredjeanlab/permitlink/internal/events"
)

// Consumer feeds messages from a subscriber through a dispatcher, one at a
// time, in arrival order.
type Consumer struct {
	dispatcher *Dispatcher
	// ackFailures acknowledges undecodable messages like any other. When
	// false they are terminated instead so the bus can dead-letter them.
	ackFailures bool
	logger      *slog.Logger
}

// NewConsumer creates a consumer. A nil logger uses slog.Default.
func NewConsumer(d *Dispatcher, ackFailures bool, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{dispatcher: d, ackFailures: ackFailures, logger: logger}
}

// Run subscribes to the entity streams and applies each message. It blocks
// until ctx is cancelled or the subscription channel closes.
func (c *Consumer) Run(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(ctx, decode.Streams)
	if err != nil {
		return fmt.Errorf("dispatch: subscribe: %w", err)
	}
	defer cancel()

	c.logger.Info("dispatch: consumer started", "streams", decode.Streams)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("dispatch: consumer stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				c.logger.Info("dispatch: subscription channel closed")
				return nil
			}
			c.apply(ctx, msg)
		}
	}
}

func (c *Consumer) apply(ctx context.Context, msg events.Message) {
	out := c.dispatcher.Handle(ctx, msg.Stream, msg.Data)

	if out.DecodeFailed() && !c.ackFailures {
		if err := msg.Term(); err != nil {
			c.logger.Warn("dispatch: term failed", "stream", msg.Stream, "err", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		c.logger.Warn("dispatch: ack failed", "stream", msg.Stream, "err", err)
	}
}
