package sink

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/permitlink/internal/events"
)

// NATSSink publishes each attribution record as a JSON event on the
// attributions topic.
type NATSSink struct {
	pub events.Publisher
}

var _ Sink = (*NATSSink)(nil)

// NewNATS creates a sink that publishes through pub. The sink owns pub and
// closes it on Close.
func NewNATS(pub events.Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Record(ctx context.Context, records []Attribution) error {
	for _, r := range records {
		if err := s.pub.Publish(ctx, events.TopicAttributions, r); err != nil {
			return fmt.Errorf("publish attribution %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *NATSSink) Close() error {
	return s.pub.Close()
}
