package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// startTestNATS starts an embedded NATS server with JetStream enabled and
// returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, JetStream: true, StoreDir: t.TempDir()}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func connect(t *testing.T, url string) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestSubjectMapping(t *testing.T) {
	for _, tc := range []struct {
		prefix, stream, subject string
	}{
		{"", "asset", "asset"},
		{"cdc.plant", "work-permit", "cdc.plant.work-permit"},
	} {
		if got := Subject(tc.prefix, tc.stream); got != tc.subject {
			t.Errorf("Subject(%q, %q) = %q, want %q", tc.prefix, tc.stream, got, tc.subject)
		}
		if got := StreamFromSubject(tc.prefix, tc.subject); got != tc.stream {
			t.Errorf("StreamFromSubject(%q, %q) = %q, want %q", tc.prefix, tc.subject, got, tc.stream)
		}
	}
	if got := StreamFromSubject("cdc", "other.asset"); got != "other.asset" {
		t.Errorf("foreign subject mapped to %q", got)
	}
}

func TestMessage_AckWithoutHooks(t *testing.T) {
	m := NewMessage("asset", "asset", nil)
	if err := m.Ack(); err != nil {
		t.Errorf("Ack: %v", err)
	}
	if err := m.Term(); err != nil {
		t.Errorf("Term: %v", err)
	}
}

func TestMessage_AckHooks(t *testing.T) {
	var acked, termed bool
	m := NewMessage("asset", "asset", nil)
	m.ack = func() error { acked = true; return nil }
	m.term = func() error { termed = true; return errors.New("gone") }

	if err := m.Ack(); err != nil || !acked {
		t.Errorf("Ack: err=%v acked=%v", err, acked)
	}
	if err := m.Term(); err == nil || !termed {
		t.Errorf("Term: err=%v termed=%v", err, termed)
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, "plant")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc := connect(t, url)
	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("plant."+TopicAttributions, ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	if err := pub.Publish(context.Background(), TopicAttributions, map[string]any{"permit_number": "WP-001"}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	pub.conn.Flush()

	select {
	case msg := <-ch:
		var got map[string]any
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["permit_number"] != "WP-001" {
			t.Errorf("got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisher_Close(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, "")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := pub.Publish(context.Background(), TopicAttributions, struct{}{}); err == nil {
		t.Error("expected error publishing after close")
	}
}

func TestNATSSubscriber_ReceivesStreams(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url, "cdc")
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(context.Background(), []string{"asset", "work-permit"})
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	nc := connect(t, url)
	if err := nc.Publish("cdc.asset", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	// Not subscribed: must not be delivered.
	if err := nc.Publish("cdc.datapoints", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	if err := nc.Publish("cdc.work-permit", []byte(`{"n":3}`)); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	nc.Flush()

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		msg := receive(t, ch)
		got[msg.Stream] = string(msg.Data)
		if msg.Subject != "cdc."+msg.Stream {
			t.Errorf("Subject = %q for stream %q", msg.Subject, msg.Stream)
		}
	}
	if got["asset"] != `{"n":1}` || got["work-permit"] != `{"n":3}` {
		t.Errorf("received %v", got)
	}

	select {
	case msg := <-ch:
		t.Errorf("unexpected message on %s", msg.Subject)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSSubscriber_KeepsOrderAcrossStreams(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url, "cdc")
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	streams := []string{"asset", "work-permit", "permit-asset", "datapoints"}
	ch, cancel, err := sub.Subscribe(context.Background(), streams)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	const rounds = 500
	nc := connect(t, url)
	seq := 0
	for i := 0; i < rounds; i++ {
		for _, stream := range streams {
			data, _ := json.Marshal(map[string]int{"seq": seq})
			if err := nc.Publish("cdc."+stream, data); err != nil {
				t.Fatalf("publishing: %v", err)
			}
			seq++
		}
		// Outside the requested streams: filtered out.
		if err := nc.Publish("cdc."+TopicAttributions, []byte(`{"seq":-1}`)); err != nil {
			t.Fatalf("publishing: %v", err)
		}
	}
	nc.Flush()

	for want := 0; want < rounds*len(streams); want++ {
		msg := receive(t, ch)
		var got struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Seq != want {
			t.Fatalf("message %d on %s has seq %d, want %d", want, msg.Stream, got.Seq, want)
		}
		if wantStream := streams[want%len(streams)]; msg.Stream != wantStream {
			t.Fatalf("message %d stream = %q, want %q", want, msg.Stream, wantStream)
		}
	}
}

func TestNATSSubscriber_Cancel(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url, "")
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(context.Background(), []string{"asset"})
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	cancel()
	// Calling cancel twice should not panic.
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}

func TestNATSSubscriber_CancelWhileSendersBlocked(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url, "")
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(context.Background(), []string{"datapoints"})
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	// Overfill the channel so the handler blocks, then cancel.
	nc := connect(t, url)
	for i := 0; i < 200; i++ {
		_ = nc.Publish("datapoints", []byte(`{}`))
	}
	nc.Flush()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		cancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel blocked on a full channel")
	}

	for range ch {
		// drain until closed
	}
}

func TestNATSSubscriber_ImplementsSubscriber(t *testing.T) {
	var _ Subscriber = (*NATSSubscriber)(nil)
	var _ Subscriber = (*JetStreamSubscriber)(nil)
	var _ Publisher = (*NATSPublisher)(nil)
}

func createTestStream(t *testing.T, url, name string, subjects ...string) jetstream.JetStream {
	t.Helper()
	js, err := jetstream.New(connect(t, url))
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := js.CreateStream(ctx, jetstream.StreamConfig{Name: name, Subjects: subjects}); err != nil {
		t.Fatalf("creating stream: %v", err)
	}
	return js
}

func TestJetStreamSubscriber_DeliversBacklogInOrder(t *testing.T) {
	url := startTestNATS(t)
	js := createTestStream(t, url, "CDC", "cdc.>")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Published before the consumer exists: delivered from the start.
	for _, m := range []struct{ subject, data string }{
		{"cdc.asset", `1`},
		{"cdc.work-permit", `2`},
		{"cdc.audit", `skip`},
		{"cdc.permit-asset", `3`},
	} {
		if _, err := js.Publish(ctx, m.subject, []byte(m.data)); err != nil {
			t.Fatalf("publish %s: %v", m.subject, err)
		}
	}

	sub, err := NewJetStreamSubscriber(url, "CDC", "test-durable", "cdc")
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, stop, err := sub.Subscribe(ctx, []string{"asset", "work-permit", "permit-asset"})
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer stop()

	for _, want := range []struct{ stream, data string }{
		{"asset", "1"}, {"work-permit", "2"}, {"permit-asset", "3"},
	} {
		msg := receive(t, ch)
		if msg.Stream != want.stream || string(msg.Data) != want.data {
			t.Errorf("got %s=%s, want %s=%s", msg.Stream, msg.Data, want.stream, want.data)
		}
		if err := msg.Ack(); err != nil {
			t.Errorf("Ack: %v", err)
		}
	}
}

func TestJetStreamSubscriber_AckedMessagesNotRedelivered(t *testing.T) {
	url := startTestNATS(t)
	js := createTestStream(t, url, "CDC", "asset")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := js.Publish(ctx, "asset", []byte(`first`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sub, err := NewJetStreamSubscriber(url, "CDC", "durable", "")
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, stop, err := sub.Subscribe(ctx, []string{"asset"})
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	msg := receive(t, ch)
	if err := msg.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	// Let the ack reach the server before tearing the consumer down.
	time.Sleep(100 * time.Millisecond)
	stop()

	if _, err := js.Publish(ctx, "asset", []byte(`second`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ch, stop, err = sub.Subscribe(ctx, []string{"asset"})
	if err != nil {
		t.Fatalf("resubscribing: %v", err)
	}
	defer stop()
	if msg := receive(t, ch); string(msg.Data) != "second" {
		t.Errorf("resumed at %q, want second", msg.Data)
	}
}
