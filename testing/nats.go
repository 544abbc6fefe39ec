package testing

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StartEmbeddedNATS starts an embedded NATS server with JetStream enabled for testing.
//
// The server runs in-process with JetStream enabled and stores data in a temporary
// directory that is automatically cleaned up when the test completes.
//
// The server uses a random available port to avoid conflicts in parallel tests.
//
// Parameters:
//   - t: Testing context for logging and cleanup
//
// Returns:
//   - *server.Server: The embedded NATS server instance
//   - *nats.Conn: Connected NATS client (closed automatically on test completion)
//
// Example:
//
//	func TestMyComponent(t *testing.T) {
//	    ns, nc := dqtest.StartEmbeddedNATS(t)
//	    conn, err := broker.Connect(ctx, broker.Config{URL: ns.ClientURL()}, logger)
//	    // Server and connection are automatically cleaned up
//	}
func StartEmbeddedNATS(t testing.TB) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,          // Use random available port
		JetStream: true,        // Work-queue streams need JetStream
		StoreDir:  t.TempDir(), // Use test temp dir (auto-cleanup)
		NoLog:     true,        // Suppress all server logs in tests
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("Failed to create embedded NATS server: %v", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("Embedded NATS server not ready within timeout")
	}

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(3),
	)
	if err != nil {
		ns.Shutdown()
		t.Fatalf("Failed to connect to embedded NATS server: %v", err)
	}

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return ns, nc
}

// CreateWorkQueueStream creates a work-queue stream capturing subjects.
//
// Parameters:
//   - t: Testing context
//   - nc: NATS connection
//   - name: Stream name
//   - subjects: Subjects captured by the stream
//
// Returns:
//   - jetstream.Stream: The created stream
func CreateWorkQueueStream(t testing.TB, nc *nats.Conn, name string, subjects ...string) jetstream.Stream {
	t.Helper()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Failed to create JetStream context: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.MemoryStorage,
	})
	if err != nil {
		t.Fatalf("Failed to create stream %s: %v", name, err)
	}

	return stream
}

// PublishJob publishes payload to subject through JetStream and waits for the ack.
//
// payload is sent as-is when it is a []byte or string, otherwise it is JSON encoded.
// headers are added to the message (e.g. "reply-to").
func PublishJob(t testing.TB, nc *nats.Conn, subject string, payload any, headers map[string]string) {
	t.Helper()

	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("Failed to encode job: %v", err)
		}
	}

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Failed to create JetStream context: %v", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := js.PublishMsg(ctx, msg); err != nil {
		t.Fatalf("Failed to publish job to %s: %v", subject, err)
	}
}

// Collector gathers core NATS messages delivered to a subscription.
type Collector struct {
	mu   sync.Mutex
	msgs []*nats.Msg
}

// Messages returns a snapshot of the collected messages.
func (c *Collector) Messages() []*nats.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*nats.Msg, len(c.msgs))
	copy(out, c.msgs)

	return out
}

// Len returns the number of collected messages.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.msgs)
}

// SubscribeCollector subscribes to subject and collects every message.
//
// The subscription is flushed before returning so no message published afterwards
// is missed, and is removed on test cleanup.
func SubscribeCollector(t testing.TB, nc *nats.Conn, subject string) *Collector {
	t.Helper()

	c := &Collector{}
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		c.mu.Lock()
		c.msgs = append(c.msgs, m)
		c.mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Failed to subscribe to %s: %v", subject, err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Failed to flush subscription: %v", err)
	}

	t.Cleanup(func() { _ = sub.Unsubscribe() })

	return c
}
