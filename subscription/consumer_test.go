package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	dqtest "github.com/arloliu/docqueue/testing"
)

func setupStream(t *testing.T) (*nats.Conn, jetstream.JetStream) {
	t.Helper()
	_, nc := dqtest.StartEmbeddedNATS(t)
	dqtest.CreateWorkQueueStream(t, nc, "JOBS", "jobs.>")
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	return nc, js
}

func newTestConsumer(t *testing.T, js jetstream.JetStream, mutate func(*ConsumerConfig)) *Consumer {
	t.Helper()
	cfg := ConsumerConfig{
		StreamName:   "JOBS",
		Durable:      "ocr-workers",
		FetchTimeout: 100 * time.Millisecond,
		AckWait:      2 * time.Second,
		Logger:       dqtest.NewTestLogger(t),
		RetrySeed:    1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewConsumer(js, cfg)
	require.NoError(t, err)
	require.NoError(t, c.Ensure(t.Context()))

	return c
}

func TestNewConsumer_Validation(t *testing.T) {
	_, js := setupStream(t)

	_, err := NewConsumer(nil, ConsumerConfig{StreamName: "JOBS", Durable: "d"})
	require.Error(t, err)

	_, err = NewConsumer(js, ConsumerConfig{Durable: "d"})
	require.ErrorContains(t, err, "stream name")

	_, err = NewConsumer(js, ConsumerConfig{StreamName: "JOBS"})
	require.ErrorContains(t, err, "durable")

	c, err := NewConsumer(js, ConsumerConfig{StreamName: "JOBS", Durable: "ocr workers.v2"})
	require.NoError(t, err)
	require.Equal(t, "ocr_workers_v2", c.Durable())
	require.Equal(t, DefaultBatchSize, c.Config().BatchSize)
	require.Equal(t, DefaultAckWait, c.Config().AckWait)
}

func TestConsumer_NotReady(t *testing.T) {
	_, js := setupStream(t)
	c, err := NewConsumer(js, ConsumerConfig{StreamName: "JOBS", Durable: "d"})
	require.NoError(t, err)

	_, err = c.Fetch(t.Context())
	require.ErrorIs(t, err, ErrConsumerNotReady)

	_, err = c.Info(t.Context())
	require.ErrorIs(t, err, ErrConsumerNotReady)

	err = c.Run(t.Context(), MessageHandlerFunc(func(context.Context, jetstream.Msg) error { return nil }))
	require.ErrorIs(t, err, ErrConsumerNotReady)
}

func TestConsumer_Ensure(t *testing.T) {
	_, js := setupStream(t)
	c := newTestConsumer(t, js, func(cfg *ConsumerConfig) {
		cfg.MaxDeliver = 5
		cfg.FilterSubjects = []string{"jobs.ocr"}
	})

	info, err := c.Info(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ocr-workers", info.Config.Durable)
	require.Equal(t, jetstream.AckExplicitPolicy, info.Config.AckPolicy)
	require.Equal(t, 2*time.Second, info.Config.AckWait)
	require.Equal(t, 5, info.Config.MaxDeliver)
	require.Equal(t, "jobs.ocr", info.Config.FilterSubject)

	// Re-registration is idempotent.
	require.NoError(t, c.Ensure(t.Context()))
}

func TestConsumer_EnsureMissingStream(t *testing.T) {
	_, nc := dqtest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	c, err := NewConsumer(js, ConsumerConfig{StreamName: "MISSING", Durable: "d", MaxRetries: 1, RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	require.Error(t, c.Ensure(t.Context()))
}

func TestConsumer_FetchIdle(t *testing.T) {
	_, js := setupStream(t)
	c := newTestConsumer(t, js, nil)

	res, err := c.Fetch(t.Context())
	require.NoError(t, err)
	require.Equal(t, FetchIdle, res.Status)
	require.Empty(t, res.Messages)
}

func TestConsumer_FetchMessages(t *testing.T) {
	nc, js := setupStream(t)
	c := newTestConsumer(t, js, func(cfg *ConsumerConfig) { cfg.BatchSize = 5 })

	for range 3 {
		dqtest.PublishJob(t, nc, "jobs.ocr", `{"batchId":"b"}`, nil)
	}

	res, err := c.Fetch(t.Context())
	require.NoError(t, err)
	require.Equal(t, FetchMessages, res.Status)
	require.Len(t, res.Messages, 3)
	for _, m := range res.Messages {
		require.NoError(t, m.Ack())
	}
}

func TestConsumer_CompetingReplicas(t *testing.T) {
	nc, js := setupStream(t)
	a := newTestConsumer(t, js, nil)
	b := newTestConsumer(t, js, nil)

	dqtest.PublishJob(t, nc, "jobs.ocr", `{"batchId":"only"}`, nil)

	ra, err := a.Fetch(t.Context())
	require.NoError(t, err)
	rb, err := b.Fetch(t.Context())
	require.NoError(t, err)

	require.Equal(t, 1, len(ra.Messages)+len(rb.Messages))
}

func TestConsumer_Run(t *testing.T) {
	t.Run("dispatches and stops on cancel", func(t *testing.T) {
		nc, js := setupStream(t)
		c := newTestConsumer(t, js, nil)

		var handled atomic.Int32
		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() {
			done <- c.Run(ctx, MessageHandlerFunc(func(_ context.Context, msg jetstream.Msg) error {
				handled.Add(1)
				return msg.Ack()
			}))
		}()

		for range 4 {
			dqtest.PublishJob(t, nc, "jobs.tag", `{}`, nil)
		}
		require.Eventually(t, func() bool { return handled.Load() == 4 }, 5*time.Second, 10*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})

	t.Run("batch is processed concurrently", func(t *testing.T) {
		nc, js := setupStream(t)
		c := newTestConsumer(t, js, func(cfg *ConsumerConfig) { cfg.BatchSize = 3 })

		for range 3 {
			dqtest.PublishJob(t, nc, "jobs.ocr", `{}`, nil)
		}

		var mu sync.Mutex
		var running, peak int
		release := make(chan struct{})
		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan struct{})

		go func() {
			defer close(done)
			_ = c.Run(ctx, MessageHandlerFunc(func(_ context.Context, msg jetstream.Msg) error {
				mu.Lock()
				running++
				peak = max(peak, running)
				mu.Unlock()
				<-release
				mu.Lock()
				running--
				mu.Unlock()
				return msg.Ack()
			}))
		}()

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return peak == 3
		}, 5*time.Second, 10*time.Millisecond)
		close(release)
		cancel()
		<-done
	})

	t.Run("handler required", func(t *testing.T) {
		_, js := setupStream(t)
		c := newTestConsumer(t, js, nil)
		require.ErrorIs(t, c.Run(t.Context(), nil), ErrHandlerRequired)
	})

	t.Run("re-registers deleted durable", func(t *testing.T) {
		nc, js := setupStream(t)
		c := newTestConsumer(t, js, func(cfg *ConsumerConfig) {
			cfg.ErrorBackoffBase = 10 * time.Millisecond
			cfg.ErrorBackoffCap = 50 * time.Millisecond
		})
		require.NoError(t, js.DeleteConsumer(t.Context(), "JOBS", "ocr-workers"))

		var handled atomic.Int32
		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = c.Run(ctx, MessageHandlerFunc(func(_ context.Context, msg jetstream.Msg) error {
				handled.Add(1)
				return msg.Ack()
			}))
		}()

		dqtest.PublishJob(t, nc, "jobs.ocr", `{}`, nil)
		require.Eventually(t, func() bool { return handled.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
		cancel()
		<-done
	})
}

func TestFetchStatus_String(t *testing.T) {
	require.Equal(t, "idle", FetchIdle.String())
	require.Equal(t, "messages", FetchMessages.String())
}

func TestSanitizeConsumerName(t *testing.T) {
	require.Equal(t, "ocr-workers", sanitizeConsumerName("ocr-workers"))
	require.Equal(t, "a_b_c_d_e_f", sanitizeConsumerName("a.b*c>d/e\\f"))
	require.Equal(t, "x_y", sanitizeConsumerName("x\ty"))
}
