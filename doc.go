// Package docqueue provides a durable work-queue consumer for document extraction
// jobs (OCR, tagging) on NATS JetStream.
//
// A Worker pulls jobs from a work-queue stream through a durable consumer shared by
// every replica, resolves the document bytes (http, https or file URIs), runs an
// extraction Engine and publishes exactly one outcome envelope per job before
// acknowledging it. Jobs whose outcome could not be published are left un-acked and
// redelivered by the broker, up to the consumer's MaxDeliver.
//
// # Quick Start
//
//	import (
//	    "github.com/arloliu/docqueue"
//	    "github.com/arloliu/docqueue/broker"
//	)
//
//	cfg := docqueue.DefaultConfig()
//	conn, err := broker.Connect(cfg.Broker, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	engine := docqueue.EngineFunc(func(ctx context.Context, data []byte, opts docqueue.Options) (*docqueue.Output, error) {
//	    text, err := ocr.Extract(ctx, data)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &docqueue.Output{Data: text, Language: "en"}, nil
//	})
//
//	w, err := docqueue.NewWorker(&cfg, conn, engine, docqueue.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	if err := w.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Job lifecycle
//
// Every message goes through the JobState machine:
//
//	Fetched → Heartbeating → ResolvingSource → Processing → Publishing → Acked
//
// While a job runs, an in-progress signal is sent every AckWait/2 so long
// extractions are not redelivered. Resolution, decode and engine failures publish an
// error envelope (PublishingError → Acked). An engine error wrapped with Retryable is
// nak'ed with Consumer.NakDelay instead, until the last allowed delivery.
//
// # Outcome routing
//
// Envelopes are published to the job's reply-to header when present, otherwise to
// Config.OutputSubject. Publishes carry a Nats-Msg-Id derived from the batch id and
// the job's stream sequence, so a redelivered job that publishes again is collapsed
// by the output stream's duplicate window.
//
// # Introspection
//
// Each worker subscribes to <health>.> and answers health requests on
// <health>.<hostname> and on the broadcast subject <health>.all. Version requests on
// the version subject are served through a queue group.
package docqueue
