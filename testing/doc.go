// Package testing provides test utilities for docqueue.
//
// This package offers helpers for setting up test environments, particularly
// embedded NATS servers for integration testing. It follows Go's convention
// of providing testing utilities in a dedicated package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream
//   - CreateWorkQueueStream: Work-queue stream bound to a set of subjects
//   - PublishJob: Publishes a job payload with optional headers
//   - SubscribeCollector: Collects core NATS messages from a subject
//   - NewTestLogger: types.Logger writing to t.Logf and recording entries
//
// Example usage:
//
//	import (
//	    "testing"
//	    dqtest "github.com/arloliu/docqueue/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := dqtest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
