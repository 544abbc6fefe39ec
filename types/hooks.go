package types

import "context"

// Hooks defines callbacks for job lifecycle events.
//
// All hooks are optional. They are called synchronously from the message task, so
// they must complete quickly; a slow hook delays the ack of the message.
// Hook errors are logged but never change the outcome of a job.
//
// Example:
//
//	hooks := &docqueue.Hooks{
//	    OnJobStateChanged: func(ctx context.Context, batchID string, from, to docqueue.JobState) error {
//	        if to == docqueue.JobUnackedAwaitingRedelivery {
//	            alerts.Inc(batchID)
//	        }
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnJobStateChanged is called on every per-message state transition.
	OnJobStateChanged func(ctx context.Context, batchID string, from, to JobState) error

	// OnError is called when a job fails with a classified error.
	OnError func(ctx context.Context, batchID string, err error) error
}
