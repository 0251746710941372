// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
// Produce failures are logged by callers and never propagated further; the
// external bus is best-effort fan-out.
type Queue interface {
	// Publish sends a message to the given subject. Key is used for
	// partitioning/deduplication where the backend supports it.
	Publish(ctx context.Context, subject string, data []byte, key string) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for the persona bus topics.
const (
	SubjectExec      = "persona.exec.v1"      // consumed: execution requests from external producers
	SubjectOutput    = "persona.output.v1"    // produced: {executionId, chunk, timestamp}
	SubjectLifecycle = "persona.lifecycle.v1" // produced: completion and failure lifecycle records
	SubjectEvents    = "persona.events.v1"    // produced: worker-emitted persona events
	SubjectDLQ       = "persona.dlq.v1"       // reserved
)
