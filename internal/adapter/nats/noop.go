package nats

import (
	"context"

	"github.com/calyptra/maestro/internal/port/messagequeue"
)

// Noop is the substitute bus used when NATS is not configured. Publishes are
// discarded; subscriptions never fire. The only semantic change is the loss
// of external fan-out.
type Noop struct{}

// NewNoop creates a no-op queue.
func NewNoop() *Noop {
	return &Noop{}
}

func (*Noop) Publish(context.Context, string, []byte, string) error {
	return nil
}

func (*Noop) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (*Noop) Close() error { return nil }

func (*Noop) IsConnected() bool { return false }
