package bus

import (
	"context"

	"github.com/lingobridge/lingobridge-backend/internal/sse"
)

// Bus carries SSE messages between instances so a progress event produced on
// one node reaches clients streaming from another.
type Bus interface {
	Publish(ctx context.Context, msg sse.Message) error
	StartForwarder(ctx context.Context, onMsg func(m sse.Message)) error
	Close() error
}
