package bus

import (
	"context"

	"github.com/zapdesk/zapdesk-backend/internal/realtime"
)

// Bus mirrors hub events across instances so a viewer connected to one
// replica still sees mutations committed on another.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
