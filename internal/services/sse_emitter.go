package services

import (
	"context"

	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
	"github.com/zapdesk/zapdesk-backend/internal/realtime"
	"github.com/zapdesk/zapdesk-backend/internal/realtime/bus"
)

type SSEEmitter interface {
	Emit(ctx context.Context, msg realtime.SSEMessage)
}

// FanoutEmitter broadcasts to locally connected viewers and, when a bus
// is wired, mirrors the event to the other instances.
type FanoutEmitter struct {
	Hub      *realtime.Hub
	Bus      bus.Bus
	Log      *logger.Logger
	Instance string
}

func (e *FanoutEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	msg.Origin = e.Instance
	if e.Hub != nil {
		e.Hub.Broadcast(msg)
	}
	if e.Bus != nil {
		if err := e.Bus.Publish(ctx, msg); err != nil && e.Log != nil {
			e.Log.Warn("failed to publish SSE event to bus", "error", err)
		}
	}
}
