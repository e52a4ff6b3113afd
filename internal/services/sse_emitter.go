package services

import (
	"context"

	redisclient "github.com/Simmak7/project-Mnemosyne-sub001/internal/clients/redis"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/sse"
)

// SSEEmitter abstracts where realtime events go: straight into the local hub
// when the API serves them itself, or onto the redis bus when the worker runs
// in its own process.
type SSEEmitter interface {
	Emit(ctx context.Context, msg sse.SSEMessage)
}

type HubEmitter struct{ Hub *sse.SSEHub }

func (e *HubEmitter) Emit(_ context.Context, msg sse.SSEMessage) {
	e.Hub.Broadcast(msg)
}

type RedisEmitter struct{ Bus redisclient.SSEBus }

func (e *RedisEmitter) Emit(ctx context.Context, msg sse.SSEMessage) {
	_ = e.Bus.Publish(ctx, msg)
}
