package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rahul3988/game-sub000/pkg/infra"
	"github.com/rahul3988/game-sub000/pkg/retry"
)

const bridgeBuffer = 256

// Bridge forwards every Bus event to the message queue under
// "<prefix>.<type>".
type Bridge struct {
	queue  infra.MessageQueue
	prefix string
	log    *slog.Logger
}

func NewBridge(queue infra.MessageQueue, prefix string, log *slog.Logger) *Bridge {
	return &Bridge{queue: queue, prefix: prefix, log: log}
}

func (b *Bridge) Subject(typ string) string {
	return b.prefix + "." + typ
}

// Subscribe attaches to every topic of bus. Call it before anything publishes.
func (b *Bridge) Subscribe(bus *Bus) (<-chan Envelope, func()) {
	return bus.All.Subscribe(bridgeBuffer)
}

// Run forwards envelopes from ch until ctx is done. Publish failures are
// retried briefly and then dropped; the stream is a notification channel,
// not the record.
func (b *Bridge) Run(ctx context.Context, ch <-chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			b.forward(ctx, env)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.log.Error("Marshal event failed", "type", env.Type, "err", err)
		return
	}

	subject := b.Subject(env.Type)
	err = retry.Exponential(ctx, func() error {
		return b.queue.Enqueue(ctx, subject, data, &infra.EnqueueOptions{IdempotentKey: env.Key})
	}, retry.ExponentialConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  5 * time.Second,
	})
	if err != nil {
		b.log.Warn("Dropping event after publish retries", "subject", subject, "key", env.Key, "err", err)
	}
}
