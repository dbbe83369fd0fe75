package workflow

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	wakeChannel           = "pixora:workflows:wake"
	progressChannelPrefix = "pixora:workflows:progress:"
)

// Bus carries worker wake-ups and progress snapshots over Redis pub/sub. A nil client
// turns every call into a no-op; the worker still polls and the stream still sends
// its initial snapshot.
type Bus struct {
	redis *redis.Client
}

func NewBus(client *redis.Client) *Bus {
	return &Bus{redis: client}
}

// Wake nudges idle workers to claim immediately.
func (b *Bus) Wake(ctx context.Context) {
	if b == nil || b.redis == nil {
		return
	}
	if err := b.redis.Publish(ctx, wakeChannel, "1").Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to publish workflow wake-up")
	}
}

// Progress publishes a snapshot for stream subscribers.
func (b *Bus) Progress(ctx context.Context, wf *Workflow) {
	if b == nil || b.redis == nil {
		return
	}
	payload, err := json.Marshal(SnapshotOf(wf))
	if err != nil {
		return
	}
	if err := b.redis.Publish(ctx, progressChannelPrefix+wf.ID.String(), payload).Err(); err != nil {
		log.Warn().Err(err).Str("workflow_id", wf.ID.String()).Msg("Failed to publish workflow progress")
	}
}

// Wakeups delivers a non-blocking signal per wake-up until ctx is done.
func (b *Bus) Wakeups(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)
	if b == nil || b.redis == nil {
		return wake
	}

	sub := b.redis.Subscribe(ctx, wakeChannel)
	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake
}

// SubscribeProgress returns raw snapshot payloads for one workflow once the subscription
// is active. The returned function closes the subscription.
func (b *Bus) SubscribeProgress(ctx context.Context, id uuid.UUID) (<-chan []byte, func()) {
	out := make(chan []byte, 16)
	if b == nil || b.redis == nil {
		return out, func() {}
	}

	sub := b.redis.Subscribe(ctx, progressChannelPrefix+id.String())
	// Wait for the confirmation so that the caller's next read is ordered after it.
	if _, err := sub.Receive(ctx); err != nil {
		log.Warn().Err(err).Str("workflow_id", id.String()).Msg("Progress subscription not confirmed")
	}
	done := make(chan struct{})
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()

	return out, func() {
		close(done)
		_ = sub.Close()
	}
}
