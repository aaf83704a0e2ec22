package repository

import (
	"context"
	"encoding/json"

	"profitum_messaging/internal/messaging/domain"
	errprocess "profitum_messaging/pkg/err"
	"profitum_messaging/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// PubSub realtime change-event transport. Subscribe blocks until the
// channels are acked, then pumps events on a background goroutine
// until ctx is cancelled. Decode failures go to errHandler, never to
// the caller.
type PubSub interface {
	Publish(ctx context.Context, channel string, ev domain.ChangeEvent) error
	Subscribe(ctx context.Context, handler func(domain.ChangeEvent), errHandler func(error), channels ...string) error
}

type redisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub create a PubSub over one redis client
func NewRedisPubSub(client *redis.Client) PubSub {
	return &redisPubSub{client: client}
}

func (p *redisPubSub) Publish(ctx context.Context, channel string, ev domain.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return errprocess.Network("publish change event failed", err)
	}
	return nil
}

func (p *redisPubSub) Subscribe(ctx context.Context, handler func(domain.ChangeEvent), errHandler func(error), channels ...string) error {
	sub := p.client.Subscribe(ctx, channels...)

	// wait for the subscribe ack so the caller knows events will flow
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return errprocess.Network("subscribe failed", err)
	}

	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if errHandler != nil {
						errHandler(errprocess.Network("realtime channel closed", nil))
					}
					return
				}
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Log.Error("decode change event failed", zap.String("channel", msg.Channel), zap.Error(err))
					if errHandler != nil {
						errHandler(err)
					}
					continue
				}
				handler(ev)
			}
		}
	}()

	return nil
}
