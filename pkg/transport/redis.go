package transport

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"chatsync/pkg/logger"
)

// Redis is a Transport over redis pub/sub. Redis assigns no client
// identity, so one is minted locally at construction.
type Redis struct {
	client   *redis.Client
	clientID string
	cancel   context.CancelFunc
	ctx      context.Context
}

func NewRedis(addr, password string, db int) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		clientID: "client:" + ulid.Make().String(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Redis) Subscribe(channel string, h Handler) (func(), error) {
	ps := r.client.Subscribe(r.ctx, channel)
	// force the subscription before returning so publishes are not lost
	if _, err := ps.Receive(r.ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	go func() {
		for msg := range ps.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("redis_frame_malformed", "channel", channel, "error", err)
				continue
			}
			if env.Event == "" {
				continue
			}
			h(env.Event, env.Payload)
		}
	}()
	return func() { _ = ps.Close() }, nil
}

func (r *Redis) Publish(ctx context.Context, channel, event string, payload []byte) error {
	body, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, body).Err()
}

func (r *Redis) ClientID() string { return r.clientID }

func (r *Redis) Close() error {
	r.cancel()
	return r.client.Close()
}
