package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
	"github.com/lingobridge/lingobridge-backend/internal/sse"
)

// busEnvelope is the wire form of an event on the bus. The job id travels in
// the redis channel name, not the payload, so it is rebuilt on receive.
type busEnvelope struct {
	Event sse.Event `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// redisBus relays hub events across instances over redis pub/sub. Each job
// gets its own topic under a shared prefix and the forwarder pattern-subscribes
// to the whole prefix, so an instance only ever unpacks whole-job topics.
type redisBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	prefix := strings.TrimSpace(os.Getenv("REDIS_EVENT_PREFIX"))
	if prefix == "" {
		prefix = "lingobridge:events:"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:    log.With("component", "RedisEventBus"),
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg sse.Message) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("event bus not initialized")
	}
	if msg.Channel == "" {
		return fmt.Errorf("event without a channel")
	}
	raw, err := json.Marshal(busEnvelope{Event: msg.Event, Data: msg.Data})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.prefix+msg.Channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m sse.Message)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("event bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.PSubscribe(ctx, b.prefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}

	go b.forward(ctx, sub, onMsg)
	return nil
}

func (b *redisBus) forward(ctx context.Context, sub *goredis.PubSub, onMsg func(m sse.Message)) {
	defer sub.Close()
	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok || m == nil {
				return
			}
			msg, err := b.decode(m.Channel, m.Payload)
			if err != nil {
				b.log.Warn("dropping bus event", "channel", m.Channel, "error", err)
				continue
			}
			onMsg(msg)
		}
	}
}

func (b *redisBus) decode(topic, payload string) (sse.Message, error) {
	jobID := strings.TrimPrefix(topic, b.prefix)
	if jobID == "" || jobID == topic {
		return sse.Message{}, fmt.Errorf("topic %q outside event prefix", topic)
	}
	var env busEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return sse.Message{}, err
	}
	return sse.Message{Channel: jobID, Event: env.Event, Data: env.Data}, nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
