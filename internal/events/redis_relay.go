package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opsdesk/support-desk/pkg/util"
)

const relayChannelPrefix = "desk:events:"

// relayEnvelope is the wire form of an event on the Redis side. Origin
// identifies the publishing process so a relay never re-applies its own
// events; Seq is process-local and reassigned on the receiving side.
type relayEnvelope struct {
	Origin string `json:"origin"`
	Topic  string `json:"topic"`
	Event  Event  `json:"event"`
}

// RedisRelay extends a local bus across processes via Redis Pub/Sub.
// Events published locally are mirrored onto a Redis channel per topic;
// events arriving from other processes are folded into the local bus,
// where they receive local sequence numbers. A Redis outage degrades to
// single-process operation: the local publish has already succeeded, so
// the mirror failure is reported as TransportUnavailable and the write
// stands.
type RedisRelay struct {
	origin string
	local  Bus
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedisRelay wraps the local bus.
func NewRedisRelay(local Bus, client *redis.Client, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		origin: uuid.NewString(),
		local:  local,
		client: client,
		logger: logger,
	}
}

// Publish implements Bus.
func (r *RedisRelay) Publish(ctx context.Context, topic string, evt Event) error {
	if err := r.local.Publish(ctx, topic, evt); err != nil {
		return err
	}
	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Topic: topic, Event: evt})
	if err != nil {
		return util.NewTransportUnavailable(err)
	}
	if err := r.client.Publish(ctx, relayChannelPrefix+topic, payload).Err(); err != nil {
		return util.NewTransportUnavailable(err)
	}
	return nil
}

// Subscribe implements Bus.
func (r *RedisRelay) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return r.local.Subscribe(ctx, topic)
}

// SubscribeFrom implements Bus.
func (r *RedisRelay) SubscribeFrom(ctx context.Context, topic string, afterSeq uint64) (*Subscription, error) {
	return r.local.SubscribeFrom(ctx, topic, afterSeq)
}

// CurrentSeq implements Bus.
func (r *RedisRelay) CurrentSeq(topic string) uint64 {
	return r.local.CurrentSeq(topic)
}

// Start consumes remote events until ctx is cancelled or Stop is called.
func (r *RedisRelay) Start(ctx context.Context) {
	pubsub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	r.mu.Lock()
	r.pubsub = pubsub
	r.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			var envelope relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				r.logger.Warn("malformed relay payload", zap.Error(err))
				continue
			}
			if envelope.Origin == r.origin {
				continue
			}
			topic := envelope.Topic
			if topic == "" {
				topic = strings.TrimPrefix(msg.Channel, relayChannelPrefix)
			}
			if err := r.local.Publish(ctx, topic, envelope.Event); err != nil {
				r.logger.Warn("relay publish failed",
					zap.String("topic", topic), zap.Error(err))
			}
		}
	}()
}

// Stop closes the Redis subscription; local delivery is unaffected.
func (r *RedisRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		_ = r.pubsub.Close()
		r.pubsub = nil
	}
}
