package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdesk/support-desk/internal/observability"
)

const (
	defaultBacklog = 256
	defaultBuffer  = 64
)

// MemoryBus is the in-process Bus implementation. Each topic keeps a
// monotonically increasing sequence counter and a bounded backlog of
// recent events so late subscribers can resume without gaps: the backlog
// replay and the live attach happen under the same topic lock, so there is
// no position at which an event can slip between them.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]*topicState
	closed bool

	backlogSize int
	bufferSize  int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

type topicState struct {
	mu      sync.Mutex
	seq     uint64
	backlog []Event
	subs    map[uint64]*Subscription
	nextSub uint64
}

// MemoryBusOptions tunes bus capacity.
type MemoryBusOptions struct {
	// BacklogSize is how many events per topic are retained for
	// SubscribeFrom replay.
	BacklogSize int
	// BufferSize is the per-subscriber delivery channel capacity; a
	// subscriber that falls this far behind is dropped.
	BufferSize int
	Metrics    *observability.Metrics
}

// NewMemoryBus constructs the bus.
func NewMemoryBus(logger *zap.Logger, opts MemoryBusOptions) *MemoryBus {
	if opts.BacklogSize <= 0 {
		opts.BacklogSize = defaultBacklog
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		topics:      make(map[string]*topicState),
		backlogSize: opts.BacklogSize,
		bufferSize:  opts.BufferSize,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// Publish implements Bus. The event's ID and Timestamp are filled in when
// the caller left them zero.
func (b *MemoryBus) Publish(ctx context.Context, topic string, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := b.topic(topic)
	if err != nil {
		return err
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	evt.Seq = t.seq
	t.backlog = append(t.backlog, evt)
	if len(t.backlog) > b.backlogSize {
		t.backlog = t.backlog[len(t.backlog)-b.backlogSize:]
	}

	for id, sub := range t.subs {
		select {
		case sub.ch <- evt:
		default:
			// Never block a publisher on a stalled viewer. The viewer
			// notices the closed channel and reattaches with a snapshot.
			delete(t.subs, id)
			sub.close(ErrSlowConsumer)
			b.logger.Warn("dropped slow subscriber",
				zap.String("topic", topic),
				zap.Uint64("seq", evt.Seq))
			b.metrics.RecordSubscriberDropped(topic)
		}
	}
	b.metrics.RecordEventPublished(topic)
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return b.SubscribeFrom(ctx, topic, b.CurrentSeq(topic))
}

// SubscribeFrom implements Bus.
func (b *MemoryBus) SubscribeFrom(ctx context.Context, topic string, afterSeq uint64) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := b.topic(topic)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if afterSeq > t.seq {
		afterSeq = t.seq
	}
	missed := t.seq - afterSeq
	if missed > uint64(len(t.backlog)) {
		return nil, ErrReplayWindow
	}

	sub := &Subscription{
		topic: topic,
		ch:    make(chan Event, int(missed)+b.bufferSize),
	}
	for _, evt := range t.backlog {
		if evt.Seq > afterSeq {
			sub.ch <- evt
		}
	}

	id := t.nextSub
	t.nextSub++
	t.subs[id] = sub
	sub.detach = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; !ok {
			return
		}
		delete(t.subs, id)
		sub.close(nil)
	}
	return sub, nil
}

// CurrentSeq implements Bus.
func (b *MemoryBus) CurrentSeq(topic string) uint64 {
	b.mu.Lock()
	t, ok := b.topics[topic]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Close drops every subscription and rejects further use.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]*topicState, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		for id, sub := range t.subs {
			delete(t.subs, id)
			sub.close(ErrBusClosed)
		}
		t.mu.Unlock()
	}
}

func (b *MemoryBus) topic(name string) (*topicState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	t, ok := b.topics[name]
	if !ok {
		t = &topicState{subs: make(map[uint64]*Subscription)}
		b.topics[name] = t
	}
	return t, nil
}
