package events

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrSlowConsumer is reported by a Subscription whose delivery channel
	// filled up; the bus drops such subscribers rather than block
	// publishers, and viewers reattach with a fresh snapshot.
	ErrSlowConsumer = errors.New("events: subscriber too slow, delivery stopped")

	// ErrReplayWindow means the requested resume position is older than
	// the retained backlog; the caller must re-snapshot instead.
	ErrReplayWindow = errors.New("events: resume position outside replay window")

	// ErrBusClosed is returned once the bus has shut down.
	ErrBusClosed = errors.New("events: bus closed")
)

// Bus fans change events out to live subscriptions. For a given topic,
// events are delivered to every subscriber in publish order; no ordering
// holds across topics. Delivery is at-least-once: a resumed subscriber may
// see events it already applied.
type Bus interface {
	// Publish assigns the event its topic sequence number and delivers it
	// to current subscribers.
	Publish(ctx context.Context, topic string, evt Event) error

	// Subscribe attaches at the topic's current position; only events
	// published afterwards are delivered.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)

	// SubscribeFrom attaches after afterSeq, replaying retained events
	// with greater sequence numbers before any live event. Returns
	// ErrReplayWindow when the backlog no longer reaches afterSeq.
	SubscribeFrom(ctx context.Context, topic string, afterSeq uint64) (*Subscription, error)

	// CurrentSeq returns the sequence number of the last event published
	// on the topic, zero if none.
	CurrentSeq(topic string) uint64
}

// Subscription is one viewer's attachment to a topic. It holds no
// ownership over ticket or message data, only a delivery channel.
type Subscription struct {
	topic string

	mu     sync.Mutex
	ch     chan Event
	err    error
	closed bool

	detach func()
}

// Events returns the delivery channel. It is closed on Unsubscribe or when
// the bus drops the subscriber; check Err afterwards to distinguish the
// two.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Err reports why delivery stopped, nil for an intentional unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe stops delivery and releases the subscription's resources.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.detach != nil {
		s.detach()
	}
}

// close terminates delivery with the given reason. Callers must hold
// whatever lock guards concurrent sends on s.ch.
func (s *Subscription) close(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = reason
	close(s.ch)
}
