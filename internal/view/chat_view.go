package view

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/internal/repository"
)

// ChatView is a live read model of one ticket: its metadata plus the full
// message thread. A viewer that opens the chat after K messages exist and
// then sees M appends ends up with exactly K+M messages in log order:
// the snapshot-then-subscribe handoff happens at a single position in the
// topic's event order, and replayed duplicates are skipped by message id.
type ChatView struct {
	tickets  repository.TicketRepository
	messages repository.MessageRepository
	bus      events.Bus
	ticketID string
	logger   *zap.Logger

	mu      sync.RWMutex
	ticket  domain.Ticket
	thread  []domain.ChatMessage
	seen    map[string]struct{}
	sub     *events.Subscription
	closed  bool
	err     error
	updates chan events.Event
	done    chan struct{}
}

// OpenChatView builds the view and starts consuming events. Access
// control happens before opening; the view itself trusts its caller.
func OpenChatView(ctx context.Context, tickets repository.TicketRepository, messages repository.MessageRepository, bus events.Bus, ticketID string, logger *zap.Logger) (*ChatView, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &ChatView{
		tickets:  tickets,
		messages: messages,
		bus:      bus,
		ticketID: ticketID,
		logger:   logger,
		updates:  make(chan events.Event, 64),
		done:     make(chan struct{}),
	}
	if err := v.resync(ctx); err != nil {
		return nil, err
	}
	go v.run(ctx)
	return v, nil
}

func (v *ChatView) resync(ctx context.Context) error {
	topic := events.TicketTopic(v.ticketID)
	for {
		seq := v.bus.CurrentSeq(topic)
		ticket, err := v.tickets.GetByID(ctx, v.ticketID)
		if err != nil {
			return err
		}
		thread, err := v.messages.ListByTicket(ctx, v.ticketID, nil)
		if err != nil {
			return err
		}
		sub, err := v.bus.SubscribeFrom(ctx, topic, seq)
		if errors.Is(err, events.ErrReplayWindow) {
			continue
		}
		if err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(thread))
		for _, msg := range thread {
			seen[msg.ID] = struct{}{}
		}

		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			sub.Unsubscribe()
			return errViewClosed
		}
		if v.sub != nil {
			v.sub.Unsubscribe()
		}
		v.ticket = *ticket
		v.thread = thread
		v.seen = seen
		v.sub = sub
		v.mu.Unlock()
		return nil
	}
}

func (v *ChatView) run(ctx context.Context) {
	defer close(v.done)
	for {
		v.mu.RLock()
		sub := v.sub
		v.mu.RUnlock()

		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case evt, ok := <-sub.Events():
			if !ok {
				if errors.Is(sub.Err(), events.ErrSlowConsumer) {
					if err := v.resync(ctx); err != nil {
						if !errors.Is(err, errViewClosed) {
							v.fail(err)
						}
						return
					}
					continue
				}
				return
			}
			if v.apply(evt) {
				v.forward(evt)
			}
		}
	}
}

func (v *ChatView) apply(evt events.Event) bool {
	switch evt.Kind {
	case events.KindMessage:
		return v.applyMessage(evt)
	case events.KindTicket:
		return v.applyTicket(evt)
	}
	return false
}

func (v *ChatView) applyMessage(evt events.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, dup := v.seen[evt.EntityID]; dup {
		return false
	}
	msg := domain.ChatMessage{
		ID:       evt.EntityID,
		TicketID: v.ticketID,
	}
	msg.SenderID, _ = fieldString(evt.ChangedFields, "sender_id")
	msg.Role, _ = fieldRole(evt.ChangedFields, "sender_role")
	msg.Body, _ = fieldString(evt.ChangedFields, "body")
	if sentAt, ok := fieldTime(evt.ChangedFields, "sent_at"); ok {
		msg.SentAt = sentAt
	} else {
		msg.SentAt = evt.Timestamp
	}
	v.seen[msg.ID] = struct{}{}
	v.thread = append(v.thread, msg)
	return true
}

func (v *ChatView) applyTicket(evt events.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	changed := false
	if status, ok := fieldStatus(evt.ChangedFields, "status"); ok && status != v.ticket.Status {
		v.ticket.Status = status
		changed = true
	}
	if agentID, ok := fieldStringPtr(evt.ChangedFields, "agent_id"); ok && !sameAgent(v.ticket.AgentID, agentID) {
		v.ticket.AgentID = agentID
		changed = true
	}
	return changed
}

func (v *ChatView) forward(evt events.Event) {
	select {
	case v.updates <- evt:
	default:
		v.logger.Warn("chat view update dropped",
			zap.String("ticket_id", v.ticketID), zap.Uint64("seq", evt.Seq))
	}
}

func (v *ChatView) fail(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	v.logger.Error("chat view stopped",
		zap.String("ticket_id", v.ticketID), zap.Error(err))
}

// Ticket returns the current ticket metadata.
func (v *ChatView) Ticket() domain.Ticket {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ticket
}

// Messages returns the thread in log order.
func (v *ChatView) Messages() []domain.ChatMessage {
	v.mu.RLock()
	defer v.mu.RUnlock()
	result := make([]domain.ChatMessage, len(v.thread))
	copy(result, v.thread)
	return result
}

// Updates streams events the view applied.
func (v *ChatView) Updates() <-chan events.Event {
	return v.updates
}

// Err reports why the view stopped, if it did.
func (v *ChatView) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Close tears the view down; in-flight writes it triggered elsewhere are
// unaffected.
func (v *ChatView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	sub := v.sub
	v.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	<-v.done
}
