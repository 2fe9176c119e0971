package view

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/internal/repository"
)

// QueueFilterMode narrows the agent queue locally. The bus delivers every
// queue-topic event regardless of mode; the view re-evaluates its own
// filter, it never asks the bus to.
type QueueFilterMode string

const (
	FilterAll        QueueFilterMode = "all"
	FilterUnassigned QueueFilterMode = "unassigned"
	FilterAssigned   QueueFilterMode = "assigned"
	FilterMine       QueueFilterMode = "mine"
)

// errViewClosed signals that Close won the race against an in-flight
// resync; the consumer loop exits instead of installing a subscription
// nobody will release.
var errViewClosed = errors.New("view closed")

// QueueView is a live read model of the non-closed ticket queue. Opening
// takes a consistent snapshot and attaches the event stream at the
// snapshot's position: the bus sequence number is read first, then the
// snapshot, then the subscription resumes after that sequence number, so
// writes landing in between are replayed and de-duplicated rather than
// lost. Views are pure consumers; divergence is resolved by re-deriving
// from the store, never by local-only mutation.
type QueueView struct {
	tickets repository.TicketRepository
	bus     events.Bus
	viewer  domain.Identity
	logger  *zap.Logger

	mu      sync.RWMutex
	byID    map[string]domain.Ticket
	sub     *events.Subscription
	closed  bool
	err     error
	updates chan events.Event
	done    chan struct{}
}

// OpenQueueView builds the view and starts consuming events.
func OpenQueueView(ctx context.Context, tickets repository.TicketRepository, bus events.Bus, viewer domain.Identity, logger *zap.Logger) (*QueueView, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &QueueView{
		tickets: tickets,
		bus:     bus,
		viewer:  viewer,
		logger:  logger,
		updates: make(chan events.Event, 64),
		done:    make(chan struct{}),
	}
	if err := v.resync(ctx); err != nil {
		return nil, err
	}
	go v.run(ctx)
	return v, nil
}

// resync replaces the view state with a fresh snapshot and a subscription
// attached at the snapshot's position in the event order.
func (v *QueueView) resync(ctx context.Context) error {
	for {
		seq := v.bus.CurrentSeq(events.TopicQueue)
		tickets, err := v.tickets.ListWithFilter(ctx, repository.TicketFilter{ExcludeClosed: true})
		if err != nil {
			return err
		}
		sub, err := v.bus.SubscribeFrom(ctx, events.TopicQueue, seq)
		if errors.Is(err, events.ErrReplayWindow) {
			// The backlog moved past our snapshot position; take a newer
			// snapshot and try again.
			continue
		}
		if err != nil {
			return err
		}

		byID := make(map[string]domain.Ticket, len(tickets))
		for _, ticket := range tickets {
			byID[ticket.ID] = ticket
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
		v.byID = byID
		v.sub = sub
		v.mu.Unlock()
		return nil
	}
}

func (v *QueueView) run(ctx context.Context) {
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
				reason := sub.Err()
				if errors.Is(reason, events.ErrSlowConsumer) {
					// Delivery failure: resubscribe with a fresh
					// snapshot, never leave a silently stale view.
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
			if v.apply(ctx, evt) {
				v.forward(evt)
			}
		}
	}
}

// apply folds one event into the view, reporting whether anything
// changed. Redelivered events compare equal to current state and are
// skipped, which is what makes at-least-once delivery safe.
func (v *QueueView) apply(ctx context.Context, evt events.Event) bool {
	if evt.Kind != events.KindTicket {
		return false
	}

	v.mu.Lock()
	current, known := v.byID[evt.TicketID]
	v.mu.Unlock()

	if !known {
		// New or forgotten ticket: derive state from the store, the
		// single source of truth, instead of trusting partial fields.
		ticket, err := v.tickets.GetByID(ctx, evt.TicketID)
		if err != nil {
			v.logger.Warn("queue view fetch failed",
				zap.String("ticket_id", evt.TicketID), zap.Error(err))
			return false
		}
		if ticket.Status == domain.TicketStatusClosed {
			return false
		}
		v.mu.Lock()
		v.byID[ticket.ID] = *ticket
		v.mu.Unlock()
		return true
	}

	changed := false
	if status, ok := fieldStatus(evt.ChangedFields, "status"); ok && status != current.Status {
		current.Status = status
		changed = true
	}
	if agentID, ok := fieldStringPtr(evt.ChangedFields, "agent_id"); ok && !sameAgent(current.AgentID, agentID) {
		current.AgentID = agentID
		changed = true
	}
	if !changed {
		return false
	}

	v.mu.Lock()
	if current.Status == domain.TicketStatusClosed {
		delete(v.byID, current.ID)
	} else {
		v.byID[current.ID] = current
	}
	v.mu.Unlock()
	return true
}

func (v *QueueView) forward(evt events.Event) {
	select {
	case v.updates <- evt:
	default:
		v.logger.Warn("queue view update dropped", zap.Uint64("seq", evt.Seq))
	}
}

func (v *QueueView) fail(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	v.logger.Error("queue view stopped", zap.Error(err))
}

// Snapshot returns the tickets matching the given filter mode, newest
// first.
func (v *QueueView) Snapshot(mode QueueFilterMode) []domain.Ticket {
	v.mu.RLock()
	defer v.mu.RUnlock()

	result := make([]domain.Ticket, 0, len(v.byID))
	for _, ticket := range v.byID {
		switch mode {
		case FilterUnassigned:
			if ticket.Assigned() {
				continue
			}
		case FilterAssigned:
			if !ticket.Assigned() {
				continue
			}
		case FilterMine:
			if !ticket.AssignedTo(v.viewer.UserID) {
				continue
			}
		}
		result = append(result, ticket)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// Updates streams events the view actually applied, for pushing to
// transports.
func (v *QueueView) Updates() <-chan events.Event {
	return v.updates
}

// Err reports why the view stopped, if it did.
func (v *QueueView) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Close tears the view down and releases its subscription.
func (v *QueueView) Close() {
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
