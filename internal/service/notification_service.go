package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/opsdesk/support-desk/internal/config"
	"github.com/opsdesk/support-desk/internal/events"
)

// NotificationService consumes the queue topic and emits notifications
// for ticket-level changes. It is an ordinary bus subscriber: if it falls
// behind and gets dropped, it simply reattaches at the current position.
type NotificationService struct {
	bus    events.Bus
	logger *zap.Logger
	cfg    config.NotificationConfig

	mu  sync.Mutex
	sub *events.Subscription
}

// NewNotificationService creates the service.
func NewNotificationService(bus events.Bus, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{bus: bus, logger: logger, cfg: cfg}
}

// Start begins consuming queue events until ctx is cancelled.
func (n *NotificationService) Start(ctx context.Context) error {
	sub, err := n.bus.Subscribe(ctx, events.TopicQueue)
	if err != nil {
		return err
	}
	n.setSub(sub)

	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case evt, ok := <-sub.Events():
				if !ok {
					if !errors.Is(sub.Err(), events.ErrSlowConsumer) {
						return
					}
					resub, err := n.bus.Subscribe(ctx, events.TopicQueue)
					if err != nil {
						n.logger.Warn("notification resubscribe failed", zap.Error(err))
						return
					}
					sub = resub
					n.setSub(sub)
					continue
				}
				n.handle(evt)
			}
		}
	}()
	return nil
}

// Stop detaches from the bus.
func (n *NotificationService) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		n.sub.Unsubscribe()
		n.sub = nil
	}
}

func (n *NotificationService) setSub(sub *events.Subscription) {
	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()
}

func (n *NotificationService) handle(evt events.Event) {
	n.logger.Info("ticket notification",
		zap.String("event_type", string(evt.Type)),
		zap.String("ticket_id", evt.TicketID),
		zap.Uint64("seq", evt.Seq))
	n.sendWebhookStub(evt)
}

func (n *NotificationService) sendWebhookStub(evt events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("ticket_id", evt.TicketID),
		zap.String("event_type", string(evt.Type)))
}
