package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/opsdesk/support-desk/internal/auth"
	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/internal/repository"
	"github.com/opsdesk/support-desk/internal/service"
	"github.com/opsdesk/support-desk/internal/view"
	"github.com/opsdesk/support-desk/pkg/util"
)

const streamHeartbeat = 15 * time.Second

// StreamHandler serves live view updates over SSE. Each connection owns
// one session view; dropping the connection tears the view down, which
// releases its bus subscription. In-flight writes started before the
// client navigated away are unaffected.
type StreamHandler struct {
	tickets  repository.TicketRepository
	messages repository.MessageRepository
	bus      events.Bus
	access   *service.TicketService
	logger   *zap.Logger
}

// NewStreamHandler constructs handler.
func NewStreamHandler(tickets repository.TicketRepository, messages repository.MessageRepository, bus events.Bus, access *service.TicketService, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{tickets: tickets, messages: messages, bus: bus, access: access, logger: logger}
}

// streamFrame is one SSE payload: either the opening snapshot or a
// subsequent change event.
type streamFrame struct {
	Kind     string               `json:"kind"`
	Tickets  []domain.Ticket      `json:"tickets,omitempty"`
	Ticket   *domain.Ticket       `json:"ticket,omitempty"`
	Messages []domain.ChatMessage `json:"messages,omitempty"`
	Event    *events.Event        `json:"event,omitempty"`
}

// StreamQueue GET /agent/queue/stream.
func (h *StreamHandler) StreamQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	if !principal.Identity.IsAgent() {
		return util.NewForbidden("agent role required")
	}
	identity := principal.Identity
	mode := view.QueueFilterMode(c.Query("filter", string(view.FilterAll)))

	setSSEHeaders(c)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		queueView, err := view.OpenQueueView(ctx, h.tickets, h.bus, identity, h.logger)
		if err != nil {
			h.logger.Warn("queue stream open failed", zap.Error(err))
			return
		}
		defer queueView.Close()

		if !writeFrame(w, streamFrame{Kind: "snapshot", Tickets: queueView.Snapshot(mode)}) {
			return
		}
		h.pump(ctx, w, queueView.Updates(), func() streamFrame {
			return streamFrame{Kind: "snapshot", Tickets: queueView.Snapshot(mode)}
		})
	})
	return nil
}

// StreamTicket GET /tickets/:id/stream.
func (h *StreamHandler) StreamTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	ticketID := c.Params("id")
	// Reuse the read-model access rule before committing to a stream.
	if _, _, err := h.access.GetTicket(c.UserContext(), principal.Identity, ticketID); err != nil {
		return err
	}

	setSSEHeaders(c)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		chatView, err := view.OpenChatView(ctx, h.tickets, h.messages, h.bus, ticketID, h.logger)
		if err != nil {
			h.logger.Warn("ticket stream open failed",
				zap.String("ticket_id", ticketID), zap.Error(err))
			return
		}
		defer chatView.Close()

		ticket := chatView.Ticket()
		if !writeFrame(w, streamFrame{Kind: "snapshot", Ticket: &ticket, Messages: chatView.Messages()}) {
			return
		}
		h.pump(ctx, w, chatView.Updates(), func() streamFrame {
			current := chatView.Ticket()
			return streamFrame{Kind: "snapshot", Ticket: &current, Messages: chatView.Messages()}
		})
	})
	return nil
}

// pump forwards view updates to the SSE writer until the client goes
// away or the view stops.
func (h *StreamHandler) pump(ctx context.Context, w *bufio.Writer, updates <-chan events.Event, resnapshot func() streamFrame) {
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-updates:
			if !ok {
				return
			}
			if !writeFrame(w, streamFrame{Kind: "event", Event: &evt}) {
				return
			}
		case <-heartbeat.C:
			// Heartbeats double as liveness probes; a failed write means
			// the client disconnected. Re-sending the snapshot keeps a
			// client that missed forwarded updates from going stale.
			if !writeFrame(w, resnapshot()) {
				return
			}
		}
	}
}

func setSSEHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
}

func writeFrame(w *bufio.Writer, frame streamFrame) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	if _, err := w.WriteString("data: "); err != nil {
		return false
	}
	if _, err := w.Write(payload); err != nil {
		return false
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return false
	}
	return w.Flush() == nil
}
