package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// keepAliveInterval bounds how long a stream goroutine can outlive its
// disconnected peer.
const keepAliveInterval = 15 * time.Second

// Event types delivered to live UI sessions. Delivery is fire-and-forget:
// no acknowledgement, no ordering guarantee, loss is acceptable because
// sessions re-fetch authoritative state from the store on focus.
const (
	EventDone     = "REMINDER_DONE"
	EventSnoozed  = "REMINDER_SNOOZED"
	EventFollowUp = "FOLLOWUP_TRIGGERED"
	EventFocus    = "FOCUS_WINDOW"
	EventOpen     = "OPEN_WINDOW"
)

type Event struct {
	Type       string `json:"type"`
	ReminderID string `json:"reminderId,omitempty"`
	SnoozeMin  int64  `json:"snoozeMin,omitempty"`
	FollowUpID string `json:"followUpId,omitempty"`
	Path       string `json:"path,omitempty"`
}

type client struct {
	id string
	ch chan Event
}

// Hub is the registry of currently connected UI sessions. Each session
// is an open SSE stream; Broadcast fans events out to all of them,
// dropping events for sessions whose channel is full.
type Hub struct {
	log *zap.SugaredLogger

	mu          sync.Mutex
	clients     map[string]*client
	pendingOpen string
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[string]*client),
	}
}

// Broadcast delivers the event to every connected session.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		select {
		case c.ch <- ev:
		default:
			// slow session, drop
		}
	}
}

// Clients lists the ids of connected sessions.
func (h *Hub) Clients() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// Focus asks one connected session to bring itself to the foreground.
// It reports whether any session was connected to receive the request.
func (h *Hub) Focus() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		select {
		case c.ch <- Event{Type: EventFocus}:
		default:
		}
		return true
	}
	return false
}

// Open instructs a session to navigate to path. With no session
// connected the request is parked and handed to the next one that
// connects, which is as close as a server gets to opening a window.
func (h *Hub) Open(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		select {
		case c.ch <- Event{Type: EventOpen, Path: path}:
		default:
		}
		return
	}
	h.pendingOpen = path
}

// Handle streams events to one UI session over SSE until it
// disconnects.
func (h *Hub) Handle(c *fiber.Ctx) error {
	cl := &client{id: uuid.New().String(), ch: make(chan Event, 50)}

	h.mu.Lock()
	h.clients[cl.id] = cl
	if h.pendingOpen != "" {
		cl.ch <- Event{Type: EventOpen, Path: h.pendingOpen}
		h.pendingOpen = ""
	}
	h.mu.Unlock()

	h.log.Infow("session connected", "session", cl.id)

	ctx := c.Context()
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			h.mu.Lock()
			delete(h.clients, cl.id)
			h.mu.Unlock()
			h.log.Infow("session disconnected", "session", cl.id)
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
		if w.Flush() != nil {
			return
		}

		keepalive := time.NewTicker(keepAliveInterval)
		defer keepalive.Stop()
		streamEvents(w, cl.ch, keepalive.C)
	}))

	return nil
}

// streamEvents writes events until the peer goes away. The periodic
// keepalive comment makes a dead connection surface as a flush error
// even when no event ever arrives, so the goroutine is released without
// waiting for the next broadcast.
func streamEvents(w *bufio.Writer, ch <-chan Event, keepalive <-chan time.Time) {
	for {
		select {
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
		case <-keepalive:
			fmt.Fprint(w, ": keep-alive\n\n")
		}
		if w.Flush() != nil {
			return
		}
	}
}
