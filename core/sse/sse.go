package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Event kinds streamed by the monitor. Each maps to an SSE event name.
const (
	EventThought = "thought"
	EventAction  = "action"
	EventOutput  = "output"
	EventSignal  = "signal"
	EventStatus  = "status"
)

type (
	// Listener is the receiving end of one SSE connection.
	Listener interface {
		ID() string
		Chan() chan Envelope
	}

	// Envelope is anything that can be rendered as one SSE frame.
	Envelope interface {
		String() string
	}

	// Manager fans events out to connected listeners.
	Manager interface {
		Send(message Envelope)
		Handle(ctx *fiber.Ctx, cl Listener)
		Clients() []string
	}
)

// Client is the default Listener with a buffered delivery channel; slow
// consumers drop events rather than stalling the broadcaster.
type Client struct {
	id string
	ch chan Envelope
}

// NewClient builds a listener with a fresh id.
func NewClient() Listener {
	return &Client{
		id: uuid.New().String(),
		ch: make(chan Envelope, 50),
	}
}

func (c *Client) ID() string          { return c.id }
func (c *Client) Chan() chan Envelope { return c.ch }

// Event is one observability record: a deliberation thought, an execution
// action, a user-facing output line, or an accepted signal.
type Event struct {
	Kind string
	Time time.Time
	Data any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, data any) *Event {
	return &Event{Kind: kind, Time: time.Now(), Data: data}
}

// String renders the event as an SSE frame. The payload is JSON; marshal
// failures degrade to an error payload instead of a broken frame.
func (e *Event) String() string {
	payload, err := json.Marshal(map[string]any{
		"time": e.Time.Format(time.RFC3339),
		"data": e.Data,
	})
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}

	var sb strings.Builder
	if e.Kind != "" {
		fmt.Fprintf(&sb, "event: %s\n", e.Kind)
	}
	fmt.Fprintf(&sb, "data: %s\n\n", payload)
	return sb.String()
}

// broadcastManager fans events out to registered listeners through a worker
// pool; a listener with a full channel misses the event.
type broadcastManager struct {
	clients        sync.Map
	broadcast      chan Envelope
	workerPoolSize int
	messageHistory *history
}

// NewManager starts a broadcast manager with the given worker pool size.
func NewManager(workerPoolSize int) Manager {
	manager := &broadcastManager{
		broadcast:      make(chan Envelope),
		workerPoolSize: workerPoolSize,
		messageHistory: newHistory(10),
	}
	manager.startWorkers()
	return manager
}

// Send broadcasts an event to all connected listeners.
func (manager *broadcastManager) Send(message Envelope) {
	manager.broadcast <- message
}

// Handle upgrades the request to an SSE stream and pumps the listener's
// channel into it until either side disconnects. New listeners receive the
// retained history first.
func (manager *broadcastManager) Handle(c *fiber.Ctx, cl Listener) {
	manager.register(cl)
	ctx := c.Context()

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Cache-Control")
	ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	manager.messageHistory.Send(cl)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			manager.unregister(cl.ID())
			close(cl.Chan())
			close(done)
		case <-done:
			return
		}
	}()

	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			close(done)
			manager.unregister(cl.ID())
			close(cl.Chan())
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
		w.Flush()

		for {
			select {
			case msg, ok := <-cl.Chan():
				if !ok {
					return
				}
				if _, err := fmt.Fprint(w, msg.String()); err != nil {
					return
				}
				w.Flush()
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}))
}

// Clients lists the connected listener ids.
func (manager *broadcastManager) Clients() []string {
	var clients []string
	manager.clients.Range(func(key, value any) bool {
		if id, ok := key.(string); ok {
			clients = append(clients, id)
		}
		return true
	})
	return clients
}

func (manager *broadcastManager) startWorkers() {
	for i := 0; i < manager.workerPoolSize; i++ {
		go func() {
			for message := range manager.broadcast {
				manager.clients.Range(func(key, value any) bool {
					client, ok := value.(Listener)
					if !ok {
						return true
					}
					select {
					case client.Chan() <- message:
						manager.messageHistory.Add(message)
					default:
						// Full channel: the listener misses this event.
					}
					return true
				})
			}
		}()
	}
}

func (manager *broadcastManager) register(client Listener) {
	manager.clients.Store(client.ID(), client)
}

func (manager *broadcastManager) unregister(clientID string) {
	manager.clients.Delete(clientID)
}

// history retains the most recent events so a freshly connected listener
// sees what just happened.
type history struct {
	mu       sync.Mutex
	messages []Envelope
	maxSize  int
}

func newHistory(maxSize int) *history {
	return &history{maxSize: maxSize}
}

func (h *history) Add(message Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, message)
	if len(h.messages) > h.maxSize {
		h.messages = h.messages[len(h.messages)-h.maxSize:]
	}
}

func (h *history) Send(c Listener) {
	h.mu.Lock()
	snapshot := append([]Envelope(nil), h.messages...)
	h.mu.Unlock()
	for _, msg := range snapshot {
		c.Chan() <- msg
	}
}
