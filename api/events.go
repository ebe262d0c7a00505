package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/prizepool-labs/ledger-service/pkg/logger"
	"github.com/prizepool-labs/ledger-service/services/ledger"
)

// EventHub broadcasts ledger events to websocket subscribers. It
// implements ledger.EventSink; Publish never blocks, and a subscriber
// that cannot keep up is dropped.
type EventHub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	log     *logger.Logger

	upgrader websocket.Upgrader
}

type hubClient struct {
	send chan ledger.Event
	conn *websocket.Conn
}

// NewEventHub creates an EventHub.
func NewEventHub(checkOrigin func(r *http.Request) bool, log *logger.Logger) *EventHub {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &EventHub{
		clients: make(map[*hubClient]struct{}),
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Publish implements ledger.EventSink.
func (h *EventHub) Publish(event ledger.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- event:
		default:
			// Slow subscriber: drop it rather than stall the ledger.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ServeWS upgrades the connection and streams events until the client
// disconnects.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &hubClient{
		send: make(chan ledger.Event, 64),
		conn: conn,
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *EventHub) writeLoop(client *hubClient) {
	defer client.conn.Close()

	for event := range client.send {
		if err := client.conn.WriteJSON(event); err != nil {
			h.remove(client)
			return
		}
	}
}

// readLoop drains incoming frames so close/ping control messages are
// processed, and detaches the client on disconnect.
func (h *EventHub) readLoop(client *hubClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *EventHub) remove(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Subscribers returns the current subscriber count.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
