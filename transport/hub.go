package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relay-lab/contract"
	"relay-lab/errors"
)

// Ensure *Hub implements the transport contract at compile time.
var _ contract.Transport = (*Hub)(nil)

// Hub owns every live connection on this node. It is the single place
// where connection state, broadcast subscriptions and session records
// are kept consistent: a connection is registered (and its session put)
// exactly once, and torn down (and its session removed) exactly once,
// whichever disconnect path fires first.
type Hub struct {
	log      *slog.Logger
	registry contract.SessionRegistry

	mu            sync.RWMutex
	clients       map[string]*Client
	subscriptions map[string]map[string]*Client // destination -> connectionID -> client

	inbound chan InboundMessage
}

func NewHub(log *slog.Logger, registry contract.SessionRegistry, inboundQueueSize int) *Hub {
	return &Hub{
		log:           log,
		registry:      registry,
		clients:       make(map[string]*Client),
		subscriptions: make(map[string]map[string]*Client),
		inbound:       make(chan InboundMessage, inboundQueueSize),
	}
}

// Inbound exposes the bounded client-frame queue the worker pool drains.
func (h *Hub) Inbound() <-chan InboundMessage {
	return h.inbound
}

// ConnectionCount reports live connections, for telemetry.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AuthenticatedConnectionIDs lists the connections holding a session
// record, so their registry TTL can be refreshed while they stay open.
// Anonymous connections never had a record and are excluded.
func (h *Hub) AuthenticatedConnectionIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id, client := range h.clients {
		if client.Principal != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// register admits a client into the pool. For authenticated clients the
// session record is created here, the only place a record is ever put.
func (h *Hub) register(ctx context.Context, client *Client) error {
	if client.Principal != nil {
		if err := h.registry.Put(ctx, client.ID, client.Principal.Subject); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.log.Debug("Connection registered",
		"connection_id", client.ID, "user_id", client.UserID())
	return nil
}

// unregister tears a client down. Both disconnect paths (read error and
// write error) funnel here; closeOnce guarantees the session record is
// removed exactly once so the registry never leaks a dead connection.
func (h *Hub) unregister(client *Client) {
	client.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.clients, client.ID)
		for destination, subscribers := range h.subscriptions {
			delete(subscribers, client.ID)
			if len(subscribers) == 0 {
				delete(h.subscriptions, destination)
			}
		}
		h.mu.Unlock()

		close(client.done)
		_ = client.conn.Close()

		if client.Principal != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.registry.Remove(ctx, client.ID); err != nil {
				h.log.Warn("Session record removal failed",
					"connection_id", client.ID, "error", err)
			}
		}

		h.log.Debug("Connection unregistered", "connection_id", client.ID)
	})
}

func (h *Hub) subscribe(client *Client, destination string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscriptions[destination]; !ok {
		h.subscriptions[destination] = make(map[string]*Client)
	}
	h.subscriptions[destination][client.ID] = client
}

// Send pushes a payload to one connection. Unknown connections surface
// errors.ErrUnknownConnection so the caller can treat stale session
// records as benign. A full send buffer marks the client as too slow:
// the payload is rejected and the connection dropped rather than letting
// one slow consumer block the outbound plane.
func (h *Hub) Send(connectionID string, payload []byte) error {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return errors.ErrUnknownConnection
	}

	select {
	case <-client.done:
		return errors.ErrUnknownConnection
	case client.send <- payload:
		return nil
	default:
		h.log.Warn("Client send buffer full, dropping slow connection",
			"connection_id", connectionID)
		go h.unregister(client)
		return errors.ErrClientBufferFull
	}
}

// Broadcast fans a payload out to every subscriber of a destination.
// Best effort: slow subscribers lose the frame, never block the plane.
func (h *Hub) Broadcast(destination string, payload []byte) {
	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.subscriptions[destination]))
	for _, client := range h.subscriptions[destination] {
		subscribers = append(subscribers, client)
	}
	h.mu.RUnlock()

	for _, client := range subscribers {
		select {
		case <-client.done:
		case client.send <- payload:
		default:
			h.log.Debug("Broadcast frame lost for slow subscriber",
				"connection_id", client.ID, "destination", destination)
		}
	}
}

// enqueueInbound applies backpressure on client-originated traffic: once
// the bounded queue is full further frames are rejected, not buffered.
func (h *Hub) enqueueInbound(message InboundMessage) {
	select {
	case h.inbound <- message:
	default:
		h.log.Warn("Inbound queue full, rejecting frame",
			"connection_id", message.Client.ID, "destination", message.Frame.Destination)
	}
}

// Shutdown disconnects every client, removing their session records.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.unregister(client)
	}
}
