package transport

import (
	"log/slog"
	"net/http"

	"relay-lab/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server exposes the single handshake endpoint. The connection gate runs
// before the upgrade: a bad token means the client sees a plain 401 and
// no connection state of any kind is created.
type Server struct {
	log        *slog.Logger
	hub        *Hub
	gate       *auth.Gate
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewServer(log *slog.Logger, hub *Hub, gate *auth.Gate, sendBuffer int) *Server {
	return &Server{
		log:        log,
		hub:        hub,
		gate:       gate,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// HandleWS is the upgrade handler mounted on the handshake endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	principal, err := s.gate.Admit(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.log.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(uuid.NewString(), principal, s.hub, conn, s.sendBuffer, s.log)

	if err := s.hub.register(r.Context(), client); err != nil {
		// Without a session record the fleet cannot route to this
		// connection, so admitting it would be lying to the client.
		s.log.Error("Session registration failed, closing connection",
			"connection_id", client.ID, "error", err)
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
