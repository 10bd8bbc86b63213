package transport

import (
	"encoding/json"
	"strings"
)

// Destination prefixes, STOMP-style. Client frames address /app/*;
// /topic/* and /queue/* are broadcast planes the server pushes to; the
// /user prefix is the private per-user path targeted delivery uses.
const (
	AppPrefix   = "/app/"
	TopicPrefix = "/topic/"
	QueuePrefix = "/queue/"

	DestinationChatSend    = "/app/chat.send"
	UserNotificationsQueue = "/user/queue/notifications"
)

// Frame is the wire unit exchanged after the handshake.
// A client frame whose destination is a broadcast plane (/topic/*,
// /queue/*) is a subscription request; /app/* frames carry payloads.
type Frame struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}

func (f Frame) IsSubscription() bool {
	return strings.HasPrefix(f.Destination, TopicPrefix) ||
		strings.HasPrefix(f.Destination, QueuePrefix)
}

// InboundMessage couples a parsed client frame with the connection it
// arrived on, so handlers can read the bound principal.
type InboundMessage struct {
	Client *Client
	Frame  Frame
}
