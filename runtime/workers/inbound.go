package workers

import (
	"context"
	"log/slog"
	"time"

	"relay-lab/contract"
	"relay-lab/domain/event"
	"relay-lab/errors"
	"relay-lab/transport"
)

// Ensure *InboundWorker implements the contract.Worker interface at compile time.
var _ contract.Worker = (*InboundWorker)(nil)

// InboundWorker is one unit of the pool draining client-originated
// frames. The pool is deliberately small: it protects the node from
// client traffic bursts, while server-to-client fan-out runs on the
// separate per-client write pumps and never waits behind this pool.
type InboundWorker struct {
	log       *slog.Logger
	frames    <-chan transport.InboundMessage
	producer  contract.Producer
	chatTopic string
}

func NewInboundWorker(log *slog.Logger, frames <-chan transport.InboundMessage,
	producer contract.Producer, chatTopic string) *InboundWorker {
	return &InboundWorker{log: log, frames: frames, producer: producer, chatTopic: chatTopic}
}

func (w *InboundWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping inbound worker")
			return nil
		case message, ok := <-w.frames:
			if !ok {
				w.log.Debug("Inbound channel is closed")
				return nil
			}
			w.dispatch(message)
		}
	}
}

func (w *InboundWorker) dispatch(message transport.InboundMessage) {
	switch message.Frame.Destination {
	case transport.DestinationChatSend:
		w.publishChat(message)
	default:
		w.log.Warn("Frame dropped",
			"destination", message.Frame.Destination,
			"connection_id", message.Client.ID,
			"error", errors.ErrUnknownDestination)
	}
}

// publishChat turns a client frame into a chat event on the durable
// log. The sender is always taken from the bound principal, never from
// the frame body: an anonymous connection cannot post, and a client
// cannot impersonate another user.
func (w *InboundWorker) publishChat(message transport.InboundMessage) {
	senderID := message.Client.UserID()
	if senderID == "" {
		w.log.Warn("Anonymous connection cannot post chat messages",
			"connection_id", message.Client.ID)
		return
	}

	evt, err := event.DecodeChat(message.Frame.Body)
	if err != nil {
		w.log.Warn("Unparseable chat frame dropped",
			"connection_id", message.Client.ID, "error", err)
		return
	}
	evt.SenderID = senderID
	if evt.SentAt.IsZero() {
		evt.SentAt = time.Now().UTC()
	}

	payload, err := event.Encode(evt)
	if err != nil {
		w.log.Error("Chat event encoding failed", "error", err)
		return
	}

	w.producer.Publish(w.chatTopic, evt.PartitionKey(), payload)
}
