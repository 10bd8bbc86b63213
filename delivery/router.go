// Package delivery resolves an addressed user to their live connections
// and hands the normalized payload to the connection transport.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"relay-lab/contract"
	"relay-lab/domain/event"
	"relay-lab/errors"

	goerrors "errors"
)

// Envelope is the normalized message pushed to a client connection.
// Data echoes correlation identifiers so the client can link the
// notification back to the entity it concerns.
type Envelope struct {
	Type           string            `json:"type"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	RequiresAction bool              `json:"requires_action"`
	Data           map[string]string `json:"data"`
}

func NewEnvelope(evt event.NotificationEvent) Envelope {
	data := map[string]string{
		"notification_id": evt.NotificationID,
	}
	if evt.RelatedEntityType != nil {
		data["related_entity_type"] = *evt.RelatedEntityType
	}
	if evt.RelatedEntityID != nil {
		data["related_entity_id"] = *evt.RelatedEntityID
	}
	if evt.ActionURL != nil {
		data["action_url"] = *evt.ActionURL
	}
	return Envelope{
		Type:           evt.Type,
		Title:          evt.Title,
		Message:        evt.Message,
		RequiresAction: evt.ActionURL != nil,
		Data:           data,
	}
}

// Router looks up the recipient in the session registry at delivery time
// (never cached: session state can change between events) and pushes the
// envelope through the transport.
type Router struct {
	log       *slog.Logger
	registry  contract.SessionRegistry
	transport contract.Transport
	fanoutAll bool
}

// NewRouter builds a router. fanoutAll controls the multi-device case:
// true pushes to every live connection of the user, false stops after
// the first successful delivery.
func NewRouter(log *slog.Logger, registry contract.SessionRegistry,
	transport contract.Transport, fanoutAll bool) *Router {
	return &Router{log: log, registry: registry, transport: transport, fanoutAll: fanoutAll}
}

// Deliver pushes a notification to the addressed user's connection(s).
//
// A user with no live connection is a benign skip, not a failure: the
// event was durably handled upstream, so the consumer must acknowledge.
// A transport failure propagates so the consumer's retry/ack logic takes
// over. Partial success across several devices counts as delivered.
func (r *Router) Deliver(ctx context.Context, evt event.NotificationEvent) error {
	connections, err := r.registry.Resolve(ctx, evt.RecipientUserID)
	if err != nil {
		return fmt.Errorf("resolve recipient %s: %w", evt.RecipientUserID, err)
	}
	if len(connections) == 0 {
		r.log.Debug("No live session, skipping delivery",
			"recipient", evt.RecipientUserID, "notification_id", evt.NotificationID)
		return nil
	}

	payload, err := json.Marshal(NewEnvelope(evt))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	delivered := 0
	var lastErr error
	for _, connectionID := range connections {
		if err := r.transport.Send(connectionID, payload); err != nil {
			if goerrors.Is(err, errors.ErrUnknownConnection) {
				// Stale record or a connection owned by another node.
				// Keep trying the remaining resolved connections.
				r.log.Debug("Connection not reachable from this node",
					"connection_id", connectionID, "recipient", evt.RecipientUserID)
				continue
			}
			lastErr = err
			continue
		}
		delivered++
		if !r.fanoutAll {
			break
		}
	}

	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("deliver to %s: %w", evt.RecipientUserID, lastErr)
	}
	return nil
}
