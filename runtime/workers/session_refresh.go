package workers

import (
	"context"
	"log/slog"
	"time"

	"relay-lab/contract"
)

// Ensure *SessionRefreshWorker implements the contract.Worker interface at compile time.
var _ contract.Worker = (*SessionRefreshWorker)(nil)

// AuthenticatedConnections lists the connections this node owns a
// session record for.
type AuthenticatedConnections interface {
	AuthenticatedConnectionIDs() []string
}

// SessionRefresher extends the registry TTL of one session record.
type SessionRefresher interface {
	Refresh(ctx context.Context, connectionID string) error
}

// SessionRefreshWorker keeps registry records alive for as long as the
// connection is. Session records carry a safety TTL so a crashed node
// cannot leak them; without periodic refreshes from the owning node a
// long-lived connection would lose its record and become invisible to
// the delivery router. The interval must be well under the session TTL.
type SessionRefreshWorker struct {
	log         *slog.Logger
	connections AuthenticatedConnections
	refresher   SessionRefresher
	interval    time.Duration
}

func NewSessionRefreshWorker(log *slog.Logger, connections AuthenticatedConnections,
	refresher SessionRefresher, interval time.Duration) *SessionRefreshWorker {
	return &SessionRefreshWorker{
		log:         log,
		connections: connections,
		refresher:   refresher,
		interval:    interval,
	}
}

func (w *SessionRefreshWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping session refresh")
			return nil
		case <-ticker.C:
			w.refreshAll(ctx)
		}
	}
}

// refreshAll extends every owned record. A failed refresh is only
// logged: the record survives until its TTL and the next tick retries.
func (w *SessionRefreshWorker) refreshAll(ctx context.Context) {
	for _, connectionID := range w.connections.AuthenticatedConnectionIDs() {
		if err := w.refresher.Refresh(ctx, connectionID); err != nil {
			w.log.Warn("Session refresh failed",
				"connection_id", connectionID, "error", err)
		}
	}
}
