package registry

import (
	"context"
	"sync"

	"relay-lab/contract"
)

// Ensure *MemoryRegistry implements the contract at compile time.
var _ contract.SessionRegistry = (*MemoryRegistry)(nil)

type Set map[string]struct{}

// MemoryRegistry is the in-process session store, used by tests and
// single-node runs. Semantics mirror the Redis implementation: at most
// one record per connection, any number of connections per user.
type MemoryRegistry struct {
	mu          sync.RWMutex
	connections map[string]string // connectionID -> userID
	users       map[string]Set    // userID -> connectionIDs
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		connections: make(map[string]string),
		users:       make(map[string]Set),
	}
}

// Put registers a connection for a user. Re-putting the same connection is
// idempotent; writes are keyed by connectionID so last-writer-wins is safe.
func (r *MemoryRegistry) Put(_ context.Context, connectionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.connections[connectionID]; ok {
		r.detach(previous, connectionID)
	}
	r.connections[connectionID] = userID

	if _, ok := r.users[userID]; !ok {
		r.users[userID] = make(Set)
	}
	r.users[userID][connectionID] = struct{}{}
	return nil
}

// Remove drops a connection record. Removing an unknown connection is a
// no-op: both disconnect paths (graceful close, abnormal timeout) call it,
// and only one of them wins.
func (r *MemoryRegistry) Remove(_ context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connections[connectionID]
	if !ok {
		return nil
	}
	delete(r.connections, connectionID)
	r.detach(userID, connectionID)
	return nil
}

// Resolve returns every live connection for a user. An empty result means
// "currently unreachable for realtime delivery", which is a valid state.
func (r *MemoryRegistry) Resolve(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	connections := make([]string, 0, len(members))
	for connectionID := range members {
		connections = append(connections, connectionID)
	}
	return connections, nil
}

// Refresh is a no-op: in-process records never expire, they only leave
// through Remove. Kept so the refresh worker wires identically to Redis.
func (r *MemoryRegistry) Refresh(_ context.Context, _ string) error {
	return nil
}

// detach removes a connection from a user's set and cleans up empty sets
// to prevent memory leaks over time. Caller holds the write lock.
func (r *MemoryRegistry) detach(userID, connectionID string) {
	members, ok := r.users[userID]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.users, userID)
	}
}
