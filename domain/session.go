package domain

import "time"

// Session ties a live connection to the user it authenticates as.
// Created exactly once when the connection gate admits a connection,
// removed exactly once on disconnect. A user may own several sessions
// at the same time (one per device).
type Session struct {
	ConnectionID string
	UserID       string
	NodeID       string
	CreatedAt    time.Time
}

// Principal is the identity bound to a connection at handshake time.
// It is immutable for the connection's lifetime and never persisted.
type Principal struct {
	Subject string
	Roles   []string
}
