package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"relay-lab/domain"
	"relay-lab/errors"
)

// Gate authenticates the connection-establishment handshake. Only the
// handshake request is ever inspected: frames on an admitted connection
// are not re-authenticated, the principal is bound once for the
// connection's lifetime.
type Gate struct {
	log    *slog.Logger
	tokens *TokenManager
}

func NewGate(log *slog.Logger, tokens *TokenManager) *Gate {
	return &Gate{log: log, tokens: tokens}
}

// Admit decides the handshake outcome from the Authorization header.
//
// No header: the connection proceeds anonymously (nil principal, no
// session record) rather than hanging or failing. Anonymous connections
// simply never receive targeted delivery.
//
// Invalid or expired token: the handshake is rejected before any session
// state exists. The client sees a failed connection attempt, never a
// partially authenticated one.
func (g *Gate) Admit(r *http.Request) (*domain.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		g.log.Debug("Anonymous handshake admitted", "remote", r.RemoteAddr)
		return nil, nil
	}

	tokenString := strings.TrimPrefix(header, "Bearer ")
	claims, err := g.tokens.Validate(tokenString)
	if err != nil {
		g.log.Warn("Handshake rejected", "remote", r.RemoteAddr, "error", err)
		return nil, fmt.Errorf("%w: %w", errors.ErrHandshakeRejected, err)
	}

	return &domain.Principal{Subject: claims.UserID, Roles: claims.Roles}, nil
}
