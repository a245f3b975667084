// Package services contains core business logic
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/ports"
)

// Connection is one live client connection. A principal may hold several at
// once (multiple tabs). Exists only in memory; destroyed on disconnect.
type Connection struct {
	ID         string
	Principal  *domain.Principal
	Credential *domain.Credential
	sink       EventSink
}

// Push forwards an event to the connection's delivery buffer
func (c *Connection) Push(ev Event) bool {
	return c.sink.Push(ev)
}

// ConnectionRegistry maps principals to their live connections. State is
// purely in-memory and rebuilt as clients re-admit after a restart.
//
// A single registry instance is injected wherever needed; there are no
// package-level globals.
type ConnectionRegistry struct {
	verifier  ports.CredentialVerifier
	directory ports.PrincipalDirectory
	rooms     *RoomBroadcaster

	mu          sync.RWMutex
	conns       map[string]*Connection
	byPrincipal map[string]map[string]*Connection
}

// NewConnectionRegistry creates a registry bound to a room broadcaster
func NewConnectionRegistry(
	verifier ports.CredentialVerifier,
	directory ports.PrincipalDirectory,
	rooms *RoomBroadcaster,
) *ConnectionRegistry {
	return &ConnectionRegistry{
		verifier:    verifier,
		directory:   directory,
		rooms:       rooms,
		conns:       make(map[string]*Connection),
		byPrincipal: make(map[string]map[string]*Connection),
	}
}

// Admit verifies the supplied token, resolves the principal and records the
// connection. Admin connections are enrolled in the monitoring channel so
// they observe all message traffic system-wide.
func (r *ConnectionRegistry) Admit(ctx context.Context, token string, sink EventSink) (*Connection, error) {
	cred, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}

	principal, err := r.directory.GetPrincipal(ctx, cred.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown principal %s", domain.ErrAuth, cred.PrincipalID)
	}
	if !principal.IsActive {
		return nil, fmt.Errorf("%w: principal %s is inactive", domain.ErrAuth, principal.ID)
	}

	conn := &Connection{
		ID:         uuid.NewString(),
		Principal:  principal,
		Credential: cred,
		sink:       sink,
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	set, ok := r.byPrincipal[principal.ID]
	if !ok {
		set = make(map[string]*Connection)
		r.byPrincipal[principal.ID] = set
	}
	set[conn.ID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	if principal.Role == domain.RoleAdmin {
		r.rooms.EnrollAdmin(conn)
	}

	slog.Info("Connection admitted",
		"connection_id", conn.ID,
		"principal_id", principal.ID,
		"role", principal.Role,
		"total_connections", total,
	)

	return conn, nil
}

// Remove drops the connection and evicts it from every room it had joined,
// emitting user_left to each. Idempotent: removing an unknown connection is
// a no-op.
func (r *ConnectionRegistry) Remove(conn *Connection) {
	r.mu.Lock()
	if _, ok := r.conns[conn.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, conn.ID)
	if set, ok := r.byPrincipal[conn.Principal.ID]; ok {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(r.byPrincipal, conn.Principal.ID)
		}
	}
	total := len(r.conns)
	r.mu.Unlock()

	r.rooms.LeaveAll(conn)

	slog.Info("Connection removed",
		"connection_id", conn.ID,
		"principal_id", conn.Principal.ID,
		"total_connections", total,
	)
}

// ConnectionsOf returns the live connections of a principal. Used to push
// out-of-band notifications such as a force-disconnect on deactivation.
func (r *ConnectionRegistry) ConnectionsOf(principalID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byPrincipal[principalID]
	conns := make([]*Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// ConnectionCount returns the number of live connections
func (r *ConnectionRegistry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
