// Package session binds visitors to server-side sessions.
//
// A session is keyed by an opaque token carried in a signed cookie and holds at most
// one subject: the SteamID64 of the signed-in visitor, or nothing. The Manager owns the
// cookie and the session lifecycle; a Store owns persistence.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound: la sesión no existe o expiró.
	ErrNotFound = errors.New("session: not found")
	// ErrNoSession: el middleware no está montado en esta ruta.
	ErrNoSession = errors.New("session: no session in request context")
	// ErrInvalidID: el id no tiene el formato esperado.
	ErrInvalidID = errors.New("session: invalid id")
)

// Session is one visitor's server-side state.
type Session struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticated reports whether a subject is bound.
func (s *Session) Authenticated() bool {
	return s != nil && s.Subject != ""
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Load devuelve ErrNotFound si la sesión no existe o expiró.
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	// Destroy no falla si la sesión no existe.
	Destroy(ctx context.Context, id string) error
}

type ctxKey struct{}

// binding ata la sesión del request con el Manager que la emitió.
type binding struct {
	m *Manager
	s *Session
}

func withBinding(ctx context.Context, m *Manager, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, &binding{m: m, s: s})
}

func bindingFrom(ctx context.Context) *binding {
	b, _ := ctx.Value(ctxKey{}).(*binding)
	return b
}

// FromContext returns the request's session, or nil outside the middleware.
func FromContext(ctx context.Context) *Session {
	if b := bindingFrom(ctx); b != nil {
		return b.s
	}
	return nil
}

// SubjectFrom returns the bound subject, "" when anonymous.
func SubjectFrom(ctx context.Context) string {
	if s := FromContext(ctx); s != nil {
		return s.Subject
	}
	return ""
}

// ManagerFrom returns the Manager whose middleware handled the request.
func ManagerFrom(ctx context.Context) *Manager {
	if b := bindingFrom(ctx); b != nil {
		return b.m
	}
	return nil
}
