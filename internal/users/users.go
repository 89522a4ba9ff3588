// Package users keeps a record of every Steam account that signed in.
//
// It backs the sign-in flow's update hook: each successful verification upserts
// the account's current persona name and avatar.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/steamgate/internal/steamid"
)

var ErrNotFound = errors.New("users: not found")

// Record is a stored account.
type Record struct {
	steamid.User
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	LoginCount int64     `json:"login_count"`
}

// Repository persiste cuentas. Implementaciones seguras para uso concurrente.
type Repository interface {
	// Upsert crea o refresca la cuenta y suma un login.
	Upsert(ctx context.Context, u steamid.User) error
	Get(ctx context.Context, id string) (*Record, error)
}

// Hook adapta un Repository al hook de actualización del login.
func Hook(repo Repository) func(context.Context, steamid.User) error {
	return func(ctx context.Context, u steamid.User) error {
		return repo.Upsert(ctx, u)
	}
}
