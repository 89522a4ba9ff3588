package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/steamgate/internal/steamid"
)

// PGRepository guarda cuentas en la tabla steam_user.
type PGRepository struct{ pool *pgxpool.Pool }

// NewPGRepository abre un pool contra dsn. maxConns <= 0 usa 4.
func NewPGRepository(ctx context.Context, dsn string, maxConns int32) (*PGRepository, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("users: parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	pcfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("users: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("users: ping: %w", err)
	}
	return &PGRepository{pool: pool}, nil
}

// Pool expone el pool para el migrator.
func (s *PGRepository) Pool() *pgxpool.Pool { return s.pool }

// Close cierra el pool subyacente (idempotente).
func (s *PGRepository) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *PGRepository) Upsert(ctx context.Context, u steamid.User) error {
	const q = `
INSERT INTO steam_user (steam_id, steam_id2, persona, avatar_url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (steam_id) DO UPDATE SET
    steam_id2   = EXCLUDED.steam_id2,
    persona     = EXCLUDED.persona,
    avatar_url  = EXCLUDED.avatar_url,
    last_seen   = NOW(),
    login_count = steam_user.login_count + 1`
	if _, err := s.pool.Exec(ctx, q, u.ID, u.ID2, u.Name, u.Avatar); err != nil {
		return fmt.Errorf("users: upsert %s: %w", u.ID, err)
	}
	return nil
}

func (s *PGRepository) Get(ctx context.Context, id string) (*Record, error) {
	const q = `
SELECT steam_id, steam_id2, persona, avatar_url, first_seen, last_seen, login_count
FROM steam_user WHERE steam_id = $1`
	var r Record
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&r.ID, &r.ID2, &r.Name, &r.Avatar, &r.FirstSeen, &r.LastSeen, &r.LoginCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: get %s: %w", id, err)
	}
	return &r, nil
}
