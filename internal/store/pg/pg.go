// Package pg implementa los repositorios de dominio sobre PostgreSQL
// usando pgxpool. El esquema vive en migrations/postgres.
package pg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/authcore/internal/domain/repository"
	migrations "github.com/medvault/authcore/migrations/postgres"
)

// Config del pool.
type Config struct {
	DSN             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// Store agrupa el pool y expone los repositorios.
type Store struct {
	pool *pgxpool.Pool
}

// New abre el pool y verifica conectividad.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pc.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

// Repositorios sobre el mismo pool.
func (s *Store) Sessions() *SessionRepo   { return &SessionRepo{pool: s.pool} }
func (s *Store) Devices() *DeviceRepo     { return &DeviceRepo{pool: s.pool} }
func (s *Store) MFA() *MFARepo            { return &MFARepo{pool: s.pool} }
func (s *Store) Attempts() *AttemptRepo   { return &AttemptRepo{pool: s.pool} }
func (s *Store) Users() *UserRepo         { return &UserRepo{pool: s.pool} }
func (s *Store) Blacklist() *BlacklistRepo { return &BlacklistRepo{pool: s.pool} }

// mapErr traduce errores de pgx al vocabulario del dominio.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repository.ErrConflict
	}
	return err
}

// Migrate aplica los archivos SQL embebidos en orden lexicográfico.
// El esquema usa IF NOT EXISTS, por lo que reaplicar es inocuo.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("pg: aplicando %s: %w", name, err)
		}
	}
	return nil
}
