package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const defaultLockTimeout = 5 * time.Second

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func New(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{db: db, lockTimeout: lockTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

// EnsureUser inserts the account unless a user with the same username exists.
func (s *Store) EnsureUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, name, password_hash, role, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO NOTHING
	`, user.Username, user.Name, user.PasswordHash, user.Role, user.Active)
	return err
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, name, password_hash, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.Name, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// WithTx runs fn in a SERIALIZABLE transaction. Lock waits inside it are
// bounded by the store lock timeout.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classifyError(err)
	}
	defer func() {
		_ = pgTx.Rollback()
	}()

	if _, err := pgTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		return classifyError(err)
	}
	if err := fn(ctx, &ledgerTx{q: pgTx}); err != nil {
		return classifyError(err)
	}
	if err := pgTx.Commit(); err != nil {
		return classifyError(err)
	}
	return nil
}

// WithReadTx runs fn in a read-only REPEATABLE READ transaction so every
// query sees the same snapshot.
func (s *Store) WithReadTx(ctx context.Context, fn func(ctx context.Context, tx store.ReadTx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return classifyError(err)
	}
	defer func() {
		_ = pgTx.Rollback()
	}()

	if err := fn(ctx, &ledgerTx{q: pgTx}); err != nil {
		return classifyError(err)
	}
	return classifyError(pgTx.Commit())
}

// classifyError maps lock and serialization failures to store.ErrConflict
// and foreign key violations to store.ErrInvalidReference. Other errors are
// returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("postgres: %s (%s): %w", pgErr.Message, pgErr.Code, store.ErrConflict)
	case "23503":
		return fmt.Errorf("postgres: %s: %w", pgErr.Message, store.ErrInvalidReference)
	}
	return err
}
