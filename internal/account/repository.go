package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"stock-sage/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	watchlist JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists users in Postgres.
type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

// RunMigrations creates the users table if it does not exist.
func (r *Repository) RunMigrations(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, createUsersTable)
	if err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

// CreateUser inserts a new user and returns the stored row. A duplicate
// email maps to ErrEmailTaken.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "account.create-user")
	defer span.End()

	if r.pool == nil {
		return nil, fmt.Errorf("account repository is not fully initialized")
	}

	watchlist, err := watchlistJSON(user.Watchlist)
	if err != nil {
		return nil, fmt.Errorf("encode watchlist: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash, watchlist)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, username, password_hash, watchlist, created_at
	`, user.Email, user.Username, user.PasswordHash, watchlist)

	saved, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return saved, nil
}

// UserByEmail returns the user with the given email, or nil when none exists.
func (r *Repository) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "account.user-by-email")
	defer span.End()

	if r.pool == nil {
		return nil, fmt.Errorf("account repository is not fully initialized")
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, watchlist, created_at
		FROM users
		WHERE email = $1
	`, email)
	return scanUserOrNil(row)
}

// UserByID returns the user with the given id, or nil when none exists.
func (r *Repository) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "account.user-by-id")
	defer span.End()

	if r.pool == nil {
		return nil, fmt.Errorf("account repository is not fully initialized")
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, watchlist, created_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUserOrNil(row)
}

// UpdateWatchlist replaces the stored watchlist for a user.
func (r *Repository) UpdateWatchlist(ctx context.Context, userID int64, symbols []string) error {
	ctx, span := r.tracer.Start(ctx, "account.update-watchlist")
	defer span.End()

	if r.pool == nil {
		return fmt.Errorf("account repository is not fully initialized")
	}

	watchlist, err := watchlistJSON(symbols)
	if err != nil {
		return fmt.Errorf("encode watchlist: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `UPDATE users SET watchlist = $2 WHERE id = $1`, userID, watchlist)
	if err != nil {
		return fmt.Errorf("update watchlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanUserOrNil(row pgx.Row) (*domain.User, error) {
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user      domain.User
		watchlist []byte
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &watchlist, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	if len(watchlist) > 0 {
		if err := json.Unmarshal(watchlist, &user.Watchlist); err != nil {
			return nil, fmt.Errorf("decode watchlist: %w", err)
		}
	}
	if user.Watchlist == nil {
		user.Watchlist = []string{}
	}
	return &user, nil
}

func watchlistJSON(symbols []string) ([]byte, error) {
	if symbols == nil {
		symbols = []string{}
	}
	return json.Marshal(symbols)
}
