package account

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stock-sage/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestCreateUserEncodesEmptyWatchlist(t *testing.T) {
	t.Parallel()

	pool := &fakeAccountPool{row: userRow{id: 1, email: "alice@example.com"}}
	repo := NewRepository(pool, testTracer)

	saved, err := repo.CreateUser(context.Background(), &domain.User{
		Email:        "alice@example.com",
		Username:     "alice",
		PasswordHash: "$2a$10$hash",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Watchlist == nil || len(saved.Watchlist) != 0 {
		t.Fatalf("expected empty watchlist, got %#v", saved.Watchlist)
	}

	q := pool.queryRows[0]
	if !strings.Contains(q.sql, "INSERT INTO users") {
		t.Fatalf("unexpected sql: %s", q.sql)
	}
	if string(q.args[3].([]byte)) != "[]" {
		t.Fatalf("nil watchlist should encode as [], got %s", q.args[3])
	}
}

func TestCreateUserMapsDuplicateEmail(t *testing.T) {
	t.Parallel()

	pool := &fakeAccountPool{row: userRow{err: &pgconn.PgError{Code: "23505"}}}
	repo := NewRepository(pool, testTracer)

	_, err := repo.CreateUser(context.Background(), &domain.User{Email: "bob@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestUserByEmailMissingReturnsNil(t *testing.T) {
	t.Parallel()

	pool := &fakeAccountPool{row: userRow{err: pgx.ErrNoRows}}
	repo := NewRepository(pool, testTracer)

	user, err := repo.UserByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil user, got %+v", user)
	}
}

func TestUserByIDDecodesWatchlist(t *testing.T) {
	t.Parallel()

	pool := &fakeAccountPool{row: userRow{id: 7, email: "carol@example.com", watchlist: []byte(`["SPY","BTC"]`)}}
	repo := NewRepository(pool, testTracer)

	user, err := repo.UserByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != 7 {
		t.Fatalf("unexpected id: %d", user.ID)
	}
	if len(user.Watchlist) != 2 || user.Watchlist[0] != "SPY" {
		t.Fatalf("unexpected watchlist: %v", user.Watchlist)
	}
	if pool.queryRows[0].args[0] != int64(7) {
		t.Fatalf("unexpected id arg: %v", pool.queryRows[0].args[0])
	}
}

func TestUpdateWatchlistMapsArguments(t *testing.T) {
	t.Parallel()

	pool := &fakeAccountPool{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewRepository(pool, testTracer)

	if err := repo.UpdateWatchlist(context.Background(), 42, []string{"BTC", "SPY"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := pool.execs[0]
	if q.args[0] != int64(42) {
		t.Fatalf("unexpected user id arg: %v", q.args[0])
	}
	if string(q.args[1].([]byte)) != `["BTC","SPY"]` {
		t.Fatalf("unexpected watchlist arg: %s", q.args[1])
	}
}

func TestUpdateWatchlistMissingUser(t *testing.T) {
	t.Parallel()

	pool := &fakeAccountPool{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := NewRepository(pool, testTracer)

	err := repo.UpdateWatchlist(context.Background(), 99, nil)
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected pgx.ErrNoRows, got %v", err)
	}
}

type accountQuery struct {
	sql  string
	args []any
}

type fakeAccountPool struct {
	execs     []accountQuery
	queryRows []accountQuery
	row       userRow
	execTag   pgconn.CommandTag
}

func (f *fakeAccountPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, accountQuery{sql: sql, args: args})
	return f.execTag, nil
}

func (f *fakeAccountPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.queryRows = append(f.queryRows, accountQuery{sql: sql, args: args})
	return f.row
}

type userRow struct {
	err       error
	id        int64
	email     string
	watchlist []byte
}

func (r userRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.id
	*(dest[1].(*string)) = r.email
	*(dest[4].(*[]byte)) = r.watchlist
	return nil
}
