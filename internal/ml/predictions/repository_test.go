package predictions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stock-sage/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func TestUpsertPredictionMapsArguments(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	repo := NewRepository(pool, testTracer)

	barDate := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	saved, err := repo.UpsertPrediction(context.Background(), domain.Prediction{
		Symbol:       "BTC",
		BarDate:      barDate,
		TargetDate:   barDate.AddDate(0, 0, 1),
		ModelVersion: 2,
		Variant:      "core",
		Direction:    domain.DirectionUp,
		ProbUp:       0.61,
		ProbDown:     0.39,
		Confidence:   0.22,
		CurrentPrice: 64250.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved == nil {
		t.Fatal("expected a saved prediction")
	}

	q := pool.queryRows[0]
	if !strings.Contains(q.sql, "ON CONFLICT (symbol, bar_date, model_version) DO UPDATE") {
		t.Fatalf("upsert clause missing: %s", q.sql)
	}
	if len(q.args) != 10 {
		t.Fatalf("expected 10 args, got %d", len(q.args))
	}
	if q.args[0] != "BTC" || q.args[5] != domain.DirectionUp {
		t.Fatalf("unexpected args: %v", q.args)
	}
	if q.args[6] != 0.61 || q.args[9] != 64250.5 {
		t.Fatalf("unexpected probability args: %v", q.args)
	}
}

func TestListUnresolvedDueFiltersAndLimits(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	repo := NewRepository(pool, testTracer)

	asOf := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	due, err := repo.ListUnresolvedDue(context.Background(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no rows, got %d", len(due))
	}

	q := pool.queries[0]
	if !strings.Contains(q.sql, "resolved_at IS NULL") {
		t.Fatalf("unresolved filter missing: %s", q.sql)
	}
	if !q.args[0].(time.Time).Equal(asOf) {
		t.Fatalf("unexpected as-of arg: %v", q.args[0])
	}
	if q.args[1] != unresolvedBatchLimit {
		t.Fatalf("unexpected batch limit: %v", q.args[1])
	}
}

func TestMarkResolvedRequiresPendingRow(t *testing.T) {
	t.Parallel()

	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := NewRepository(pool, testTracer)

	err := repo.MarkResolved(context.Background(), 7, true, false, -0.012)
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected pgx.ErrNoRows, got %v", err)
	}
}

func TestMarkResolvedMapsArguments(t *testing.T) {
	t.Parallel()

	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewRepository(pool, testTracer)

	if err := repo.MarkResolved(context.Background(), 7, true, false, -0.012); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := pool.execs[0]
	if q.args[0] != int64(7) || q.args[1] != true || q.args[2] != false || q.args[3] != -0.012 {
		t.Fatalf("unexpected args: %v", q.args)
	}
	if !strings.Contains(q.sql, "resolved_at IS NULL") {
		t.Fatalf("already-resolved guard missing: %s", q.sql)
	}
}

func TestListRecentDefaultsLimit(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	repo := NewRepository(pool, testTracer)

	if _, err := repo.ListRecent(context.Background(), "SPY", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.queries[0].args[1] != 30 {
		t.Fatalf("expected default limit 30, got %v", pool.queries[0].args[1])
	}
}

type capturedQuery struct {
	sql  string
	args []any
}

type fakePool struct {
	execs     []capturedQuery
	queries   []capturedQuery
	queryRows []capturedQuery
	execTag   pgconn.CommandTag
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, capturedQuery{sql: sql, args: args})
	return f.execTag, nil
}

func (f *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, capturedQuery{sql: sql, args: args})
	return emptyRows{}, nil
}

func (f *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.queryRows = append(f.queryRows, capturedQuery{sql: sql, args: args})
	return zeroRow{}
}

// zeroRow scans successfully without touching any destination.
type zeroRow struct{}

func (zeroRow) Scan(dest ...any) error { return nil }

type emptyRows struct{}

func (emptyRows) Next() bool                                   { return false }
func (emptyRows) Scan(dest ...any) error                       { return pgx.ErrNoRows }
func (emptyRows) Close()                                       {}
func (emptyRows) Err() error                                   { return nil }
func (emptyRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (emptyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (emptyRows) Values() ([]any, error)                       { return nil, nil }
func (emptyRows) RawValues() [][]byte                          { return nil }
func (emptyRows) Conn() *pgx.Conn                              { return nil }
