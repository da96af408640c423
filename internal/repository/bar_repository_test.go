package repository

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

func TestRunMigrationsCreatesBarsTable(t *testing.T) {
	t.Parallel()

	pool := &fakeBarPool{}
	repo := NewBarRepository(pool, testTracer)

	if err := repo.RunMigrations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.execs) != 1 {
		t.Fatalf("expected one exec, got %d", len(pool.execs))
	}
	if !strings.Contains(pool.execs[0].sql, "CREATE TABLE IF NOT EXISTS price_bars") {
		t.Fatalf("unexpected migration sql: %s", pool.execs[0].sql)
	}
}

func TestUpsertBarsQueuesOneInsertPerBar(t *testing.T) {
	t.Parallel()

	pool := &fakeBarPool{}
	repo := NewBarRepository(pool, testTracer)

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	bars := []*domain.PriceBar{
		{Symbol: "SPY", BarDate: date, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		{Symbol: "SPY", BarDate: date.AddDate(0, 0, 1), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 90},
	}

	if err := repo.UpsertBars(context.Background(), bars); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.batch == nil {
		t.Fatal("expected a batch round trip")
	}
	if got := len(pool.batch.QueuedQueries); got != 2 {
		t.Fatalf("expected 2 queued inserts, got %d", got)
	}

	first := pool.batch.QueuedQueries[0]
	if !strings.Contains(first.SQL, "ON CONFLICT (symbol, bar_date) DO UPDATE") {
		t.Fatalf("upsert clause missing: %s", first.SQL)
	}
	if len(first.Arguments) != 7 {
		t.Fatalf("expected 7 args, got %d", len(first.Arguments))
	}
	if first.Arguments[0] != "SPY" {
		t.Fatalf("unexpected symbol arg: %v", first.Arguments[0])
	}
	if !first.Arguments[1].(time.Time).Equal(date) {
		t.Fatalf("unexpected bar_date arg: %v", first.Arguments[1])
	}
	if first.Arguments[6] != float64(100) {
		t.Fatalf("unexpected volume arg: %v", first.Arguments[6])
	}
}

func TestUpsertBarsSkipsEmptySlice(t *testing.T) {
	t.Parallel()

	pool := &fakeBarPool{}
	repo := NewBarRepository(pool, testTracer)

	if err := repo.UpsertBars(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.batch != nil {
		t.Fatal("empty upsert should not hit the pool")
	}
}

func TestLatestBarsReturnsAscendingOrder(t *testing.T) {
	t.Parallel()

	newest := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	pool := &fakeBarPool{rows: &fakeBarRows{bars: []*domain.PriceBar{
		{Symbol: "SPY", BarDate: newest, Close: 2},
		{Symbol: "SPY", BarDate: newest.AddDate(0, 0, -1), Close: 1},
	}}}
	repo := NewBarRepository(pool, testTracer)

	bars, err := repo.LatestBars(context.Background(), "SPY", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if !bars[0].BarDate.Before(bars[1].BarDate) {
		t.Fatalf("bars not ascending: %v then %v", bars[0].BarDate, bars[1].BarDate)
	}
	if pool.queries[0].args[1] != 2 {
		t.Fatalf("limit not forwarded: %v", pool.queries[0].args)
	}
}

func TestBarsSinceNormalizesToUTC(t *testing.T) {
	t.Parallel()

	pool := &fakeBarPool{}
	repo := NewBarRepository(pool, testTracer)

	loc := time.FixedZone("PST", -8*3600)
	since := time.Date(2024, 3, 1, 16, 0, 0, 0, loc)

	if _, err := repo.BarsSince(context.Background(), "GLD", since); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := pool.queries[0].args[1].(time.Time)
	if !ok || got.Location() != time.UTC {
		t.Fatalf("since arg not UTC: %#v", pool.queries[0].args[1])
	}
}

func TestLatestBarDateReportsMissing(t *testing.T) {
	t.Parallel()

	pool := &fakeBarPool{rowErr: pgx.ErrNoRows}
	repo := NewBarRepository(pool, testTracer)

	_, ok, err := repo.LatestBarDate(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false when no bars exist")
	}
}

func TestLatestBarDateFound(t *testing.T) {
	t.Parallel()

	stored := time.Date(2024, 3, 5, 0, 0, 0, 0, time.FixedZone("CET", 3600))
	pool := &fakeBarPool{rowTime: stored}
	repo := NewBarRepository(pool, testTracer)

	got, ok, err := repo.LatestBarDate(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !got.Equal(stored) || got.Location() != time.UTC {
		t.Fatalf("unexpected date: %v", got)
	}
}

type capturedQuery struct {
	sql  string
	args []any
}

type fakeBarPool struct {
	execs   []capturedQuery
	queries []capturedQuery
	batch   *pgx.Batch
	rows    *fakeBarRows
	rowTime time.Time
	rowErr  error
}

func (f *fakeBarPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, capturedQuery{sql: sql, args: args})
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeBarPool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batch = b
	return &fakeBatchResults{remaining: b.Len()}
}

func (f *fakeBarPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, capturedQuery{sql: sql, args: args})
	if f.rows == nil {
		return &fakeBarRows{}, nil
	}
	return f.rows, nil
}

func (f *fakeBarPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, capturedQuery{sql: sql, args: args})
	return fakeTimeRow{value: f.rowTime, err: f.rowErr}
}

type fakeBatchResults struct{ remaining int }

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if f.remaining == 0 {
		return pgconn.CommandTag{}, errors.New("no queued statements left")
	}
	f.remaining--
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (f *fakeBatchResults) QueryRow() pgx.Row        { return fakeTimeRow{err: errors.New("not implemented")} }
func (f *fakeBatchResults) Close() error             { return nil }

type fakeTimeRow struct {
	value time.Time
	err   error
}

func (r fakeTimeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*time.Time)) = r.value
	return nil
}

type fakeBarRows struct {
	bars []*domain.PriceBar
	idx  int
}

func (r *fakeBarRows) Next() bool {
	if r.idx >= len(r.bars) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeBarRows) Scan(dest ...any) error {
	b := r.bars[r.idx-1]
	*(dest[0].(*string)) = b.Symbol
	*(dest[1].(*time.Time)) = b.BarDate
	*(dest[2].(*float64)) = b.Open
	*(dest[3].(*float64)) = b.High
	*(dest[4].(*float64)) = b.Low
	*(dest[5].(*float64)) = b.Close
	*(dest[6].(*float64)) = b.Volume
	return nil
}

func (r *fakeBarRows) Close()                                       {}
func (r *fakeBarRows) Err() error                                   { return nil }
func (r *fakeBarRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeBarRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeBarRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeBarRows) RawValues() [][]byte                          { return nil }
func (r *fakeBarRows) Conn() *pgx.Conn                              { return nil }
