// Package repository holds the pgx-backed storage for daily price bars.
package repository

import (
	"context"
	"errors"
	"time"

	"stock-sage/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createBarsTable = `
CREATE TABLE IF NOT EXISTS price_bars (
    symbol   TEXT        NOT NULL,
    bar_date TIMESTAMPTZ NOT NULL,
    open     NUMERIC     NOT NULL,
    high     NUMERIC     NOT NULL,
    low      NUMERIC     NOT NULL,
    close    NUMERIC     NOT NULL,
    volume   NUMERIC     NOT NULL,
    PRIMARY KEY (symbol, bar_date)
);

CREATE INDEX IF NOT EXISTS idx_price_bars_symbol_date
    ON price_bars (symbol, bar_date DESC);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type BarRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewBarRepository(pool PgxPool, tracer trace.Tracer) *BarRepository {
	return &BarRepository{pool: pool, tracer: tracer}
}

func (r *BarRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "bar-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createBarsTable)
	return err
}

// UpsertBars writes bars in one round trip. Re-synced days overwrite in
// place, which is how provider corrections propagate.
func (r *BarRepository) UpsertBars(ctx context.Context, bars []*domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	_, span := r.tracer.Start(ctx, "bar-repo.upsert-bars")
	defer span.End()

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(
			`INSERT INTO price_bars (symbol, bar_date, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (symbol, bar_date) DO UPDATE SET
			     open = EXCLUDED.open,
			     high = EXCLUDED.high,
			     low = EXCLUDED.low,
			     close = EXCLUDED.close,
			     volume = EXCLUDED.volume`,
			b.Symbol, b.BarDate.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range bars {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestBars returns up to limit of the newest bars in ascending date
// order, ready for the feature engine.
func (r *BarRepository) LatestBars(ctx context.Context, symbol string, limit int) ([]*domain.PriceBar, error) {
	_, span := r.tracer.Start(ctx, "bar-repo.latest-bars")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, bar_date, open, high, low, close, volume
		 FROM price_bars
		 WHERE symbol = $1
		 ORDER BY bar_date DESC
		 LIMIT $2`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bars, err := scanBars(rows)
	if err != nil {
		return nil, err
	}
	reverse(bars)
	return bars, nil
}

// BarsSince returns all bars at or after since in ascending date order.
func (r *BarRepository) BarsSince(ctx context.Context, symbol string, since time.Time) ([]*domain.PriceBar, error) {
	_, span := r.tracer.Start(ctx, "bar-repo.bars-since")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, bar_date, open, high, low, close, volume
		 FROM price_bars
		 WHERE symbol = $1 AND bar_date >= $2
		 ORDER BY bar_date ASC`,
		symbol, since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBars(rows)
}

// LatestBarDate reports the newest stored bar date for a symbol, with false
// when no bars exist yet.
func (r *BarRepository) LatestBarDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	_, span := r.tracer.Start(ctx, "bar-repo.latest-bar-date")
	defer span.End()

	var latest time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT bar_date FROM price_bars WHERE symbol = $1 ORDER BY bar_date DESC LIMIT 1`,
		symbol,
	).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return latest.UTC(), true, nil
}

func scanBars(rows pgx.Rows) ([]*domain.PriceBar, error) {
	var bars []*domain.PriceBar
	for rows.Next() {
		b := &domain.PriceBar{}
		if err := rows.Scan(&b.Symbol, &b.BarDate, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.BarDate = b.BarDate.UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func reverse(bars []*domain.PriceBar) {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
}
