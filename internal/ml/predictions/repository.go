// Package predictions persists direction calls and their eventual outcomes.
// A symbol gets at most one row per bar date and model version; re-running
// inference for the same bar overwrites the call instead of duplicating it.
package predictions

import (
	"context"
	"time"

	"stock-sage/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
)

const unresolvedBatchLimit = 200

const createPredictionsTable = `
CREATE TABLE IF NOT EXISTS predictions (
    id              BIGSERIAL        PRIMARY KEY,
    symbol          TEXT             NOT NULL,
    bar_date        TIMESTAMPTZ      NOT NULL,
    target_date     TIMESTAMPTZ      NOT NULL,
    model_version   INTEGER          NOT NULL,
    variant         TEXT             NOT NULL,
    direction       TEXT             NOT NULL,
    prob_up         DOUBLE PRECISION NOT NULL,
    prob_down       DOUBLE PRECISION NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL,
    current_price   DOUBLE PRECISION NOT NULL,
    created_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
    resolved_at     TIMESTAMPTZ,
    actual_up       BOOLEAN,
    is_correct      BOOLEAN,
    realized_return DOUBLE PRECISION,
    UNIQUE (symbol, bar_date, model_version)
);

CREATE INDEX IF NOT EXISTS idx_predictions_unresolved
    ON predictions (target_date)
    WHERE resolved_at IS NULL;
`

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "predictions.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createPredictionsTable)
	return err
}

func (r *Repository) UpsertPrediction(ctx context.Context, prediction domain.Prediction) (*domain.Prediction, error) {
	_, span := r.tracer.Start(ctx, "predictions.upsert")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
INSERT INTO predictions (
    symbol, bar_date, target_date,
    model_version, variant,
    direction, prob_up, prob_down, confidence, current_price
) VALUES (
    $1, $2, $3,
    $4, $5,
    $6, $7, $8, $9, $10
)
ON CONFLICT (symbol, bar_date, model_version) DO UPDATE SET
    target_date = EXCLUDED.target_date,
    variant = EXCLUDED.variant,
    direction = EXCLUDED.direction,
    prob_up = EXCLUDED.prob_up,
    prob_down = EXCLUDED.prob_down,
    confidence = EXCLUDED.confidence,
    current_price = EXCLUDED.current_price
RETURNING id, symbol, bar_date, target_date,
          model_version, variant,
          direction, prob_up, prob_down, confidence, current_price,
          created_at, resolved_at, actual_up, is_correct, realized_return`,
		prediction.Symbol,
		prediction.BarDate.UTC(),
		prediction.TargetDate.UTC(),
		prediction.ModelVersion,
		prediction.Variant,
		prediction.Direction,
		prediction.ProbUp,
		prediction.ProbDown,
		prediction.Confidence,
		prediction.CurrentPrice,
	)
	return scanPredictionRow(row)
}

func (r *Repository) ListUnresolvedDue(ctx context.Context, asOf time.Time) ([]domain.Prediction, error) {
	_, span := r.tracer.Start(ctx, "predictions.list-unresolved-due")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT id, symbol, bar_date, target_date,
       model_version, variant,
       direction, prob_up, prob_down, confidence, current_price,
       created_at, resolved_at, actual_up, is_correct, realized_return
FROM predictions
WHERE resolved_at IS NULL
  AND target_date <= $1
ORDER BY target_date ASC
LIMIT $2`, asOf.UTC(), unresolvedBatchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Prediction, 0, unresolvedBatchLimit)
	for rows.Next() {
		p, err := scanPredictionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *Repository) MarkResolved(ctx context.Context, id int64, actualUp, correct bool, realizedReturn float64) error {
	_, span := r.tracer.Start(ctx, "predictions.mark-resolved")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `
UPDATE predictions
SET resolved_at = NOW(),
    actual_up = $2,
    is_correct = $3,
    realized_return = $4
WHERE id = $1
  AND resolved_at IS NULL`, id, actualUp, correct, realizedReturn)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecent returns the newest calls for a symbol, resolved or not, newest
// first.
func (r *Repository) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.Prediction, error) {
	_, span := r.tracer.Start(ctx, "predictions.list-recent")
	defer span.End()

	if limit <= 0 {
		limit = 30
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, symbol, bar_date, target_date,
       model_version, variant,
       direction, prob_up, prob_down, confidence, current_price,
       created_at, resolved_at, actual_up, is_correct, realized_return
FROM predictions
WHERE symbol = $1
ORDER BY bar_date DESC
LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Prediction, 0, limit)
	for rows.Next() {
		p, err := scanPredictionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPredictionRow(s scanner) (*domain.Prediction, error) {
	var out domain.Prediction
	var resolvedAt pgtype.Timestamptz
	var actualUp pgtype.Bool
	var isCorrect pgtype.Bool
	var realizedReturn pgtype.Float8

	if err := s.Scan(
		&out.ID,
		&out.Symbol,
		&out.BarDate,
		&out.TargetDate,
		&out.ModelVersion,
		&out.Variant,
		&out.Direction,
		&out.ProbUp,
		&out.ProbDown,
		&out.Confidence,
		&out.CurrentPrice,
		&out.CreatedAt,
		&resolvedAt,
		&actualUp,
		&isCorrect,
		&realizedReturn,
	); err != nil {
		return nil, err
	}
	out.BarDate = out.BarDate.UTC()
	out.TargetDate = out.TargetDate.UTC()
	out.CreatedAt = out.CreatedAt.UTC()

	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		out.ResolvedAt = &t
	}
	if actualUp.Valid {
		v := actualUp.Bool
		out.ActualUp = &v
	}
	if isCorrect.Valid {
		v := isCorrect.Bool
		out.IsCorrect = &v
	}
	if realizedReturn.Valid {
		v := realizedReturn.Float64
		out.RealizedReturn = &v
	}
	return &out, nil
}
