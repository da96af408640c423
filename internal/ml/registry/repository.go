// Package registry persists trained model versions. Versions are immutable
// once inserted; activation flips which row serves a symbol and is the only
// mutation.
package registry

import (
	"context"
	"errors"
	"time"

	"stock-sage/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createModelVersionsTable = `
CREATE TABLE IF NOT EXISTS model_versions (
    id                   BIGSERIAL   PRIMARY KEY,
    symbol               TEXT        NOT NULL,
    version              INTEGER     NOT NULL,
    variant              TEXT        NOT NULL,
    feature_spec_version TEXT        NOT NULL,
    trained_from         TIMESTAMPTZ NOT NULL,
    trained_to           TIMESTAMPTZ NOT NULL,
    trained_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    hyperparams_json     TEXT        NOT NULL DEFAULT '{}',
    metrics_json         TEXT        NOT NULL DEFAULT '{}',
    artifact_format      TEXT        NOT NULL,
    artifact_blob        BYTEA       NOT NULL,
    is_active            BOOLEAN     NOT NULL DEFAULT FALSE,
    activated_at         TIMESTAMPTZ,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (symbol, version)
);

CREATE INDEX IF NOT EXISTS idx_model_versions_active
    ON model_versions (symbol, version DESC)
    WHERE is_active;
`

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "model-registry.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createModelVersionsTable)
	return err
}

func (r *Repository) NextVersion(ctx context.Context, symbol string) (int, error) {
	_, span := r.tracer.Start(ctx, "model-registry.next-version")
	defer span.End()

	var version int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE symbol = $1`, symbol).Scan(&version)
	return version, err
}

func (r *Repository) InsertModelVersion(ctx context.Context, model domain.ModelVersion) (*domain.ModelVersion, error) {
	_, span := r.tracer.Start(ctx, "model-registry.insert")
	defer span.End()

	if model.Symbol == "" || model.Version <= 0 {
		return nil, errors.New("invalid model version payload")
	}
	var out domain.ModelVersion
	err := r.pool.QueryRow(ctx, `
INSERT INTO model_versions (
    symbol, version, variant, feature_spec_version,
    trained_from, trained_to, trained_at,
    hyperparams_json, metrics_json,
    artifact_format, artifact_blob,
    is_active, activated_at
) VALUES (
    $1, $2, $3, $4,
    $5, $6, COALESCE($7, NOW()),
    $8, $9,
    $10, $11,
    $12, $13
)
RETURNING id, symbol, version, variant, feature_spec_version,
          trained_from, trained_to, trained_at,
          hyperparams_json, metrics_json,
          artifact_format, artifact_blob,
          is_active, activated_at, created_at`,
		model.Symbol,
		model.Version,
		model.Variant,
		model.FeatureSpecVersion,
		model.TrainedFrom.UTC(),
		model.TrainedTo.UTC(),
		nullIfZeroTime(model.TrainedAt),
		fallbackJSON(model.HyperparamsJSON),
		fallbackJSON(model.MetricsJSON),
		model.ArtifactFormat,
		model.ArtifactBlob,
		model.IsActive,
		nullTime(model.ActivatedAt),
	).Scan(
		&out.ID,
		&out.Symbol,
		&out.Version,
		&out.Variant,
		&out.FeatureSpecVersion,
		&out.TrainedFrom,
		&out.TrainedTo,
		&out.TrainedAt,
		&out.HyperparamsJSON,
		&out.MetricsJSON,
		&out.ArtifactFormat,
		&out.ArtifactBlob,
		&out.IsActive,
		&out.ActivatedAt,
		&out.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	normalizeModelTimes(&out)
	return &out, nil
}

func (r *Repository) GetActiveModel(ctx context.Context, symbol string) (*domain.ModelVersion, error) {
	_, span := r.tracer.Start(ctx, "model-registry.get-active")
	defer span.End()

	return r.getOne(ctx, `
SELECT id, symbol, version, variant, feature_spec_version,
       trained_from, trained_to, trained_at,
       hyperparams_json, metrics_json,
       artifact_format, artifact_blob,
       is_active, activated_at, created_at
FROM model_versions
WHERE symbol = $1 AND is_active = TRUE
ORDER BY version DESC
LIMIT 1`, symbol)
}

func (r *Repository) GetLatestModel(ctx context.Context, symbol string) (*domain.ModelVersion, error) {
	_, span := r.tracer.Start(ctx, "model-registry.get-latest")
	defer span.End()

	return r.getOne(ctx, `
SELECT id, symbol, version, variant, feature_spec_version,
       trained_from, trained_to, trained_at,
       hyperparams_json, metrics_json,
       artifact_format, artifact_blob,
       is_active, activated_at, created_at
FROM model_versions
WHERE symbol = $1
ORDER BY version DESC
LIMIT 1`, symbol)
}

// ActivateModel deactivates the current row and activates the requested one
// inside a single transaction, so a symbol never serves two models at once.
func (r *Repository) ActivateModel(ctx context.Context, symbol string, version int) error {
	_, span := r.tracer.Start(ctx, "model-registry.activate")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE model_versions SET is_active = FALSE, activated_at = NULL WHERE symbol = $1`, symbol); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE model_versions SET is_active = TRUE, activated_at = NOW() WHERE symbol = $1 AND version = $2`, symbol, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (*domain.ModelVersion, error) {
	var out domain.ModelVersion
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&out.ID,
		&out.Symbol,
		&out.Version,
		&out.Variant,
		&out.FeatureSpecVersion,
		&out.TrainedFrom,
		&out.TrainedTo,
		&out.TrainedAt,
		&out.HyperparamsJSON,
		&out.MetricsJSON,
		&out.ArtifactFormat,
		&out.ArtifactBlob,
		&out.IsActive,
		&out.ActivatedAt,
		&out.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	normalizeModelTimes(&out)
	return &out, nil
}

func normalizeModelTimes(model *domain.ModelVersion) {
	model.TrainedFrom = model.TrainedFrom.UTC()
	model.TrainedTo = model.TrainedTo.UTC()
	model.TrainedAt = model.TrainedAt.UTC()
	model.CreatedAt = model.CreatedAt.UTC()
	if model.ActivatedAt != nil {
		t := model.ActivatedAt.UTC()
		model.ActivatedAt = &t
	}
}

func fallbackJSON(v string) string {
	if v == "" {
		return "{}"
	}
	return v
}

func nullIfZeroTime(v time.Time) any {
	if v.IsZero() {
		return nil
	}
	return v.UTC()
}

func nullTime(v *time.Time) any {
	if v == nil || v.IsZero() {
		return nil
	}
	t := v.UTC()
	return t
}
