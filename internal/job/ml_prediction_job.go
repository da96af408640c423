package job

import (
	"context"
	"log"
	"time"

	"stock-sage/internal/ml/inference"

	"go.opentelemetry.io/otel/trace"
)

type PredictionRefresher interface {
	RunAll(ctx context.Context, symbols []string) (inference.RunResult, error)
}

// MLPredictionJob refreshes the stored prediction for every symbol so the
// predict endpoints serve from cache instead of running the ensemble inline.
type MLPredictionJob struct {
	tracer       trace.Tracer
	service      PredictionRefresher
	symbols      []string
	pollInterval time.Duration
}

func NewMLPredictionJob(tracer trace.Tracer, service PredictionRefresher, symbols []string, pollInterval time.Duration) *MLPredictionJob {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Minute
	}
	return &MLPredictionJob{tracer: tracer, service: service, symbols: symbols, pollInterval: pollInterval}
}

func (j *MLPredictionJob) Start(ctx context.Context) {
	if j.service == nil {
		log.Println("ML prediction job disabled: no service")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *MLPredictionJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "ml-prediction-job.run-once")
	defer span.End()

	result, err := j.service.RunAll(ctx, j.symbols)
	if err != nil {
		log.Printf("ML prediction refresh error: %v", err)
		return
	}
	if result.Failures > 0 {
		log.Printf("ML prediction refresh: %d updated, %d failed", result.Predictions, result.Failures)
		return
	}
	if result.Predictions > 0 {
		log.Printf("ML prediction refresh complete (%d symbols)", result.Predictions)
	}
}
