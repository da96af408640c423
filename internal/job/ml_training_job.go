package job

import (
	"context"
	"log"
	"time"

	"stock-sage/internal/ml/training"

	"go.opentelemetry.io/otel/trace"
)

type MLTrainer interface {
	TrainAll(ctx context.Context, symbols []string, now time.Time) ([]training.TrainResult, error)
}

// MLTrainingJob retrains every symbol once a day at a fixed UTC hour,
// after the US close and the overnight bar sync.
type MLTrainingJob struct {
	tracer    trace.Tracer
	service   MLTrainer
	symbols   []string
	trainHour int
}

func NewMLTrainingJob(tracer trace.Tracer, service MLTrainer, symbols []string, trainHourUTC int) *MLTrainingJob {
	if trainHourUTC < 0 || trainHourUTC > 23 {
		trainHourUTC = 0
	}
	return &MLTrainingJob{tracer: tracer, service: service, symbols: symbols, trainHour: trainHourUTC}
}

func (j *MLTrainingJob) Start(ctx context.Context) {
	if j.service == nil {
		log.Println("ML training job disabled: no service")
		<-ctx.Done()
		return
	}
	for {
		next := nextRunUTC(time.Now().UTC(), j.trainHour)
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.runOnce(ctx)
		}
	}
}

func (j *MLTrainingJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "ml-training-job.run-once")
	defer span.End()

	results, err := j.service.TrainAll(ctx, j.symbols, time.Now().UTC())
	if err != nil {
		log.Printf("ML training error: %v", err)
		return
	}
	for _, r := range results {
		log.Printf("ML training result symbol=%s version=%d auc=%.4f promoted=%v", r.Symbol, r.Version, r.AUC, r.Promoted)
	}
}

func nextRunUTC(now time.Time, hour int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
