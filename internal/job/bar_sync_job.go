package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// BarSyncer refreshes stored daily history from the upstream sources.
type BarSyncer interface {
	SyncAll(ctx context.Context, symbols []string) (synced, failed int)
}

// BarSyncJob keeps daily bars fresh for every tracked symbol. Daily data
// only changes once per session close, so the interval is measured in hours
// rather than seconds.
type BarSyncJob struct {
	tracer   trace.Tracer
	market   BarSyncer
	symbols  []string
	interval time.Duration
}

func NewBarSyncJob(tracer trace.Tracer, market BarSyncer, symbols []string, intervalMinutes int) *BarSyncJob {
	if intervalMinutes <= 0 {
		intervalMinutes = 360
	}
	return &BarSyncJob{
		tracer:   tracer,
		market:   market,
		symbols:  symbols,
		interval: time.Duration(intervalMinutes) * time.Minute,
	}
}

// Start blocks until ctx is cancelled. The first sync runs immediately so a
// fresh deployment has history before the first prediction request.
func (j *BarSyncJob) Start(ctx context.Context) {
	if j.market == nil {
		log.Println("bar sync job disabled: no service")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	ticker := time.NewTicker(j.interval)
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

func (j *BarSyncJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "bar-sync-job.run-once")
	defer span.End()

	synced, failed := j.market.SyncAll(ctx, j.symbols)
	if failed > 0 {
		log.Printf("bar sync finished: %d symbols refreshed, %d failed", synced, failed)
		return
	}
	if synced > 0 {
		log.Printf("bar sync complete: %d symbols refreshed", synced)
	}
}
