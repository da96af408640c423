package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

func TestNewBarSyncJobInterval(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")

	job := NewBarSyncJob(tracer, &stubSyncer{}, []string{"SPY"}, 2)
	if job.interval != 2*time.Minute {
		t.Fatalf("expected 2m interval, got %v", job.interval)
	}

	job = NewBarSyncJob(tracer, &stubSyncer{}, []string{"SPY"}, 0)
	if job.interval != 360*time.Minute {
		t.Fatalf("expected the 6h default, got %v", job.interval)
	}
}

func TestBarSyncJobStart(t *testing.T) {
	t.Parallel()

	tracer := trace.NewNoopTracerProvider().Tracer("test")
	stub := &stubSyncer{}
	job := NewBarSyncJob(tracer, stub, []string{"SPY", "BTC"}, 60)

	ctx, cancel := context.WithCancel(context.Background())
	go job.Start(ctx)

	eventually(t, func() bool { return stub.calls() > 0 })
	cancel()

	if got := stub.lastSymbols(); len(got) != 2 {
		t.Fatalf("symbols not forwarded: %v", got)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

type stubSyncer struct {
	mu      sync.Mutex
	n       int
	symbols []string
}

func (s *stubSyncer) SyncAll(ctx context.Context, symbols []string) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	s.symbols = symbols
	return len(symbols), 0
}

func (s *stubSyncer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *stubSyncer) lastSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbols
}
