package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/memory"
	"github.com/getpup/pupstore/es/commit"
	"github.com/getpup/pupstore/es/globalindex"
	"github.com/getpup/pupstore/es/projection"
)

// mockProjection implements projection.Projection for testing
type mockProjection struct {
	name        string
	handleCount int32
}

func (m *mockProjection) Name() string {
	return m.name
}

func (m *mockProjection) Handle(_ context.Context, _ es.Changeset) error {
	atomic.AddInt32(&m.handleCount, 1)
	return nil
}

// mockProcessor implements projection.ProcessorRunner for testing
type mockProcessor struct {
	err     error
	started int32
}

func (m *mockProcessor) Run(ctx context.Context, _ projection.Projection) error {
	atomic.AddInt32(&m.started, 1)
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunner_NoProjections(t *testing.T) {
	err := New().Run(context.Background(), nil)
	if !errors.Is(err, ErrNoProjections) {
		t.Fatalf("expected ErrNoProjections, got %v", err)
	}
}

func TestRunner_InvalidRunners(t *testing.T) {
	tests := []struct {
		name   string
		runner ProjectionRunner
	}{
		{name: "nil projection", runner: ProjectionRunner{Processor: &mockProcessor{}}},
		{name: "nil processor", runner: ProjectionRunner{Projection: &mockProjection{name: "p"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := New().Run(context.Background(), []ProjectionRunner{tt.runner}); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRunner_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p1, p2 := &mockProcessor{}, &mockProcessor{}

	done := make(chan error, 1)
	go func() {
		done <- New().Run(ctx, []ProjectionRunner{
			{Projection: &mockProjection{name: "one"}, Processor: p1},
			{Projection: &mockProjection{name: "two"}, Processor: p2},
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	if atomic.LoadInt32(&p1.started) != 1 || atomic.LoadInt32(&p2.started) != 1 {
		t.Error("expected both processors to start")
	}
}

func TestRunner_FailFast(t *testing.T) {
	boom := errors.New("boom")
	healthy := &mockProcessor{}

	err := New().Run(context.Background(), []ProjectionRunner{
		{Projection: &mockProjection{name: "healthy"}, Processor: healthy},
		{Projection: &mockProjection{name: "broken"}, Processor: &mockProcessor{err: boom}},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunPartitioned_InvalidConfig(t *testing.T) {
	err := New().RunPartitioned(context.Background(), &mockProjection{name: "p"}, 0, nil)
	if !errors.Is(err, ErrInvalidPartitionConfig) {
		t.Fatalf("expected ErrInvalidPartitionConfig, got %v", err)
	}
}

func TestRunPartitioned_ProcessesEveryChangesetOnce(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	a := commit.NewAppender(s, commit.DefaultConfig())
	streams := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"}
	for _, stream := range streams {
		if _, err := a.Append(ctx, stream, es.Any(), []es.Event{{Type: "init"}}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := globalindex.New(s, globalindex.DefaultConfig()).AssignGlobalIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	proj := &mockProjection{name: "partitioned"}
	var mu sync.Mutex
	processors := map[int]*projection.Processor{}

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	err := New().RunPartitioned(runCtx, proj, 3, func(key, total int) projection.ProcessorRunner {
		config := projection.DefaultProcessorConfig()
		config.PartitionKey = key
		config.TotalPartitions = total
		config.PollInterval = 5 * time.Millisecond
		p := projection.NewProcessor(s, config)
		mu.Lock()
		processors[key] = p
		mu.Unlock()
		return p
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	if got := atomic.LoadInt32(&proj.handleCount); got != int32(len(streams)) {
		t.Errorf("handled %d changesets, want %d", got, len(streams))
	}
	for key, p := range processors {
		cp, err := s.GetCounter(ctx, p.CheckpointName(proj))
		if err != nil {
			t.Fatal(err)
		}
		if cp.Value != int64(len(streams)) {
			t.Errorf("partition %d checkpoint = %d, want %d", key, cp.Value, len(streams))
		}
	}
}
