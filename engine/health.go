package engine

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// HealthSnapshot is one periodic sample of engine vitals
type HealthSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	Goroutines        int       `json:"goroutines"`
	HeapAllocBytes    uint64    `json:"heap_alloc_bytes"`
	QueueDepth        int       `json:"queue_depth"`
	CommandsPerSecond float64   `json:"commands_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	AvgLatency        float64   `json:"avg_latency_ms"`
	PendingLetters    int64     `json:"pending_dead_letters"`
	AbandonedLetters  int64     `json:"abandoned_dead_letters"`
}

// HealthSampler periodically samples engine vitals and keeps the latest
// snapshot available for dashboards and readiness checks.
type HealthSampler struct {
	executor *Executor
	letters  *DeadLetterStore
	interval time.Duration

	commands  atomic.Int64
	errors    atomic.Int64
	latencyNs atomic.Int64

	latest atomic.Pointer[HealthSnapshot]
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthSampler creates a sampler over the executor and dead letter store
func NewHealthSampler(executor *Executor, letters *DeadLetterStore, interval time.Duration) *HealthSampler {
	return &HealthSampler{
		executor: executor,
		letters:  letters,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// ObserveCommand feeds one finished command into the rolling window
func (h *HealthSampler) ObserveCommand(elapsed time.Duration, err error) {
	if h == nil {
		return
	}
	h.commands.Add(1)
	h.latencyNs.Add(int64(elapsed))
	if err != nil {
		h.errors.Add(1)
	}
}

// Latest returns the most recent snapshot, or nil before the first sample
func (h *HealthSampler) Latest() *HealthSnapshot {
	if h == nil {
		return nil
	}
	return h.latest.Load()
}

// Start launches the sampling loop
func (h *HealthSampler) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.sample(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit
func (h *HealthSampler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

func (h *HealthSampler) sample(ctx context.Context) {
	commands := h.commands.Swap(0)
	errs := h.errors.Swap(0)
	latency := h.latencyNs.Swap(0)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := &HealthSnapshot{
		Timestamp:      time.Now().UTC(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
	}
	if h.executor != nil {
		snap.QueueDepth = h.executor.QueueDepth()
	}
	if commands > 0 {
		snap.CommandsPerSecond = float64(commands) / h.interval.Seconds()
		snap.ErrorRate = float64(errs) / float64(commands)
		snap.AvgLatency = float64(latency) / float64(commands) / float64(time.Millisecond)
	}
	if h.letters != nil {
		pending, abandoned, err := h.letters.Counts(ctx)
		if err != nil {
			slogging.Get().Warn("Health sample failed to count dead letters: %v", err)
		} else {
			snap.PendingLetters = pending
			snap.AbandonedLetters = abandoned
		}
	}

	h.latest.Store(snap)
	slogging.Get().Debug("Health sample: %d goroutines, queue %d, %.1f cmd/s, %.2f%% errors",
		snap.Goroutines, snap.QueueDepth, snap.CommandsPerSecond, snap.ErrorRate*100)
}
