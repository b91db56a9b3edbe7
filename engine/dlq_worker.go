package engine

import (
	"context"
	"time"

	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

const dlqDrainBatchSize = 100

// DeadLetterWorker periodically re-drives pending dead letters through the
// persistence adapter. Replayed commands bypass the executor channel; the
// graph already reflects them, only the rows are missing.
type DeadLetterWorker struct {
	store    *DeadLetterStore
	persist  Persistence
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewDeadLetterWorker creates a worker draining the store every interval
func NewDeadLetterWorker(store *DeadLetterStore, persist Persistence, interval time.Duration) *DeadLetterWorker {
	return &DeadLetterWorker{
		store:    store,
		persist:  persist,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the drain loop
func (w *DeadLetterWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		slogging.Get().Info("Dead letter worker started (interval %s)", w.interval)
		for {
			select {
			case <-ctx.Done():
				slogging.Get().Info("Dead letter worker stopped")
				return
			case <-ticker.C:
				w.Drain(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit
func (w *DeadLetterWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

// Drain re-drives one batch of pending letters. It is exported so tests and
// operators can trigger a pass without waiting for the ticker.
func (w *DeadLetterWorker) Drain(ctx context.Context) {
	logger := slogging.Get()

	letters, err := w.store.Pending(ctx, dlqDrainBatchSize)
	if err != nil {
		logger.Error("Dead letter drain failed to list pending letters: %v", err)
		return
	}
	if len(letters) == 0 {
		return
	}
	logger.Info("Dead letter drain re-driving %d letters", len(letters))

	for _, letter := range letters {
		if ctx.Err() != nil {
			return
		}

		cmd, err := UnmarshalEnvelope([]byte(letter.Payload))
		if err != nil {
			logger.Error("Dead letter %s has an undecodable payload: %v", letter.ID, err)
			if markErr := w.store.MarkFailed(ctx, letter.ID, err); markErr != nil {
				logger.Error("Failed to mark dead letter %s: %v", letter.ID, markErr)
			}
			continue
		}

		if err := w.persist.Apply(ctx, cmd); err != nil {
			logger.Warn("Dead letter %s re-drive failed: %v", letter.ID, err)
			if markErr := w.store.MarkFailed(ctx, letter.ID, err); markErr != nil {
				logger.Error("Failed to mark dead letter %s: %v", letter.ID, markErr)
			}
			continue
		}

		if err := w.store.MarkSucceeded(ctx, letter.ID); err != nil {
			logger.Error("Failed to remove re-driven dead letter %s: %v", letter.ID, err)
			continue
		}
		logger.Info("Dead letter %s (%s) re-driven successfully", letter.ID, letter.CommandKind)
	}
}
