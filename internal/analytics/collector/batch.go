// Package collector holds the batching variant of the analytics tracker,
// selected when analytics.batchSize is set.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/kafka"
)

// retainBatches bounds how many batches' worth of events survive repeated
// publish failures.
const retainBatches = 3

// BatchCollector buffers events and publishes them with one PublishBatch
// call when batchSize events are waiting or flushInterval has passed.
type BatchCollector struct {
	publisher     kafka.Publisher
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	pending []kafka.Event
	dropped int

	full chan struct{}
	done chan struct{}
}

func NewBatchCollector(publisher kafka.Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "batch-collector"),
		pending:       make([]kafka.Event, 0, batchSize),
		full:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start runs the flush loop until ctx ends. The last flush uses a short
// detached context.
func (bc *BatchCollector) Start(ctx context.Context) {
	bc.logger.Info("batch collector started", "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
	go bc.loop(ctx)
}

func (bc *BatchCollector) loop(ctx context.Context) {
	defer close(bc.done)
	ticker := time.NewTicker(bc.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-bc.full:
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			bc.flush(final)
			cancel()
			return
		}
		bc.flush(ctx)
	}
}

func (bc *BatchCollector) Track(key string, value any) {
	bc.mu.Lock()
	bc.pending = append(bc.pending, kafka.Event{Key: key, Value: value})
	ready := len(bc.pending) >= bc.batchSize
	bc.mu.Unlock()
	if !ready {
		return
	}
	select {
	case bc.full <- struct{}{}:
	default:
	}
}

// Close blocks until the loop has made its final flush. It expects the
// Start context to be cancelled already.
func (bc *BatchCollector) Close() { <-bc.done }

func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.pending)
}

func (bc *BatchCollector) flush(ctx context.Context) {
	bc.mu.Lock()
	batch := bc.pending
	if len(batch) == 0 {
		bc.mu.Unlock()
		return
	}
	bc.pending = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	if err := bc.publisher.PublishBatch(ctx, batch); err != nil {
		bc.logger.Error("publishing analytics batch", "events", len(batch), "error", err)
		bc.requeue(batch)
		return
	}
	bc.logger.Debug("analytics batch published", "events", len(batch))
}

// requeue puts a failed batch back in front of anything tracked since, then
// trims the oldest events beyond the retention bound.
func (bc *BatchCollector) requeue(batch []kafka.Event) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.pending = append(batch, bc.pending...)
	if over := len(bc.pending) - bc.batchSize*retainBatches; over > 0 {
		bc.pending = append([]kafka.Event(nil), bc.pending[over:]...)
		bc.dropped += over
		bc.logger.Warn("analytics backlog trimmed", "dropped", over, "dropped_total", bc.dropped)
	}
}
