package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/kafka"
)

type batchPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fail    bool
}

func (p *batchPublisher) Publish(ctx context.Context, e kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{e})
}

func (p *batchPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *batchPublisher) Close() error { return nil }

func (p *batchPublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestFlushOnBatchSize(t *testing.T) {
	pub := &batchPublisher{}
	bc := NewBatchCollector(pub, 3, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	for i := 0; i < 3; i++ {
		bc.Track("k", i)
	}
	assert.Eventually(t, func() bool { return pub.total() == 3 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, bc.BufferLen())

	cancel()
	bc.Close()
}

func TestFlushOnInterval(t *testing.T) {
	pub := &batchPublisher{}
	bc := NewBatchCollector(pub, 100, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track("k", "one")
	assert.Eventually(t, func() bool { return pub.total() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	bc.Close()
}

func TestFinalFlushOnShutdown(t *testing.T) {
	pub := &batchPublisher{}
	bc := NewBatchCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track("k", 1)
	bc.Track("k", 2)
	cancel()
	bc.Close()
	assert.Equal(t, 2, pub.total())
}

func TestFailedFlushRequeuesWithCap(t *testing.T) {
	pub := &batchPublisher{fail: true}
	bc := NewBatchCollector(pub, 2, time.Hour)

	for i := 0; i < 10; i++ {
		bc.Track("k", i)
	}
	bc.flush(context.Background())
	assert.Equal(t, 6, bc.BufferLen())
	assert.Equal(t, 4, bc.dropped)
	// the newest events are the ones kept
	assert.Equal(t, 4, bc.pending[0].Value)
	assert.Equal(t, 9, bc.pending[5].Value)
}
