package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/kafka"
)

// Tracker is what the retrieval path reports events to. Track must never
// block a request.
type Tracker interface {
	Track(key string, value any)
}

// Collector forwards events to Kafka one by one through a bounded queue.
// A full queue drops the event and counts it.
type Collector struct {
	publisher kafka.Publisher
	events    chan kafka.Event
	dropped   atomic.Int64
	logger    *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewCollector(publisher kafka.Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher: publisher,
		events:    make(chan kafka.Event, bufferSize),
		logger:    slog.Default().With("component", "analytics-collector"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the publish loop until ctx ends or Close is called. Whatever
// is still queued at that point is published before the loop exits.
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("analytics collector started", "buffer_size", cap(c.events))
	go func() {
		defer close(c.done)
		for {
			select {
			case ev := <-c.events:
				c.publish(ctx, ev)
			case <-ctx.Done():
				c.drain(ctx)
				return
			case <-c.stop:
				c.drain(ctx)
				return
			}
		}
	}()
}

func (c *Collector) Track(key string, value any) {
	select {
	case c.events <- kafka.Event{Key: key, Value: value}:
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("analytics queue full, event dropped", "key", key, "dropped_total", n)
	}
}

// Dropped reports how many events were discarded on a full queue.
func (c *Collector) Dropped() int64 { return c.dropped.Load() }

// Close stops the loop and waits for the drain. Later Track calls are
// accepted and discarded with the queue.
func (c *Collector) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Collector) publish(ctx context.Context, ev kafka.Event) {
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Error("publishing analytics event", "key", ev.Key, "error", err)
	}
}

func (c *Collector) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-c.events:
			c.publish(ctx, ev)
		default:
			return
		}
	}
}
