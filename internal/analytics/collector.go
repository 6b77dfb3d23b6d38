// Package analytics records search and index events. The searcher ships
// them to Kafka through a Collector without blocking the request path:
// events go through a bounded buffer, and when it is full new events are
// dropped and counted. The analytics service folds them back into totals
// with an Aggregator.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/kafka"
)

const (
	defaultBufferSize = 10000
	drainTimeout      = 5 * time.Second
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Event is implemented by SearchEvent and IndexEvent.
type Event interface {
	key() string
}

type Collector struct {
	publisher Publisher
	eventCh   chan Event
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
	published atomic.Int64
}

func NewCollector(publisher Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan Event, bufferSize),
		logger:    slog.Default().With("component", "analytics-collector"),
		done:      make(chan struct{}),
	}
}

// Start publishes buffered events until Close is called or ctx is done.
// Events still buffered at that point are flushed with a bounded timeout.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues an event. It never blocks.
func (c *Collector) Track(event Event) {
	select {
	case c.eventCh <- event:
	default:
		if c.dropped.Add(1)%1000 == 1 {
			c.logger.Warn("analytics event dropped (buffer full)", "dropped_total", c.dropped.Load())
		}
	}
}

// Close stops accepting events and waits for the buffer to be published.
// Track must not be called after Close.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		close(c.eventCh)
		<-c.done
		c.logger.Info("analytics collector stopped",
			"published", c.published.Load(),
			"dropped", c.dropped.Load(),
		)
	})
}

func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Collector) publish(ctx context.Context, event Event) {
	if err := c.publisher.Publish(ctx, kafka.Event{Key: event.key(), Value: event}); err != nil {
		c.logger.Error("failed to publish analytics event", "error", err)
		return
	}
	c.published.Add(1)
}

func (c *Collector) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, event)
		default:
			return
		}
	}
}
