package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/logger"
)

// Publisher is the Kafka side of the collector.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector records every event in the aggregator and buffers it for
// batched publishing. Either sink may be nil. Track never blocks the
// request path.
type Collector struct {
	publisher     Publisher
	aggregator    *Aggregator
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	maxBuffer     int
	flushInterval time.Duration
	flushMu       sync.Mutex
	done          chan struct{}
	logger        *slog.Logger
}

func NewCollector(publisher Publisher, aggregator *Aggregator, cfg config.KafkaConfig) *Collector {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxBuffer := cfg.BufferSize
	if maxBuffer < batchSize {
		maxBuffer = batchSize * 3
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		aggregator:    aggregator,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		maxBuffer:     maxBuffer,
		flushInterval: interval,
		done:          make(chan struct{}),
		logger:        logger.WithComponent("analytics-collector"),
	}
}

// Start launches the flush loop. It returns immediately; the loop ends with
// a final flush when ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	if c.publisher == nil {
		close(c.done)
		return
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

func (c *Collector) Track(event QueryEvent) {
	if c.aggregator != nil {
		c.aggregator.Record(event)
	}
	if c.publisher == nil {
		return
	}
	c.mu.Lock()
	if len(c.buffer) >= c.maxBuffer {
		c.mu.Unlock()
		c.logger.Warn("analytics event dropped (buffer full)")
		return
	}
	c.buffer = append(c.buffer, kafka.Event{Key: event.Endpoint, Value: event})
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		go c.Flush(context.Background())
	}
}

// Flush publishes everything buffered. Failed batches are requeued up to the
// buffer limit.
func (c *Collector) Flush(ctx context.Context) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if len(c.buffer) > c.maxBuffer {
			dropped := len(c.buffer) - c.maxBuffer
			c.buffer = c.buffer[:c.maxBuffer]
			c.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		c.mu.Unlock()
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}

func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Close waits for the flush loop to finish. Start must have been called.
func (c *Collector) Close() {
	<-c.done
}
