// Package dispatcher fans work out to a fixed-size worker pool over a bounded queue.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/queue/memory"
	"github.com/JakeFAU/arcgis-harvester/internal/worker"
)

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Dispatcher runs batches of items through a pool of workers.
type Dispatcher[T any] struct {
	cfg     Config
	handler worker.Handler[T]
	logger  *zap.Logger
}

// New creates a Dispatcher. Non-positive sizes fall back to one worker and a queue
// twice the pool size.
func New[T any](cfg Config, handler worker.Handler[T], logger *zap.Logger) *Dispatcher[T] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher[T]{cfg: cfg, handler: handler, logger: logger}
}

// Process feeds items through the pool and blocks until every dispatched item has been
// handled. When ctx ends, no further items are dispatched and the undispatched ones
// are returned in their original relative order.
func (d *Dispatcher[T]) Process(ctx context.Context, items []T) []T {
	queue := memory.NewQueue[T](d.cfg.QueueSize)

	var undispatched []T
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		defer queue.Close()
		for i, item := range items {
			if err := queue.Enqueue(ctx, item); err != nil {
				undispatched = append(undispatched, items[i:]...)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(wk *worker.Worker[T]) {
			defer wg.Done()
			wk.Run(ctx)
		}(worker.New(i, queue, d.handler, d.logger))
	}
	wg.Wait()
	<-produced

	leftover := append(queue.Drain(), undispatched...)
	if len(leftover) > 0 {
		d.logger.Info("dispatch stopped early", zap.Int("undispatched", len(leftover)))
	}
	return leftover
}
