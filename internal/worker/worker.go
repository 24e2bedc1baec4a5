// Package worker implements the loop that runs queued harvest units.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/metrics"
	"github.com/JakeFAU/arcgis-harvester/internal/queue/memory"
)

// Source yields work items until it is closed.
type Source[T any] interface {
	Dequeue(ctx context.Context) (T, error)
}

// Handler processes one item. It always runs to completion.
type Handler[T any] func(ctx context.Context, item T)

// Worker consumes items from a Source and hands them to a Handler.
type Worker[T any] struct {
	id      int
	source  Source[T]
	handler Handler[T]
	logger  *zap.Logger
}

// New constructs a Worker.
func New[T any](id int, source Source[T], handler Handler[T], logger *zap.Logger) *Worker[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker[T]{
		id:      id,
		source:  source,
		handler: handler,
		logger:  logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming items until the source is closed and drained or ctx ends.
// Once an item is dequeued the handler runs on a context detached from ctx, so
// canceling the run stops new work without abandoning dispatched work.
func (w *Worker[T]) Run(ctx context.Context) {
	for {
		item, err := w.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(context.WithoutCancel(ctx), item)
	}
}

func (w *Worker[T]) process(ctx context.Context, item T) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", zap.Any("panic", r))
		}
	}()
	w.handler(ctx, item)
}
