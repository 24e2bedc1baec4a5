package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arcgis-harvester/internal/queue/memory"
)

type fakeSource struct {
	mu    sync.Mutex
	items []int
	errs  []error
}

func (f *fakeSource) Dequeue(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return 0, err
	}
	if len(f.items) == 0 {
		return 0, memory.ErrQueueClosed
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, ctx.Err()
}

func TestWorkerRunsUntilClosed(t *testing.T) {
	t.Parallel()

	src := &fakeSource{items: []int{1, 2, 3}, errs: []error{errors.New("transient")}}
	var seen []int
	w := New(0, src, func(_ context.Context, item int) { seen = append(seen, item) }, nil)
	w.Run(context.Background())
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestWorkerHandlerContextIsDetached(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[int](1)
	require.NoError(t, q.Enqueue(context.Background(), 7))

	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan error, 1)
	w := New(1, q, func(hctx context.Context, _ int) {
		cancel()
		handled <- hctx.Err()
	}, nil)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case err := <-handled:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerSurvivesPanickingHandler(t *testing.T) {
	t.Parallel()

	src := &fakeSource{items: []int{1, 2}}
	var seen []int
	w := New(0, src, func(_ context.Context, item int) {
		if item == 1 {
			panic("boom")
		}
		seen = append(seen, item)
	}, nil)
	w.Run(context.Background())
	assert.Equal(t, []int{2}, seen)
}
