// internal/adapter/storage/live_query.go

package storage

import (
	"context"
	"sync"

	"pawmap/internal/domain/document"
)

// liveQuery re-runs a query whenever it is notified and pushes every result
// set to a single consumer. Notifications that arrive while a query is running
// coalesce into one re-run, which is safe because every snapshot is complete.
type liveQuery struct {
	run    func(ctx context.Context) ([]document.Document, error)
	out    chan []document.Document
	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	onStop  []func()
	started bool
	stopped bool
}

func newLiveQuery(parent context.Context, run func(ctx context.Context) ([]document.Document, error)) *liveQuery {
	ctx, cancel := context.WithCancel(parent)
	return &liveQuery{
		run:    run,
		out:    make(chan []document.Document),
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// start takes the initial snapshot and begins reacting to notifications
func (lq *liveQuery) start() {
	lq.mu.Lock()
	lq.started = true
	lq.mu.Unlock()
	go lq.loop()
}

func (lq *liveQuery) loop() {
	defer close(lq.done)
	defer close(lq.out)
	defer lq.stop()

	if !lq.refresh() {
		return
	}

	for {
		select {
		case <-lq.ctx.Done():
			return
		case <-lq.notify:
			if !lq.refresh() {
				return
			}
		}
	}
}

func (lq *liveQuery) refresh() bool {
	docs, err := lq.run(lq.ctx)
	if err != nil {
		if lq.ctx.Err() == nil {
			lq.fail(err)
		}
		return false
	}

	select {
	case lq.out <- docs:
		return true
	case <-lq.ctx.Done():
		return false
	}
}

// changed schedules a re-run; it never blocks
func (lq *liveQuery) changed() {
	select {
	case lq.notify <- struct{}{}:
	default:
	}
}

// fail ends the query with err unless it was already closed
func (lq *liveQuery) fail(err error) {
	lq.mu.Lock()
	if lq.err == nil && lq.ctx.Err() == nil {
		lq.err = err
	}
	lq.mu.Unlock()
	lq.cancel()
}

// addStop registers a cleanup that runs once when the query ends
func (lq *liveQuery) addStop(fn func()) {
	lq.mu.Lock()
	defer lq.mu.Unlock()
	lq.onStop = append(lq.onStop, fn)
}

func (lq *liveQuery) stop() {
	lq.mu.Lock()
	if lq.stopped {
		lq.mu.Unlock()
		return
	}
	lq.stopped = true
	fns := lq.onStop
	lq.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Snapshots implements document.Watch
func (lq *liveQuery) Snapshots() <-chan []document.Document {
	return lq.out
}

// Err implements document.Watch
func (lq *liveQuery) Err() error {
	lq.mu.Lock()
	defer lq.mu.Unlock()
	return lq.err
}

// Close implements document.Watch
func (lq *liveQuery) Close() error {
	lq.cancel()

	lq.mu.Lock()
	started := lq.started
	lq.mu.Unlock()

	if started {
		<-lq.done
	} else {
		lq.stop()
	}
	return nil
}
