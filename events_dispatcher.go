package sessioncore

import (
	"context"
	"sync"
	"sync/atomic"
)

// eventDispatcher decouples event emission from the request path: Emit
// enqueues onto a bounded channel and a single goroutine drains it into the
// sink. Closing drains whatever is already buffered before returning.
type eventDispatcher struct {
	cfg       EventsConfig
	sink      EventSink
	ch        chan LifecycleEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newEventDispatcher(cfg EventsConfig, sink EventSink) *eventDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &eventDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan LifecycleEvent, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *eventDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit enqueues an event. With DropIfFull set, a full buffer increments the
// drop counter instead of blocking the caller.
func (d *eventDispatcher) Emit(ctx context.Context, event LifecycleEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops the dispatcher after draining buffered events.
func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *eventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
