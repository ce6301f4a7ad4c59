package authkit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// auditDispatcher decouples request paths from the audit sink: events
// go into a buffered channel and a single goroutine drains them.
type auditDispatcher struct {
	sink       AuditSink
	events     chan AuditEvent
	done       chan struct{}
	dropIfFull bool
	dropped    atomic.Uint64
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

func newAuditDispatcher(sink AuditSink, buffer int, dropIfFull bool) *auditDispatcher {
	d := &auditDispatcher{
		sink:       sink,
		events:     make(chan AuditEvent, buffer),
		done:       make(chan struct{}),
		dropIfFull: dropIfFull,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()
	ctx := context.Background()
	for {
		select {
		case ev := <-d.events:
			_ = d.sink.Write(ctx, ev)
		case <-d.done:
			// Drain whatever is buffered before exiting.
			for {
				select {
				case ev := <-d.events:
					_ = d.sink.Write(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

// emit enqueues an event. With dropIfFull it never blocks; otherwise it
// waits up to 50ms before shedding the event.
func (d *auditDispatcher) emit(ev AuditEvent) {
	if d.dropIfFull {
		select {
		case d.events <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}
	t := time.NewTimer(50 * time.Millisecond)
	defer t.Stop()
	select {
	case d.events <- ev:
	case <-t.C:
		d.dropped.Add(1)
	}
}

func (d *auditDispatcher) droppedCount() uint64 {
	return d.dropped.Load()
}

// close stops the dispatcher after draining buffered events.
func (d *auditDispatcher) close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
