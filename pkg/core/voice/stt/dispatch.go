package stt

import (
	"log/slog"
	"sync"
)

// dispatcher delivers events to one Observer from its own goroutine. The
// mailbox is unbounded so producers never block and never drop.
type dispatcher struct {
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher(observer Observer, logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		observer: observer,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) push(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.signal()
}

// close stops accepting events. Already queued events are still delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, ev := range batch {
			d.deliver(ev)
		}
	}
}

func (d *dispatcher) deliver(ev Event) {
	if d.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("stt observer panicked", "event", ev.sttEventType(), "panic", r)
		}
	}()
	d.observer(ev)
}
