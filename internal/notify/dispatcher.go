package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/logger"
)

// DefaultQueueSize is the number of undelivered events held before new ones
// are dropped.
const DefaultQueueSize = 16

// Dispatcher hands events to a single background worker so a slow or absent
// receiver never stalls the caller. Events are delivered in enqueue order;
// failures are logged and dropped.
type Dispatcher struct {
	notifier Notifier
	queue    chan Event
	done     chan struct{}

	mu      sync.RWMutex
	stopped bool
	dropped atomic.Uint64
}

func NewDispatcher(notifier Notifier, size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan Event, size),
		done:     make(chan struct{}),
	}
}

// Enqueue never blocks. It returns ErrQueueFull when the buffer is full and
// ErrDispatcherOff after Stop.
func (d *Dispatcher) Enqueue(event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return errors.New().New(ErrDispatcherOff)
	}

	select {
	case d.queue <- event:
		return nil
	default:
		d.dropped.Add(1)

		logger.Warn().
			Str("action", string(event.Action)).
			Float64("temperature", event.Temperature).
			Msg("Sync queue full, dropping notification")

		return errors.New().New(ErrQueueFull)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Run delivers queued events until ctx is cancelled or Stop is called. It
// drains nothing on exit: pending events are best effort only.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case event := <-d.queue:
			d.deliver(ctx, event)
		}
	}
}

// Stop rejects further events and ends Run.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	close(d.done)
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	if err := d.notifier.Notify(ctx, event); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.WarnWithCode(appErr).
				Str("action", string(event.Action)).
				Msg("State sync notification failed")
			return
		}
		logger.Warn().Err(err).Str("action", string(event.Action)).Msg("State sync notification failed")
		return
	}

	logger.Debug().
		Str("action", string(event.Action)).
		Float64("temperature", event.Temperature).
		Msg("State sync notification delivered")
}
