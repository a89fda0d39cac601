// Package notify delivers fault notifications. The simulation engine hands
// events to a Dispatcher, which queues them and fans out to one or more
// Notifier backends (SMTP, Redis pub/sub) off the engine's tick path.
package notify

import (
	"context"
	"log"
	"time"
)

// Event is a fault notification.
type Event struct {
	Mode      string    // mode the machine entered
	PriorMode string    // mode it left
	Reason    string
	Message   string
	Time      time.Time
}

// Notifier delivers one event to a backend.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to every backend, logging individual failures.
// Delivery is best effort: one backend failing never blocks the others.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			log.Printf("notify: backend %T failed: %v", n, err)
		}
	}
	return nil
}

// Dispatcher decouples event producers from notification delivery. Publish
// never blocks; events beyond the queue depth are dropped with a log line.
type Dispatcher struct {
	notifier Notifier
	queue    chan Event
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher with the given queue depth.
func NewDispatcher(n Notifier, depth int) *Dispatcher {
	if depth <= 0 {
		depth = 16
	}
	return &Dispatcher{
		notifier: n,
		queue:    make(chan Event, depth),
		timeout:  10 * time.Second,
	}
}

// Publish enqueues an event for delivery. Safe to call from the engine's
// event callback.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.queue <- ev:
	default:
		log.Printf("notify: queue full, dropping event (%s -> %s)", ev.PriorMode, ev.Mode)
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			dctx, cancel := context.WithTimeout(ctx, d.timeout)
			if err := d.notifier.Notify(dctx, ev); err != nil {
				log.Printf("notify: delivery failed: %v", err)
			}
			cancel()
		}
	}
}
