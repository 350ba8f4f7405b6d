// Package eventbus is the C1 Event Bus & Sequencer: it assigns each
// workflow a gap-free, monotonically increasing event sequence, persists
// every event, and fans it out in-process to subscribers such as the REST
// status cache and the WebSocket broadcaster. A second, optional fanout
// path (crossnode.go) republishes through Pulse/Redis for multi-node
// deployments.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/amelia-run/amelia/workflow"
)

type (
	// Bus publishes workflow events to every registered subscriber in
	// registration order. Every event reaching Publish has already been
	// persisted by Recorder.Record, so every subscriber here is a
	// best-effort, in-process consumer of durable data: one subscriber's
	// error must never stop delivery to the rest.
	Bus interface {
		Publish(ctx context.Context, event workflow.Event) error
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event workflow.Event) error
	}

	// SubscriberFunc adapts a function to Subscriber.
	SubscriberFunc func(ctx context.Context, event workflow.Event) error

	// Subscription is an active registration; Close is idempotent.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu   sync.RWMutex
		subs []*subscription
	}

	subscription struct {
		bus     *bus
		once    sync.Once
		handler Subscriber
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event workflow.Event) error {
	return f(ctx, event)
}

// NewBus constructs an empty, ready-to-use in-process bus.
func NewBus() Bus {
	return &bus{}
}

// Publish delivers event to every subscriber in the order it registered.
// A subscriber's error is collected, not fatal: the remaining subscribers
// still receive the event, and Publish returns every collected error
// joined together (nil if none failed).
func (b *bus) Publish(ctx context.Context, event workflow.Event) error {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.handler.HandleEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("eventbus: subscriber is required")
	}
	s := &subscription{bus: b, handler: sub}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		for i, sub := range s.bus.subs {
			if sub == s {
				s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
				break
			}
		}
	})
	return nil
}
