// Package apphost provides Observer pattern interfaces for event-driven
// status notification. Events use the CloudEvents specification for
// standardized format and interoperability with external systems.
package apphost

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer defines the interface for objects that want to be notified of
// lifecycle events. Observers register with a Subject and should handle
// events quickly to avoid blocking other observers.
type Observer interface {
	// OnEvent is called when an event the observer subscribed to occurs.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer, used for
	// registration tracking and debugging.
	ObserverID() string
}

// Subject defines the interface for objects that can be observed.
type Subject interface {
	// RegisterObserver adds an observer, optionally filtered by event type.
	// An empty eventTypes list subscribes to all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to all interested observers without
	// blocking the caller; observer errors are handled gracefully.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error
}

// Event type constants for lifecycle events emitted by the engine,
// following CloudEvents reverse domain notation.
const (
	EventTypeAppConstructed = "io.gopherhost.app.constructed"
	EventTypeAppInitialized = "io.gopherhost.app.initialized"
	EventTypeAppTerminated  = "io.gopherhost.app.terminated"
)

// observerRegistration holds a registered observer and its type filter.
type observerRegistration struct {
	observer   Observer
	eventTypes map[string]bool
}

// EventBroker is the engine's Subject implementation. It fans CloudEvents
// out to registered observers in goroutines, recovering observer panics so
// a misbehaving subscriber cannot disturb reconciliation.
type EventBroker struct {
	mu        sync.RWMutex
	observers map[string]*observerRegistration
	logger    Logger
}

// NewEventBroker creates an empty broker.
func NewEventBroker(logger Logger) *EventBroker {
	return &EventBroker{
		observers: make(map[string]*observerRegistration),
		logger:    logger,
	}
}

// RegisterObserver adds an observer to receive notifications.
func (b *EventBroker) RegisterObserver(observer Observer, eventTypes ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	typeSet := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		typeSet[t] = true
	}
	b.observers[observer.ObserverID()] = &observerRegistration{
		observer:   observer,
		eventTypes: typeSet,
	}
	b.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. Unknown observers are ignored.
func (b *EventBroker) UnregisterObserver(observer Observer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, observer.ObserverID())
	return nil
}

// NotifyObservers delivers the event to every interested observer.
func (b *EventBroker) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}

	for _, registration := range b.observers {
		registration := registration
		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}

		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Observer panicked",
						"observerID", registration.observer.ObserverID(),
						"event", event.Type(), "panic", r)
				}
			}()
			if err := registration.observer.OnEvent(ctx, event); err != nil {
				b.logger.Error("Observer error",
					"observerID", registration.observer.ObserverID(),
					"event", event.Type(), "error", err)
			}
		}()
	}

	return nil
}

// FunctionalObserver provides a simple way to create observers from a
// function, for quick subscriptions without defining full structs.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by the given handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) *FunctionalObserver {
	return &FunctionalObserver{id: id, handler: handler}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
