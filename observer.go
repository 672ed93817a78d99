// Package modhost hosts independently loadable modules. Each started module
// gets an isolated context, imports shared resources explicitly and publishes
// extensions and routes that the host withdraws again when it stops.
//
// Lifecycle notifications are CloudEvents so that they can be forwarded to
// external systems unchanged.
package modhost

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer receives lifecycle events. Observers are invoked synchronously on
// the goroutine performing the lifecycle operation and should return quickly.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration tracking.
	ObserverID() string
}

// Subject is implemented by everything that emits lifecycle events.
type Subject interface {
	// RegisterObserver adds an observer. With no eventTypes it receives
	// every event.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. It is idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers an event to every interested observer.
	// Observer errors and panics are logged and never reach the caller.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the host and into module contexts.
const (
	EventTypeModuleStarted   = "com.modhost.module.started"
	EventTypeModuleStopped   = "com.modhost.module.stopped"
	EventTypeModuleRestarted = "com.modhost.module.restarted"
	EventTypeModuleFailed    = "com.modhost.module.failed"

	// EventTypeHostStateChanged is emitted once per bulk operation and once
	// per notifying single-module operation.
	EventTypeHostStateChanged = "com.modhost.host.state_changed"
)

// FunctionalObserver adapts a function to Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent calls the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID returns the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
	seq          int
}

// observerSet is the synchronous Subject implementation shared by the host
// and module contexts. Observers are called in registration order.
type observerSet struct {
	logger Logger

	mu        sync.RWMutex
	observers map[string]*observerRegistration
	seq       int
}

func newObserverSet(logger Logger) *observerSet {
	return &observerSet{
		logger:    logger,
		observers: make(map[string]*observerRegistration),
	}
}

func (s *observerSet) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return fmt.Errorf("%w: observer", ErrResourceNil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	eventTypeMap := make(map[string]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}
	s.seq++
	s.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
		seq:          s.seq,
	}
	s.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

func (s *observerSet) UnregisterObserver(observer Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.observers[observer.ObserverID()]; exists {
		delete(s.observers, observer.ObserverID())
		s.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}
	return nil
}

func (s *observerSet) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		s.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	for _, registration := range s.snapshot() {
		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}
		deliver(ctx, s.logger, registration.observer, event)
	}
	return nil
}

func (s *observerSet) GetObservers() []ObserverInfo {
	regs := s.snapshot()
	info := make([]ObserverInfo, 0, len(regs))
	for _, registration := range regs {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}
	return info
}

// snapshot returns registrations in registration order. Delivery happens
// outside the lock so observers may register or unregister from OnEvent.
func (s *observerSet) snapshot() []*observerRegistration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	regs := make([]*observerRegistration, 0, len(s.observers))
	for _, r := range s.observers {
		regs = append(regs, r)
	}
	slices.SortFunc(regs, func(a, b *observerRegistration) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return regs
}

// deliver calls one observer, containing its error or panic.
func deliver(ctx context.Context, logger Logger, observer Observer, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Observer panicked", "observerID", observer.ObserverID(), "event", event.Type(), "panic", r)
		}
	}()
	if err := observer.OnEvent(ctx, event); err != nil {
		logger.Error("Observer error", "observerID", observer.ObserverID(), "event", event.Type(), "error", err)
	}
}
