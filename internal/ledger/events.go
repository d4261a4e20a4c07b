package ledger

import "sync"

// Event is a budget lifecycle notification.
type Event interface {
	Type() string
	Scope() string
}

// EventEmitter receives budget events. Implementations must be safe for
// concurrent use; the ledger emits outside its own lock.
type EventEmitter interface {
	Emit(event Event)
}

// WarningEvent is emitted once when a scope crosses 80% utilization.
type WarningEvent struct {
	scope       string
	Consumed    Amount
	Ceiling     Amount
	Utilization float64
}

func (e WarningEvent) Type() string  { return "budget.warning" }
func (e WarningEvent) Scope() string { return e.scope }

// ExhaustedEvent is emitted when a reservation is refused for lack of funds.
type ExhaustedEvent struct {
	scope     string
	Requested Amount
	Available Amount
}

func (e ExhaustedEvent) Type() string  { return "budget.exhausted" }
func (e ExhaustedEvent) Scope() string { return e.scope }

// SimpleEventEmitter is a basic EventEmitter that records events and fans
// them out to subscribed handlers. Used in tests and as the default wiring
// between the ledger and the coordinator's logging.
type SimpleEventEmitter struct {
	mu       sync.RWMutex
	handlers []func(Event)
	events   []Event
}

// NewSimpleEventEmitter creates an empty emitter.
func NewSimpleEventEmitter() *SimpleEventEmitter {
	return &SimpleEventEmitter{}
}

// Emit records the event and invokes all subscribed handlers.
func (e *SimpleEventEmitter) Emit(event Event) {
	e.mu.Lock()
	e.events = append(e.events, event)
	handlers := make([]func(Event), len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribe registers a handler for future events.
func (e *SimpleEventEmitter) Subscribe(handler func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// Events returns a copy of all recorded events.
func (e *SimpleEventEmitter) Events() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result := make([]Event, len(e.events))
	copy(result, e.events)
	return result
}
