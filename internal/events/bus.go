package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSignalRejected  EventType = "SIGNAL_REJECTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventFeedStatus      EventType = "FEED_STATUS"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(contractID int64, symbol, direction string, stake, buyPrice float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"contract_id": contractID,
			"symbol":      symbol,
			"direction":   direction,
			"stake":       stake,
			"buy_price":   buyPrice,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(contractID int64, symbol string, profit float64, status, trigger string) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"contract_id": contractID,
			"symbol":      symbol,
			"profit":      profit,
			"status":      status,
			"trigger":     trigger,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(evaluator, symbol, side, reason string, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"evaluator":  evaluator,
			"symbol":     symbol,
			"side":       side,
			"reason":     reason,
			"confidence": confidence,
		},
	})
}

// PublishSignalRejected publishes a gate rejection event
func (eb *EventBus) PublishSignalRejected(symbol, gate, reason string) {
	eb.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"symbol": symbol,
			"gate":   gate,
			"reason": reason,
		},
	})
}

// PublishEngineStopped publishes the decision loop's terminal transition
func (eb *EventBus) PublishEngineStopped(symbol, cause string) {
	eb.Publish(Event{
		Type: EventEngineStopped,
		Data: map[string]interface{}{
			"symbol": symbol,
			"cause":  cause,
		},
	})
}

// PublishFeedStatus publishes feed connectivity transitions
func (eb *EventBus) PublishFeedStatus(connected bool, detail string) {
	eb.Publish(Event{
		Type: EventFeedStatus,
		Data: map[string]interface{}{
			"connected": connected,
			"detail":    detail,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
