package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// JobID is the associated job ID, if applicable.
	JobID string `json:"job_id,omitempty"`

	// BatchID is the associated batch ID, if applicable.
	BatchID string `json:"batch_id,omitempty"`

	// Operation is the document operation, if applicable.
	Operation string `json:"operation,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeProgressShown      = "progress.shown"
	EventTypeProgressHidden     = "progress.hidden"
	EventTypeOperationCompleted = "operation.completed"
	EventTypeOperationFailed    = "operation.failed"
	EventTypeBatchCompleted     = "batch.completed"
	EventTypeBatchFailed        = "batch.failed"
	EventTypePolicyViolation    = "policy.violation"
	EventTypePoliciesReloaded   = "policy.reloaded"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. Subscribers run on the
// publishing goroutine, in subscription order, unless EnableAsync is set.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishProgress publishes a progress message.
func (ep *EventPublisher) PublishProgress(message string) error {
	return ep.Publish(Event{
		Type:    EventTypeProgressShown,
		Source:  "runner",
		Message: message,
		Level:   EventLevelInfo,
	})
}

// PublishProgressHidden publishes the end of a progress sequence.
func (ep *EventPublisher) PublishProgressHidden() error {
	return ep.Publish(Event{
		Type:   EventTypeProgressHidden,
		Source: "runner",
		Level:  EventLevelInfo,
	})
}

// PublishOperationCompleted publishes a successful operation.
func (ep *EventPublisher) PublishOperationCompleted(operation, input string, outputBytes int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:      EventTypeOperationCompleted,
		Source:    "cli",
		Operation: operation,
		Message:   fmt.Sprintf("%s completed for %s", operation, input),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"input":        input,
			"output_bytes": outputBytes,
			"duration":     duration.Seconds(),
		},
	})
}

// PublishOperationFailed publishes a failed operation.
func (ep *EventPublisher) PublishOperationFailed(operation, input, kind, message string) error {
	return ep.Publish(Event{
		Type:      EventTypeOperationFailed,
		Source:    "cli",
		Operation: operation,
		Message:   fmt.Sprintf("%s failed for %s: %s", operation, input, message),
		Level:     EventLevelError,
		Data: map[string]interface{}{
			"input": input,
			"kind":  kind,
		},
	})
}

// PublishBatchCompleted publishes a batch summary. Level is error when no
// item succeeded.
func (ep *EventPublisher) PublishBatchCompleted(batchID, operation string, succeeded, failed int) error {
	event := Event{
		Type:      EventTypeBatchCompleted,
		Source:    "cli",
		BatchID:   batchID,
		Operation: operation,
		Message:   fmt.Sprintf("%d succeeded, %d failed", succeeded, failed),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"succeeded": succeeded,
			"failed":    failed,
		},
	}
	switch {
	case succeeded == 0:
		event.Type = EventTypeBatchFailed
		event.Level = EventLevelError
	case failed > 0:
		event.Level = EventLevelWarning
	}
	return ep.Publish(event)
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(operation, policyName, severity, message string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:      EventTypePolicyViolation,
		Source:    "policy_engine",
		Operation: operation,
		Message:   fmt.Sprintf("Policy %s: %s", policyName, message),
		Level:     level,
		Data: map[string]interface{}{
			"policy":   policyName,
			"severity": severity,
		},
	})
}

// PublishPoliciesReloaded publishes a policy hot reload.
func (ep *EventPublisher) PublishPoliciesReloaded(count int) error {
	return ep.Publish(Event{
		Type:    EventTypePoliciesReloaded,
		Source:  "policy_engine",
		Message: fmt.Sprintf("%d policies loaded", count),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"count": count},
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher, delivering buffered events first.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByBatchID creates a filter that only allows events for one batch.
func FilterByBatchID(batchID string) EventFilter {
	return func(event Event) bool {
		return event.BatchID == batchID
	}
}
