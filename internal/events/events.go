package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/rescale-gallery/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventLog   EventType = "log"
	EventError EventType = "error"

	// Presentation hooks
	EventRangeRendered    EventType = "range_rendered"    // Visible slice changed or was re-rendered
	EventSelectionChanged EventType = "selection_changed" // One event per selection-affecting action
	EventResolutionReady  EventType = "resolution_ready"  // A loader displayed a new tier
	EventSelectionMode    EventType = "selection_mode"    // Multi-select mode entered or left

	// Listing lifecycle
	EventListingLoaded  EventType = "listing_loaded"  // Session initialized from a listing
	EventRecordsMerged  EventType = "records_merged"  // A range fetch materialized records
	EventRecordsRemoved EventType = "records_removed" // Ids evicted after a destructive action

	// Batch mutations
	EventBatchProgress EventType = "batch_progress"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level     LogLevel
	Message   string
	Component string
	Error     error
}

// ErrorEvent represents a failure the presentation layer should surface
type ErrorEvent struct {
	BaseEvent
	Session   string
	Operation string // "range_fetch", "batch"
	Error     error
	Retryable bool
}

// RangeRenderedEvent carries the ids of the currently rendered slice
type RangeRenderedEvent struct {
	BaseEvent
	Session  string
	Page     int
	PageSize int
	MaxPage  int
	IDs      []string
}

// SelectionChangedEvent carries the full selection after a mutating action
type SelectionChangedEvent struct {
	BaseEvent
	Session string
	IDs     []string
}

// SelectionModeEvent reports the multi-select mode flag
type SelectionModeEvent struct {
	BaseEvent
	Session string
	Enabled bool
}

// ResolutionReadyEvent reports that a record displays a new tier
type ResolutionReadyEvent struct {
	BaseEvent
	Session string
	ID      string
	Tier    int
	Source  string
}

// ListingEvent reports listing lifecycle changes
type ListingEvent struct {
	BaseEvent
	Session    string
	Path       string
	TotalCount int
	IDs        []string
}

// BatchProgressEvent reports per-item progress of a batch mutation
type BatchProgressEvent struct {
	BaseEvent
	Session string
	Action  string
	ID      string
	Done    int
	Total   int
	Error   error
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// Events are dropped for subscribers whose buffer is full.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, component string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: newBase(EventLog),
		Level:     level,
		Message:   message,
		Component: component,
		Error:     err,
	})
}

// PublishError publishes a failure for the presentation layer
func (eb *EventBus) PublishError(session, operation string, err error, retryable bool) {
	eb.Publish(&ErrorEvent{
		BaseEvent: newBase(EventError),
		Session:   session,
		Operation: operation,
		Error:     err,
		Retryable: retryable,
	})
}

// PublishRangeRendered publishes the rendered slice
func (eb *EventBus) PublishRangeRendered(session string, page, pageSize, maxPage int, ids []string) {
	eb.Publish(&RangeRenderedEvent{
		BaseEvent: newBase(EventRangeRendered),
		Session:   session,
		Page:      page,
		PageSize:  pageSize,
		MaxPage:   maxPage,
		IDs:       ids,
	})
}

// PublishSelectionChanged publishes the selection after a mutation
func (eb *EventBus) PublishSelectionChanged(session string, ids []string) {
	eb.Publish(&SelectionChangedEvent{
		BaseEvent: newBase(EventSelectionChanged),
		Session:   session,
		IDs:       ids,
	})
}

// PublishSelectionMode publishes a multi-select mode change
func (eb *EventBus) PublishSelectionMode(session string, enabled bool) {
	eb.Publish(&SelectionModeEvent{
		BaseEvent: newBase(EventSelectionMode),
		Session:   session,
		Enabled:   enabled,
	})
}

// PublishResolutionReady publishes a displayed tier
func (eb *EventBus) PublishResolutionReady(session, id string, tier int, src string) {
	eb.Publish(&ResolutionReadyEvent{
		BaseEvent: newBase(EventResolutionReady),
		Session:   session,
		ID:        id,
		Tier:      tier,
		Source:    src,
	})
}

// PublishListing publishes a listing lifecycle event
func (eb *EventBus) PublishListing(eventType EventType, session, path string, total int, ids []string) {
	eb.Publish(&ListingEvent{
		BaseEvent:  newBase(eventType),
		Session:    session,
		Path:       path,
		TotalCount: total,
		IDs:        ids,
	})
}

// PublishBatchProgress publishes per-item batch progress
func (eb *EventBus) PublishBatchProgress(session, action, id string, done, total int, err error) {
	eb.Publish(&BatchProgressEvent{
		BaseEvent: newBase(EventBatchProgress),
		Session:   session,
		Action:    action,
		ID:        id,
		Done:      done,
		Total:     total,
		Error:     err,
	})
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount resets the dropped event counter to zero
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}
