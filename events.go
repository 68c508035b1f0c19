package apphost

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// NewCloudEvent creates a properly formatted CloudEvent for a lifecycle
// notification.
func NewCloudEvent(eventType, source string, data interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// generateEventID generates a unique identifier for CloudEvents using
// UUIDv7, whose embedded timestamp gives time-ordered uniqueness.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails for any reason
		id = uuid.New()
	}
	return id.String()
}

// EventNotifier adapts a Subject to the StatusNotifier interface: every
// registry status update becomes a CloudEvent published to the subject's
// observers.
type EventNotifier struct {
	subject Subject
	source  string
}

// NewEventNotifier creates a notifier publishing through the given subject.
func NewEventNotifier(subject Subject) *EventNotifier {
	return &EventNotifier{subject: subject, source: "apphost"}
}

// Notify implements StatusNotifier.
func (n *EventNotifier) Notify(update StatusUpdate) {
	var eventType string
	switch update.State {
	case StateConstructed:
		eventType = EventTypeAppConstructed
	case StateRunning:
		eventType = EventTypeAppInitialized
	case StateTerminated:
		eventType = EventTypeAppTerminated
	default:
		return
	}

	event := NewCloudEvent(eventType, n.source, update)
	// Best effort: the broker handles observer failures itself.
	_ = n.subject.NotifyObservers(context.Background(), event)
}
