package modhost

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience
type CloudEvent = cloudevents.Event

// eventSource is the CloudEvents source of everything the host emits.
const eventSource = "modhost"

// ModuleEventData is the payload of module lifecycle events.
type ModuleEventData struct {
	ModuleID string      `json:"moduleId"`
	Version  string      `json:"version,omitempty"`
	State    ModuleState `json:"state"`
	Error    string      `json:"error,omitempty"`
}

// HostStateEventData is the payload of host state-changed events.
type HostStateEventData struct {
	Operation string                 `json:"operation"`
	ModuleID  string                 `json:"moduleId,omitempty"`
	States    map[string]ModuleState `json:"states"`
	Failures  int                    `json:"failures"`
}

// NewCloudEvent creates a CloudEvent with a time-ordered id.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

// newModuleEvent builds a module lifecycle event. The subject is the module id.
func newModuleEvent(eventType string, data ModuleEventData) cloudevents.Event {
	event := NewCloudEvent(eventType, eventSource, data, nil)
	event.SetSubject(data.ModuleID)
	return event
}

// generateEventID uses UUIDv7 so ids sort by creation time.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent checks that event carries the required CloudEvents attributes.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

// DecodeModuleEvent extracts the payload of a module lifecycle event.
func DecodeModuleEvent(event cloudevents.Event) (ModuleEventData, error) {
	var data ModuleEventData
	if err := event.DataAs(&data); err != nil {
		return data, fmt.Errorf("decoding %s: %w", event.Type(), err)
	}
	return data, nil
}
