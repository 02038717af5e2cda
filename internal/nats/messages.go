package nats

import "time"

// Subject layout. Everything tensiond touches lives under the tensiond
// prefix so a shared NATS fabric can scope permissions to it.
const (
	// SubjectEventPrefix is where bus events are mirrored. The event
	// type is appended: tensiond.events.tension_analyzed.
	SubjectEventPrefix = "tensiond.events."

	// SubjectAllEvents subscribes to every mirrored event
	SubjectAllEvents = "tensiond.events.>"

	// SubjectIngestTension is where external producers submit tensions
	SubjectIngestTension = "tensiond.ingest.tension"

	// SubjectAllIngest covers every ingest subject
	SubjectAllIngest = "tensiond.ingest.>"

	// IngestQueue is the queue group ingest subscribers join so that a
	// tension is processed by exactly one instance
	IngestQueue = "tensiond-ingest"
)

// IngestTension is the wire format external producers publish to
// SubjectIngestTension. Type is optional; unclassified tensions go
// through the analyzer like any other.
type IngestTension struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"tension_type,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	Source      string `json:"source,omitempty"`
}

// EventEnvelope is the wire format for mirrored bus events
type EventEnvelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"event_type"`
	Source    string                 `json:"source"`
	TensionID string                 `json:"tension_id,omitempty"`
	Priority  int                    `json:"priority"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
