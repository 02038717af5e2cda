package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event flowing through the bus
type EventType string

// Event types consumed by agents. The payload carries the event-specific
// fields; agents ignore types they did not subscribe to.
const (
	EventTensionCreated         EventType = "tension_created"
	EventTensionUpdated         EventType = "tension_updated"
	EventTaskCreated            EventType = "task_created"
	EventCodeReviewRequested    EventType = "code_review_requested"
	EventDeploymentRequested    EventType = "deployment_requested"
	EventBugReported            EventType = "bug_reported"
	EventFeatureRequested       EventType = "feature_requested"
	EventDataUpdated            EventType = "data_updated"
	EventAnalysisRequested      EventType = "analysis_requested"
	EventReportGenerated        EventType = "report_generated"
	EventIntegrationRequested   EventType = "integration_requested"
	EventAPICallFailed          EventType = "api_call_failed"
	EventDataSyncCompleted      EventType = "data_sync_completed"
	EventResearchRequested      EventType = "research_requested"
	EventKnowledgeUpdated       EventType = "knowledge_updated"
	EventTrendDetected          EventType = "trend_detected"
	EventUserFeedbackReceived   EventType = "user_feedback_received"
	EventDesignUpdated          EventType = "design_updated"
	EventUsabilityTestCompleted EventType = "usability_test_completed"
	EventAgentError             EventType = "agent_error"
)

// Event types emitted by the core back onto the bus
const (
	EventTensionAnalyzed    EventType = "tension_analyzed"
	EventTensionAssigned    EventType = "tension_assigned"
	EventSolutionGenerated  EventType = "solution_generated"
	EventAgentCreated       EventType = "agent_created"
	EventAgentStopped       EventType = "agent_stopped"
	EventAgentEvolved       EventType = "agent_evolved"
	EventCycleCompleted     EventType = "cycle_completed"
	EventEcosystemOptimized EventType = "ecosystem_optimized"
)

// Delivery priority for events
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
)

// TargetAll addresses an event to every subscriber
const TargetAll = "all"

// Event is a single message on the bus. Source and Target are agent IDs,
// or TargetAll for broadcasts.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	TensionID string                 `json:"tension_id,omitempty"`
	Priority  int                    `json:"priority"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// New creates an event with a generated ID and timestamp
func New(eventType EventType, source, target string, priority int, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// NewForTension creates an event tied to a tension id
func NewForTension(eventType EventType, source, target, tensionID string, priority int, payload map[string]interface{}) *Event {
	e := New(eventType, source, target, priority, payload)
	e.TensionID = tensionID
	return e
}
