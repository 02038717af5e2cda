// Package tension defines the core work unit of the system: a tension is
// any problem, opportunity, risk, conflict, or idea that requires
// resolution. Tensions are owned by the external tension store; the
// reasoning and agent components hold read-only references.
package tension

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what kind of tension this is
type Type string

const (
	TypeProblem                Type = "Problem"
	TypeOpportunity            Type = "Opportunity"
	TypeRisk                   Type = "Risk"
	TypeConflict               Type = "Conflict"
	TypeIdea                   Type = "Idea"
	TypeResourceConstraint     Type = "ResourceConstraint"
	TypeProcessImprovement     Type = "ProcessImprovement"
	TypeCommunicationBreakdown Type = "CommunicationBreakdown"
	TypeStrategicMisalignment  Type = "StrategicMisalignment"
	TypeTechnicalDebt          Type = "TechnicalDebt"
	TypeDataAnalysis           Type = "DataAnalysis"
	TypeUnknown                Type = "Unknown"
)

// Priority of a tension. Ordered: escalation may raise it, nothing
// silently lowers it.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the display name for a priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	}
	return "Unknown"
}

// Conventional status values. Status is free-form; these are the ones
// the pipeline itself sets.
const (
	StatusOpen       = "Open"
	StatusInProgress = "In-Progress"
	StatusClosed     = "Closed"
)

// Tension is a unit of organizational work
type Tension struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        Type      `json:"tension_type"`
	Priority    Priority  `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// New creates an open tension with a generated ID and timestamps
func New(title, description string, tensionType Type) *Tension {
	now := time.Now()
	return &Tension{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Type:        tensionType,
		Priority:    PriorityNormal,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Escalate raises the tension priority. Downgrades are ignored: priority
// is monotonically non-decreasing except by explicit human override.
func (t *Tension) Escalate(p Priority) {
	if p > t.Priority {
		t.Priority = p
		t.UpdatedAt = time.Now()
	}
}

// OverridePriority sets the priority unconditionally. Reserved for human
// operators; the rule engine and pipeline only ever call Escalate.
func (t *Tension) OverridePriority(p Priority) {
	t.Priority = p
	t.UpdatedAt = time.Now()
}

// AllTypes returns every defined tension type
func AllTypes() []Type {
	return []Type{
		TypeProblem,
		TypeOpportunity,
		TypeRisk,
		TypeConflict,
		TypeIdea,
		TypeResourceConstraint,
		TypeProcessImprovement,
		TypeCommunicationBreakdown,
		TypeStrategicMisalignment,
		TypeTechnicalDebt,
		TypeDataAnalysis,
		TypeUnknown,
	}
}
