package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/tension"
)

// WINScore holds the Wisdom, Intelligence, Networking components and
// their weighted total, all on [0, 100]
type WINScore struct {
	Wisdom       float64 `json:"wisdom"`
	Intelligence float64 `json:"intelligence"`
	Networking   float64 `json:"networking"`
	Total        float64 `json:"total"`
}

// WINMetrics are the raw outcome measurements a WIN score is computed
// from, all on [0, 100]
type WINMetrics struct {
	ContextUnderstanding float64 `json:"context_understanding"`
	RootCauseAnalysis    float64 `json:"root_cause_analysis"`
	SolutionQuality      float64 `json:"solution_quality"`
	Efficiency           float64 `json:"efficiency"`
	Collaboration        float64 `json:"collaboration"`
	KnowledgeSharing     float64 `json:"knowledge_sharing"`
}

// ScoreWIN combines raw metrics into a WIN score:
// W = 0.6*context + 0.4*rootCause, I = 0.7*quality + 0.3*efficiency,
// N = 0.5*collaboration + 0.5*knowledgeSharing, total weighted by the
// given dimension weights (defaults 0.4/0.4/0.2).
func ScoreWIN(m WINMetrics, weights map[string]float64) WINScore {
	if weights == nil {
		weights = defaultWINWeights
	}
	s := WINScore{
		Wisdom:       0.6*m.ContextUnderstanding + 0.4*m.RootCauseAnalysis,
		Intelligence: 0.7*m.SolutionQuality + 0.3*m.Efficiency,
		Networking:   0.5*m.Collaboration + 0.5*m.KnowledgeSharing,
	}
	s.Total = weights[DimWisdom]*s.Wisdom +
		weights[DimIntelligence]*s.Intelligence +
		weights[DimNetworking]*s.Networking
	return s
}

// SensedData wraps raw input at the start of a cycle
type SensedData struct {
	Timestamp         time.Time          `json:"timestamp"`
	RawInput          string             `json:"raw_input"`
	PotentialTensions []*tension.Tension `json:"potential_tensions"`
}

// OntologyAlignment maps one potential tension onto the agent's
// capability ontology
type OntologyAlignment struct {
	TensionType     tension.Type `json:"tension_type"`
	DomainRelevance float64      `json:"domain_relevance"`
	ComplexityLevel string       `json:"complexity_level"`
}

// PotentialAction is a candidate response with its predicted WIN impact
type PotentialAction struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capability   string   `json:"capability"`
	PredictedWIN WINScore `json:"predicted_win"`
	Confidence   float64  `json:"confidence"`
}

// Decision records the selected action and why
type Decision struct {
	SelectedAction   string  `json:"selected_action"`
	Reasoning        string  `json:"reasoning"`
	ExpectedWINScore float64 `json:"expected_win_score"`
	Confidence       float64 `json:"confidence"`
}

// ActionOutcome records what execution produced
type ActionOutcome struct {
	ExecutionStatus string                 `json:"execution_status"` // completed / failed
	ActualResults   map[string]interface{} `json:"actual_results,omitempty"`
	EventsGenerated []events.EventType     `json:"events_generated,omitempty"`
}

// FeedbackResult closes the loop with the measured WIN score and the
// adjustments it suggests
type FeedbackResult struct {
	ActualWIN        WINScore `json:"actual_win"`
	LearningInsights []string `json:"learning_insights,omitempty"`
	Adjustments      []string `json:"adjustments,omitempty"`
}

// CycleResult aggregates all six phases of one quantum cycle
type CycleResult struct {
	AgentID     string                       `json:"agent_id"`
	TensionID   string                       `json:"tension_id"`
	Sensed      *SensedData                  `json:"sensed"`
	Alignment   map[string]OntologyAlignment `json:"alignment"`
	Actions     []PotentialAction            `json:"actions"`
	Decision    *Decision                    `json:"decision"`
	Outcome     *ActionOutcome               `json:"outcome"`
	Feedback    *FeedbackResult              `json:"feedback"`
	CompletedAt time.Time                    `json:"completed_at"`
}

// AnalyzeRecognitionPhase wraps raw input into sensed data, detecting a
// potential tension when the input is non-empty
func (a *BaseAgent) AnalyzeRecognitionPhase(input string) *SensedData {
	sensed := &SensedData{
		Timestamp: time.Now(),
		RawInput:  input,
	}
	if input != "" {
		sensed.PotentialTensions = append(sensed.PotentialTensions,
			tension.New(input, "", tension.TypeUnknown))
	}
	return sensed
}

// RunQuantumCycle executes the six phases Sense, Perceive, Orient,
// Decide, Act, Feedback for one tension. Phases run strictly in order;
// cancellation is honored at phase boundaries.
func (a *BaseAgent) RunQuantumCycle(ctx context.Context, t *tension.Tension) (*CycleResult, error) {
	if t == nil {
		return nil, fmt.Errorf("no tension to cycle on")
	}

	result := &CycleResult{AgentID: a.id, TensionID: t.ID}

	a.mu.Lock()
	a.activeTensions[t.ID] = t
	a.mu.Unlock()

	// Sense
	result.Sensed = &SensedData{
		Timestamp:         time.Now(),
		RawInput:          t.Title,
		PotentialTensions: []*tension.Tension{t},
	}

	// Perceive
	if err := ctx.Err(); err != nil {
		return result, err
	}
	result.Alignment = make(map[string]OntologyAlignment, len(result.Sensed.PotentialTensions))
	for _, pt := range result.Sensed.PotentialTensions {
		req := a.AnalyzeTensionRequirements(pt)
		result.Alignment[pt.ID] = OntologyAlignment{
			TensionType:     pt.Type,
			DomainRelevance: a.domainRelevance(pt),
			ComplexityLevel: req.Complexity,
		}
	}

	// Orient
	if err := ctx.Err(); err != nil {
		return result, err
	}
	alignment := result.Alignment[t.ID]
	result.Actions = a.orientActions(t, alignment)
	if len(result.Actions) == 0 {
		return result, fmt.Errorf("agent %s produced no actions for tension %s", a.id, t.ID)
	}

	// Decide
	if err := ctx.Err(); err != nil {
		return result, err
	}
	best := result.Actions[0]
	for _, action := range result.Actions[1:] {
		if action.PredictedWIN.Total > best.PredictedWIN.Total ||
			(action.PredictedWIN.Total == best.PredictedWIN.Total && action.Confidence > best.Confidence) {
			best = action
		}
	}
	result.Decision = &Decision{
		SelectedAction:   best.Name,
		Reasoning:        fmt.Sprintf("%s maximizes predicted WIN (%.1f) via %s", best.Name, best.PredictedWIN.Total, best.Capability),
		ExpectedWINScore: best.PredictedWIN.Total,
		Confidence:       best.Confidence,
	}

	// Act
	if err := ctx.Err(); err != nil {
		return result, err
	}
	outcome, err := a.ExecuteStrategicAction(ctx, best.Name, map[string]interface{}{
		"tension_id": t.ID,
		"capability": best.Capability,
	})
	if err != nil {
		outcome = &ActionOutcome{ExecutionStatus: "failed"}
	}
	result.Outcome = outcome

	// Feedback
	result.Feedback = a.feedback(t, alignment, best, outcome)
	result.CompletedAt = time.Now()

	a.recordPerformance(PerformanceRecord{
		TensionID:  t.ID,
		WIN:        result.Feedback.ActualWIN,
		Success:    outcome.ExecutionStatus == "completed",
		RecordedAt: result.CompletedAt,
	})
	a.mu.Lock()
	delete(a.activeTensions, t.ID)
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(events.NewForTension(events.EventCycleCompleted, a.id, events.TargetAll, t.ID, events.PriorityNormal, map[string]interface{}{
			"action":    best.Name,
			"win_total": result.Feedback.ActualWIN.Total,
			"status":    outcome.ExecutionStatus,
		}))
	}
	a.logger.Debug("quantum cycle completed",
		zap.String("tension_id", t.ID),
		zap.String("action", best.Name),
		zap.Float64("win_total", result.Feedback.ActualWIN.Total))
	return result, nil
}

// orientActions generates one candidate action per relevant capability,
// predicting its WIN impact from proficiency and domain relevance
func (a *BaseAgent) orientActions(t *tension.Tension, alignment OntologyAlignment) []PotentialAction {
	a.mu.RLock()
	defer a.mu.RUnlock()

	caps := a.metadata.CapabilitiesForTensionType(t.Type)
	if len(caps) == 0 {
		caps = a.metadata.Capabilities
	}

	actions := make([]PotentialAction, 0, len(caps))
	for _, c := range caps {
		strength := c.ProficiencyLevel * alignment.DomainRelevance * 100
		predicted := ScoreWIN(WINMetrics{
			ContextUnderstanding: strength,
			RootCauseAnalysis:    strength * 0.9,
			SolutionQuality:      strength,
			Efficiency:           strength * 0.8,
			Collaboration:        strength * 0.7,
			KnowledgeSharing:     strength * 0.7,
		}, a.winWeights)
		actions = append(actions, PotentialAction{
			Name:         "apply_" + c.Name,
			Description:  fmt.Sprintf("Apply %s to %s", c.Name, t.Title),
			Capability:   c.Name,
			PredictedWIN: predicted,
			Confidence:   c.ProficiencyLevel,
		})
	}
	return actions
}

// ExecuteStrategicAction carries out one named action. Execution here
// is the in-process baseline; agents backed by external effectors
// override the outcome through the bus.
func (a *BaseAgent) ExecuteStrategicAction(ctx context.Context, action string, params map[string]interface{}) (*ActionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if action == "" {
		return nil, fmt.Errorf("no action named")
	}
	results := map[string]interface{}{"action": action}
	for k, v := range params {
		results[k] = v
	}
	return &ActionOutcome{
		ExecutionStatus: "completed",
		ActualResults:   results,
		EventsGenerated: []events.EventType{events.EventCycleCompleted},
	}, nil
}

// feedback measures the actual WIN score from the outcome and derives
// adjustments for the next cycle
func (a *BaseAgent) feedback(t *tension.Tension, alignment OntologyAlignment, chosen PotentialAction, outcome *ActionOutcome) *FeedbackResult {
	strength := chosen.Confidence * alignment.DomainRelevance * 100
	if outcome.ExecutionStatus != "completed" {
		strength *= 0.4
	}
	actual := ScoreWIN(WINMetrics{
		ContextUnderstanding: strength,
		RootCauseAnalysis:    strength * 0.85,
		SolutionQuality:      strength * 0.95,
		Efficiency:           strength * 0.8,
		Collaboration:        strength * 0.7,
		KnowledgeSharing:     strength * 0.75,
	}, a.winWeights)

	fb := &FeedbackResult{ActualWIN: actual}
	if actual.Total < chosen.PredictedWIN.Total {
		fb.LearningInsights = append(fb.LearningInsights,
			fmt.Sprintf("actual WIN %.1f fell short of predicted %.1f for %s", actual.Total, chosen.PredictedWIN.Total, chosen.Name))
		fb.Adjustments = append(fb.Adjustments, "lower prediction weight for "+chosen.Capability)
	}
	if alignment.DomainRelevance < 0.8 {
		fb.Adjustments = append(fb.Adjustments,
			fmt.Sprintf("consider capability growth for tension type %s", t.Type))
	}
	return fb
}
