package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/tension"
)

func dataTension() *tension.Tension {
	t := tension.New("Sales Data Analysis Required",
		"Need to analyze quarterly sales data to identify trends and patterns", tension.TypeDataAnalysis)
	return t
}

func newAgent(t *testing.T, templateName string) *BaseAgent {
	t.Helper()
	return NewBaseAgent("test-"+templateName, templateByName(t, templateName), Options{})
}

func TestBaseAgent_CanHandleTension(t *testing.T) {
	analyst := newAgent(t, "DataAnalyst")
	coder := newAgent(t, "CodeGenerator")

	dt := dataTension()
	assert.True(t, analyst.CanHandleTension(dt), "explicit tension type declaration")
	assert.False(t, coder.CanHandleTension(dt), "no declaration, no keyword overlap")

	debt := tension.New("Refactor billing module", "Accumulated technical debt in billing", tension.TypeTechnicalDebt)
	assert.True(t, coder.CanHandleTension(debt))

	assert.False(t, analyst.CanHandleTension(nil))
}

func TestBaseAgent_DomainRelevanceScaling(t *testing.T) {
	analyst := newAgent(t, "DataAnalyst")

	// Explicit declaration scales with proficiency: 0.7 + 0.3*mean
	rel := analyst.domainRelevance(dataTension())
	assert.InDelta(t, 0.7+0.3*0.85, rel, 1e-9)
	assert.LessOrEqual(t, rel, 1.0)
}

func TestBaseAgent_AnalyzeTensionRequirements(t *testing.T) {
	analyst := newAgent(t, "DataAnalyst")

	dt := dataTension()
	req := analyst.AnalyzeTensionRequirements(dt)
	require.NotNil(t, req)
	assert.Equal(t, dt.ID, req.TensionID)
	assert.Equal(t, "data_analysis", req.RequirementType)
	assert.Equal(t, ComplexityLow, req.Complexity)
	assert.Equal(t, UrgencyNormal, req.Urgency)
	assert.InDelta(t, 63, req.EstimatedEffortMinutes, 1e-9)
	assert.Len(t, req.RelevantCapabilities, 3, "all three capabilities declare DataAnalysis")
	assert.Len(t, req.Deliverables, 3)

	dt.Priority = tension.PriorityCritical
	assert.Equal(t, UrgencyHigh, analyst.AnalyzeTensionRequirements(dt).Urgency)

	long := tension.New("Big", string(make([]byte, 500)), tension.TypeDataAnalysis)
	assert.Equal(t, ComplexityHigh, analyst.AnalyzeTensionRequirements(long).Complexity)

	assert.Nil(t, analyst.AnalyzeTensionRequirements(nil))
}

func TestBaseAgent_GenerateSpecializedSolutions(t *testing.T) {
	ops := newAgent(t, "Operations")

	outage := tension.New("API Server Down", "The main API server is not responding", tension.TypeProblem)
	solutions := ops.GenerateSpecializedSolutions(outage)
	assert.NotEmpty(t, solutions)
	assert.Equal(t, int64(len(solutions)), ops.Stats().SolutionsGenerated)

	assert.Nil(t, ops.GenerateSpecializedSolutions(nil))
}

func TestBaseAgent_ExecuteSolution(t *testing.T) {
	ops := newAgent(t, "Operations")
	outage := tension.New("API Server Down", "The main API server is not responding", tension.TypeProblem)

	solutions := ops.GenerateSpecializedSolutions(outage)
	require.NotEmpty(t, solutions)

	result, err := ops.ExecuteSolution(context.Background(), solutions[0], outage)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, len(solutions[0].Steps), result.StepsCompleted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err = ops.ExecuteSolution(ctx, solutions[0], outage)
	require.Error(t, err)
	assert.Equal(t, "failed", result.Status)

	_, err = ops.ExecuteSolution(context.Background(), nil, outage)
	assert.Error(t, err)
}

func TestBaseAgent_QuantumCycle(t *testing.T) {
	analyst := newAgent(t, "DataAnalyst")
	dt := dataTension()

	result, err := analyst.RunQuantumCycle(context.Background(), dt)
	require.NoError(t, err)

	require.NotNil(t, result.Sensed)
	assert.Len(t, result.Sensed.PotentialTensions, 1)

	alignment, ok := result.Alignment[dt.ID]
	require.True(t, ok)
	assert.Equal(t, tension.TypeDataAnalysis, alignment.TensionType)
	assert.GreaterOrEqual(t, alignment.DomainRelevance, canHandleThreshold)

	require.NotEmpty(t, result.Actions)
	require.NotNil(t, result.Decision)
	// The decision maximizes predicted WIN
	for _, action := range result.Actions {
		assert.LessOrEqual(t, action.PredictedWIN.Total, result.Decision.ExpectedWINScore)
	}

	require.NotNil(t, result.Outcome)
	assert.Equal(t, "completed", result.Outcome.ExecutionStatus)

	require.NotNil(t, result.Feedback)
	assert.True(t, analyst.ValidateWINAchievement(result.Feedback.ActualWIN))

	history := analyst.PerformanceHistory()
	require.Len(t, history, 1)
	assert.Equal(t, dt.ID, history[0].TensionID)
	assert.True(t, history[0].Success)
	assert.Equal(t, int64(1), analyst.Stats().CyclesCompleted)
	assert.Equal(t, 0, analyst.ActiveTensionCount(), "tension released after the cycle")
}

func TestBaseAgent_QuantumCycleCancellation(t *testing.T) {
	analyst := newAgent(t, "DataAnalyst")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := analyst.RunQuantumCycle(ctx, dataTension())
	require.Error(t, err)
	assert.NotNil(t, result.Sensed, "sense phase ran before the boundary check")
	assert.Nil(t, result.Decision)
}

func TestBaseAgent_HistoryBound(t *testing.T) {
	analyst := NewBaseAgent("bounded", templateByName(t, "DataAnalyst"), Options{HistoryLimit: 5})

	for i := 0; i < 8; i++ {
		_, err := analyst.RunQuantumCycle(context.Background(), dataTension())
		require.NoError(t, err)
	}
	assert.Len(t, analyst.PerformanceHistory(), 5)
	assert.Equal(t, int64(8), analyst.Stats().CyclesCompleted)
}

func TestBaseAgent_ValidateWINAchievement(t *testing.T) {
	a := newAgent(t, "DataAnalyst")

	assert.True(t, a.ValidateWINAchievement(WINScore{Wisdom: 60, Intelligence: 70, Networking: 50, Total: 62}))
	assert.False(t, a.ValidateWINAchievement(WINScore{Total: 30}), "below the achievement bar")
	assert.False(t, a.ValidateWINAchievement(WINScore{Wisdom: 120, Total: 80}), "out of range component")
}

func TestBaseAgent_EventDrivenCycle(t *testing.T) {
	bus := events.NewBus(nil, nil)
	observer := bus.Subscribe("observer", []events.EventType{events.EventCycleCompleted})

	analyst := NewBaseAgent("evented", templateByName(t, "DataAnalyst"), Options{Bus: bus})
	require.NoError(t, analyst.Start(context.Background()))
	defer analyst.Stop()

	bus.Publish(events.NewForTension(events.EventAnalysisRequested, "test", events.TargetAll, "t-100",
		events.PriorityNormal, map[string]interface{}{
			"title":        "Sales Data Analysis Required",
			"description":  "Need to analyze quarterly sales data to identify trends and patterns",
			"tension_type": string(tension.TypeDataAnalysis),
		}))

	select {
	case ev := <-observer:
		assert.Equal(t, events.EventCycleCompleted, ev.Type)
		assert.Equal(t, "t-100", ev.TensionID)
		assert.Equal(t, "evented", ev.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle completion observed")
	}
}

func TestBaseAgent_StartTwice(t *testing.T) {
	a := newAgent(t, "Operations")
	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
	assert.NoError(t, a.Stop(), "second stop is a no-op")
}

func TestTensionFromEvent(t *testing.T) {
	ev := events.Event{TensionID: "t-1", Payload: map[string]interface{}{"title": "Some work"}}
	got := tensionFromEvent(ev)
	require.NotNil(t, got)
	assert.Equal(t, tension.TypeUnknown, got.Type)

	assert.Nil(t, tensionFromEvent(events.Event{Payload: map[string]interface{}{"title": "x"}}))
	assert.Nil(t, tensionFromEvent(events.Event{TensionID: "t-2"}))
	assert.Nil(t, tensionFromEvent(events.Event{TensionID: "t-3", Payload: map[string]interface{}{}}))
}
