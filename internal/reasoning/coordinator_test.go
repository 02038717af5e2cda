package reasoning

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/tension"
)

func newTestCoordinator() *Coordinator {
	return NewCoordinator(CoordinatorConfig{RuleDefaults: true})
}

type memorySink struct {
	mu         sync.Mutex
	analyses   map[string]*Analysis
	solutions  map[string][]*Solution
	priorities map[string]*CalcResult
}

func newMemorySink() *memorySink {
	return &memorySink{
		analyses:   make(map[string]*Analysis),
		solutions:  make(map[string][]*Solution),
		priorities: make(map[string]*CalcResult),
	}
}

func (s *memorySink) SaveAnalysis(tensionID string, analysis *Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[tensionID] = analysis
	return nil
}

func (s *memorySink) SaveSolutions(tensionID string, solutions []*Solution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solutions[tensionID] = solutions
	return nil
}

func (s *memorySink) SavePriority(tensionID string, result *CalcResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorities[tensionID] = result
	return nil
}

func TestCoordinator_ProcessOutage(t *testing.T) {
	c := newTestCoordinator()

	result, err := c.Process(context.Background(), &Request{
		Title:       "API Server Down",
		Description: "The main API server is not responding and showing error messages",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.TensionID)
	require.NotNil(t, result.Analysis)
	assert.Equal(t, tension.TypeProblem, result.Analysis.TensionType)
	assert.Equal(t, SuggestCritical, result.Analysis.SuggestedPriority)

	var ruleIDs []string
	for _, m := range result.RuleResults {
		ruleIDs = append(ruleIDs, m.RuleID)
	}
	assert.Contains(t, ruleIDs, "critical-tension-escalation")

	require.NotEmpty(t, result.Solutions)
	require.NotNil(t, result.PriorityCalculation)
	assert.GreaterOrEqual(t, result.PriorityCalculation.FinalScore, 70.0)

	assert.NotEmpty(t, result.Recommendations)
	assert.LessOrEqual(t, len(result.Recommendations), 10)
	assert.GreaterOrEqual(t, result.ProcessingTime, 0.0)
}

func TestCoordinator_ProcessOpportunity(t *testing.T) {
	c := newTestCoordinator()

	result, err := c.Process(context.Background(), &Request{
		Title:       "Improve User Experience",
		Description: "We could enhance the user interface to improve customer satisfaction and engagement",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.NotNil(t, result.Analysis)
	assert.Equal(t, tension.TypeOpportunity, result.Analysis.TensionType)
	assert.Equal(t, SuggestNormal, result.Analysis.SuggestedPriority)
}

func TestCoordinator_ProcessSecurityRisk(t *testing.T) {
	c := newTestCoordinator()

	result, err := c.Process(context.Background(), &Request{
		Title:       "Potential Security Vulnerability",
		Description: "Security audit revealed potential vulnerability in authentication system",
	})
	require.NoError(t, err)

	require.NotNil(t, result.Analysis)
	assert.Contains(t, result.Analysis.KeyThemes, "Security")
	assert.Contains(t, result.Recommendations, "Involve the security team before any changes ship")
	assert.Equal(t, ContextSecurityIncident, result.PriorityCalculation.BusinessContext)
}

func TestCoordinator_InvalidInput(t *testing.T) {
	c := newTestCoordinator()

	_, err := c.Process(context.Background(), &Request{Description: "no title"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = c.Process(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCoordinator_RequestedServicesSubset(t *testing.T) {
	c := newTestCoordinator()

	result, err := c.Process(context.Background(), &Request{
		Title:             "API Server Down",
		Description:       "The main API server is not responding",
		RequestedServices: []Service{ServiceAnalysis, ServicePriority},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotNil(t, result.Analysis)
	assert.NotNil(t, result.PriorityCalculation)
	assert.Empty(t, result.RuleResults)
	assert.Empty(t, result.Solutions)
}

func TestCoordinator_CancelledContext(t *testing.T) {
	c := newTestCoordinator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.Process(ctx, &Request{Title: "Anything", Description: "whatever"})
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "cancelled at analysis stage")
	assert.Nil(t, result.Analysis)
}

func TestCoordinator_UnknownPriorityMethodRecorded(t *testing.T) {
	c := newTestCoordinator()

	result, err := c.Process(context.Background(), &Request{
		Title:          "API Server Down",
		Description:    "The main API server is not responding",
		PriorityMethod: "bogus",
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Nil(t, result.PriorityCalculation)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "priority calculation failed")
	// The independent stages still ran
	assert.NotNil(t, result.Analysis)
	assert.NotEmpty(t, result.Solutions)
}

// A batch must produce the same per-tension outcome as processing each
// request individually, in input order.
func TestCoordinator_BatchMatchesIndividual(t *testing.T) {
	requests := []*Request{
		{TensionID: "t-1", Title: "API Server Down", Description: "The main API server is not responding and showing error messages"},
		{TensionID: "t-2", Title: "Improve User Experience", Description: "We could enhance the user interface to improve customer satisfaction"},
		{TensionID: "t-3", Title: "Potential Security Vulnerability", Description: "Security audit revealed potential vulnerability in authentication system"},
		{TensionID: "t-4", Title: "Quarterly report bug", Description: "There is a bug in the quarterly revenue report"},
	}

	batch := newTestCoordinator().ProcessBatch(context.Background(), requests)
	require.Len(t, batch, len(requests))

	individual := newTestCoordinator()
	for i, req := range requests {
		want, err := individual.Process(context.Background(), req)
		require.NoError(t, err)

		got := batch[i]
		assert.Equal(t, req.TensionID, got.TensionID)
		assert.Equal(t, want.Success, got.Success)
		assert.Equal(t, want.Analysis.TensionType, got.Analysis.TensionType)
		assert.Equal(t, want.Analysis.SuggestedPriority, got.Analysis.SuggestedPriority)
		assert.Equal(t, want.PriorityCalculation.FinalScore, got.PriorityCalculation.FinalScore)
		assert.Equal(t, len(want.Solutions), len(got.Solutions))
		assert.Equal(t, want.Recommendations, got.Recommendations)
	}
}

func TestCoordinator_BatchIsolatesFailures(t *testing.T) {
	c := newTestCoordinator()

	results := c.ProcessBatch(context.Background(), []*Request{
		{Title: "Valid request", Description: "some error somewhere"},
		{Description: "missing title"},
		{Title: "Another valid one", Description: "improve the process"},
	})
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Errors)
	assert.True(t, results[2].Success)
}

func TestCoordinator_PerformanceStats(t *testing.T) {
	c := newTestCoordinator()

	_, err := c.Process(context.Background(), &Request{Title: "One", Description: "an error"})
	require.NoError(t, err)
	_, err = c.Process(context.Background(), &Request{Description: "rejected"})
	require.Error(t, err)
	_, err = c.Process(context.Background(), &Request{Title: "Two", Description: "improve things"})
	require.NoError(t, err)

	stats := c.GetPerformanceStats()
	assert.Equal(t, int64(2), stats.TotalProcessed, "rejected requests are not counted")
	assert.Equal(t, int64(2), stats.SuccessfulProcessing)
	assert.GreaterOrEqual(t, stats.AverageProcessingTime, 0.0)
	assert.Equal(t, int64(2), stats.ComponentCounts["analyzer"])
	assert.Equal(t, int64(2), stats.ComponentCounts["priority_calculator"])
}

func TestCoordinator_PersistsThroughSink(t *testing.T) {
	sink := newMemorySink()
	c := NewCoordinator(CoordinatorConfig{RuleDefaults: true, Sink: sink})

	result, err := c.Process(context.Background(), &Request{
		TensionID:   "persisted-1",
		Title:       "API Server Down",
		Description: "The main API server is not responding",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.NotNil(t, sink.analyses["persisted-1"])
	assert.NotEmpty(t, sink.solutions["persisted-1"])
	assert.NotNil(t, sink.priorities["persisted-1"])
}

func TestCoordinator_PublishesEvents(t *testing.T) {
	bus := events.NewBus(nil, nil)
	ch := bus.Subscribe("observer", []events.EventType{events.EventTensionAnalyzed, events.EventSolutionGenerated})

	c := NewCoordinator(CoordinatorConfig{RuleDefaults: true, Bus: bus})
	result, err := c.Process(context.Background(), &Request{
		TensionID:   "published-1",
		Title:       "API Server Down",
		Description: "The main API server is not responding",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	seen := make(map[events.EventType]bool)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			assert.Equal(t, "published-1", ev.TensionID)
			seen[ev.Type] = true
		default:
			t.Fatalf("expected 2 published events, got %d", i)
		}
	}
	assert.True(t, seen[events.EventTensionAnalyzed])
	assert.True(t, seen[events.EventSolutionGenerated])
}

func TestCoordinator_ValidateComponents(t *testing.T) {
	c := newTestCoordinator()

	statuses := c.ValidateComponents(context.Background())
	require.Len(t, statuses, 4)
	for _, s := range statuses {
		assert.True(t, s.OK, "%s: %s", s.Component, s.Issue)
	}
}

func TestCoordinator_ValidateComponentsWithoutDefaults(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})

	for _, s := range c.ValidateComponents(context.Background()) {
		assert.True(t, s.OK, "%s: %s", s.Component, s.Issue)
	}
}

// An installed escalation rule that cannot fire for a critical tension
// must fail the rule engine check.
func TestCoordinator_ValidateComponentsFlagsSilentEscalationRule(t *testing.T) {
	c := newTestCoordinator()

	require.True(t, c.Rules().RemoveRule(defaultEscalationRuleID))
	require.NoError(t, c.Rules().AddRule(&Rule{
		ID:      defaultEscalationRuleID,
		Name:    "Critical Tension Escalation",
		Type:    RuleTypeEscalation,
		Enabled: true,
		Conditions: []Condition{
			{Field: "analysis.impact_level", Operator: OpGreaterThan, Value: 99},
		},
		Actions: []Action{{ActionType: "escalate"}},
	}))

	var ruleStatus ComponentStatus
	for _, s := range c.ValidateComponents(context.Background()) {
		if s.Component == "rule_engine" {
			ruleStatus = s
		}
	}
	assert.False(t, ruleStatus.OK)
	assert.Contains(t, ruleStatus.Issue, "did not fire")
}

func TestConsolidateRecommendations_DedupeAndCap(t *testing.T) {
	result := &Result{
		Analysis: &Analysis{
			SuggestedPriority: SuggestCritical,
			KeyThemes:         []string{"Security", "Technology", "Business"},
		},
		PriorityCalculation: &CalcResult{
			FinalScore:      95,
			Recommendations: []string{"Treat as critical: assign an owner and begin work today", "Extra one"},
		},
	}
	for i := 0; i < 12; i++ {
		result.RuleResults = append(result.RuleResults, RuleMatch{RuleName: fmt.Sprintf("rule-%d", i)})
	}

	recs := consolidateRecommendations(result)
	assert.Len(t, recs, 10)

	seen := make(map[string]bool)
	for _, r := range recs {
		assert.False(t, seen[r], "duplicate recommendation %q", r)
		seen[r] = true
	}
}
