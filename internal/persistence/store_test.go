package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensionos/tensiond/internal/agent"
	"github.com/tensionos/tensiond/internal/reasoning"
	"github.com/tensionos/tensiond/internal/tension"
)

var (
	_ reasoning.ResultSink = (*Store)(nil)
	_ agent.EvolutionSink  = (*Store)(nil)
	_ agent.StatsStore     = (*Store)(nil)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_TensionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	created := tension.New("API Server Down", "The main API server is not responding", tension.TypeProblem)
	created.Priority = tension.PriorityCritical
	require.NoError(t, store.SaveTension(created))

	loaded, err := store.GetTension(created.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, created.Title, loaded.Title)
	assert.Equal(t, tension.TypeProblem, loaded.Type)
	assert.Equal(t, tension.PriorityCritical, loaded.Priority)
	assert.Equal(t, tension.StatusOpen, loaded.Status)

	// Upsert replaces the stored row
	created.Status = tension.StatusClosed
	created.UpdatedAt = time.Now()
	require.NoError(t, store.SaveTension(created))
	loaded, err = store.GetTension(created.ID)
	require.NoError(t, err)
	assert.Equal(t, tension.StatusClosed, loaded.Status)

	missing, err := store.GetTension("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, store.SaveTension(nil))
}

func TestStore_ListTensionsByStatus(t *testing.T) {
	store := newTestStore(t)

	open := tension.New("Open one", "still open", tension.TypeProblem)
	closed := tension.New("Closed one", "already done", tension.TypeIdea)
	closed.Status = tension.StatusClosed
	require.NoError(t, store.SaveTension(open))
	require.NoError(t, store.SaveTension(closed))

	all, err := store.ListTensions("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	openOnly, err := store.ListTensions(tension.StatusOpen, 10)
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, open.ID, openOnly[0].ID)
}

func TestStore_AnalysisRoundTrip(t *testing.T) {
	store := newTestStore(t)

	analysis := &reasoning.Analysis{
		TensionType:     tension.TypeProblem,
		ImpactLevel:     reasoning.LevelHigh,
		ConfidenceScore: 0.8,
		KeyThemes:       []string{"outage"},
		Reasoning:       "server unreachable",
	}
	require.NoError(t, store.SaveAnalysis("t-1", analysis))

	loaded, err := store.GetAnalysis("t-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, analysis.TensionType, loaded.TensionType)
	assert.Equal(t, analysis.KeyThemes, loaded.KeyThemes)
	assert.InDelta(t, 0.8, loaded.ConfidenceScore, 1e-9)

	// Re-saving replaces the prior analysis
	analysis.ConfidenceScore = 0.9
	require.NoError(t, store.SaveAnalysis("t-1", analysis))
	loaded, err = store.GetAnalysis("t-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, loaded.ConfidenceScore, 1e-9)

	missing, err := store.GetAnalysis("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_SolutionsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	solutions := []*reasoning.Solution{
		{ID: "s-1", Title: "Restart the service", ConfidenceScore: 70},
		{ID: "s-2", Title: "Roll back the deploy", ConfidenceScore: 60},
	}
	require.NoError(t, store.SaveSolutions("t-1", solutions))

	loaded, err := store.GetSolutions("t-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	ids := []string{loaded[0].ID, loaded[1].ID}
	assert.Contains(t, ids, "s-1")
	assert.Contains(t, ids, "s-2")

	// Saving the same ids again does not duplicate rows
	require.NoError(t, store.SaveSolutions("t-1", solutions))
	loaded, err = store.GetSolutions("t-1")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	empty, err := store.GetSolutions("nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_PriorityRoundTrip(t *testing.T) {
	store := newTestStore(t)

	result := &reasoning.CalcResult{
		FinalScore:         82.5,
		NormalizedPriority: 2,
		PriorityLevel:      reasoning.LevelCritical,
		CalculationMethod:  "weighted_average",
		ContributingFactors: map[string]float64{
			"impact": 1.0,
		},
	}
	require.NoError(t, store.SavePriority("t-1", result))

	loaded, err := store.GetPriority("t-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.InDelta(t, 82.5, loaded.FinalScore, 1e-9)
	assert.Equal(t, reasoning.LevelCritical, loaded.PriorityLevel)
	assert.InDelta(t, 1.0, loaded.ContributingFactors["impact"], 1e-9)

	missing, err := store.GetPriority("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_EvolutionAppends(t *testing.T) {
	store := newTestStore(t)

	first := &agent.EvolutionResult{
		AgentID:       "analyst-1",
		EvolutionType: "capability_enhancement",
		Success:       true,
		EvolvedAt:     time.Now().Add(-time.Hour),
	}
	second := &agent.EvolutionResult{
		AgentID:       "analyst-1",
		EvolutionType: "capability_addition",
		Success:       true,
		EvolvedAt:     time.Now(),
	}
	require.NoError(t, store.SaveEvolution("analyst-1", first))
	require.NoError(t, store.SaveEvolution("analyst-1", second))

	loaded, err := store.GetEvolutions("analyst-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "capability_enhancement", loaded[0].EvolutionType)
	assert.Equal(t, "capability_addition", loaded[1].EvolutionType)

	other, err := store.GetEvolutions("other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_TemplateStats(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveTemplateStats("DataAnalyst", &agent.TemplateStats{
		InstancesCreated:  3,
		TensionsProcessed: 10,
		SuccessRate:       80,
		AverageConfidence: 72.5,
	}))

	loaded, err := store.GetTemplateStats()
	require.NoError(t, err)
	require.Contains(t, loaded, "DataAnalyst")
	assert.Equal(t, int64(3), loaded["DataAnalyst"].InstancesCreated)
	assert.InDelta(t, 80.0, loaded["DataAnalyst"].SuccessRate, 1e-9)

	// Upsert overwrites the snapshot
	require.NoError(t, store.SaveTemplateStats("DataAnalyst", &agent.TemplateStats{InstancesCreated: 4}))
	loaded, err = store.GetTemplateStats()
	require.NoError(t, err)
	assert.Equal(t, int64(4), loaded["DataAnalyst"].InstancesCreated)
}
