package ecosystem

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensionos/tensiond/internal/agent"
	"github.com/tensionos/tensiond/internal/tension"
)

func builtinAgent(t *testing.T, id, templateName string) *agent.BaseAgent {
	t.Helper()
	for _, tpl := range agent.BuiltinTemplates() {
		if tpl.Metadata.TemplateName == templateName {
			return agent.NewBaseAgent(id, tpl, agent.Options{})
		}
	}
	t.Fatalf("no builtin template %q", templateName)
	return nil
}

func dataTension() *tension.Tension {
	return tension.New("Sales Data Analysis Required",
		"Need to analyze quarterly sales data to identify trends and patterns", tension.TypeDataAnalysis)
}

func skewedEcosystem(t *testing.T, o *Optimizer) *Ecosystem {
	t.Helper()
	eco := o.CreateEcosystem("prod", "production agents")
	eco.AddAgent(builtinAgent(t, "analyst-1", "DataAnalyst"))
	eco.AddAgent(builtinAgent(t, "ops-1", "Operations"))
	eco.AddAgent(builtinAgent(t, "research-1", "Research"))

	for i := 0; i < 3; i++ {
		dt := dataTension()
		eco.AddTension(dt)
		require.NoError(t, eco.AssignTension(dt.ID, "analyst-1"))
	}
	return eco
}

// One agent carrying all the work while two sit idle must surface as a
// balance problem.
func TestOptimizer_AnalyzeHealthIdleSkew(t *testing.T) {
	o := NewOptimizer(nil, nil)
	eco := skewedEcosystem(t, o)

	report := o.AnalyzeHealth(eco)

	assert.Less(t, report.WorkloadBalanceScore, 60.0)

	types := make(map[string]bool)
	for _, issue := range report.IssuesIdentified {
		types[issue.Type] = true
	}
	assert.True(t, types[IssueIdleAgents])
	assert.True(t, types[IssuePoorBalance])

	redistributed := false
	for _, rec := range report.Recommendations {
		if strings.Contains(rec, "Redistribute") {
			redistributed = true
		}
	}
	assert.True(t, redistributed, "recommendations include redistribution")

	assert.InDelta(t, 1.0, report.Performance.Throughput, 1e-9, "3 tensions across 3 agents")
	assert.InDelta(t, 1.0/3.0, report.Performance.Utilization, 1e-9)
	assert.Len(t, report.AgentHealth, 3)
	assert.Greater(t, report.OverallHealthScore, 0.0)
	assert.LessOrEqual(t, report.OverallHealthScore, 100.0)
}

// The same ecosystem snapshot must always score identically.
func TestOptimizer_HealthDeterminism(t *testing.T) {
	o := NewOptimizer(nil, nil)
	eco := skewedEcosystem(t, o)
	eco.SetAgentMetrics("analyst-1", map[string]float64{"efficiency": 82, "quality": 91})
	eco.SetAgentMetrics("ops-1", map[string]float64{"efficiency": 64})

	first := o.AnalyzeHealth(eco)
	second := o.AnalyzeHealth(eco)

	assert.Equal(t, first.OverallHealthScore, second.OverallHealthScore)
	assert.Equal(t, first.WorkloadBalanceScore, second.WorkloadBalanceScore)
	assert.Equal(t, first.AgentHealth, second.AgentHealth)
	assert.Equal(t, first.Performance, second.Performance)
	assert.Equal(t, first.IssuesIdentified, second.IssuesIdentified)
}

func TestOptimizer_AgentHealthAdjustments(t *testing.T) {
	o := NewOptimizer(nil, nil)
	eco := o.CreateEcosystem("health", "")

	idle := builtinAgent(t, "idle-1", "DataAnalyst")
	busy := builtinAgent(t, "busy-1", "DataAnalyst")
	eco.AddAgent(idle)
	eco.AddAgent(busy)

	dt := dataTension()
	eco.AddTension(dt)
	require.NoError(t, eco.AssignTension(dt.ID, "busy-1"))
	eco.SetAgentMetrics("busy-1", map[string]float64{"efficiency": 95, "quality": 95})

	report := o.AnalyzeHealth(eco)

	// Idle: 75 - 10. Busy with strong metrics: 75 + 0.2*20 + 0.2*20.
	assert.InDelta(t, 65.0, report.AgentHealth["idle-1"], 1e-9)
	assert.InDelta(t, 83.0, report.AgentHealth["busy-1"], 1e-9)
}

func TestOptimizer_OverloadedAgentFlagged(t *testing.T) {
	o := NewOptimizer(nil, nil)
	eco := o.CreateEcosystem("load", "")
	eco.AddAgent(builtinAgent(t, "swamped", "Operations"))
	eco.AddAgent(builtinAgent(t, "helper-1", "Operations"))
	eco.AddAgent(builtinAgent(t, "helper-2", "Operations"))

	for i := 0; i < 11; i++ {
		dt := dataTension()
		eco.AddTension(dt)
		require.NoError(t, eco.AssignTension(dt.ID, "swamped"))
	}

	report := o.AnalyzeHealth(eco)
	types := make(map[string]bool)
	for _, issue := range report.IssuesIdentified {
		types[issue.Type] = true
	}
	assert.True(t, types[IssueOverloaded])
	assert.InDelta(t, 60.0, report.AgentHealth["swamped"], 1e-9, "baseline minus overload penalty")
}

func TestOptimizer_EmptyEcosystem(t *testing.T) {
	o := NewOptimizer(nil, nil)
	eco := o.CreateEcosystem("empty", "")

	report := o.AnalyzeHealth(eco)
	assert.Zero(t, report.OverallHealthScore)
	require.Len(t, report.IssuesIdentified, 1)
	assert.Equal(t, IssueLowDiversity, report.IssuesIdentified[0].Type)
}

func TestOptimizer_SmallEcosystemFlagged(t *testing.T) {
	o := NewOptimizer(nil, nil)
	eco := o.CreateEcosystem("small", "")
	eco.AddAgent(builtinAgent(t, "lonely", "DataAnalyst"))

	dt := dataTension()
	eco.AddTension(dt)
	require.NoError(t, eco.AssignTension(dt.ID, "lonely"))

	report := o.AnalyzeHealth(eco)
	types := make(map[string]bool)
	for _, issue := range report.IssuesIdentified {
		types[issue.Type] = true
	}
	assert.True(t, types[IssueLowDiversity])
}

func TestEcosystem_Membership(t *testing.T) {
	o := NewOptimizer(nil, nil)
	eco := o.CreateEcosystem("members", "")

	eco.AddAgent(builtinAgent(t, "a-1", "DataAnalyst"))
	assert.Equal(t, 1, eco.AgentCount())

	assert.Error(t, eco.AssignTension("nope", "a-1"), "tension must be active")
	assert.Error(t, eco.AssignTension("nope", "ghost"), "agent must be registered")

	assert.True(t, eco.RemoveAgent("a-1"))
	assert.False(t, eco.RemoveAgent("a-1"))
	assert.Equal(t, 0, eco.AgentCount())

	_, found := o.GetEcosystem(eco.ID)
	assert.True(t, found)
	_, found = o.GetEcosystem("missing")
	assert.False(t, found)
}

func TestOptimizer_DistributionPrefersCapabilityOverlap(t *testing.T) {
	o := NewOptimizer(nil, nil)
	analyst := builtinAgent(t, "analyst-1", "DataAnalyst")
	coder := builtinAgent(t, "coder-1", "CodeGenerator")

	plan := o.OptimizeAgentDistribution([]*tension.Tension{dataTension()},
		[]agent.Agent{coder, analyst})

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, "analyst-1", plan.Actions[0].AgentID)
	assert.Greater(t, plan.Actions[0].Score, 50.0)
	assert.Empty(t, plan.Unassigned)
	assert.NotEmpty(t, plan.ImplementationSteps)
	assert.Equal(t, "agent_distribution", plan.OptimizationType)
}

func TestOptimizer_DistributionOrdersByPriority(t *testing.T) {
	o := NewOptimizer(nil, nil)
	analyst := builtinAgent(t, "analyst-1", "DataAnalyst")

	low := dataTension()
	critical := dataTension()
	critical.Priority = tension.PriorityCritical

	plan := o.OptimizeAgentDistribution([]*tension.Tension{low, critical}, []agent.Agent{analyst})

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, critical.ID, plan.Actions[0].TensionID, "critical tension placed first")
	// Workload penalty makes the second placement cheaper
	assert.Greater(t, plan.Actions[0].Score, plan.Actions[1].Score)
}

func TestOptimizer_DistributionRespectsCapacity(t *testing.T) {
	o := NewOptimizer(nil, nil)
	analyst := builtinAgent(t, "analyst-1", "DataAnalyst")

	// Capacity is 3 + min(5, capabilities) = 6 for the analyst
	tensions := make([]*tension.Tension, 8)
	for i := range tensions {
		tensions[i] = dataTension()
	}
	plan := o.OptimizeAgentDistribution(tensions, []agent.Agent{analyst})

	assert.Len(t, plan.Actions, 6)
	assert.Len(t, plan.Unassigned, 2)
	assert.Equal(t, 8*5, int(plan.EstimatedDuration.Minutes()))
}

func TestOptimizer_BalanceWorkload(t *testing.T) {
	o := NewOptimizer(nil, nil)

	result := o.BalanceWorkload(map[string][]string{
		"a": {"t1", "t2", "t3"},
		"b": nil,
		"c": nil,
	})

	require.Len(t, result.Redistributions, 3)
	for _, r := range result.Redistributions {
		assert.Len(t, r.TensionIDs, 1)
	}
	assert.InDelta(t, 100.0, result.BalanceScoreImprovement, 1e-9)
	assert.Greater(t, result.EfficiencyImprovement, 0.0)
}

func TestOptimizer_BalanceWorkloadPadsToAssumedPool(t *testing.T) {
	o := NewOptimizer(nil, nil)

	result := o.BalanceWorkload(map[string][]string{
		"solo": {"t1", "t2", "t3", "t4", "t5", "t6"},
	})

	require.Len(t, result.Redistributions, balanceAgentCount)
	for _, r := range result.Redistributions {
		assert.Len(t, r.TensionIDs, 2)
	}
}
