// Package ecosystem manages named collections of agents: health
// analysis, tension distribution planning, and workload balancing.
package ecosystem

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/agent"
	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/tension"
)

// Health analysis constants
const (
	healthBaseline      = 75.0
	idlePenalty         = 10.0
	overloadPenalty     = 15.0
	overloadThreshold   = 10
	noCapabilityPenalty = 15.0
	richCapabilityBonus = 10.0
	richCapabilityCount = 8
)

// Issue types
const (
	IssueUnhealthyAgents = "unhealthy_agents"
	IssuePoorBalance     = "poor_balance"
	IssueIdleAgents      = "idle_agents"
	IssueOverloaded      = "overloaded_agents"
	IssueLowDiversity    = "low_diversity"
)

// balanceAgentCount is the assumed agent count for workload balancing
const balanceAgentCount = 3

// Ecosystem owns agent registrations, active tensions, and the workload
// map. It does not own the agent objects.
type Ecosystem struct {
	ID          string
	Name        string
	Description string

	mu             sync.RWMutex
	agents         map[string]agent.Agent
	activeTensions []*tension.Tension
	workload       map[string][]string // agentID -> tension ids
	metrics        map[string]map[string]float64
	createdAt      time.Time
	lastOptimized  time.Time
}

// Issue is one detected ecosystem problem
type Issue struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// PerformanceMetrics summarize ecosystem throughput
type PerformanceMetrics struct {
	Efficiency  float64 `json:"efficiency"`  // 0-100 average across agents
	Throughput  float64 `json:"throughput"`  // tensions per agent
	Utilization float64 `json:"utilization"` // fraction of agents with work
}

// HealthReport is the output of one health analysis
type HealthReport struct {
	EcosystemID          string             `json:"ecosystem_id"`
	OverallHealthScore   float64            `json:"overall_health_score"` // 0-100
	AgentHealth          map[string]float64 `json:"agent_health"`
	WorkloadBalanceScore float64            `json:"workload_balance_score"`
	Performance          PerformanceMetrics `json:"performance"`
	IssuesIdentified     []Issue            `json:"issues_identified"`
	Recommendations      []string           `json:"recommendations"`
	AnalyzedAt           time.Time          `json:"analyzed_at"`
}

// Assignment is one planned tension-to-agent placement
type Assignment struct {
	TensionID string  `json:"tension_id"`
	AgentID   string  `json:"agent_id"`
	Score     float64 `json:"score"`
}

// OptimizationPlan is the output of distribution planning. Tensions no
// agent had capacity for land in Unassigned rather than failing the
// plan.
type OptimizationPlan struct {
	PlanID               string       `json:"plan_id"`
	OptimizationType     string       `json:"optimization_type"`
	Actions              []Assignment `json:"actions"`
	Unassigned           []string     `json:"unassigned,omitempty"`
	ExpectedImprovements []string     `json:"expected_improvements"`
	ImplementationSteps  []string     `json:"implementation_steps"`
	EstimatedDuration    time.Duration `json:"estimated_duration"`
	CreatedAt            time.Time    `json:"created_at"`
}

// Redistribution is one agent's share after balancing
type Redistribution struct {
	AgentID    string   `json:"agent_id"`
	TensionIDs []string `json:"tension_ids"`
}

// BalancingResult is the output of workload balancing
type BalancingResult struct {
	Redistributions         []Redistribution `json:"redistributions"`
	EfficiencyImprovement   float64          `json:"efficiency_improvement"`
	BalanceScoreImprovement float64          `json:"balance_score_improvement"`
	BalancedAt              time.Time        `json:"balanced_at"`
}

// Optimizer manages named ecosystems
type Optimizer struct {
	bus    *events.Bus
	logger *zap.Logger

	mu         sync.RWMutex
	ecosystems map[string]*Ecosystem
}

// NewOptimizer creates an optimizer. bus may be nil.
func NewOptimizer(bus *events.Bus, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		bus:        bus,
		logger:     logger.Named("ecosystem"),
		ecosystems: make(map[string]*Ecosystem),
	}
}

// CreateEcosystem registers a new named ecosystem
func (o *Optimizer) CreateEcosystem(name, description string) *Ecosystem {
	eco := &Ecosystem{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		agents:      make(map[string]agent.Agent),
		workload:    make(map[string][]string),
		metrics:     make(map[string]map[string]float64),
		createdAt:   time.Now(),
	}
	o.mu.Lock()
	o.ecosystems[eco.ID] = eco
	o.mu.Unlock()
	return eco
}

// GetEcosystem looks up an ecosystem by id
func (o *Optimizer) GetEcosystem(id string) (*Ecosystem, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	eco, ok := o.ecosystems[id]
	return eco, ok
}

// AddAgent registers an agent with the ecosystem
func (e *Ecosystem) AddAgent(a agent.Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[a.ID()] = a
	if _, ok := e.workload[a.ID()]; !ok {
		e.workload[a.ID()] = nil
	}
}

// RemoveAgent drops an agent and its workload entries
func (e *Ecosystem) RemoveAgent(agentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.agents[agentID]; !ok {
		return false
	}
	delete(e.agents, agentID)
	delete(e.workload, agentID)
	return true
}

// AddTension registers an active tension
func (e *Ecosystem) AddTension(t *tension.Tension) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeTensions = append(e.activeTensions, t)
}

// AssignTension places an active tension onto an agent's workload. Both
// must already be registered.
func (e *Ecosystem) AssignTension(tensionID, agentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.agents[agentID]; !ok {
		return fmt.Errorf("agent %s not in ecosystem", agentID)
	}
	if !e.hasTensionLocked(tensionID) {
		return fmt.Errorf("tension %s not active in ecosystem", tensionID)
	}
	e.workload[agentID] = append(e.workload[agentID], tensionID)
	return nil
}

func (e *Ecosystem) hasTensionLocked(tensionID string) bool {
	for _, t := range e.activeTensions {
		if t.ID == tensionID {
			return true
		}
	}
	return false
}

// SetAgentMetrics records measured performance for an agent. Recognized
// keys: efficiency, quality (0-100); unset keys default to 75.
func (e *Ecosystem) SetAgentMetrics(agentID string, metrics map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics[agentID] = metrics
}

// AgentCount reports the number of registered agents
func (e *Ecosystem) AgentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.agents)
}

// Agents returns the registered agents sorted by id
func (e *Ecosystem) Agents() []agent.Agent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.agents))
	for id := range e.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]agent.Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.agents[id])
	}
	return out
}

// ActiveTensions returns a snapshot of the active tension list
func (e *Ecosystem) ActiveTensions() []*tension.Tension {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*tension.Tension, len(e.activeTensions))
	copy(out, e.activeTensions)
	return out
}

// Workload returns a copy of the agent workload map
func (e *Ecosystem) Workload() map[string][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string][]string, len(e.workload))
	for id, tensions := range e.workload {
		out[id] = append([]string(nil), tensions...)
	}
	return out
}

// AnalyzeHealth computes the ecosystem health report. The computation
// is deterministic: identical snapshots produce identical scores.
func (o *Optimizer) AnalyzeHealth(eco *Ecosystem) *HealthReport {
	eco.mu.RLock()
	defer eco.mu.RUnlock()

	report := &HealthReport{
		EcosystemID: eco.ID,
		AgentHealth: make(map[string]float64, len(eco.agents)),
		AnalyzedAt:  time.Now(),
	}
	if len(eco.agents) == 0 {
		report.IssuesIdentified = append(report.IssuesIdentified, Issue{
			Type:        IssueLowDiversity,
			Description: "ecosystem has no agents",
		})
		report.Recommendations = append(report.Recommendations, "Add agents to the ecosystem")
		return report
	}

	agentIDs := make([]string, 0, len(eco.agents))
	for id := range eco.agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	// Per-agent health
	healthSum := 0.0
	efficiencySum := 0.0
	idle := 0
	overloaded := 0
	unhealthy := 0
	busy := 0
	for _, id := range agentIDs {
		a := eco.agents[id]
		workload := len(eco.workload[id])
		health := agentHealth(a, workload, eco.metrics[id])
		report.AgentHealth[id] = health
		healthSum += health

		efficiencySum += metricOr(eco.metrics[id], "efficiency", healthBaseline)
		switch {
		case workload == 0:
			idle++
		case workload > overloadThreshold:
			overloaded++
			busy++
		default:
			busy++
		}
		if health < 60 {
			unhealthy++
		}
	}
	meanHealth := healthSum / float64(len(agentIDs))

	// Workload balance
	sizes := make([]float64, 0, len(agentIDs))
	for _, id := range agentIDs {
		sizes = append(sizes, float64(len(eco.workload[id])))
	}
	report.WorkloadBalanceScore = balanceScore(sizes)

	// Throughput metrics
	report.Performance = PerformanceMetrics{
		Efficiency:  efficiencySum / float64(len(agentIDs)),
		Throughput:  float64(len(eco.activeTensions)) / float64(len(agentIDs)),
		Utilization: float64(busy) / float64(len(agentIDs)),
	}

	// Issues and recommendations
	if unhealthy > 0 {
		report.IssuesIdentified = append(report.IssuesIdentified, Issue{
			Type:        IssueUnhealthyAgents,
			Description: fmt.Sprintf("%d agents scoring below 60", unhealthy),
		})
		report.Recommendations = append(report.Recommendations, "Evolve or replace underperforming agents")
	}
	if report.WorkloadBalanceScore < 60 {
		report.IssuesIdentified = append(report.IssuesIdentified, Issue{
			Type:        IssuePoorBalance,
			Description: fmt.Sprintf("workload balance score %.0f", report.WorkloadBalanceScore),
		})
		report.Recommendations = append(report.Recommendations, "Redistribute tensions across agents")
	}
	if float64(idle) > 0.3*float64(len(agentIDs)) {
		report.IssuesIdentified = append(report.IssuesIdentified, Issue{
			Type:        IssueIdleAgents,
			Description: fmt.Sprintf("%d of %d agents are idle", idle, len(agentIDs)),
		})
		report.Recommendations = append(report.Recommendations, "Redistribute work to idle agents or retire them")
	}
	if overloaded > 0 {
		report.IssuesIdentified = append(report.IssuesIdentified, Issue{
			Type:        IssueOverloaded,
			Description: fmt.Sprintf("%d agents carry more than %d tensions", overloaded, overloadThreshold),
		})
		report.Recommendations = append(report.Recommendations, "Shed load from overloaded agents")
	}
	if len(agentIDs) < 3 {
		report.IssuesIdentified = append(report.IssuesIdentified, Issue{
			Type:        IssueLowDiversity,
			Description: fmt.Sprintf("only %d agents registered", len(agentIDs)),
		})
		report.Recommendations = append(report.Recommendations, "Add agents with complementary capabilities")
	}

	// Overall: agent health, balance, and throughput each weigh in
	utilizationScore := report.Performance.Utilization * 100
	report.OverallHealthScore = 0.4*meanHealth +
		0.3*report.WorkloadBalanceScore +
		0.3*(report.Performance.Efficiency+utilizationScore)/2
	return report
}

// agentHealth scores one agent from a 75 baseline
func agentHealth(a agent.Agent, workload int, metrics map[string]float64) float64 {
	health := healthBaseline
	switch {
	case workload == 0:
		health -= idlePenalty
	case workload > overloadThreshold:
		health -= overloadPenalty
	}

	capCount := len(a.Capabilities())
	switch {
	case capCount == 0:
		health -= noCapabilityPenalty
	case capCount > richCapabilityCount:
		health += richCapabilityBonus
	}

	health += 0.2 * (metricOr(metrics, "efficiency", healthBaseline) - healthBaseline)
	health += 0.2 * (metricOr(metrics, "quality", healthBaseline) - healthBaseline)

	return math.Max(0, math.Min(100, health))
}

// balanceScore is 100 minus the coefficient of variation of workload
// sizes, floored at zero. A fully idle ecosystem is perfectly balanced.
func balanceScore(sizes []float64) float64 {
	if len(sizes) == 0 {
		return 100
	}
	mean := 0.0
	for _, s := range sizes {
		mean += s
	}
	mean /= float64(len(sizes))
	if mean == 0 {
		return 100
	}
	variance := 0.0
	for _, s := range sizes {
		variance += (s - mean) * (s - mean)
	}
	sigma := math.Sqrt(variance / float64(len(sizes)))
	return math.Max(0, 100-(sigma/mean)*100)
}

func metricOr(metrics map[string]float64, key string, fallback float64) float64 {
	if metrics == nil {
		return fallback
	}
	if v, ok := metrics[key]; ok {
		return v
	}
	return fallback
}

// OptimizeAgentDistribution plans tension-to-agent assignments. Agents
// at capacity are skipped; tensions nobody can take are recorded as
// unassigned rather than failing the plan.
func (o *Optimizer) OptimizeAgentDistribution(tensions []*tension.Tension, agents []agent.Agent) *OptimizationPlan {
	plan := &OptimizationPlan{
		PlanID:            uuid.New().String(),
		OptimizationType:  "agent_distribution",
		EstimatedDuration: time.Duration(len(tensions)) * 5 * time.Minute,
		CreatedAt:         time.Now(),
	}

	type agentState struct {
		id         string
		caps       map[string]bool
		capacity   int
		efficiency float64
		workload   int
	}
	states := make([]*agentState, 0, len(agents))
	for _, a := range agents {
		caps := make(map[string]bool)
		for _, c := range a.Capabilities() {
			caps[c.Name] = true
		}
		efficiency := healthBaseline
		switch a.(type) {
		case *agent.CompositeAgent:
			efficiency += 10
		case *agent.CustomAgent:
			efficiency += 5
		}
		states = append(states, &agentState{
			id:         a.ID(),
			caps:       caps,
			capacity:   3 + minInt(5, len(caps)),
			efficiency: efficiency,
		})
	}

	// Highest priority first, larger tensions first within a band
	ordered := append([]*tension.Tension(nil), tensions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return len(ordered[i].Description) > len(ordered[j].Description)
	})

	allCaps := make([]string, 0)
	seen := make(map[string]bool)
	for _, s := range states {
		for name := range s.caps {
			if !seen[name] {
				seen[name] = true
				allCaps = append(allCaps, name)
			}
		}
	}
	sort.Strings(allCaps)

	for _, t := range ordered {
		required := requiredCapabilities(t, allCaps)

		var best *agentState
		bestScore := math.Inf(-1)
		for _, s := range states {
			if s.workload >= s.capacity {
				continue
			}
			score := assignmentScore(s.caps, required, s.efficiency, s.workload)
			if score > bestScore {
				bestScore = score
				best = s
			}
		}
		if best == nil {
			plan.Unassigned = append(plan.Unassigned, t.ID)
			continue
		}
		best.workload++
		plan.Actions = append(plan.Actions, Assignment{
			TensionID: t.ID,
			AgentID:   best.id,
			Score:     bestScore,
		})
	}

	if len(plan.Actions) > 0 {
		plan.ExpectedImprovements = append(plan.ExpectedImprovements,
			fmt.Sprintf("%d tensions matched to capable agents", len(plan.Actions)))
		plan.ImplementationSteps = append(plan.ImplementationSteps,
			"Notify each agent of its assignments",
			"Move assigned tensions to In-Progress",
			"Re-run health analysis after assignments settle")
	}
	if len(plan.Unassigned) > 0 {
		plan.ExpectedImprovements = append(plan.ExpectedImprovements,
			fmt.Sprintf("%d tensions need additional agent capacity", len(plan.Unassigned)))
	}

	if o.bus != nil {
		o.bus.Publish(events.New(events.EventEcosystemOptimized, "ecosystem", events.TargetAll, events.PriorityNormal, map[string]interface{}{
			"plan_id":    plan.PlanID,
			"assigned":   len(plan.Actions),
			"unassigned": len(plan.Unassigned),
		}))
	}
	o.logger.Info("distribution planned",
		zap.Int("assigned", len(plan.Actions)),
		zap.Int("unassigned", len(plan.Unassigned)))
	return plan
}

// requiredCapabilities scans the tension text for capability names
// whose words appear in it
func requiredCapabilities(t *tension.Tension, knownCaps []string) []string {
	text := strings.ToLower(t.Title + " " + t.Description)
	var required []string
	for _, name := range knownCaps {
		for _, word := range strings.Split(name, "_") {
			if len(word) > 3 && strings.Contains(text, word) {
				required = append(required, name)
				break
			}
		}
	}
	return required
}

func assignmentScore(agentCaps map[string]bool, required []string, efficiency float64, workload int) float64 {
	score := 50.0
	if len(required) > 0 {
		overlap := 0
		for _, name := range required {
			if agentCaps[name] {
				overlap++
			}
		}
		score += 30 * float64(overlap) / float64(len(required))
	}
	score += 0.2 * (efficiency - healthBaseline)
	score -= 5 * float64(workload)
	return score
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// BalanceWorkload redistributes a workload map evenly across the
// assumed agent pool and estimates the improvement
func (o *Optimizer) BalanceWorkload(workload map[string][]string) *BalancingResult {
	// Collect all tension ids in a stable order
	agentIDs := make([]string, 0, len(workload))
	for id := range workload {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	var all []string
	beforeSizes := make([]float64, 0, len(agentIDs))
	for _, id := range agentIDs {
		all = append(all, workload[id]...)
		beforeSizes = append(beforeSizes, float64(len(workload[id])))
	}

	result := &BalancingResult{BalancedAt: time.Now()}
	targets := agentIDs
	if len(targets) < balanceAgentCount {
		for i := len(targets); i < balanceAgentCount; i++ {
			targets = append(targets, fmt.Sprintf("agent-%d", i+1))
		}
	}

	shares := make(map[string][]string, len(targets))
	for i, tensionID := range all {
		target := targets[i%len(targets)]
		shares[target] = append(shares[target], tensionID)
	}
	afterSizes := make([]float64, 0, len(targets))
	for _, id := range targets {
		result.Redistributions = append(result.Redistributions, Redistribution{
			AgentID:    id,
			TensionIDs: shares[id],
		})
		afterSizes = append(afterSizes, float64(len(shares[id])))
	}

	before := balanceScore(beforeSizes)
	after := balanceScore(afterSizes)
	result.BalanceScoreImprovement = after - before
	// Even load converts roughly a third of the balance gain into
	// throughput
	result.EfficiencyImprovement = math.Max(0, result.BalanceScoreImprovement/3)
	return result
}
