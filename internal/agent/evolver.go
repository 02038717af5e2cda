package agent

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/tension"
)

// Gap taxonomy
const (
	GapEfficiency            = "efficiency"
	GapQuality               = "quality"
	GapCapabilityPerformance = "capability_performance"
	GapMissingCapability     = "missing_capability"
	GapDomainExpertise       = "domain_expertise"
	GapPerformanceDecline    = "performance_decline"
)

// Gap severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Evolution strategy names
const (
	StrategyEnhancement    = "enhancement"
	StrategyAddition       = "addition"
	StrategyOptimization   = "optimization"
	StrategySpecialization = "specialization"
)

// strategyForGap maps each gap type to the strategy that addresses it
var strategyForGap = map[string]string{
	GapEfficiency:            StrategyOptimization,
	GapQuality:               StrategyEnhancement,
	GapCapabilityPerformance: StrategyEnhancement,
	GapMissingCapability:     StrategyAddition,
	GapDomainExpertise:       StrategySpecialization,
	GapPerformanceDecline:    StrategyOptimization,
}

// Strategy application constants. Proficiency is on the 0-1 scale.
const (
	enhanceProficiencyStep = 0.10
	enhanceProficiencyCap  = 0.95
	enhanceTimeReduction   = 0.10
	additionProficiency    = 0.75
	additionTaskMinutes    = 90
	optimizeTimeReduction  = 0.15
	specializeStep         = 0.15
	specializeCap          = 0.90
	minTaskMinutes         = 30
)

// PerformanceGap is one identified shortfall in an agent's performance
type PerformanceGap struct {
	ID                   string    `json:"id"`
	GapType              string    `json:"gap_type"`
	Description          string    `json:"description"`
	Severity             string    `json:"severity"`
	AffectedCapabilities []string  `json:"affected_capabilities,omitempty"`
	ImpactScore          float64   `json:"impact_score"` // 0-100
	RecommendedActions   []string  `json:"recommended_actions,omitempty"`
	IdentifiedAt         time.Time `json:"identified_at"`
}

// PerformanceData is the measured input to gap analysis. All scores are
// on a 0-100 scale.
type PerformanceData struct {
	Efficiency            float64            `json:"efficiency"`
	Quality               float64            `json:"quality"`
	CapabilityPerformance map[string]float64 `json:"capability_performance,omitempty"`
	RequestedButMissing   []string           `json:"requested_but_missing,omitempty"`
	DomainPerformance     map[string]float64 `json:"domain_performance,omitempty"`
}

// CapabilityChange records one mutation an evolution applied
type CapabilityChange struct {
	Capability          string  `json:"capability"`
	Change              string  `json:"change"`
	EstimatedImprovement float64 `json:"estimated_improvement"` // 0-100
}

// EvolutionResult is the committed outcome of one evolution pass
type EvolutionResult struct {
	AgentID                string             `json:"agent_id"`
	EvolutionType          string             `json:"evolution_type"`
	ChangesMade            []CapabilityChange `json:"changes_made"`
	PerformanceImprovement map[string]float64 `json:"performance_improvement"` // predicted W/I/N bumps
	Success                bool               `json:"success"`
	Notes                  string             `json:"notes,omitempty"`
	EvolvedAt              time.Time          `json:"evolved_at"`
}

// ValidationResult scores an evolution's effect
type ValidationResult struct {
	Score                    float64 `json:"score"` // 0-100
	CapabilityCountIncreased bool    `json:"capability_count_increased"`
	ProficiencyIncreased     bool    `json:"proficiency_increased"`
	HandlingImproved         bool    `json:"handling_improved"`
}

// EvolutionSink persists evolution history keyed by agent id.
// Implemented by the persistence store; nil disables persistence.
type EvolutionSink interface {
	SaveEvolution(agentID string, result *EvolutionResult) error
}

// Evolver analyzes performance gaps and applies evolution strategies.
// It owns the evolution history, keyed by agent id.
type Evolver struct {
	bus    *events.Bus
	sink   EvolutionSink
	logger *zap.Logger

	mu      sync.RWMutex
	history map[string][]*EvolutionResult
}

// NewEvolver creates an evolver. bus and sink may be nil.
func NewEvolver(bus *events.Bus, sink EvolutionSink, logger *zap.Logger) *Evolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evolver{
		bus:     bus,
		sink:    sink,
		logger:  logger.Named("evolver"),
		history: make(map[string][]*EvolutionResult),
	}
}

// AnalyzePerformanceGaps inspects measured performance against fixed
// thresholds and returns the identified gaps. historical, when present,
// enables decline detection against the running average.
func (e *Evolver) AnalyzePerformanceGaps(a Agent, data PerformanceData, historical []PerformanceData) []PerformanceGap {
	now := time.Now()
	var gaps []PerformanceGap

	if data.Efficiency < 60 {
		severity := SeverityMedium
		if data.Efficiency < 40 {
			severity = SeverityHigh
		}
		gaps = append(gaps, PerformanceGap{
			ID:           uuid.New().String(),
			GapType:      GapEfficiency,
			Description:  fmt.Sprintf("efficiency %.0f below the 60 threshold", data.Efficiency),
			Severity:     severity,
			ImpactScore:  80 - data.Efficiency,
			RecommendedActions: []string{"reduce per-task time", "streamline capability set"},
			IdentifiedAt: now,
		})
	}

	if data.Quality < 70 {
		severity := SeverityMedium
		if data.Quality < 50 {
			severity = SeverityHigh
		}
		gaps = append(gaps, PerformanceGap{
			ID:           uuid.New().String(),
			GapType:      GapQuality,
			Description:  fmt.Sprintf("quality %.0f below the 70 threshold", data.Quality),
			Severity:     severity,
			ImpactScore:  90 - data.Quality,
			RecommendedActions: []string{"raise proficiency of core capabilities"},
			IdentifiedAt: now,
		})
	}

	for _, c := range a.Capabilities() {
		score, ok := data.CapabilityPerformance[c.Name]
		if !ok || score >= 60 {
			continue
		}
		gaps = append(gaps, PerformanceGap{
			ID:                   uuid.New().String(),
			GapType:              GapCapabilityPerformance,
			Description:          fmt.Sprintf("capability %s performing at %.0f", c.Name, score),
			Severity:             SeverityMedium,
			AffectedCapabilities: []string{c.Name},
			ImpactScore:          80 - score,
			RecommendedActions:   []string{"enhance " + c.Name},
			IdentifiedAt:         now,
		})
	}

	for _, missing := range data.RequestedButMissing {
		gaps = append(gaps, PerformanceGap{
			ID:                   uuid.New().String(),
			GapType:              GapMissingCapability,
			Description:          fmt.Sprintf("capability %s requested but not owned", missing),
			Severity:             SeverityHigh,
			AffectedCapabilities: []string{missing},
			ImpactScore:          70,
			RecommendedActions:   []string{"add " + missing},
			IdentifiedAt:         now,
		})
	}

	for domain, score := range data.DomainPerformance {
		if score >= 60 {
			continue
		}
		gaps = append(gaps, PerformanceGap{
			ID:                 uuid.New().String(),
			GapType:            GapDomainExpertise,
			Description:        fmt.Sprintf("domain %s scoring %.0f", domain, score),
			Severity:           SeverityMedium,
			ImpactScore:        80 - score,
			RecommendedActions: []string{"specialize capabilities for " + domain},
			IdentifiedAt:       now,
		})
	}

	if len(historical) > 0 {
		total := 0.0
		for _, h := range historical {
			total += h.Efficiency
		}
		avg := total / float64(len(historical))
		if avg-data.Efficiency > 10 {
			gaps = append(gaps, PerformanceGap{
				ID:                 uuid.New().String(),
				GapType:            GapPerformanceDecline,
				Description:        fmt.Sprintf("efficiency %.0f is %.0f below the historical average %.0f", data.Efficiency, avg-data.Efficiency, avg),
				Severity:           SeverityHigh,
				ImpactScore:        math.Min(100, 40+(avg-data.Efficiency)),
				RecommendedActions: []string{"optimize task times", "review recent capability changes"},
				IdentifiedAt:       now,
			})
		}
	}

	return gaps
}

// EvolveAgentCapabilities applies the strategy mapped to each gap type
// against a working copy of the agent's capabilities, committing only
// if every application succeeds
func (e *Evolver) EvolveAgentCapabilities(a Agent, gaps []PerformanceGap) *EvolutionResult {
	result := &EvolutionResult{
		AgentID:                a.ID(),
		EvolutionType:          "capability_evolution",
		PerformanceImprovement: map[string]float64{DimWisdom: 0, DimIntelligence: 0, DimNetworking: 0},
		EvolvedAt:              time.Now(),
	}
	if len(gaps) == 0 {
		result.Success = true
		result.Notes = "no gaps to address"
		return result
	}

	working := cloneCapabilities(a.Capabilities())
	for _, gap := range gaps {
		strategy, ok := strategyForGap[gap.GapType]
		if !ok {
			result.Success = false
			result.Notes = fmt.Sprintf("no strategy for gap type %q; no changes committed", gap.GapType)
			result.ChangesMade = nil
			return result
		}
		changes, updated := applyStrategy(strategy, working, gap)
		working = updated
		result.ChangesMade = append(result.ChangesMade, changes...)
		for _, ch := range changes {
			result.PerformanceImprovement[DimWisdom] += ch.EstimatedImprovement * 0.4
			result.PerformanceImprovement[DimIntelligence] += ch.EstimatedImprovement * 0.4
			result.PerformanceImprovement[DimNetworking] += ch.EstimatedImprovement * 0.2
		}
	}

	a.ReplaceCapabilities(working)
	result.Success = true

	e.mu.Lock()
	e.history[a.ID()] = append(e.history[a.ID()], result)
	e.mu.Unlock()

	if e.sink != nil {
		if err := e.sink.SaveEvolution(a.ID(), result); err != nil {
			e.logger.Warn("failed to persist evolution", zap.String("agent_id", a.ID()), zap.Error(err))
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.New(events.EventAgentEvolved, "evolver", events.TargetAll, events.PriorityNormal, map[string]interface{}{
			"agent_id": a.ID(),
			"changes":  len(result.ChangesMade),
		}))
	}
	e.logger.Info("agent evolved",
		zap.String("agent_id", a.ID()),
		zap.Int("gaps", len(gaps)),
		zap.Int("changes", len(result.ChangesMade)))
	return result
}

// applyStrategy mutates the working capability set per the named
// strategy and returns the changes made
func applyStrategy(strategy string, caps []Capability, gap PerformanceGap) ([]CapabilityChange, []Capability) {
	var changes []CapabilityChange
	affected := make(map[string]bool, len(gap.AffectedCapabilities))
	for _, name := range gap.AffectedCapabilities {
		affected[name] = true
	}

	switch strategy {
	case StrategyEnhancement:
		for i := range caps {
			if len(affected) > 0 && !affected[caps[i].Name] {
				continue
			}
			before := caps[i].ProficiencyLevel
			caps[i].ProficiencyLevel = math.Min(enhanceProficiencyCap, caps[i].ProficiencyLevel+enhanceProficiencyStep)
			caps[i].EstimatedTimePerTask = reduceTime(caps[i].EstimatedTimePerTask, enhanceTimeReduction)
			if caps[i].ProficiencyLevel > before {
				changes = append(changes, CapabilityChange{
					Capability:           caps[i].Name,
					Change:               "proficiency raised",
					EstimatedImprovement: (caps[i].ProficiencyLevel - before) * 100,
				})
			}
		}

	case StrategyAddition:
		existing := make(map[string]bool, len(caps))
		for _, c := range caps {
			existing[c.Name] = true
		}
		for _, name := range gap.AffectedCapabilities {
			if existing[name] {
				continue
			}
			caps = append(caps, Capability{
				Name:                 name,
				Description:          "Added by evolution to close gap: " + gap.Description,
				ProficiencyLevel:     additionProficiency,
				EstimatedTimePerTask: additionTaskMinutes,
				WINContribution:      winSplit(0.34, 0.33, 0.33),
			})
			changes = append(changes, CapabilityChange{
				Capability:           name,
				Change:               "capability added",
				EstimatedImprovement: additionProficiency * 100 * 0.2,
			})
		}

	case StrategyOptimization:
		for i := range caps {
			before := caps[i].EstimatedTimePerTask
			caps[i].EstimatedTimePerTask = reduceTime(caps[i].EstimatedTimePerTask, optimizeTimeReduction)
			if caps[i].EstimatedTimePerTask < before {
				changes = append(changes, CapabilityChange{
					Capability:           caps[i].Name,
					Change:               "task time reduced",
					EstimatedImprovement: float64(before-caps[i].EstimatedTimePerTask) / float64(before) * 100 * 0.3,
				})
			}
		}

	case StrategySpecialization:
		for i := range caps {
			if len(affected) > 0 && !affected[caps[i].Name] {
				continue
			}
			before := caps[i].ProficiencyLevel
			caps[i].ProficiencyLevel = math.Min(specializeCap, caps[i].ProficiencyLevel+specializeStep)
			marker := "tooling:" + gap.GapType
			if !containsString(caps[i].Prerequisites, marker) {
				caps[i].Prerequisites = append(caps[i].Prerequisites, marker)
			}
			if caps[i].ProficiencyLevel > before {
				changes = append(changes, CapabilityChange{
					Capability:           caps[i].Name,
					Change:               "specialized",
					EstimatedImprovement: (caps[i].ProficiencyLevel - before) * 100,
				})
			}
		}
	}
	return changes, caps
}

func reduceTime(minutes int, fraction float64) int {
	reduced := int(float64(minutes) * (1 - fraction))
	if reduced < minTaskMinutes {
		reduced = minTaskMinutes
	}
	return reduced
}

// ValidateCapabilityImprovements compares an agent before and after
// evolution. Score: base 50, +20 for a larger capability set, +20 for
// higher mean proficiency, +10 for improved tension handling on the
// optional test set.
func (e *Evolver) ValidateCapabilityImprovements(before, after Agent, testTensions []*tension.Tension) ValidationResult {
	result := ValidationResult{Score: 50}

	beforeCaps := before.Capabilities()
	afterCaps := after.Capabilities()
	if len(afterCaps) > len(beforeCaps) {
		result.CapabilityCountIncreased = true
		result.Score += 20
	}
	if meanProficiency(afterCaps) > meanProficiency(beforeCaps) {
		result.ProficiencyIncreased = true
		result.Score += 20
	}

	if len(testTensions) > 0 {
		beforeHandled, beforeSolutions := handlingCount(before, testTensions)
		afterHandled, afterSolutions := handlingCount(after, testTensions)
		if afterHandled > beforeHandled || (afterHandled == beforeHandled && afterSolutions > beforeSolutions) {
			result.HandlingImproved = true
			result.Score += 10
		}
	}
	return result
}

func meanProficiency(caps []Capability) float64 {
	if len(caps) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range caps {
		total += c.ProficiencyLevel
	}
	return total / float64(len(caps))
}

func handlingCount(a Agent, tensions []*tension.Tension) (handled, solutions int) {
	for _, t := range tensions {
		if a.CanHandleTension(t) {
			handled++
			solutions += len(a.GenerateSpecializedSolutions(t))
		}
	}
	return handled, solutions
}

// History returns the evolution history for an agent
func (e *Evolver) History(agentID string) []*EvolutionResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*EvolutionResult(nil), e.history[agentID]...)
}
