package reasoning

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tensionos/tensiond/internal/events"
)

// Service names a pipeline stage a request can ask for
type Service string

const (
	ServiceAnalysis  Service = "analysis"
	ServiceRules     Service = "rules"
	ServiceSolutions Service = "solutions"
	ServicePriority  Service = "priority"
)

// ErrInvalidInput marks requests rejected before any stage runs
var ErrInvalidInput = errors.New("invalid reasoning request")

// maxRecommendations bounds the consolidated recommendation list
const maxRecommendations = 10

// Request asks the coordinator to reason about one tension
type Request struct {
	TensionID         string                 `json:"tension_id,omitempty"`
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	CurrentStatus     string                 `json:"current_status,omitempty"`
	Context           map[string]interface{} `json:"context,omitempty"`
	RequestedServices []Service              `json:"requested_services,omitempty"`
	PriorityMethod    string                 `json:"priority_method,omitempty"`
}

// Result aggregates the pipeline outputs for one tension
type Result struct {
	TensionID           string      `json:"tension_id"`
	Analysis            *Analysis   `json:"analysis,omitempty"`
	RuleResults         []RuleMatch `json:"rule_results,omitempty"`
	Solutions           []*Solution `json:"solutions,omitempty"`
	PriorityCalculation *CalcResult `json:"priority_calculation,omitempty"`
	ProcessingTime      float64     `json:"processing_time"` // seconds
	Success             bool        `json:"success"`
	Errors              []string    `json:"errors,omitempty"`
	Recommendations     []string    `json:"recommendations,omitempty"`
}

// ResultSink persists stage outputs keyed by tension id. Implemented by
// the persistence store; nil disables persistence.
type ResultSink interface {
	SaveAnalysis(tensionID string, analysis *Analysis) error
	SaveSolutions(tensionID string, solutions []*Solution) error
	SavePriority(tensionID string, result *CalcResult) error
}

// PerformanceStats is a snapshot of coordinator counters
type PerformanceStats struct {
	TotalProcessed        int64              `json:"total_processed"`
	SuccessfulProcessing  int64              `json:"successful_processing"`
	AverageProcessingTime float64            `json:"average_processing_time"` // seconds
	ComponentAverages     map[string]float64 `json:"component_averages"`      // seconds
	ComponentCounts       map[string]int64   `json:"component_counts"`
}

// ComponentStatus reports one sub-component smoke test
type ComponentStatus struct {
	Component string `json:"component"`
	OK        bool   `json:"ok"`
	Issue     string `json:"issue,omitempty"`
}

type componentTally struct {
	count     int64
	totalTime time.Duration
}

// CoordinatorConfig wires a Coordinator
type CoordinatorConfig struct {
	RuleDefaults          bool
	DefaultPriorityMethod string
	MaxBatchConcurrency   int
	Bus                   *events.Bus // optional
	Sink                  ResultSink  // optional
	Logger                *zap.Logger
}

// Coordinator orchestrates the four reasoning stages per request and
// fans batches out concurrently. Stage failures are isolated: they are
// recorded on the result and downstream stages that do not depend on the
// failed output still run.
type Coordinator struct {
	analyzer   *Analyzer
	rules      *RuleEngine
	generator  *Generator
	calculator *Calculator
	bus        *events.Bus
	sink       ResultSink
	logger     *zap.Logger

	maxConcurrency int

	mu         sync.Mutex
	total      int64
	successful int64
	totalTime  time.Duration
	components map[string]*componentTally
}

// NewCoordinator builds a coordinator and its four sub-components
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxConc := cfg.MaxBatchConcurrency
	if maxConc <= 0 {
		maxConc = runtime.NumCPU() * 4
	}
	return &Coordinator{
		analyzer:       NewAnalyzer(),
		rules:          NewRuleEngine(cfg.RuleDefaults, logger),
		generator:      NewGenerator(),
		calculator:     NewCalculator(cfg.DefaultPriorityMethod),
		bus:            cfg.Bus,
		sink:           cfg.Sink,
		logger:         logger.Named("coordinator"),
		maxConcurrency: maxConc,
		components:     make(map[string]*componentTally),
	}
}

// Rules exposes the rule engine for boundary operations (rule CRUD,
// conflict detection)
func (c *Coordinator) Rules() *RuleEngine {
	return c.rules
}

// Process runs the requested stages for one tension. Analysis failure
// aborts the dependent stages; other stage failures are recorded and
// processing continues.
func (c *Coordinator) Process(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	start := time.Now()
	result := &Result{
		TensionID: req.TensionID,
		Success:   true,
	}
	if result.TensionID == "" {
		result.TensionID = uuid.New().String()
	}
	status := req.CurrentStatus
	if status == "" {
		status = "Open"
	}

	wants := requestedSet(req.RequestedServices)

	// Analysis stage. Everything downstream depends on it.
	if wants[ServiceAnalysis] || wants[ServiceRules] || wants[ServiceSolutions] || wants[ServicePriority] {
		if cancelled := c.checkCancelled(ctx, result, "analysis"); cancelled {
			return c.finish(result, start), nil
		}
		err := c.runStage("analyzer", func() error {
			result.Analysis = c.analyzer.Analyze(req.Title, req.Description, status)
			return nil
		})
		if err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("analysis failed: %v", err))
			return c.finish(result, start), nil
		}
	}

	// Rules stage
	if wants[ServiceRules] && result.Analysis != nil {
		if cancelled := c.checkCancelled(ctx, result, "rules"); !cancelled {
			err := c.runStage("rule_engine", func() error {
				evalContext := buildRuleContext(req, result.Analysis, status)
				result.RuleResults = c.rules.Evaluate(evalContext)
				return nil
			})
			if err != nil {
				result.Success = false
				result.Errors = append(result.Errors, fmt.Sprintf("rule evaluation failed: %v", err))
			}
		}
	}

	// Solutions stage
	if wants[ServiceSolutions] && result.Analysis != nil {
		if cancelled := c.checkCancelled(ctx, result, "solutions"); !cancelled {
			err := c.runStage("solution_generator", func() error {
				result.Solutions = c.generator.Generate(result.Analysis, req.Title, req.Description)
				return nil
			})
			if err != nil {
				result.Success = false
				result.Errors = append(result.Errors, fmt.Sprintf("solution generation failed: %v", err))
			}
		}
	}

	// Priority stage
	if wants[ServicePriority] && result.Analysis != nil {
		if cancelled := c.checkCancelled(ctx, result, "priority"); !cancelled {
			err := c.runStage("priority_calculator", func() error {
				calc, err := c.calculator.Calculate(result.Analysis, req.Title, req.Description, req.Context, req.PriorityMethod)
				if err != nil {
					return err
				}
				result.PriorityCalculation = calc
				return nil
			})
			if err != nil {
				result.Success = false
				result.Errors = append(result.Errors, fmt.Sprintf("priority calculation failed: %v", err))
			}
		}
	}

	result.Recommendations = consolidateRecommendations(result)
	c.persist(result)
	c.publish(result)
	return c.finish(result, start), nil
}

// ProcessBatch runs requests concurrently, bounded by the configured
// concurrency cap, and returns results in input order. A failed request
// becomes a failed result; it never aborts the batch.
func (c *Coordinator) ProcessBatch(ctx context.Context, requests []*Request) []*Result {
	results := make([]*Result, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			res, err := c.Process(gctx, req)
			if err != nil {
				res = &Result{
					Success: false,
					Errors:  []string{err.Error()},
				}
				if req != nil {
					res.TensionID = req.TensionID
				}
			}
			results[i] = res
			return nil
		})
	}
	// Workers never return errors; failures land in their result slot
	_ = g.Wait()
	return results
}

// GetPerformanceStats snapshots the coordinator counters
func (c *Coordinator) GetPerformanceStats() PerformanceStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := PerformanceStats{
		TotalProcessed:       c.total,
		SuccessfulProcessing: c.successful,
		ComponentAverages:    make(map[string]float64, len(c.components)),
		ComponentCounts:      make(map[string]int64, len(c.components)),
	}
	if c.total > 0 {
		stats.AverageProcessingTime = c.totalTime.Seconds() / float64(c.total)
	}
	for name, tally := range c.components {
		stats.ComponentCounts[name] = tally.count
		if tally.count > 0 {
			stats.ComponentAverages[name] = tally.totalTime.Seconds() / float64(tally.count)
		}
	}
	return stats
}

// ValidateComponents smoke-tests each sub-component with a canonical
// input
func (c *Coordinator) ValidateComponents(ctx context.Context) []ComponentStatus {
	const (
		canonicalTitle       = "Component validation check"
		canonicalDescription = "A routine error occurred in the validation system"
	)

	var statuses []ComponentStatus
	report := func(name string, err error) {
		status := ComponentStatus{Component: name, OK: err == nil}
		if err != nil {
			status.Issue = err.Error()
		}
		statuses = append(statuses, status)
	}

	analysis := c.analyzer.Analyze(canonicalTitle, canonicalDescription, "Open")
	if analysis == nil || analysis.ConfidenceScore < 0 || analysis.ConfidenceScore > maxConfidence {
		report("analyzer", fmt.Errorf("analyzer produced an out-of-range analysis"))
	} else {
		report("analyzer", nil)
	}

	report("rule_engine", c.validateRuleEngine())

	solutions := c.generator.Generate(analysis, canonicalTitle, canonicalDescription)
	if len(solutions) == 0 {
		report("solution_generator", fmt.Errorf("no solutions generated for canonical input"))
	} else {
		var stepErr error
		for _, s := range solutions {
			if err := ValidateSteps(s); err != nil {
				stepErr = err
				break
			}
		}
		report("solution_generator", stepErr)
	}

	_, err := c.calculator.Calculate(analysis, canonicalTitle, canonicalDescription, nil, "")
	report("priority_calculator", err)

	return statuses
}

// validateRuleEngine evaluates a canonical critical tension and checks
// the match set: priority order, every match resolving to an enabled
// rule, and the built-in escalation rule firing when it is installed
func (c *Coordinator) validateRuleEngine() error {
	const (
		criticalTitle       = "Critical production outage"
		criticalDescription = "A critical outage is affecting all customers and must be fixed immediately"
	)

	analysis := c.analyzer.Analyze(criticalTitle, criticalDescription, "Open")
	matches := c.rules.Evaluate(buildRuleContext(&Request{Title: criticalTitle, Description: criticalDescription}, analysis, "Open"))

	for i, m := range matches {
		rule, ok := c.rules.GetRule(m.RuleID)
		if !ok || !rule.Enabled {
			return fmt.Errorf("match references unknown or disabled rule %q", m.RuleID)
		}
		if i > 0 && matches[i-1].Priority > m.Priority {
			return fmt.Errorf("matches not in priority order")
		}
	}

	if esc, ok := c.rules.GetRule(defaultEscalationRuleID); ok && esc.Enabled {
		for _, m := range matches {
			if m.RuleID == esc.ID {
				return nil
			}
		}
		return fmt.Errorf("rule %q did not fire for a critical tension", esc.ID)
	}
	return nil
}

// runStage times a stage and converts panics into errors so one
// misbehaving stage cannot take down the request
func (c *Coordinator) runStage(component string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
			c.logger.Error("reasoning stage panicked",
				zap.String("component", component),
				zap.Any("panic", r))
		}
		c.recordComponent(component, time.Since(start))
	}()
	return fn()
}

func (c *Coordinator) checkCancelled(ctx context.Context, result *Result, stage string) bool {
	if ctx == nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("cancelled at %s stage: %v", stage, err))
		return true
	}
	return false
}

func (c *Coordinator) finish(result *Result, start time.Time) *Result {
	elapsed := time.Since(start)
	result.ProcessingTime = elapsed.Seconds()

	c.mu.Lock()
	c.total++
	if result.Success {
		c.successful++
	}
	c.totalTime += elapsed
	c.mu.Unlock()
	return result
}

func (c *Coordinator) recordComponent(name string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tally := c.components[name]
	if tally == nil {
		tally = &componentTally{}
		c.components[name] = tally
	}
	tally.count++
	tally.totalTime += elapsed
}

func (c *Coordinator) persist(result *Result) {
	if c.sink == nil {
		return
	}
	if result.Analysis != nil {
		if err := c.sink.SaveAnalysis(result.TensionID, result.Analysis); err != nil {
			c.logger.Warn("failed to persist analysis", zap.String("tension_id", result.TensionID), zap.Error(err))
		}
	}
	if len(result.Solutions) > 0 {
		if err := c.sink.SaveSolutions(result.TensionID, result.Solutions); err != nil {
			c.logger.Warn("failed to persist solutions", zap.String("tension_id", result.TensionID), zap.Error(err))
		}
	}
	if result.PriorityCalculation != nil {
		if err := c.sink.SavePriority(result.TensionID, result.PriorityCalculation); err != nil {
			c.logger.Warn("failed to persist priority result", zap.String("tension_id", result.TensionID), zap.Error(err))
		}
	}
}

func (c *Coordinator) publish(result *Result) {
	if c.bus == nil {
		return
	}
	if result.Analysis != nil {
		c.bus.Publish(events.NewForTension(events.EventTensionAnalyzed, "coordinator", events.TargetAll, result.TensionID, events.PriorityNormal, map[string]interface{}{
			"tension_type":       string(result.Analysis.TensionType),
			"suggested_priority": result.Analysis.SuggestedPriority,
			"confidence":         result.Analysis.ConfidenceScore,
		}))
	}
	if len(result.Solutions) > 0 {
		c.bus.Publish(events.NewForTension(events.EventSolutionGenerated, "coordinator", events.TargetAll, result.TensionID, events.PriorityNormal, map[string]interface{}{
			"count":     len(result.Solutions),
			"top_title": result.Solutions[0].Title,
		}))
	}
}

func requestedSet(services []Service) map[Service]bool {
	wants := map[Service]bool{}
	if len(services) == 0 {
		wants[ServiceAnalysis] = true
		wants[ServiceRules] = true
		wants[ServiceSolutions] = true
		wants[ServicePriority] = true
		return wants
	}
	for _, s := range services {
		wants[s] = true
	}
	return wants
}

// buildRuleContext exposes the request and its analysis as the dotted
// field space the rule conditions address
func buildRuleContext(req *Request, analysis *Analysis, status string) map[string]interface{} {
	tensionType := ""
	if analysis != nil {
		tensionType = string(analysis.TensionType)
	}
	evalContext := map[string]interface{}{
		"tension": map[string]interface{}{
			"title":       req.Title,
			"description": req.Description,
			"status":      status,
			"type":        tensionType,
		},
	}
	if analysis != nil {
		evalContext["analysis"] = map[string]interface{}{
			"tension_type":       string(analysis.TensionType),
			"impact_level":       int(analysis.ImpactLevel),
			"urgency_level":      int(analysis.UrgencyLevel),
			"suggested_priority": analysis.SuggestedPriority,
			"confidence":         analysis.ConfidenceScore,
			"key_themes":         analysis.KeyThemes,
		}
	}
	if req.Context != nil {
		evalContext["context"] = req.Context
	}
	return evalContext
}

// consolidateRecommendations merges stage outputs into at most ten
// unique recommendation lines
func consolidateRecommendations(result *Result) []string {
	var recs []string
	add := func(line string) {
		recs = append(recs, line)
	}

	if a := result.Analysis; a != nil {
		switch a.SuggestedPriority {
		case SuggestCritical:
			add("Immediate attention required: treat this tension as critical")
		case SuggestHigh:
			add("High priority: schedule this tension ahead of routine work")
		}
		for _, theme := range a.KeyThemes {
			switch theme {
			case "Security":
				add("Involve the security team before any changes ship")
			case "Technology":
				add("Route to an engineering owner for technical assessment")
			case "Business":
				add("Brief business stakeholders on expected impact")
			}
		}
	}
	for _, match := range result.RuleResults {
		add(fmt.Sprintf("Rule triggered: %s", match.RuleName))
	}
	if len(result.Solutions) > 0 {
		top := result.Solutions[0]
		add(fmt.Sprintf("Recommended approach: %s", top.Title))
		if top.Priority >= LevelHigh {
			add("Top solution is time-sensitive; begin with its first step now")
		}
	}
	if p := result.PriorityCalculation; p != nil {
		switch {
		case p.FinalScore >= 80:
			add(fmt.Sprintf("Priority score %.0f: allocate dedicated capacity immediately", p.FinalScore))
		case p.FinalScore >= 60:
			add(fmt.Sprintf("Priority score %.0f: place in the current cycle", p.FinalScore))
		}
		recs = append(recs, p.Recommendations...)
	}

	// Dedupe preserving order, cap at the limit
	seen := make(map[string]bool, len(recs))
	var out []string
	for _, r := range recs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
		if len(out) == maxRecommendations {
			break
		}
	}
	return out
}
