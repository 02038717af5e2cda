package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/reasoning"
	"github.com/tensionos/tensiond/internal/tension"
)

// canHandleThreshold is the minimum domain relevance an agent needs to
// accept a tension
const canHandleThreshold = 0.6

// defaultHistoryLimit bounds the per-agent performance history
const defaultHistoryLimit = 100

// Urgency bands reported by requirement analysis
const (
	UrgencyLow    = "low"
	UrgencyNormal = "normal"
	UrgencyHigh   = "high"
)

// Agent is the polymorphic capability set every agent implements
type Agent interface {
	ID() string
	Metadata() *TemplateMetadata
	Capabilities() []Capability
	ReplaceCapabilities(caps []Capability)

	CanHandleTension(t *tension.Tension) bool
	AnalyzeTensionRequirements(t *tension.Tension) *Requirements
	GenerateSpecializedSolutions(t *tension.Tension) []*reasoning.Solution
	ExecuteSolution(ctx context.Context, s *reasoning.Solution, t *tension.Tension) (*ExecutionResult, error)

	AnalyzeRecognitionPhase(input string) *SensedData
	CoordinateEventExecution(ctx context.Context, ev events.Event) error
	ExecuteStrategicAction(ctx context.Context, action string, params map[string]interface{}) (*ActionOutcome, error)
	ValidateWINAchievement(score WINScore) bool

	RunQuantumCycle(ctx context.Context, t *tension.Tension) (*CycleResult, error)
	Start(ctx context.Context) error
	Stop() error
}

// Requirements is the effort estimate an agent produces for a tension
type Requirements struct {
	TensionID              string   `json:"tension_id"`
	RequirementType        string   `json:"requirement_type"`
	Complexity             string   `json:"complexity"`
	Urgency                string   `json:"urgency"`
	EstimatedEffortMinutes float64  `json:"estimated_effort_minutes"`
	RelevantCapabilities   []string `json:"relevant_capabilities"`
	Deliverables           []string `json:"deliverables"`
}

// ExecutionResult records one solution execution
type ExecutionResult struct {
	SolutionID      string             `json:"solution_id"`
	TensionID       string             `json:"tension_id"`
	Status          string             `json:"status"` // completed / failed
	StepsCompleted  int                `json:"steps_completed"`
	EventsGenerated []events.EventType `json:"events_generated,omitempty"`
	CompletedAt     time.Time          `json:"completed_at"`
}

// PerformanceRecord is one entry in the bounded agent history
type PerformanceRecord struct {
	TensionID  string    `json:"tension_id"`
	WIN        WINScore  `json:"win"`
	Success    bool      `json:"success"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PerformanceCounters are the per-agent running totals
type PerformanceCounters struct {
	TensionsHandled    int64   `json:"tensions_handled"`
	SolutionsGenerated int64   `json:"solutions_generated"`
	CyclesCompleted    int64   `json:"cycles_completed"`
	AverageWINScore    float64 `json:"average_win_score"`
}

// Options wire optional collaborators into a BaseAgent
type Options struct {
	Bus          *events.Bus
	Logger       *zap.Logger
	WINWeights   map[string]float64
	HistoryLimit int
}

// BaseAgent is the data-driven agent implementation. Specializations
// differ by template metadata, keyword set, and subscriptions rather
// than by subtype.
type BaseAgent struct {
	id            string
	metadata      *TemplateMetadata
	keywords      []string
	subscriptions []events.EventType
	bus           *events.Bus
	logger        *zap.Logger
	analyzer      *reasoning.Analyzer
	generator     *reasoning.Generator
	winWeights    map[string]float64
	historyLimit  int

	mu                 sync.RWMutex
	activeTensions     map[string]*tension.Tension
	completedTasks     []string
	performanceHistory []PerformanceRecord
	strategicContext   map[string]interface{}
	lastActivity       time.Time
	stats              PerformanceCounters
	winTotalSum        float64

	eventCh <-chan events.Event
	done    chan struct{}
	running bool
}

// NewBaseAgent instantiates an agent from a template. The template's
// capability set is deep-copied so evolution never mutates the catalog.
func NewBaseAgent(id string, tpl *Template, opts Options) *BaseAgent {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	weights := opts.WINWeights
	if weights == nil {
		weights = defaultWINWeights
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &BaseAgent{
		id:               id,
		metadata:         tpl.Metadata.Clone(),
		keywords:         append([]string(nil), tpl.Keywords...),
		subscriptions:    append([]events.EventType(nil), tpl.Subscriptions...),
		bus:              opts.Bus,
		logger:           logger.Named("agent").With(zap.String("agent_id", id)),
		analyzer:         reasoning.NewAnalyzer(),
		generator:        reasoning.NewGenerator(),
		winWeights:       weights,
		historyLimit:     limit,
		activeTensions:   make(map[string]*tension.Tension),
		strategicContext: make(map[string]interface{}),
		lastActivity:     time.Now(),
	}
}

// ID returns the agent id
func (a *BaseAgent) ID() string { return a.id }

// Metadata returns the agent's metadata record
func (a *BaseAgent) Metadata() *TemplateMetadata { return a.metadata }

// Capabilities returns a copy of the owned capability set
func (a *BaseAgent) Capabilities() []Capability {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneCapabilities(a.metadata.Capabilities)
}

// ReplaceCapabilities swaps the capability set. Used by evolution,
// which commits a fully validated replacement.
func (a *BaseAgent) ReplaceCapabilities(caps []Capability) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadata.Capabilities = cloneCapabilities(caps)
	a.metadata.UpdatedAt = time.Now()
}

// CanHandleTension reports whether the agent's domain relevance for the
// tension clears the handling threshold
func (a *BaseAgent) CanHandleTension(t *tension.Tension) bool {
	if t == nil {
		return false
	}
	return a.domainRelevance(t) >= canHandleThreshold
}

// domainRelevance scores the tension against the agent's ontology.
// Explicit relatedTensionTypes declarations dominate; otherwise keyword
// overlap between the tension type's vocabulary and the capability text
// decides, with an expertise boost on top.
func (a *BaseAgent) domainRelevance(t *tension.Tension) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var relevance float64
	declared := a.metadata.CapabilitiesForTensionType(t.Type)
	if len(declared) > 0 {
		prof := 0.0
		for _, c := range declared {
			prof += c.ProficiencyLevel
		}
		relevance = 0.7 + 0.3*(prof/float64(len(declared)))
	} else {
		kws := typeKeywords[t.Type]
		matched := 0
		capText := a.capabilityText()
		for _, kw := range kws {
			if strings.Contains(capText, kw) {
				matched++
			}
		}
		ratio := 0.0
		if len(kws) > 0 {
			ratio = float64(matched) / float64(len(kws))
		}
		relevance = 0.5 + 0.4*ratio
	}

	text := strings.ToLower(t.Title + " " + t.Description)
	for _, e := range a.metadata.DomainExpertise {
		for _, word := range strings.Fields(strings.ToLower(e)) {
			if len(word) > 3 && strings.Contains(text, word) {
				relevance += 0.2
				if relevance > 1.0 {
					relevance = 1.0
				}
				return relevance
			}
		}
	}
	if relevance > 1.0 {
		relevance = 1.0
	}
	return relevance
}

func (a *BaseAgent) capabilityText() string {
	var b strings.Builder
	for _, c := range a.metadata.Capabilities {
		b.WriteString(strings.ToLower(c.Name))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(c.Description))
		b.WriteByte(' ')
	}
	return b.String()
}

// AnalyzeTensionRequirements estimates what resolving the tension takes
// for this agent
func (a *BaseAgent) AnalyzeTensionRequirements(t *tension.Tension) *Requirements {
	if t == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	complexity := ComplexityLow
	switch {
	case len(t.Description) > 400:
		complexity = ComplexityHigh
	case len(t.Description) > 150:
		complexity = ComplexityMedium
	}

	urgency := UrgencyLow
	switch t.Priority {
	case tension.PriorityCritical, tension.PriorityHigh:
		urgency = UrgencyHigh
	case tension.PriorityNormal:
		urgency = UrgencyNormal
	}

	req := &Requirements{
		TensionID:              t.ID,
		RequirementType:        a.metadata.PrimaryDomain,
		Complexity:             complexity,
		Urgency:                urgency,
		EstimatedEffortMinutes: a.metadata.EstimateTotalTaskTime(complexity),
	}

	text := strings.ToLower(t.Title + " " + t.Description)
	for _, c := range a.metadata.Capabilities {
		if c.relatesTo(t.Type) || strings.Contains(text, strings.ReplaceAll(strings.ToLower(c.Name), "_", " ")) {
			req.RelevantCapabilities = append(req.RelevantCapabilities, c.Name)
			req.Deliverables = append(req.Deliverables, c.Name+"_output")
		}
	}
	return req
}

// GenerateSpecializedSolutions runs the reasoning pipeline over the
// tension and returns the generated solutions
func (a *BaseAgent) GenerateSpecializedSolutions(t *tension.Tension) []*reasoning.Solution {
	if t == nil {
		return nil
	}
	analysis := a.analyzer.Analyze(t.Title, t.Description, t.Status)
	solutions := a.generator.Generate(analysis, t.Title, t.Description)

	a.mu.Lock()
	a.stats.SolutionsGenerated += int64(len(solutions))
	a.lastActivity = time.Now()
	a.mu.Unlock()
	return solutions
}

// ExecuteSolution walks the solution's steps in dependency order and
// records the completion
func (a *BaseAgent) ExecuteSolution(ctx context.Context, s *reasoning.Solution, t *tension.Tension) (*ExecutionResult, error) {
	if s == nil {
		return nil, fmt.Errorf("no solution to execute")
	}
	if err := reasoning.ValidateSteps(s); err != nil {
		return &ExecutionResult{
			SolutionID:  s.ID,
			Status:      "failed",
			CompletedAt: time.Now(),
		}, fmt.Errorf("solution steps invalid: %w", err)
	}

	result := &ExecutionResult{SolutionID: s.ID}
	if t != nil {
		result.TensionID = t.ID
	}
	for range s.Steps {
		if err := ctx.Err(); err != nil {
			result.Status = "failed"
			result.CompletedAt = time.Now()
			return result, err
		}
		result.StepsCompleted++
	}
	result.Status = "completed"
	result.CompletedAt = time.Now()
	result.EventsGenerated = append(result.EventsGenerated, events.EventCycleCompleted)

	a.mu.Lock()
	a.completedTasks = append(a.completedTasks, s.ID)
	if t != nil {
		delete(a.activeTensions, t.ID)
	}
	a.lastActivity = time.Now()
	a.mu.Unlock()
	return result, nil
}

// Start subscribes the agent to its template's event types and begins
// dispatching. Safe to call once; a second call is a no-op error.
func (a *BaseAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent %s already running", a.id)
	}
	a.running = true
	a.done = make(chan struct{})
	if a.bus != nil {
		a.eventCh = a.bus.Subscribe(a.id, a.subscriptions)
	}
	ch := a.eventCh
	done := a.done
	a.mu.Unlock()

	if ch != nil {
		go a.dispatchLoop(ctx, ch, done)
	}
	a.logger.Info("agent started", zap.String("template", a.metadata.TemplateName))
	return nil
}

func (a *BaseAgent) dispatchLoop(ctx context.Context, ch <-chan events.Event, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := a.CoordinateEventExecution(ctx, ev); err != nil {
				a.logger.Warn("event handling failed",
					zap.String("event_type", string(ev.Type)),
					zap.Error(err))
			}
		}
	}
}

// Stop unsubscribes and flushes agent state
func (a *BaseAgent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	close(a.done)
	if a.bus != nil && a.eventCh != nil {
		a.bus.Unsubscribe(a.id, a.eventCh)
		a.eventCh = nil
	}
	a.logger.Info("agent stopped",
		zap.Int64("tensions_handled", a.stats.TensionsHandled),
		zap.Int64("cycles_completed", a.stats.CyclesCompleted))
	return nil
}

// CoordinateEventExecution dispatches one bus event. Tension-bearing
// events run a full cycle when the agent can handle them; everything
// else just refreshes activity.
func (a *BaseAgent) CoordinateEventExecution(ctx context.Context, ev events.Event) error {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()

	t := tensionFromEvent(ev)
	if t == nil {
		return nil
	}
	if !a.CanHandleTension(t) {
		return nil
	}
	_, err := a.RunQuantumCycle(ctx, t)
	return err
}

// tensionFromEvent reconstructs a tension from an event payload, or
// returns nil when the event carries none
func tensionFromEvent(ev events.Event) *tension.Tension {
	if ev.TensionID == "" || ev.Payload == nil {
		return nil
	}
	title, _ := ev.Payload["title"].(string)
	if title == "" {
		return nil
	}
	description, _ := ev.Payload["description"].(string)
	t := &tension.Tension{
		ID:          ev.TensionID,
		Title:       title,
		Description: description,
		Status:      tension.StatusOpen,
		Type:        tension.TypeUnknown,
	}
	if typ, ok := ev.Payload["tension_type"].(string); ok {
		t.Type = tension.Type(typ)
	}
	return t
}

// ValidateWINAchievement checks a cycle's score is well-formed and
// clears the achievement bar
func (a *BaseAgent) ValidateWINAchievement(score WINScore) bool {
	for _, v := range []float64{score.Wisdom, score.Intelligence, score.Networking, score.Total} {
		if v < 0 || v > 100 {
			return false
		}
	}
	return score.Total >= 50
}

// PerformanceHistory returns a copy of the bounded history
func (a *BaseAgent) PerformanceHistory() []PerformanceRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]PerformanceRecord(nil), a.performanceHistory...)
}

// Stats snapshots the agent counters
func (a *BaseAgent) Stats() PerformanceCounters {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// ActiveTensionCount reports how many tensions the agent holds open
func (a *BaseAgent) ActiveTensionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.activeTensions)
}

// SetStrategicContext stores an opaque context value
func (a *BaseAgent) SetStrategicContext(key string, value interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.strategicContext[key] = value
}

// recordPerformance appends to the history, trimming to the bound
func (a *BaseAgent) recordPerformance(rec PerformanceRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.performanceHistory = append(a.performanceHistory, rec)
	if len(a.performanceHistory) > a.historyLimit {
		a.performanceHistory = a.performanceHistory[len(a.performanceHistory)-a.historyLimit:]
	}
	a.stats.CyclesCompleted++
	if rec.Success {
		a.stats.TensionsHandled++
	}
	a.winTotalSum += rec.WIN.Total
	a.stats.AverageWINScore = a.winTotalSum / float64(a.stats.CyclesCompleted)
}
