package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/tension"
)

// defaultTopK bounds template matching results
const defaultTopK = 3

// Registry health bands
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
	HealthError    = "error"
)

// TemplateStats tracks per-template usage with running averages
type TemplateStats struct {
	InstancesCreated  int64     `json:"instances_created"`
	TensionsProcessed int64     `json:"tensions_processed"`
	SuccessRate       float64   `json:"success_rate"` // 0-100
	AverageConfidence float64   `json:"average_confidence"`
	LastUsed          time.Time `json:"last_used"`
}

// MatchResult scores one template against a tension
type MatchResult struct {
	TemplateName string        `json:"template_name"`
	Confidence   float64       `json:"confidence"` // 0-100
	Reasoning    string        `json:"reasoning"`
	Requirements *Requirements `json:"requirements"`
}

// TemplateHealth reports one template's instantiation check
type TemplateHealth struct {
	OK    bool   `json:"ok"`
	Issue string `json:"issue,omitempty"`
}

// HealthStatus is the registry-wide health report
type HealthStatus struct {
	Overall   string                    `json:"overall"`
	Templates map[string]TemplateHealth `json:"templates"`
	CheckedAt time.Time                 `json:"checked_at"`
}

// StatsStore persists template stats so running averages survive
// restarts
type StatsStore interface {
	SaveTemplateStats(templateName string, stats *TemplateStats) error
	GetTemplateStats() (map[string]*TemplateStats, error)
}

// RegistryConfig wires a Registry
type RegistryConfig struct {
	Bus          *events.Bus // optional
	Stats        StatsStore  // optional
	Logger       *zap.Logger
	WINWeights   map[string]float64
	HistoryLimit int
}

// Registry is the catalog of agent templates and the owner of active
// agents. Template mutation is exclusive; matching reads a shared view.
type Registry struct {
	bus          *events.Bus
	statsStore   StatsStore
	logger       *zap.Logger
	winWeights   map[string]float64
	historyLimit int

	mu        sync.RWMutex
	templates map[string]*Template
	stats     map[string]*TemplateStats
	agents    map[string]Agent
}

// NewRegistry creates a registry preloaded with the builtin catalog
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		bus:          cfg.Bus,
		statsStore:   cfg.Stats,
		logger:       logger.Named("registry"),
		winWeights:   cfg.WINWeights,
		historyLimit: cfg.HistoryLimit,
		templates:    make(map[string]*Template),
		stats:        make(map[string]*TemplateStats),
		agents:       make(map[string]Agent),
	}
	for _, tpl := range BuiltinTemplates() {
		r.templates[tpl.Metadata.TemplateName] = tpl
		r.stats[tpl.Metadata.TemplateName] = &TemplateStats{}
	}
	if r.statsStore != nil {
		persisted, err := r.statsStore.GetTemplateStats()
		if err != nil {
			r.logger.Warn("failed to load persisted template stats", zap.Error(err))
		}
		for name, stats := range persisted {
			r.stats[name] = stats
		}
	}
	return r
}

// RegisterTemplate adds a template to the catalog
func (r *Registry) RegisterTemplate(tpl *Template) error {
	if tpl == nil || tpl.Metadata.TemplateName == "" {
		return fmt.Errorf("template needs a name")
	}
	if len(tpl.Metadata.Capabilities) == 0 {
		return fmt.Errorf("template %s has no capabilities", tpl.Metadata.TemplateName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[tpl.Metadata.TemplateName]; exists {
		return fmt.Errorf("template %s already registered", tpl.Metadata.TemplateName)
	}
	r.templates[tpl.Metadata.TemplateName] = tpl
	// Keep stats loaded from the stats store for this name
	if _, ok := r.stats[tpl.Metadata.TemplateName]; !ok {
		r.stats[tpl.Metadata.TemplateName] = &TemplateStats{}
	}
	r.logger.Info("template registered", zap.String("template", tpl.Metadata.TemplateName))
	return nil
}

// UnregisterTemplate removes a template. Running agents created from it
// keep their own capability copies and are unaffected.
func (r *Registry) UnregisterTemplate(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[name]; !ok {
		return false
	}
	delete(r.templates, name)
	delete(r.stats, name)
	return true
}

// AvailableTemplates lists registered template names, sorted
func (r *Registry) AvailableTemplates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetTemplateMetadata returns a copy of the named template's metadata
func (r *Registry) GetTemplateMetadata(name string) (*TemplateMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[name]
	if !ok {
		return nil, false
	}
	return tpl.Metadata.Clone(), true
}

// MatchTensionToTemplates scores each template against the tension and
// returns the top K matches by confidence. topK <= 0 uses the default.
func (r *Registry) MatchTensionToTemplates(t *tension.Tension, topK int) []MatchResult {
	if t == nil {
		return nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	r.mu.RLock()
	templates := make([]*Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		templates = append(templates, tpl)
	}
	statsByName := make(map[string]TemplateStats, len(r.stats))
	for name, s := range r.stats {
		statsByName[name] = *s
	}
	r.mu.RUnlock()

	var matches []MatchResult
	for _, tpl := range templates {
		// Transient instance; never started, never registered
		probe := NewBaseAgent("probe-"+tpl.Metadata.TemplateName, tpl, Options{
			Logger:     r.logger,
			WINWeights: r.winWeights,
		})
		if !probe.CanHandleTension(t) {
			continue
		}
		req := probe.AnalyzeTensionRequirements(t)
		stats := statsByName[tpl.Metadata.TemplateName]
		confidence := matchConfidence(tpl, t, req, stats)
		matches = append(matches, MatchResult{
			TemplateName: tpl.Metadata.TemplateName,
			Confidence:   confidence,
			Reasoning: fmt.Sprintf("%s handles %s work: %s complexity, confidence %s",
				tpl.Metadata.TemplateName, req.RequirementType, req.Complexity, confidenceBand(confidence)),
			Requirements: req,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func matchConfidence(tpl *Template, t *tension.Tension, req *Requirements, stats TemplateStats) float64 {
	confidence := 50.0

	text := strings.ToLower(t.Title + " " + t.Description)
	for _, kw := range tpl.Keywords {
		if strings.Contains(text, kw) {
			confidence += 10
		}
	}

	switch req.Complexity {
	case ComplexityHigh:
		confidence += 15
	case ComplexityMedium:
		confidence += 10
	default:
		confidence += 5
	}
	if req.Urgency == UrgencyHigh {
		confidence += 10
	}
	confidence += 0.2 * stats.SuccessRate
	confidence += 2 * float64(len(req.Deliverables))

	if confidence > 100 {
		confidence = 100
	}
	return confidence
}

func confidenceBand(confidence float64) string {
	switch {
	case confidence >= 85:
		return "very high"
	case confidence >= 70:
		return "high"
	case confidence >= 55:
		return "moderate"
	}
	return "low"
}

// CreateAgentFromTemplate instantiates and registers an agent. An empty
// agentID generates one.
func (r *Registry) CreateAgentFromTemplate(name, agentID string) (Agent, error) {
	r.mu.Lock()
	tpl, ok := r.templates[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unknown template %q", name)
	}
	if agentID == "" {
		agentID = strings.ToLower(name) + "-" + uuid.New().String()[:8]
	}
	if _, exists := r.agents[agentID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("agent %s already active", agentID)
	}
	a := NewBaseAgent(agentID, tpl, Options{
		Bus:          r.bus,
		Logger:       r.logger,
		WINWeights:   r.winWeights,
		HistoryLimit: r.historyLimit,
	})
	r.agents[agentID] = a
	stats := r.stats[name]
	stats.InstancesCreated++
	stats.LastUsed = time.Now()
	snapshot := *stats
	r.mu.Unlock()

	r.persistStats(name, &snapshot)

	if r.bus != nil {
		r.bus.Publish(events.New(events.EventAgentCreated, "registry", events.TargetAll, events.PriorityNormal, map[string]interface{}{
			"agent_id": agentID,
			"template": name,
		}))
	}
	r.logger.Info("agent created", zap.String("agent_id", agentID), zap.String("template", name))
	return a, nil
}

// CreateBestMatchAgent instantiates an agent from the top-scoring
// template for the tension, or returns nil when nothing matches
func (r *Registry) CreateBestMatchAgent(t *tension.Tension) (Agent, *MatchResult, error) {
	matches := r.MatchTensionToTemplates(t, 1)
	if len(matches) == 0 {
		return nil, nil, nil
	}
	best := matches[0]
	a, err := r.CreateAgentFromTemplate(best.TemplateName, "")
	if err != nil {
		return nil, nil, err
	}
	return a, &best, nil
}

// GetAgent looks up an active agent
func (r *Registry) GetAgent(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// ActiveAgents lists the active agent ids, sorted
func (r *Registry) ActiveAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AdoptAgent registers an externally built agent (composite or custom)
// as active
func (r *Registry) AdoptAgent(a Agent) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("agent needs an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.ID()]; exists {
		return fmt.Errorf("agent %s already active", a.ID())
	}
	r.agents[a.ID()] = a
	return nil
}

// StopAgent stops and removes an active agent
func (r *Registry) StopAgent(agentID string) bool {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := a.Stop(); err != nil {
		r.logger.Warn("agent stop reported an error", zap.String("agent_id", agentID), zap.Error(err))
	}
	if r.bus != nil {
		r.bus.Publish(events.New(events.EventAgentStopped, "registry", events.TargetAll, events.PriorityNormal, map[string]interface{}{
			"agent_id": agentID,
		}))
	}
	return true
}

// UpdateTemplatePerformance folds one processed tension into the
// template's running averages
func (r *Registry) UpdateTemplatePerformance(name string, success bool, confidence float64) error {
	r.mu.Lock()
	stats, ok := r.stats[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown template %q", name)
	}
	stats.TensionsProcessed++
	n := float64(stats.TensionsProcessed)
	outcome := 0.0
	if success {
		outcome = 100.0
	}
	stats.SuccessRate = stats.SuccessRate*(n-1)/n + outcome/n
	stats.AverageConfidence = stats.AverageConfidence*(n-1)/n + confidence/n
	stats.LastUsed = time.Now()
	snapshot := *stats
	r.mu.Unlock()

	r.persistStats(name, &snapshot)
	return nil
}

// persistStats writes one template's stats snapshot through to the
// stats store. Persistence failure is logged, not fatal.
func (r *Registry) persistStats(name string, snapshot *TemplateStats) {
	if r.statsStore == nil {
		return
	}
	if err := r.statsStore.SaveTemplateStats(name, snapshot); err != nil {
		r.logger.Warn("failed to persist template stats",
			zap.String("template", name),
			zap.Error(err))
	}
}

// GetPerformanceStats snapshots per-template stats
func (r *Registry) GetPerformanceStats() map[string]TemplateStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]TemplateStats, len(r.stats))
	for name, s := range r.stats {
		out[name] = *s
	}
	return out
}

// HealthCheck instantiates every template and reports per-template and
// overall status
func (r *Registry) HealthCheck(ctx context.Context) HealthStatus {
	r.mu.RLock()
	templates := make(map[string]*Template, len(r.templates))
	for name, tpl := range r.templates {
		templates[name] = tpl
	}
	r.mu.RUnlock()

	status := HealthStatus{
		Templates: make(map[string]TemplateHealth, len(templates)),
		CheckedAt: time.Now(),
	}
	if len(templates) == 0 {
		status.Overall = HealthError
		return status
	}

	failures := 0
	for name, tpl := range templates {
		if err := ctx.Err(); err != nil {
			status.Overall = HealthError
			return status
		}
		health := TemplateHealth{OK: true}
		probe := NewBaseAgent("health-"+name, tpl, Options{Logger: r.logger})
		switch {
		case len(probe.Capabilities()) == 0:
			health = TemplateHealth{OK: false, Issue: "no capabilities"}
		case probe.Metadata().AverageProficiency() <= 0:
			health = TemplateHealth{OK: false, Issue: "zero proficiency"}
		}
		if !health.OK {
			failures++
		}
		status.Templates[name] = health
	}

	switch {
	case failures == 0:
		status.Overall = HealthHealthy
	case failures*2 < len(templates):
		status.Overall = HealthDegraded
	default:
		status.Overall = HealthCritical
	}
	return status
}
