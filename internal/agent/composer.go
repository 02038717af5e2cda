package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/reasoning"
	"github.com/tensionos/tensiond/internal/tension"
)

// Defaults for capabilities synthesized from custom requirements
const (
	customProficiency = 0.7
	customTaskMinutes = 60
)

// CompositeAgent is built from multiple base templates. It holds
// non-owning references to its constituent agents and dispatches by
// asking each whether it can handle a given tension.
type CompositeAgent struct {
	*BaseAgent
	bases []Agent
}

// BaseTemplates lists the constituent template names
func (c *CompositeAgent) BaseTemplates() []string {
	names := make([]string, 0, len(c.bases))
	for _, b := range c.bases {
		names = append(names, b.Metadata().TemplateName)
	}
	return names
}

// CanHandleTension is true when any constituent can handle it
func (c *CompositeAgent) CanHandleTension(t *tension.Tension) bool {
	for _, b := range c.bases {
		if b.CanHandleTension(t) {
			return true
		}
	}
	return false
}

// GenerateSpecializedSolutions concatenates solutions from every
// constituent that accepts the tension
func (c *CompositeAgent) GenerateSpecializedSolutions(t *tension.Tension) []*reasoning.Solution {
	var out []*reasoning.Solution
	for _, b := range c.bases {
		if b.CanHandleTension(t) {
			out = append(out, b.GenerateSpecializedSolutions(t)...)
		}
	}
	return out
}

// CustomRequirements describe an agent built from scratch
type CustomRequirements struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	RequiredCapabilities []string `json:"required_capabilities"`
	DomainExpertise      []string `json:"domain_expertise,omitempty"`
	ComplexityLevel      string   `json:"complexity_level,omitempty"`
}

// CustomAgent is built from an explicit requirements record, not from
// any catalog template
type CustomAgent struct {
	*BaseAgent
	requirements CustomRequirements
}

// Requirements returns the record the agent was built from
func (c *CustomAgent) Requirements() CustomRequirements {
	return c.requirements
}

// Creator builds composite and custom agents on top of the registry's
// template catalog
type Creator struct {
	registry *Registry
	bus      *events.Bus
	logger   *zap.Logger
	options  Options
}

// NewCreator wires a creator to a registry
func NewCreator(registry *Registry, bus *events.Bus, logger *zap.Logger) *Creator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Creator{
		registry: registry,
		bus:      bus,
		logger:   logger.Named("creator"),
		options: Options{
			Bus:          bus,
			Logger:       logger,
			WINWeights:   registry.winWeights,
			HistoryLimit: registry.historyLimit,
		},
	}
}

// CreateCompositeAgent builds an agent whose capability set is the
// first-seen deduplicated union of the named templates. Unknown
// template names reject the whole creation.
func (c *Creator) CreateCompositeAgent(templateNames []string, requirements map[string]interface{}) (*CompositeAgent, error) {
	if len(templateNames) == 0 {
		return nil, fmt.Errorf("composite agent needs at least one template")
	}

	c.registry.mu.RLock()
	templates := make([]*Template, 0, len(templateNames))
	for _, name := range templateNames {
		tpl, ok := c.registry.templates[name]
		if !ok {
			c.registry.mu.RUnlock()
			return nil, fmt.Errorf("unknown template %q", name)
		}
		templates = append(templates, tpl)
	}
	c.registry.mu.RUnlock()

	merged := mergeTemplates(templateNames, templates)
	if requirements != nil {
		merged.Metadata.StrategicAlignment = requirements
	}

	agentID := "composite-" + uuid.New().String()[:8]
	base := NewBaseAgent(agentID, merged, c.options)

	bases := make([]Agent, 0, len(templates))
	for i, tpl := range templates {
		bases = append(bases, NewBaseAgent(fmt.Sprintf("%s-base-%d", agentID, i), tpl, Options{
			Logger:       c.options.Logger,
			WINWeights:   c.options.WINWeights,
			HistoryLimit: c.options.HistoryLimit,
		}))
	}

	composite := &CompositeAgent{BaseAgent: base, bases: bases}
	if err := c.registry.AdoptAgent(composite); err != nil {
		return nil, err
	}
	c.publishCreated(agentID, merged.Metadata.TemplateName)
	return composite, nil
}

func mergeTemplates(names []string, templates []*Template) *Template {
	now := time.Now()
	merged := &Template{
		Metadata: TemplateMetadata{
			TemplateName:  "Composite(" + strings.Join(names, "+") + ")",
			PrimaryDomain: "composite",
			Version:       "1.0",
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}

	seenCaps := make(map[string]bool)
	seenExpertise := make(map[string]bool)
	seenTypes := make(map[tension.Type]bool)
	seenKeywords := make(map[string]bool)
	seenSubs := make(map[events.EventType]bool)
	for _, tpl := range templates {
		for _, capability := range tpl.Metadata.Capabilities {
			if seenCaps[capability.Name] {
				continue
			}
			seenCaps[capability.Name] = true
			merged.Metadata.Capabilities = append(merged.Metadata.Capabilities, capability)
		}
		for _, e := range tpl.Metadata.DomainExpertise {
			if seenExpertise[e] {
				continue
			}
			seenExpertise[e] = true
			merged.Metadata.DomainExpertise = append(merged.Metadata.DomainExpertise, e)
		}
		for _, t := range tpl.Metadata.SupportedTensionTypes {
			if seenTypes[t] {
				continue
			}
			seenTypes[t] = true
			merged.Metadata.SupportedTensionTypes = append(merged.Metadata.SupportedTensionTypes, t)
		}
		for _, kw := range tpl.Keywords {
			if seenKeywords[kw] {
				continue
			}
			seenKeywords[kw] = true
			merged.Keywords = append(merged.Keywords, kw)
		}
		for _, sub := range tpl.Subscriptions {
			if seenSubs[sub] {
				continue
			}
			seenSubs[sub] = true
			merged.Subscriptions = append(merged.Subscriptions, sub)
		}
	}
	return merged
}

// CreateCustomAgent synthesizes an agent from explicit requirements
func (c *Creator) CreateCustomAgent(req CustomRequirements) (*CustomAgent, error) {
	if len(req.RequiredCapabilities) == 0 {
		return nil, fmt.Errorf("custom agent needs at least one required capability")
	}
	agentID := "custom-" + uuid.New().String()[:8]
	custom, err := c.buildCustom(agentID, req)
	if err != nil {
		return nil, err
	}
	if err := c.registry.AdoptAgent(custom); err != nil {
		return nil, err
	}
	c.publishCreated(agentID, custom.Metadata().TemplateName)
	return custom, nil
}

func (c *Creator) buildCustom(agentID string, req CustomRequirements) (*CustomAgent, error) {
	name := req.Name
	if name == "" {
		name = "CustomAgent"
	}
	now := time.Now()
	tpl := &Template{
		Metadata: TemplateMetadata{
			TemplateName:    name,
			PrimaryDomain:   "custom",
			DomainExpertise: append([]string(nil), req.DomainExpertise...),
			Version:         "1.0",
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}
	for _, capName := range req.RequiredCapabilities {
		tpl.Metadata.Capabilities = append(tpl.Metadata.Capabilities, Capability{
			Name:                 capName,
			Description:          fmt.Sprintf("Custom capability %s for %s", capName, name),
			ProficiencyLevel:     customProficiency,
			EstimatedTimePerTask: customTaskMinutes,
			WINContribution:      winSplit(0.34, 0.33, 0.33),
		})
		tpl.Keywords = append(tpl.Keywords, strings.ReplaceAll(strings.ToLower(capName), "_", " "))
	}

	base := NewBaseAgent(agentID, tpl, c.options)
	return &CustomAgent{BaseAgent: base, requirements: req}, nil
}

// OptimizeAgentConfiguration rebuilds a custom agent from adjusted
// requirements driven by observed performance. Non-custom agents are
// rejected.
func (c *Creator) OptimizeAgentConfiguration(a Agent, performanceData map[string]float64) (Agent, error) {
	custom, ok := a.(*CustomAgent)
	if !ok {
		return nil, fmt.Errorf("only custom agents can be reconfigured")
	}

	req := custom.requirements
	req.RequiredCapabilities = append([]string(nil), custom.requirements.RequiredCapabilities...)

	if performanceData["efficiency"] < 50 {
		req.ComplexityLevel = demoteComplexity(req.ComplexityLevel)
	}
	if performanceData["quality"] < 60 && !containsString(req.RequiredCapabilities, "quality_assurance") {
		req.RequiredCapabilities = append(req.RequiredCapabilities, "quality_assurance")
	}

	agentID := custom.ID()
	wasActive := false
	if _, ok := c.registry.GetAgent(agentID); ok {
		wasActive = true
		c.registry.StopAgent(agentID)
	}

	rebuilt, err := c.buildCustom(agentID, req)
	if err != nil {
		return nil, err
	}
	if wasActive {
		if err := c.registry.AdoptAgent(rebuilt); err != nil {
			return nil, err
		}
	}
	c.logger.Info("custom agent reconfigured",
		zap.String("agent_id", agentID),
		zap.Int("capabilities", len(req.RequiredCapabilities)),
		zap.String("complexity_level", req.ComplexityLevel))
	return rebuilt, nil
}

func demoteComplexity(level string) string {
	switch level {
	case ComplexityHigh:
		return ComplexityMedium
	case ComplexityMedium:
		return ComplexityLow
	}
	return ComplexityLow
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (c *Creator) publishCreated(agentID, templateName string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.New(events.EventAgentCreated, "creator", events.TargetAll, events.PriorityNormal, map[string]interface{}{
		"agent_id": agentID,
		"template": templateName,
	}))
}
