// Package agent implements the agent layer: capability and template
// modelling, the template registry and matcher, the base agent with its
// six-phase operating cycle, composite and custom agent creation, and
// capability evolution.
package agent

import (
	"strings"
	"time"

	"github.com/tensionos/tensiond/internal/tension"
)

// WIN dimension names used in capability contributions and scoring
// weights
const (
	DimWisdom       = "wisdom"
	DimIntelligence = "intelligence"
	DimNetworking   = "networking"
)

// Task complexity bands and their time multipliers
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

var complexityMultipliers = map[string]float64{
	ComplexityLow:    0.7,
	ComplexityMedium: 1.0,
	ComplexityHigh:   1.5,
}

// Capability is a named skill an agent owns
type Capability struct {
	Name                 string             `json:"name"`
	Description          string             `json:"description"`
	ProficiencyLevel     float64            `json:"proficiency_level"` // 0.0-1.0
	EstimatedTimePerTask int                `json:"estimated_time_per_task"` // minutes
	Prerequisites        []string           `json:"prerequisites,omitempty"`
	RelatedTensionTypes  []tension.Type     `json:"related_tension_types,omitempty"`
	WINContribution      map[string]float64 `json:"win_contribution,omitempty"` // dimension -> weight, sums to ~1
}

// relatesTo reports whether the capability declares the tension type
func (c *Capability) relatesTo(t tension.Type) bool {
	for _, rt := range c.RelatedTensionTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// TemplateMetadata describes an agent blueprint
type TemplateMetadata struct {
	TemplateName           string                 `json:"template_name"`
	PrimaryDomain          string                 `json:"primary_domain"`
	Capabilities           []Capability           `json:"capabilities"`
	DomainExpertise        []string               `json:"domain_expertise"`
	SupportedTensionTypes  []tension.Type         `json:"supported_tension_types"`
	PerformanceMetrics     map[string]float64     `json:"performance_metrics,omitempty"`
	Version                string                 `json:"version"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
	WINOptimizationWeights map[string]float64     `json:"win_optimization_weights,omitempty"`
	StrategicAlignment     map[string]interface{} `json:"strategic_alignment,omitempty"`
}

// defaultWINWeights apply when a template carries none
var defaultWINWeights = map[string]float64{
	DimWisdom:       0.4,
	DimIntelligence: 0.4,
	DimNetworking:   0.2,
}

// CapabilityByName returns the named capability, or nil
func (m *TemplateMetadata) CapabilityByName(name string) *Capability {
	for i := range m.Capabilities {
		if m.Capabilities[i].Name == name {
			return &m.Capabilities[i]
		}
	}
	return nil
}

// CapabilitiesForTensionType returns the capabilities that declare the
// given tension type
func (m *TemplateMetadata) CapabilitiesForTensionType(t tension.Type) []Capability {
	var out []Capability
	for _, c := range m.Capabilities {
		if c.relatesTo(t) {
			out = append(out, c)
		}
	}
	return out
}

// DomainRelevance scores how well the template fits a domain: 1.0 on an
// exact primary-domain match, otherwise the fraction of expertise
// entries containing the domain substring
func (m *TemplateMetadata) DomainRelevance(domain string) float64 {
	if domain == "" || len(m.DomainExpertise) == 0 {
		if strings.EqualFold(m.PrimaryDomain, domain) && domain != "" {
			return 1.0
		}
		return 0
	}
	if strings.EqualFold(m.PrimaryDomain, domain) {
		return 1.0
	}
	needle := strings.ToLower(domain)
	matched := 0
	for _, e := range m.DomainExpertise {
		if strings.Contains(strings.ToLower(e), needle) {
			matched++
		}
	}
	return float64(matched) / float64(len(m.DomainExpertise))
}

// AverageProficiency is the mean proficiency over all capabilities
func (m *TemplateMetadata) AverageProficiency() float64 {
	if len(m.Capabilities) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range m.Capabilities {
		total += c.ProficiencyLevel
	}
	return total / float64(len(m.Capabilities))
}

// EstimateTotalTaskTime returns the mean capability task time in
// minutes, scaled by the complexity band. Unknown bands use the medium
// multiplier.
func (m *TemplateMetadata) EstimateTotalTaskTime(complexity string) float64 {
	if len(m.Capabilities) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range m.Capabilities {
		total += float64(c.EstimatedTimePerTask)
	}
	mean := total / float64(len(m.Capabilities))

	mult, ok := complexityMultipliers[strings.ToLower(complexity)]
	if !ok {
		mult = complexityMultipliers[ComplexityMedium]
	}
	return mean * mult
}

// WINPotential is a template's predicted contribution per WIN dimension
// on a 0-100 scale
type WINPotential struct {
	Wisdom       float64 `json:"wisdom"`
	Intelligence float64 `json:"intelligence"`
	Networking   float64 `json:"networking"`
	Total        float64 `json:"total"`
}

// WINPotentialScore averages each capability's weighted contribution
// per dimension, scaled by proficiency, then combines the dimensions
// with the template's optimization weights
func (m *TemplateMetadata) WINPotentialScore() WINPotential {
	var p WINPotential
	if len(m.Capabilities) == 0 {
		return p
	}
	for _, c := range m.Capabilities {
		p.Wisdom += c.WINContribution[DimWisdom] * c.ProficiencyLevel * 100
		p.Intelligence += c.WINContribution[DimIntelligence] * c.ProficiencyLevel * 100
		p.Networking += c.WINContribution[DimNetworking] * c.ProficiencyLevel * 100
	}
	n := float64(len(m.Capabilities))
	p.Wisdom /= n
	p.Intelligence /= n
	p.Networking /= n

	weights := m.WINOptimizationWeights
	if weights == nil {
		weights = defaultWINWeights
	}
	p.Total = weights[DimWisdom]*p.Wisdom +
		weights[DimIntelligence]*p.Intelligence +
		weights[DimNetworking]*p.Networking
	return p
}

// Clone returns a deep copy so agents can mutate their own capability
// set without touching the template
func (m *TemplateMetadata) Clone() *TemplateMetadata {
	out := *m
	out.Capabilities = cloneCapabilities(m.Capabilities)
	out.DomainExpertise = append([]string(nil), m.DomainExpertise...)
	out.SupportedTensionTypes = append([]tension.Type(nil), m.SupportedTensionTypes...)
	if m.PerformanceMetrics != nil {
		out.PerformanceMetrics = make(map[string]float64, len(m.PerformanceMetrics))
		for k, v := range m.PerformanceMetrics {
			out.PerformanceMetrics[k] = v
		}
	}
	if m.WINOptimizationWeights != nil {
		out.WINOptimizationWeights = make(map[string]float64, len(m.WINOptimizationWeights))
		for k, v := range m.WINOptimizationWeights {
			out.WINOptimizationWeights[k] = v
		}
	}
	if m.StrategicAlignment != nil {
		out.StrategicAlignment = make(map[string]interface{}, len(m.StrategicAlignment))
		for k, v := range m.StrategicAlignment {
			out.StrategicAlignment[k] = v
		}
	}
	return &out
}

func cloneCapabilities(caps []Capability) []Capability {
	out := make([]Capability, len(caps))
	for i, c := range caps {
		out[i] = c
		out[i].Prerequisites = append([]string(nil), c.Prerequisites...)
		out[i].RelatedTensionTypes = append([]tension.Type(nil), c.RelatedTensionTypes...)
		if c.WINContribution != nil {
			out[i].WINContribution = make(map[string]float64, len(c.WINContribution))
			for k, v := range c.WINContribution {
				out[i].WINContribution[k] = v
			}
		}
	}
	return out
}
