package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensionos/tensiond/internal/tension"
)

func templateByName(t *testing.T, name string) *Template {
	t.Helper()
	for _, tpl := range BuiltinTemplates() {
		if tpl.Metadata.TemplateName == name {
			return tpl
		}
	}
	t.Fatalf("no builtin template %q", name)
	return nil
}

func TestTemplateMetadata_CapabilityByName(t *testing.T) {
	m := &templateByName(t, "DataAnalyst").Metadata

	c := m.CapabilityByName("statistical_analysis")
	require.NotNil(t, c)
	assert.Equal(t, 0.9, c.ProficiencyLevel)

	assert.Nil(t, m.CapabilityByName("nope"))
}

func TestTemplateMetadata_CapabilitiesForTensionType(t *testing.T) {
	m := &templateByName(t, "DataAnalyst").Metadata

	caps := m.CapabilitiesForTensionType(tension.TypeDataAnalysis)
	assert.Len(t, caps, 3)

	assert.Empty(t, m.CapabilitiesForTensionType(tension.TypeConflict))
}

func TestTemplateMetadata_DomainRelevance(t *testing.T) {
	m := &templateByName(t, "DataAnalyst").Metadata

	assert.Equal(t, 1.0, m.DomainRelevance("data_analysis"))

	// "statistics" matches 1 of 4 expertise entries
	assert.InDelta(t, 0.25, m.DomainRelevance("statistics"), 1e-9)
	assert.Equal(t, 0.0, m.DomainRelevance("plumbing"))
	assert.Equal(t, 0.0, m.DomainRelevance(""))
}

func TestTemplateMetadata_AverageProficiency(t *testing.T) {
	m := &templateByName(t, "DataAnalyst").Metadata
	assert.InDelta(t, 0.85, m.AverageProficiency(), 1e-9)

	empty := &TemplateMetadata{}
	assert.Equal(t, 0.0, empty.AverageProficiency())
}

func TestTemplateMetadata_EstimateTotalTaskTime(t *testing.T) {
	m := &templateByName(t, "DataAnalyst").Metadata

	// Mean task time is 90 minutes
	assert.InDelta(t, 63, m.EstimateTotalTaskTime(ComplexityLow), 1e-9)
	assert.InDelta(t, 90, m.EstimateTotalTaskTime(ComplexityMedium), 1e-9)
	assert.InDelta(t, 135, m.EstimateTotalTaskTime(ComplexityHigh), 1e-9)
	assert.InDelta(t, 90, m.EstimateTotalTaskTime("unrecognized"), 1e-9)
}

func TestTemplateMetadata_WINPotential(t *testing.T) {
	for _, tpl := range BuiltinTemplates() {
		p := tpl.Metadata.WINPotentialScore()
		assert.Greater(t, p.Total, 0.0, tpl.Metadata.TemplateName)
		assert.LessOrEqual(t, p.Total, 100.0, tpl.Metadata.TemplateName)
		assert.GreaterOrEqual(t, p.Wisdom, 0.0)
		assert.GreaterOrEqual(t, p.Intelligence, 0.0)
		assert.GreaterOrEqual(t, p.Networking, 0.0)
	}
}

func TestTemplateMetadata_CloneIsDeep(t *testing.T) {
	m := &templateByName(t, "CodeGenerator").Metadata
	clone := m.Clone()

	clone.Capabilities[0].ProficiencyLevel = 0.1
	clone.DomainExpertise[0] = "changed"

	assert.Equal(t, 0.9, m.Capabilities[0].ProficiencyLevel)
	assert.Equal(t, "software development", m.DomainExpertise[0])
}

func TestScoreWIN_Formula(t *testing.T) {
	score := ScoreWIN(WINMetrics{
		ContextUnderstanding: 80,
		RootCauseAnalysis:    60,
		SolutionQuality:      90,
		Efficiency:           70,
		Collaboration:        50,
		KnowledgeSharing:     70,
	}, nil)

	assert.InDelta(t, 72.0, score.Wisdom, 1e-9)
	assert.InDelta(t, 84.0, score.Intelligence, 1e-9)
	assert.InDelta(t, 60.0, score.Networking, 1e-9)
	assert.InDelta(t, 74.4, score.Total, 1e-9)
}

// Any metric combination in [0,100] must keep the total in [0,100].
func TestScoreWIN_TotalBound(t *testing.T) {
	values := []float64{0, 25, 50, 75, 100}
	for _, cu := range values {
		for _, sq := range values {
			for _, col := range values {
				score := ScoreWIN(WINMetrics{
					ContextUnderstanding: cu,
					RootCauseAnalysis:    100 - cu,
					SolutionQuality:      sq,
					Efficiency:           100 - sq,
					Collaboration:        col,
					KnowledgeSharing:     100 - col,
				}, nil)
				assert.GreaterOrEqual(t, score.Total, 0.0)
				assert.LessOrEqual(t, score.Total, 100.0)
			}
		}
	}
}
