package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensionos/tensiond/internal/tension"
)

func TestGenerator_OutageGetsRecoverySolution(t *testing.T) {
	g := NewGenerator()
	analysis := &Analysis{
		TensionType:       tension.TypeProblem,
		ImpactLevel:       LevelCritical,
		UrgencyLevel:      LevelCritical,
		ConfidenceScore:   0.9,
		KeyThemes:         []string{"Technology"},
		SuggestedPriority: SuggestCritical,
	}

	solutions := g.Generate(analysis, "API Server Down",
		"The main API server is not responding and showing error messages")

	require.NotEmpty(t, solutions)
	assert.LessOrEqual(t, len(solutions), 5)

	var hasActionable bool
	for _, s := range solutions {
		if s.Type == SolutionImmediateAction || s.Type == SolutionTechnology {
			hasActionable = true
		}
	}
	assert.True(t, hasActionable, "outage should yield an immediate action or technology solution")

	// Critical suggestion adds the escalation path
	var hasEscalation bool
	for _, s := range solutions {
		if s.Type == SolutionEscalation {
			hasEscalation = true
			assert.InDelta(t, 0.9, s.ConfidenceScore, 1e-9)
			assert.Len(t, s.Steps, 3)
		}
	}
	assert.True(t, hasEscalation)
}

func TestGenerator_ProblemSubSelection(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"there is a bug in checkout", "Bug Fix"},
		{"full outage of the data center", "System Recovery"},
		{"the dashboard is slow, performance degraded", "Performance Optimization"},
		{"something is wrong with reporting", "Root Cause Resolution"},
	}
	for _, tc := range cases {
		tmpl := primaryTemplate(tension.TypeProblem, tc.text)
		assert.Equal(t, tc.want, tmpl.Title, "text %q", tc.text)
	}
}

func TestGenerator_ThemeAlternatives(t *testing.T) {
	g := NewGenerator()
	analysis := &Analysis{
		TensionType:     tension.TypeRisk,
		ConfidenceScore: 0.8,
		KeyThemes:       []string{"Security", "General"},
	}

	solutions := g.Generate(analysis, "Potential Security Vulnerability",
		"Security audit revealed potential vulnerability in authentication system")

	var titles []string
	for _, s := range solutions {
		titles = append(titles, s.Title)
	}
	assert.Contains(t, titles, "Security Hardening")
	assert.NotContains(t, titles, "Technical Remediation", "no Technology theme, no technology alternative")
}

func TestGenerator_StepDependenciesFormLinearDAG(t *testing.T) {
	g := NewGenerator()
	analysis := &Analysis{TensionType: tension.TypeOpportunity, ConfidenceScore: 0.7, KeyThemes: []string{"Business"}}

	for _, s := range g.Generate(analysis, "Improve onboarding", "We could improve our process for onboarding") {
		require.NoError(t, ValidateSteps(s), "solution %s", s.Title)
		for i, step := range s.Steps {
			if i == 0 {
				assert.Empty(t, step.Dependencies)
			} else {
				require.Len(t, step.Dependencies, 1)
				assert.Equal(t, s.Steps[i-1].ID, step.Dependencies[0])
			}
		}
	}
}

func TestGenerator_RankingAndTruncation(t *testing.T) {
	g := NewGenerator()
	analysis := &Analysis{
		TensionType:       tension.TypeProblem,
		ConfidenceScore:   0.9,
		KeyThemes:         []string{"Technology", "Business", "Security"},
		SuggestedPriority: SuggestCritical,
	}

	// Primary + 3 theme alternatives + escalation = 5 candidates
	solutions := g.Generate(analysis, "Outage with broad fallout", "system outage affecting revenue")
	require.Len(t, solutions, 5)

	for i := 1; i < len(solutions); i++ {
		prev, cur := solutions[i-1], solutions[i]
		if prev.Priority == cur.Priority {
			assert.GreaterOrEqual(t, prev.ConfidenceScore, cur.ConfidenceScore)
		} else {
			assert.Greater(t, int(prev.Priority), int(cur.Priority))
		}
	}
}

func TestGenerator_PrimaryConfidenceScaling(t *testing.T) {
	g := NewGenerator()
	analysis := &Analysis{TensionType: tension.TypeIdea, ConfidenceScore: 0.5, KeyThemes: []string{"General"}}

	solutions := g.Generate(analysis, "What if we tried a new approach", "an idea to experiment with")
	require.NotEmpty(t, solutions)
	assert.InDelta(t, 0.4, solutions[0].ConfidenceScore, 1e-9, "primary confidence = analysis confidence x 0.8")
}

func TestGenerator_NilAnalysis(t *testing.T) {
	g := NewGenerator()
	assert.Nil(t, g.Generate(nil, "title", "desc"))
}

func TestValidateSteps_DetectsBadReferences(t *testing.T) {
	s := &Solution{Steps: []Step{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"missing"}},
	}}
	assert.Error(t, ValidateSteps(s))

	cycle := &Solution{Steps: []Step{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}}
	assert.Error(t, ValidateSteps(cycle))
}

func TestEstimateStepEffort(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Assess blast radius", "1-2 hours"},
		{"Implement the fix with regression coverage", "1-2 days"},
		{"Investigate root cause of the failure", "2-4 hours"},
		{"Coordinate with partner teams", "4-8 hours"},
	}
	for _, tc := range cases {
		got, minutes := estimateStepEffort(tc.title)
		assert.Equal(t, tc.want, got, tc.title)
		assert.Positive(t, minutes)
	}
}
