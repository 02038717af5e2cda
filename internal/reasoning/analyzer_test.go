package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensionos/tensiond/internal/tension"
)

func TestAnalyzer_CriticalOutage(t *testing.T) {
	a := NewAnalyzer()

	analysis := a.Analyze("API Server Down",
		"The main API server is not responding and showing error messages", "Open")

	assert.Equal(t, tension.TypeProblem, analysis.TensionType)
	assert.GreaterOrEqual(t, int(analysis.ImpactLevel), int(LevelHigh))
	assert.GreaterOrEqual(t, int(analysis.UrgencyLevel), int(LevelHigh))
	assert.Contains(t, analysis.KeyThemes, "Technology")
	assert.GreaterOrEqual(t, analysis.SuggestedPriority, SuggestHigh)
}

func TestAnalyzer_LowStakesOpportunity(t *testing.T) {
	a := NewAnalyzer()

	analysis := a.Analyze("Improve User Experience",
		"We could enhance the user interface to improve customer satisfaction and engagement", "Open")

	assert.Equal(t, tension.TypeOpportunity, analysis.TensionType)
	assert.LessOrEqual(t, int(analysis.ImpactLevel), int(LevelMedium))
	assert.GreaterOrEqual(t, analysis.ConfidenceScore, 0.3)
	assert.Contains(t, analysis.Reasoning, "Opportunity")
	assert.Equal(t, SuggestNormal, analysis.SuggestedPriority)
}

func TestAnalyzer_SecurityVulnerability(t *testing.T) {
	a := NewAnalyzer()

	analysis := a.Analyze("Potential Security Vulnerability",
		"Security audit revealed potential vulnerability in authentication system", "Open")

	assert.Contains(t, analysis.KeyThemes, "Security")
	assert.GreaterOrEqual(t, int(analysis.ImpactLevel), int(LevelHigh))
	assert.GreaterOrEqual(t, analysis.SuggestedPriority, SuggestHigh)
}

func TestAnalyzer_EmptyInput(t *testing.T) {
	a := NewAnalyzer()

	analysis := a.Analyze("", "", "")

	require.NotNil(t, analysis)
	assert.Equal(t, tension.TypeUnknown, analysis.TensionType)
	assert.Equal(t, LevelLow, analysis.ImpactLevel)
	assert.Equal(t, LevelLow, analysis.UrgencyLevel)
	assert.Equal(t, 0.5, analysis.ConfidenceScore)
	assert.Equal(t, []string{"General"}, analysis.KeyThemes)
}

func TestAnalyzer_ConfidenceCap(t *testing.T) {
	a := NewAnalyzer()

	inputs := []struct{ title, desc string }{
		{"", ""},
		{"bug bug bug bug", "error error failure broken crash"},
		{"Mixed signals", "improve the broken process, risk of conflict, new idea"},
		{"API Server Down", "The main API server is not responding and showing error messages"},
	}
	for _, in := range inputs {
		analysis := a.Analyze(in.title, in.desc, "Open")
		assert.GreaterOrEqual(t, analysis.ConfidenceScore, 0.0, "input %q", in.title)
		assert.LessOrEqual(t, analysis.ConfidenceScore, 0.95, "input %q", in.title)
	}
}

func TestAnalyzer_EntityExtraction(t *testing.T) {
	a := NewAnalyzer()

	analysis := a.Analyze("Payment Gateway Issue",
		"The Stripe Connector and the Billing Service report errors when Invoice Processor runs", "Open")

	assert.NotEmpty(t, analysis.ExtractedEntities)
	assert.LessOrEqual(t, len(analysis.ExtractedEntities), 5)
	assert.Contains(t, analysis.ExtractedEntities, "Stripe Connector")
}

func TestSuggestPriority_Matrix(t *testing.T) {
	cases := []struct {
		impact, urgency Level
		want            int
	}{
		{LevelLow, LevelLow, SuggestNormal},
		{LevelMedium, LevelLow, SuggestNormal},
		{LevelMedium, LevelMedium, SuggestHigh},
		{LevelHigh, LevelLow, SuggestHigh},
		{LevelLow, LevelHigh, SuggestHigh},
		{LevelHigh, LevelHigh, SuggestCritical},
		{LevelCritical, LevelLow, SuggestCritical},
		{LevelLow, LevelCritical, SuggestCritical},
	}
	for _, tc := range cases {
		got := suggestPriority(tc.impact, tc.urgency)
		assert.Equal(t, tc.want, got, "impact=%s urgency=%s", tc.impact, tc.urgency)
	}
}

// Raising either impact or urgency must never lower the suggested
// priority.
func TestSuggestPriority_Monotonic(t *testing.T) {
	levels := []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical}
	for _, i1 := range levels {
		for _, u1 := range levels {
			for _, i2 := range levels {
				for _, u2 := range levels {
					if i2 >= i1 && u2 >= u1 {
						assert.GreaterOrEqual(t,
							suggestPriority(i2, u2), suggestPriority(i1, u1),
							"(%s,%s) -> (%s,%s)", i1, u1, i2, u2)
					}
				}
			}
		}
	}
}
