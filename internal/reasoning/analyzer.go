// Package reasoning implements the four-stage cognitive pipeline that
// turns raw tensions into analyzed, prioritized, solved outcomes:
// classification, rule evaluation, solution generation and priority
// calculation, orchestrated by the Coordinator.
package reasoning

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tensionos/tensiond/internal/tension"
)

// Level is an ordinal impact or urgency assessment
type Level int

const (
	LevelLow Level = iota + 1
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the display name for a level
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "Low"
	case LevelMedium:
		return "Medium"
	case LevelHigh:
		return "High"
	case LevelCritical:
		return "Critical"
	}
	return "Unknown"
}

// Suggested priority values produced by the analysis matrix
const (
	SuggestNormal   = 0
	SuggestHigh     = 1
	SuggestCritical = 2
)

// maxConfidence caps every confidence score: the analyzer never claims
// certainty.
const maxConfidence = 0.95

// maxEntities bounds how many extracted entities an analysis carries
const maxEntities = 5

// Analysis is the result of classifying a single tension
type Analysis struct {
	TensionType       tension.Type   `json:"tension_type"`
	ImpactLevel       Level          `json:"impact_level"`
	UrgencyLevel      Level          `json:"urgency_level"`
	ConfidenceScore   float64        `json:"confidence_score"`
	KeyThemes         []string       `json:"key_themes"`
	ExtractedEntities []string       `json:"extracted_entities"`
	SuggestedPriority int            `json:"suggested_priority"`
	Reasoning         string         `json:"reasoning"`
}

// Keyword dictionaries. These are lookup tables, not algorithm: tune per
// deployment vocabulary.
var classificationPatterns = map[tension.Type][]string{
	tension.TypeProblem: {
		"problem", "issue", "error", "bug", "broken", "fail", "failure",
		"not responding", "down", "crash", "defect", "not working", "outage",
	},
	tension.TypeOpportunity: {
		"opportunity", "improve", "enhance", "could", "optimize", "benefit",
		"growth", "better", "increase", "upgrade",
	},
	tension.TypeRisk: {
		"risk", "vulnerability", "threat", "potential", "exposure", "danger",
		"uncertain", "security", "liability",
	},
	tension.TypeConflict: {
		"conflict", "disagree", "dispute", "argument", "friction",
		"misalign", "contention", "blocked by",
	},
	tension.TypeIdea: {
		"idea", "suggest", "propose", "concept", "innovation", "brainstorm",
		"what if", "experiment",
	},
}

// classificationOrder keeps tie-breaking stable across runs
var classificationOrder = []tension.Type{
	tension.TypeProblem,
	tension.TypeOpportunity,
	tension.TypeRisk,
	tension.TypeConflict,
	tension.TypeIdea,
}

var criticalImpactKeywords = []string{
	"critical", "outage", "down", "catastrophic", "severe", "data loss",
	"breach", "emergency",
}

var highImpactKeywords = []string{
	"major", "significant", "security", "vulnerability", "customer",
	"revenue", "production", "widespread", "server", "failure",
}

var criticalUrgencyKeywords = []string{
	"immediately", "urgent", "asap", "emergency", "right away", "down",
	"critical",
}

var highUrgencyKeywords = []string{
	"soon", "quickly", "deadline", "time-sensitive", "pressing",
	"not responding", "today", "blocking",
}

var themePatterns = []struct {
	Name    string
	Pattern *regexp.Regexp
}{
	{"Technology", regexp.MustCompile(`(?i)\b(api|server|system|software|code|technical|database|network|infrastructure|deploy)`)},
	{"Business", regexp.MustCompile(`(?i)\b(business|revenue|sales|market|customer|strategy|profit|cost)`)},
	{"Process", regexp.MustCompile(`(?i)\b(process|workflow|procedure|efficienc|operation|pipeline)`)},
	{"People", regexp.MustCompile(`(?i)\b(team|staff|employee|people|communication|training|hiring|culture)`)},
	{"Security", regexp.MustCompile(`(?i)\b(security|vulnerab|auth|encrypt|breach|attack|compliance|audit)`)},
}

var entityPattern = regexp.MustCompile(`[A-Z][A-Za-z]+(?: [A-Z][A-Za-z]+)*`)

// Analyzer classifies tensions. It is a pure function over its inputs:
// no I/O, no hidden state, never fails.
type Analyzer struct{}

// NewAnalyzer creates a tension analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze classifies a tension from its title, description and current
// status. Empty or missing inputs still yield an Unknown/Low/Low
// analysis with confidence 0.5.
func (a *Analyzer) Analyze(title, description, status string) *Analysis {
	combined := strings.ToLower(title + " " + description)

	tensionType, confidence := a.classify(combined)
	impact := a.assessImpact(combined)
	urgency := a.assessUrgency(combined)
	themes := a.extractThemes(title + " " + description)
	entities := a.extractEntities(title + " " + description)
	suggested := suggestPriority(impact, urgency)

	reasoning := fmt.Sprintf(
		"Classified as %s with confidence %.2f. Impact assessed as %s, urgency as %s. Key themes: %s. Suggested priority: %d.",
		tensionType, confidence, impact, urgency, strings.Join(themes, ", "), suggested)

	return &Analysis{
		TensionType:       tensionType,
		ImpactLevel:       impact,
		UrgencyLevel:      urgency,
		ConfidenceScore:   confidence,
		KeyThemes:         themes,
		ExtractedEntities: entities,
		SuggestedPriority: suggested,
		Reasoning:         reasoning,
	}
}

// classify picks the tension type with the most keyword matches. All-zero
// counts yield Unknown with confidence 0.5.
func (a *Analyzer) classify(text string) (tension.Type, float64) {
	counts := make(map[tension.Type]int, len(classificationPatterns))
	total := 0
	for typ, patterns := range classificationPatterns {
		for _, p := range patterns {
			counts[typ] += strings.Count(text, p)
		}
		total += counts[typ]
	}

	if total == 0 {
		return tension.TypeUnknown, 0.5
	}

	best := tension.TypeUnknown
	bestCount := 0
	for _, typ := range classificationOrder {
		if counts[typ] > bestCount {
			best = typ
			bestCount = counts[typ]
		}
	}

	confidence := float64(bestCount) / float64(total)
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return best, confidence
}

func (a *Analyzer) assessImpact(text string) Level {
	return assessLevel(text, criticalImpactKeywords, highImpactKeywords)
}

func (a *Analyzer) assessUrgency(text string) Level {
	return assessLevel(text, criticalUrgencyKeywords, highUrgencyKeywords)
}

func assessLevel(text string, critical, high []string) Level {
	criticalCount := 0
	for _, kw := range critical {
		criticalCount += strings.Count(text, kw)
	}
	if criticalCount > 0 {
		return LevelCritical
	}

	highCount := 0
	for _, kw := range high {
		highCount += strings.Count(text, kw)
	}
	switch {
	case highCount >= 2:
		return LevelHigh
	case highCount == 1:
		return LevelMedium
	}
	return LevelLow
}

func (a *Analyzer) extractThemes(text string) []string {
	var themes []string
	for _, tp := range themePatterns {
		if tp.Pattern.MatchString(text) {
			themes = append(themes, tp.Name)
		}
	}
	if len(themes) == 0 {
		themes = []string{"General"}
	}
	return themes
}

func (a *Analyzer) extractEntities(text string) []string {
	matches := entityPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var entities []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		entities = append(entities, m)
		if len(entities) == maxEntities {
			break
		}
	}
	return entities
}

// suggestPriority applies the impact x urgency matrix. Monotonic: raising
// either input never lowers the result.
func suggestPriority(impact, urgency Level) int {
	switch {
	case impact == LevelCritical || urgency == LevelCritical:
		return SuggestCritical
	case impact == LevelHigh && urgency == LevelHigh:
		return SuggestCritical
	case impact == LevelHigh || urgency == LevelHigh:
		return SuggestHigh
	case impact == LevelMedium && urgency == LevelMedium:
		return SuggestHigh
	}
	return SuggestNormal
}
