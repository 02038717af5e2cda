package reasoning

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/tensionos/tensiond/internal/tension"
)

// Calculation method names
const (
	MethodWeightedAverage = "weighted_average"
	MethodEisenhower      = "eisenhower_matrix"
	MethodRICE            = "rice_framework"
	MethodValueComplexity = "value_complexity"
	MethodRiskAdjusted    = "risk_adjusted"
)

// Business contexts detected from the tension content. Each applies its
// own factor multipliers before calculation.
const (
	ContextSecurityIncident   = "security_incident"
	ContextCustomerFacing     = "customer_facing"
	ContextComplianceRelated  = "compliance_related"
	ContextInnovationProject  = "innovation_project"
	ContextInternalOperations = "internal_operations"
)

// CalcResult is the outcome of a priority calculation
type CalcResult struct {
	FinalScore          float64            `json:"final_score"` // 0-100
	NormalizedPriority  int                `json:"normalized_priority"` // 0-2
	PriorityLevel       Level              `json:"priority_level"`
	ContributingFactors map[string]float64 `json:"contributing_factors"`
	CalculationMethod   string             `json:"calculation_method"`
	BusinessContext     string             `json:"business_context"`
	ConfidenceLevel     float64            `json:"confidence_level"`
	Reasoning           string             `json:"reasoning"`
	Recommendations     []string           `json:"recommendations"`
}

// factors are all normalized to [0,1] before weighting
type factors struct {
	Impact               float64
	Urgency              float64
	Complexity           float64
	ResourceAvailability float64
	BusinessValue        float64
	Risk                 float64
	Stakeholder          float64
	DeadlinePressure     float64
	Dependency           float64
	StrategicAlignment   float64
}

var businessKeywords = []string{"revenue", "sales", "market", "customer", "profit", "cost", "growth"}

// complexThemes raise the complexity factor when present
var complexThemes = map[string]bool{"Technology": true, "Security": true}

// specializedThemes reduce assumed resource availability
var specializedThemes = map[string]bool{"Security": true, "Technology": true}

// defaultWeights for the weighted_average method. Complexity contributes
// inverted: simpler work scores higher.
var defaultWeights = map[string]float64{
	"impact":                0.25,
	"urgency":               0.25,
	"complexity":            0.15,
	"resource_availability": 0.10,
	"business_value":        0.15,
	"risk":                  0.05,
	"stakeholder":           0.05,
}

// contextWeights override the defaults per business context
var contextWeights = map[string]map[string]float64{
	ContextSecurityIncident: {
		"impact":                0.20,
		"urgency":               0.30,
		"complexity":            0.05,
		"resource_availability": 0.05,
		"business_value":        0.10,
		"risk":                  0.20,
		"stakeholder":           0.10,
	},
	ContextCustomerFacing: {
		"impact":                0.25,
		"urgency":               0.20,
		"complexity":            0.10,
		"resource_availability": 0.05,
		"business_value":        0.25,
		"risk":                  0.05,
		"stakeholder":           0.10,
	},
	ContextComplianceRelated: {
		"impact":                0.20,
		"urgency":               0.25,
		"complexity":            0.10,
		"resource_availability": 0.05,
		"business_value":        0.10,
		"risk":                  0.25,
		"stakeholder":           0.05,
	},
}

// Calculator computes priority scores. Pure arithmetic over the analysis
// and a small set of recognized context keys; unknown keys are ignored.
//
// Recognized context keys: team_capacity ("high"/"low"), budget_available
// (bool), deadline ("immediate"/"this_week"/"this_month"), dependencies
// (number of blocked teams), strategic_initiative (bool),
// stakeholder_visibility ("high").
type Calculator struct {
	defaultMethod string
}

// NewCalculator creates a calculator with the given default method
func NewCalculator(defaultMethod string) *Calculator {
	if defaultMethod == "" {
		defaultMethod = MethodWeightedAverage
	}
	return &Calculator{defaultMethod: defaultMethod}
}

// Calculate computes the priority of an analyzed tension using the named
// method, or the configured default when method is empty
func (c *Calculator) Calculate(analysis *Analysis, title, description string, context map[string]interface{}, method string) (*CalcResult, error) {
	if analysis == nil {
		return nil, fmt.Errorf("priority calculation requires an analysis")
	}
	if method == "" {
		method = c.defaultMethod
	}

	f := extractFactors(analysis, title, description, context)
	bizContext := detectBusinessContext(analysis, title, description)
	applyContextMultipliers(&f, bizContext)

	var score float64
	var forcedLevel Level
	switch method {
	case MethodWeightedAverage:
		score = weightedAverage(f, bizContext)
	case MethodEisenhower:
		score, forcedLevel = eisenhower(f)
	case MethodRICE:
		score = rice(f, analysis.ConfidenceScore)
	case MethodValueComplexity:
		score = valueComplexity(f)
	case MethodRiskAdjusted:
		score = riskAdjusted(f)
	default:
		return nil, fmt.Errorf("unknown calculation method %q", method)
	}

	score = clamp(score, 0, 100)
	normalized, level := normalizePriority(score)
	if forcedLevel != 0 {
		level = forcedLevel
	}

	result := &CalcResult{
		FinalScore:         score,
		NormalizedPriority: normalized,
		PriorityLevel:      level,
		ContributingFactors: map[string]float64{
			"impact":                f.Impact,
			"urgency":               f.Urgency,
			"complexity":            f.Complexity,
			"resource_availability": f.ResourceAvailability,
			"business_value":        f.BusinessValue,
			"risk":                  f.Risk,
			"stakeholder":           f.Stakeholder,
			"deadline_pressure":     f.DeadlinePressure,
			"dependency":            f.Dependency,
			"strategic_alignment":   f.StrategicAlignment,
		},
		CalculationMethod: method,
		BusinessContext:   bizContext,
		ConfidenceLevel:   calculationConfidence(f),
	}
	result.Reasoning = fmt.Sprintf(
		"%s scored %.1f in %s context (impact %.2f, urgency %.2f, business value %.2f); priority %s.",
		method, score, bizContext, f.Impact, f.Urgency, f.BusinessValue, level)
	result.Recommendations = buildRecommendations(result, f)
	return result, nil
}

func extractFactors(analysis *Analysis, title, description string, context map[string]interface{}) factors {
	text := strings.ToLower(title + " " + description)

	var f factors
	f.Impact = float64(analysis.ImpactLevel) / 4
	f.Urgency = float64(analysis.UrgencyLevel) / 4
	f.Risk = float64(analysis.SuggestedPriority) / 2

	// Complexity: text length band, theme count, specialized themes,
	// entity count
	switch {
	case len(text) > 500:
		f.Complexity = 0.3
	case len(text) > 150:
		f.Complexity = 0.2
	default:
		f.Complexity = 0.1
	}
	f.Complexity += math.Min(0.15*float64(len(analysis.KeyThemes)), 0.4)
	for _, theme := range analysis.KeyThemes {
		if complexThemes[theme] {
			f.Complexity += 0.1
		}
	}
	f.Complexity += math.Min(0.05*float64(len(analysis.ExtractedEntities)), 0.2)
	f.Complexity = clamp(f.Complexity, 0, 1)

	// Resource availability: baseline minus specialization, adjusted by
	// context
	f.ResourceAvailability = 0.6
	for _, theme := range analysis.KeyThemes {
		if specializedThemes[theme] {
			f.ResourceAvailability -= 0.15
		}
	}
	switch stringKey(context, "team_capacity") {
	case "high":
		f.ResourceAvailability += 0.2
	case "low":
		f.ResourceAvailability -= 0.2
	}
	if b, ok := boolKey(context, "budget_available"); ok && !b {
		f.ResourceAvailability -= 0.2
	}
	f.ResourceAvailability = clamp(f.ResourceAvailability, 0, 1)

	// Business value: impact share plus keyword and theme signals
	f.BusinessValue = 0.4 * f.Impact
	keywordScore := 0.0
	for _, kw := range businessKeywords {
		if strings.Contains(text, kw) {
			keywordScore += 0.1
		}
	}
	f.BusinessValue += math.Min(keywordScore, 0.4)
	if hasTheme(analysis, "Business") {
		f.BusinessValue += 0.2
	}
	f.BusinessValue = clamp(f.BusinessValue, 0, 1)

	// Stakeholder interest
	f.Stakeholder = 0.5 + 0.3*f.Impact
	if hasTheme(analysis, "Business") {
		f.Stakeholder += 0.15
	}
	if stringKey(context, "stakeholder_visibility") == "high" {
		f.Stakeholder += 0.15
	}
	f.Stakeholder = clamp(f.Stakeholder, 0, 1)

	// Deadline pressure from context
	switch stringKey(context, "deadline") {
	case "immediate":
		f.DeadlinePressure = 1.0
	case "this_week":
		f.DeadlinePressure = 0.7
	case "this_month":
		f.DeadlinePressure = 0.4
	default:
		f.DeadlinePressure = 0.2
	}

	// Dependency factor: 0.2 per dependent team, capped
	if n, ok := floatKey(context, "dependencies"); ok {
		f.Dependency = clamp(0.2*n, 0, 1)
	}

	// Strategic alignment
	f.StrategicAlignment = 0.4
	if b, ok := boolKey(context, "strategic_initiative"); ok && b {
		f.StrategicAlignment = 0.8
	}

	return f
}

// detectBusinessContext classifies the tension in precedence order:
// security incidents dominate, then customer-facing work, compliance,
// innovation, and finally internal operations
func detectBusinessContext(analysis *Analysis, title, description string) string {
	text := strings.ToLower(title + " " + description)
	switch {
	case hasTheme(analysis, "Security") || strings.Contains(text, "security"):
		return ContextSecurityIncident
	case strings.Contains(text, "customer"):
		return ContextCustomerFacing
	case strings.Contains(text, "compliance") || strings.Contains(text, "regulatory") || strings.Contains(text, "legal"):
		return ContextComplianceRelated
	case analysis.TensionType == tension.TypeOpportunity || strings.Contains(text, "innovation"):
		return ContextInnovationProject
	}
	return ContextInternalOperations
}

func applyContextMultipliers(f *factors, bizContext string) {
	switch bizContext {
	case ContextSecurityIncident:
		f.Urgency = clamp(f.Urgency*1.3, 0, 1)
		f.Risk = clamp(f.Risk*1.4, 0, 1)
		f.Impact = clamp(f.Impact*1.2, 0, 1)
	case ContextCustomerFacing:
		f.BusinessValue = clamp(f.BusinessValue*1.3, 0, 1)
		f.Stakeholder = clamp(f.Stakeholder*1.2, 0, 1)
	case ContextComplianceRelated:
		f.Risk = clamp(f.Risk*1.3, 0, 1)
		f.Urgency = clamp(f.Urgency*1.2, 0, 1)
	case ContextInnovationProject:
		f.BusinessValue = clamp(f.BusinessValue*1.2, 0, 1)
		f.Complexity = clamp(f.Complexity*0.9, 0, 1)
	}
}

func weightedAverage(f factors, bizContext string) float64 {
	weights := defaultWeights
	if override, ok := contextWeights[bizContext]; ok {
		weights = override
	}

	score := weights["impact"]*f.Impact +
		weights["urgency"]*f.Urgency +
		weights["complexity"]*(1-f.Complexity) +
		weights["resource_availability"]*f.ResourceAvailability +
		weights["business_value"]*f.BusinessValue +
		weights["risk"]*f.Risk +
		weights["stakeholder"]*f.Stakeholder

	boost := 0.1*f.DeadlinePressure + 0.05*f.Dependency + 0.05*f.StrategicAlignment
	return (score + boost) * 100
}

// eisenhower maps the tension onto the importance/urgency quadrants.
// Scores are banded so the quadrant level always agrees with the
// normalization bands.
func eisenhower(f factors) (float64, Level) {
	importance := (f.Impact + f.BusinessValue + f.StrategicAlignment) / 3
	urgency := (f.Urgency + f.DeadlinePressure + f.Risk) / 3

	const threshold = 0.7
	switch {
	case importance >= threshold && urgency >= threshold:
		return clamp(90+9.9*(importance+urgency)/2, 90, 100), LevelCritical
	case importance >= threshold:
		return 70 + 9.9*urgency, LevelHigh
	case urgency >= threshold:
		return 50 + 9.9*importance, LevelMedium
	}
	return 30 + 9.9*(importance+urgency)/2, LevelLow
}

func rice(f factors, confidence float64) float64 {
	reach := f.Stakeholder
	effort := math.Max(f.Complexity, 0.1)
	score := (reach * f.Impact * confidence) / effort
	return clamp(score*100, 0, 100)
}

func valueComplexity(f factors) float64 {
	value := (f.BusinessValue + f.Impact) / 2
	switch {
	case value >= 0.6 && f.Complexity < 0.5:
		// Quick win
		return clamp(75+20*value, 0, 100)
	case value >= 0.6:
		// Strategic bet
		return 60 + 15*value
	case f.Complexity < 0.5:
		// Fill-in
		return 40 + 20*value
	}
	// Low value, high complexity
	return 20 + 20*value
}

func riskAdjusted(f factors) float64 {
	base := (f.Impact + f.Urgency + f.BusinessValue) / 3
	adjusted := base + f.Risk*0.3 - (1-f.ResourceAvailability)*0.2
	return clamp(adjusted, 0, 1) * 100
}

// normalizePriority maps a score to the (normalized, level) bands
func normalizePriority(score float64) (int, Level) {
	switch {
	case score >= 80:
		return 2, LevelCritical
	case score >= 60:
		return 1, LevelHigh
	case score >= 40:
		return 0, LevelMedium
	}
	return 0, LevelLow
}

// calculationConfidence grows with how far the factor values sit from
// the uninformative midpoint
func calculationConfidence(f factors) float64 {
	values := []float64{
		f.Impact, f.Urgency, f.Complexity, f.ResourceAvailability,
		f.BusinessValue, f.Risk, f.Stakeholder,
	}
	total := 0.0
	for _, v := range values {
		total += math.Abs(v-0.5) * 2
	}
	extremeness := total / float64(len(values))
	return clamp(0.3+extremeness*0.6, 0, maxConfidence)
}

func buildRecommendations(result *CalcResult, f factors) []string {
	var recs []string
	switch {
	case result.FinalScore >= 80:
		recs = append(recs, "Treat as critical: assign an owner and begin work today")
	case result.FinalScore >= 60:
		recs = append(recs, "Schedule into the current work cycle")
	case result.FinalScore >= 40:
		recs = append(recs, "Plan into an upcoming cycle")
	default:
		recs = append(recs, "Backlog candidate; revisit if conditions change")
	}
	if f.ResourceAvailability < 0.4 {
		recs = append(recs, "Secure additional or specialized capacity before starting")
	}
	if f.Complexity > 0.7 {
		recs = append(recs, "Break the work into smaller independent pieces")
	}
	if f.DeadlinePressure > 0.7 {
		recs = append(recs, "Deadline pressure is high; confirm scope can be met in time")
	}
	if result.BusinessContext == ContextSecurityIncident {
		recs = append(recs, "Follow the security incident response process")
	}
	return recs
}

func hasTheme(analysis *Analysis, theme string) bool {
	for _, t := range analysis.KeyThemes {
		if t == theme {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func stringKey(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func boolKey(m map[string]interface{}, key string) (bool, bool) {
	if m == nil {
		return false, false
	}
	b, ok := m[key].(bool)
	return b, ok
}

func floatKey(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	f, ok := toFloat(m[key])
	return f, ok
}

// Methods lists the supported calculation method names
func Methods() []string {
	names := []string{
		MethodWeightedAverage,
		MethodEisenhower,
		MethodRICE,
		MethodValueComplexity,
		MethodRiskAdjusted,
	}
	sort.Strings(names)
	return names
}
