package reasoning

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RuleType categorizes a business rule
type RuleType string

const (
	RuleTypeCondition  RuleType = "condition"
	RuleTypeAction     RuleType = "action"
	RuleTypeValidation RuleType = "validation"
	RuleTypeEscalation RuleType = "escalation"
)

// Operator is a condition comparison operator
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// Condition is one field test within a rule. Field is a dotted path into
// the evaluation context.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Action is what a matched rule emits. Execution is side-effect free:
// it produces a record, never mutates the context.
type Action struct {
	ActionType string                 `json:"action_type"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Rule is a declarative business rule. All conditions AND together.
type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Type        RuleType    `json:"rule_type"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`
	Priority    int         `json:"priority"` // lower evaluates first
	Enabled     bool        `json:"enabled"`
}

// ActionResult records one executed action with a context snapshot.
// When two matched rules carry opposed action types, the action from the
// later (lower-precedence) rule is kept but marked Suppressed, with the
// winning rule named. Consumers honoring the conflict policy skip
// suppressed actions.
type ActionResult struct {
	ActionType   string                 `json:"action_type"`
	Parameters   map[string]interface{} `json:"parameters"`
	Context      map[string]interface{} `json:"context"`
	Suppressed   bool                   `json:"suppressed,omitempty"`
	SuppressedBy string                 `json:"suppressed_by,omitempty"`
}

// RuleMatch is the evaluation record for one matched rule
type RuleMatch struct {
	RuleID    string         `json:"rule_id"`
	RuleName  string         `json:"rule_name"`
	Priority  int            `json:"priority"`
	Actions   []ActionResult `json:"actions"`
	MatchedAt time.Time      `json:"matched_at"`
}

// RuleValidationResult reports rule validity. Warnings do not make a
// rule invalid.
type RuleValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// RuleConflict is a pair of rules with overlapping condition fields and
// opposed action types
type RuleConflict struct {
	RuleA       string `json:"rule_a"`
	RuleB       string `json:"rule_b"`
	SharedField string `json:"shared_field"`
	ActionA     string `json:"action_a"`
	ActionB     string `json:"action_b"`
}

// RulesSummary aggregates the current rule set
type RulesSummary struct {
	Total    int              `json:"total"`
	Enabled  int              `json:"enabled"`
	ByType   map[RuleType]int `json:"by_type"`
	RuleIDs  []string         `json:"rule_ids"`
}

// opposedActions defines which action types conflict with each other
var opposedActions = map[string]string{
	"escalate":          "de-escalate",
	"de-escalate":       "escalate",
	"assign":            "unassign",
	"unassign":          "assign",
	"increase-priority": "decrease-priority",
	"decrease-priority": "increase-priority",
}

// RuleEngine holds a mutable rule set and evaluates it against context
// maps. Mutation is exclusive; evaluation reads a consistent snapshot.
type RuleEngine struct {
	mu     sync.RWMutex
	rules  map[string]*Rule
	order  []string // insertion order, for stable sorting
	logger *zap.Logger
}

// NewRuleEngine creates a rule engine. When loadDefaults is true the
// built-in organizational rule set is installed.
func NewRuleEngine(loadDefaults bool, logger *zap.Logger) *RuleEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &RuleEngine{
		rules:  make(map[string]*Rule),
		logger: logger.Named("rules"),
	}
	if loadDefaults {
		for _, r := range defaultRules() {
			// Defaults are well-formed; AddRule cannot fail here
			_ = e.AddRule(r)
		}
	}
	return e
}

// AddRule validates and installs a rule
func (e *RuleEngine) AddRule(rule *Rule) error {
	result := e.ValidateRule(rule)
	if !result.Valid {
		return fmt.Errorf("invalid rule: %s", strings.Join(result.Errors, "; "))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	e.order = append(e.order, rule.ID)
	e.logger.Debug("rule added", zap.String("id", rule.ID), zap.String("name", rule.Name))
	return nil
}

// RemoveRule deletes a rule by id; returns false if absent
func (e *RuleEngine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	for i, rid := range e.order {
		if rid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// GetRule returns a rule by id
func (e *RuleEngine) GetRule(id string) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	return r, ok
}

// ValidateRule checks a rule for structural problems. A rule is invalid
// with no id, no name, or a duplicate id; empty condition or action
// lists only warn.
func (e *RuleEngine) ValidateRule(rule *Rule) RuleValidationResult {
	var result RuleValidationResult
	if rule.ID == "" {
		result.Errors = append(result.Errors, "rule has no id")
	}
	if rule.Name == "" {
		result.Errors = append(result.Errors, "rule has no name")
	}
	e.mu.RLock()
	if _, exists := e.rules[rule.ID]; exists {
		result.Errors = append(result.Errors, fmt.Sprintf("duplicate rule id %q", rule.ID))
	}
	e.mu.RUnlock()

	if len(rule.Conditions) == 0 {
		result.Warnings = append(result.Warnings, "rule has no conditions; it will match every context")
	}
	if len(rule.Actions) == 0 {
		result.Warnings = append(result.Warnings, "rule has no actions")
	}
	result.Valid = len(result.Errors) == 0
	return result
}

// Evaluate runs all enabled rules against the context, optionally
// filtered by rule type. Rules run in ascending Priority order, stable
// for equal priorities. Conflicting actions from later rules are marked
// suppressed; evaluation itself never aborts on conflict.
func (e *RuleEngine) Evaluate(context map[string]interface{}, filter ...RuleType) []RuleMatch {
	e.mu.RLock()
	candidates := make([]*Rule, 0, len(e.order))
	for _, id := range e.order {
		r := e.rules[id]
		if r == nil || !r.Enabled {
			continue
		}
		if len(filter) > 0 && !containsType(filter, r.Type) {
			continue
		}
		candidates = append(candidates, r)
	}
	e.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	var matches []RuleMatch
	executed := make(map[string]string) // action type -> rule id that executed it
	for _, rule := range candidates {
		if !e.ruleMatches(rule, context) {
			continue
		}

		match := RuleMatch{
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			Priority:  rule.Priority,
			MatchedAt: time.Now(),
		}
		for _, action := range rule.Actions {
			result := ActionResult{
				ActionType: action.ActionType,
				Parameters: action.Parameters,
				Context:    snapshotContext(context),
			}
			if opposed, ok := opposedActions[action.ActionType]; ok {
				if winner, done := executed[opposed]; done {
					result.Suppressed = true
					result.SuppressedBy = winner
				}
			}
			if !result.Suppressed {
				executed[action.ActionType] = rule.ID
			}
			match.Actions = append(match.Actions, result)
		}
		matches = append(matches, match)
	}
	return matches
}

func (e *RuleEngine) ruleMatches(rule *Rule, context map[string]interface{}) bool {
	for _, cond := range rule.Conditions {
		if !evaluateCondition(cond, context) {
			return false
		}
	}
	return true
}

// DetectConflicts reports every pair of enabled rules that share a
// condition field and carry opposed action types. Each pair is reported
// once.
func (e *RuleEngine) DetectConflicts() []RuleConflict {
	e.mu.RLock()
	rules := make([]*Rule, 0, len(e.order))
	for _, id := range e.order {
		if r := e.rules[id]; r != nil && r.Enabled {
			rules = append(rules, r)
		}
	}
	e.mu.RUnlock()

	var conflicts []RuleConflict
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules); j++ {
			if c, ok := conflictBetween(rules[i], rules[j]); ok {
				conflicts = append(conflicts, c)
			}
		}
	}
	return conflicts
}

func conflictBetween(a, b *Rule) (RuleConflict, bool) {
	shared := ""
	for _, ca := range a.Conditions {
		for _, cb := range b.Conditions {
			if ca.Field == cb.Field {
				shared = ca.Field
				break
			}
		}
		if shared != "" {
			break
		}
	}
	if shared == "" {
		return RuleConflict{}, false
	}

	for _, aa := range a.Actions {
		opposed, ok := opposedActions[aa.ActionType]
		if !ok {
			continue
		}
		for _, ba := range b.Actions {
			if ba.ActionType == opposed {
				return RuleConflict{
					RuleA:       a.ID,
					RuleB:       b.ID,
					SharedField: shared,
					ActionA:     aa.ActionType,
					ActionB:     ba.ActionType,
				}, true
			}
		}
	}
	return RuleConflict{}, false
}

// Summary reports the current rule set composition
func (e *RuleEngine) Summary() RulesSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	summary := RulesSummary{
		ByType:  make(map[RuleType]int),
		RuleIDs: append([]string(nil), e.order...),
	}
	for _, r := range e.rules {
		summary.Total++
		if r.Enabled {
			summary.Enabled++
		}
		summary.ByType[r.Type]++
	}
	return summary
}

// --- condition evaluation ---

// lookupField resolves a dotted path against nested maps
func lookupField(context map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = context
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func evaluateCondition(cond Condition, context map[string]interface{}) bool {
	value, found := lookupField(context, cond.Field)
	if !found {
		// NotEquals and NotContains hold vacuously on missing fields
		return cond.Operator == OpNotEquals || cond.Operator == OpNotContains || cond.Operator == OpNotIn
	}

	switch cond.Operator {
	case OpEquals:
		return valuesEqual(value, cond.Value)
	case OpNotEquals:
		return !valuesEqual(value, cond.Value)
	case OpGreaterThan:
		a, aok := toFloat(value)
		b, bok := toFloat(cond.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(value)
		b, bok := toFloat(cond.Value)
		return aok && bok && a < b
	case OpContains:
		return containsFold(value, cond.Value)
	case OpNotContains:
		return !containsFold(value, cond.Value)
	case OpIn:
		return inCollection(value, cond.Value)
	case OpNotIn:
		return !inCollection(value, cond.Value)
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case Level:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// containsFold does a case-insensitive substring test on the string form
// of the field value
func containsFold(value, substr interface{}) bool {
	haystack := strings.ToLower(fmt.Sprintf("%v", value))
	needle := strings.ToLower(fmt.Sprintf("%v", substr))
	return strings.Contains(haystack, needle)
}

// inCollection treats the configured value as a collection and tests
// membership of the field value
func inCollection(value, collection interface{}) bool {
	switch c := collection.(type) {
	case []interface{}:
		for _, item := range c {
			if valuesEqual(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range c {
			if valuesEqual(value, item) {
				return true
			}
		}
	}
	return false
}

func containsType(filter []RuleType, t RuleType) bool {
	for _, f := range filter {
		if f == t {
			return true
		}
	}
	return false
}

func snapshotContext(context map[string]interface{}) map[string]interface{} {
	snapshot := make(map[string]interface{}, len(context))
	for k, v := range context {
		snapshot[k] = v
	}
	return snapshot
}

// defaultEscalationRuleID names the built-in rule that must fire for a
// critically assessed tension
const defaultEscalationRuleID = "critical-tension-escalation"

// defaultRules is the organizational rule set installed at construction
func defaultRules() []*Rule {
	return []*Rule{
		{
			ID:          defaultEscalationRuleID,
			Name:        "Critical Tension Escalation",
			Description: "Escalate tensions assessed as critical priority with critical impact",
			Type:        RuleTypeEscalation,
			Priority:    10,
			Enabled:     true,
			Conditions: []Condition{
				{Field: "analysis.suggested_priority", Operator: OpGreaterThan, Value: 1},
				{Field: "analysis.impact_level", Operator: OpGreaterThan, Value: 3},
			},
			Actions: []Action{
				{ActionType: "escalate", Parameters: map[string]interface{}{"level": "management", "notify": true}},
				{ActionType: "increase-priority", Parameters: map[string]interface{}{"to": "Critical"}},
			},
		},
		{
			ID:          "security-theme-handling",
			Name:        "Security Theme Handling",
			Description: "Route security-themed tensions to the security response path",
			Type:        RuleTypeAction,
			Priority:    20,
			Enabled:     true,
			Conditions: []Condition{
				{Field: "analysis.key_themes", Operator: OpContains, Value: "Security"},
			},
			Actions: []Action{
				{ActionType: "assign", Parameters: map[string]interface{}{"team": "security"}},
				{ActionType: "flag-security-review", Parameters: map[string]interface{}{"sla_hours": 24}},
			},
		},
		{
			ID:          "high-impact-business",
			Name:        "High Impact Business Tension",
			Description: "Notify stakeholders about high-impact business tensions",
			Type:        RuleTypeAction,
			Priority:    30,
			Enabled:     true,
			Conditions: []Condition{
				{Field: "analysis.key_themes", Operator: OpContains, Value: "Business"},
				{Field: "analysis.impact_level", Operator: OpGreaterThan, Value: 2},
			},
			Actions: []Action{
				{ActionType: "notify-stakeholders", Parameters: map[string]interface{}{"channel": "business-review"}},
			},
		},
		{
			ID:          "technical-debt-tagging",
			Name:        "Technical Debt Tagging",
			Description: "Tag technology problems that name technical debt",
			Type:        RuleTypeAction,
			Priority:    40,
			Enabled:     true,
			Conditions: []Condition{
				{Field: "tension.type", Operator: OpEquals, Value: "Problem"},
				{Field: "analysis.key_themes", Operator: OpContains, Value: "Technology"},
				{Field: "tension.title", Operator: OpContains, Value: "technical debt"},
			},
			Actions: []Action{
				{ActionType: "tag", Parameters: map[string]interface{}{"tag": "technical-debt"}},
			},
		},
		{
			ID:          "opportunity-prioritization",
			Name:        "Opportunity Prioritization",
			Description: "Queue opportunities for evaluation against strategic goals",
			Type:        RuleTypeAction,
			Priority:    50,
			Enabled:     true,
			Conditions: []Condition{
				{Field: "tension.type", Operator: OpEquals, Value: "Opportunity"},
			},
			Actions: []Action{
				{ActionType: "evaluate-opportunity", Parameters: map[string]interface{}{"board": "strategy"}},
			},
		},
	}
}
