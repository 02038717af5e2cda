package reasoning

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tensionos/tensiond/internal/tension"
)

// SolutionType classifies a generated solution
type SolutionType string

const (
	SolutionImmediateAction    SolutionType = "immediate_action"
	SolutionInvestigation      SolutionType = "investigation"
	SolutionProcessImprovement SolutionType = "process_improvement"
	SolutionTechnology         SolutionType = "technology_solution"
	SolutionTraining           SolutionType = "training"
	SolutionPolicyChange       SolutionType = "policy_change"
	SolutionEscalation         SolutionType = "escalation"
)

// maxSolutions bounds how many ranked solutions one tension receives
const maxSolutions = 5

// Step is one unit of work within a solution. Dependencies reference
// earlier step ids in the same solution and always form a DAG.
type Step struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	EstimatedEffort  string   `json:"estimated_effort"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	RequiredSkills   []string `json:"required_skills"`
	Dependencies     []string `json:"dependencies"`
}

// Solution is one ranked candidate resolution for a tension
type Solution struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	Type              SolutionType `json:"solution_type"`
	Priority          Level        `json:"priority"`
	EstimatedImpact   string       `json:"estimated_impact"`
	EstimatedEffort   string       `json:"estimated_effort"`
	SuccessCriteria   []string     `json:"success_criteria"`
	Steps             []Step       `json:"steps"`
	RequiredResources []string     `json:"required_resources"`
	Risks             []string     `json:"risks"`
	Alternatives      []string     `json:"alternatives"`
	ConfidenceScore   float64      `json:"confidence_score"`
	Reasoning         string       `json:"reasoning"`
	CreatedAt         time.Time    `json:"created_at"`
}

// solutionTemplate is the raw material a Solution is instantiated from
type solutionTemplate struct {
	Title           string
	Description     string
	Type            SolutionType
	Priority        Level
	Impact          string
	StepTitles      []string
	SuccessCriteria []string
	Resources       []string
	Risks           []string
}

// Generator produces ranked solution candidates from an analysis
type Generator struct{}

// NewGenerator creates a solution generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns up to five ranked solutions for the analyzed tension
func (g *Generator) Generate(analysis *Analysis, title, description string) []*Solution {
	if analysis == nil {
		return nil
	}
	text := strings.ToLower(title + " " + description)

	var solutions []*Solution

	// Primary solution from the tension-type template, confidence scaled
	// off the analysis confidence
	primary := g.instantiate(primaryTemplate(analysis.TensionType, text), analysis.ConfidenceScore*0.8,
		fmt.Sprintf("Primary approach for a %s tension", analysis.TensionType))
	solutions = append(solutions, primary)

	// Theme-based alternatives
	for _, theme := range analysis.KeyThemes {
		tmpl, ok := themeTemplates[theme]
		if !ok {
			continue
		}
		alt := g.instantiate(tmpl, 0.7, fmt.Sprintf("Alternative derived from the %s theme", theme))
		solutions = append(solutions, alt)
	}

	// Escalation path for critical suggestions
	if analysis.SuggestedPriority >= SuggestCritical {
		esc := g.instantiate(escalationTemplate, 0.9, "Escalation path for a critical-priority tension")
		solutions = append(solutions, esc)
	}

	sort.SliceStable(solutions, func(i, j int) bool {
		if solutions[i].Priority != solutions[j].Priority {
			return solutions[i].Priority > solutions[j].Priority
		}
		return solutions[i].ConfidenceScore > solutions[j].ConfidenceScore
	})

	if len(solutions) > maxSolutions {
		solutions = solutions[:maxSolutions]
	}
	return solutions
}

// instantiate builds a Solution from a template, chaining steps into a
// linear DAG (each step depends on the one before it)
func (g *Generator) instantiate(tmpl solutionTemplate, confidence float64, reasoning string) *Solution {
	id := uuid.New().String()

	steps := make([]Step, 0, len(tmpl.StepTitles))
	totalMinutes := 0
	for i, stepTitle := range tmpl.StepTitles {
		effort, minutes := estimateStepEffort(stepTitle)
		step := Step{
			ID:               fmt.Sprintf("%s-step-%d", id, i+1),
			Title:            stepTitle,
			Description:      stepTitle,
			EstimatedEffort:  effort,
			EstimatedMinutes: minutes,
		}
		if i > 0 {
			step.Dependencies = []string{steps[i-1].ID}
		}
		steps = append(steps, step)
		totalMinutes += minutes
	}

	return &Solution{
		ID:                id,
		Title:             tmpl.Title,
		Description:       tmpl.Description,
		Type:              tmpl.Type,
		Priority:          tmpl.Priority,
		EstimatedImpact:   tmpl.Impact,
		EstimatedEffort:   formatTotalEffort(totalMinutes),
		SuccessCriteria:   append([]string(nil), tmpl.SuccessCriteria...),
		Steps:             steps,
		RequiredResources: append([]string(nil), tmpl.Resources...),
		Risks:             append([]string(nil), tmpl.Risks...),
		ConfidenceScore:   confidence,
		Reasoning:         reasoning,
		CreatedAt:         time.Now(),
	}
}

// ValidateSteps checks that every step dependency resolves to a step id
// within the same solution and that the dependency graph is acyclic
func ValidateSteps(s *Solution) error {
	ids := make(map[string]bool, len(s.Steps))
	for _, step := range s.Steps {
		ids[step.ID] = true
	}
	adj := make(map[string][]string, len(s.Steps))
	for _, step := range s.Steps {
		for _, dep := range step.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("step %s depends on unknown step %s", step.ID, dep)
			}
			adj[step.ID] = append(adj[step.ID], dep)
		}
	}

	// DFS cycle check
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(s.Steps))
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("dependency cycle involving step %s", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range adj[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, step := range s.Steps {
		if err := visit(step.ID); err != nil {
			return err
		}
	}
	return nil
}

// estimateStepEffort classifies a step by its leading verb
func estimateStepEffort(stepTitle string) (string, int) {
	first := strings.ToLower(stepTitle)
	if i := strings.IndexByte(first, ' '); i > 0 {
		first = first[:i]
	}
	switch first {
	case "immediate", "immediately", "quick", "assess", "notify", "acknowledge":
		return "1-2 hours", 90
	case "develop", "implement", "create", "build", "deploy":
		return "1-2 days", 720
	case "analyze", "investigate", "review", "research":
		return "2-4 hours", 180
	}
	return "4-8 hours", 360
}

func formatTotalEffort(minutes int) string {
	switch {
	case minutes <= 0:
		return "unknown"
	case minutes < 480:
		return fmt.Sprintf("%d hours", (minutes+59)/60)
	default:
		return fmt.Sprintf("%d days", (minutes+479)/480)
	}
}

// primaryTemplate selects the tension-type template, sub-selecting for
// Problem and Opportunity by keyword
func primaryTemplate(t tension.Type, text string) solutionTemplate {
	switch t {
	case tension.TypeProblem:
		switch {
		case strings.Contains(text, "bug") || strings.Contains(text, "defect"):
			return bugFixTemplate
		case strings.Contains(text, "outage") || strings.Contains(text, "down") || strings.Contains(text, "not responding"):
			return systemRecoveryTemplate
		case strings.Contains(text, "performance") || strings.Contains(text, "slow"):
			return performanceTemplate
		}
		return rootCauseTemplate
	case tension.TypeOpportunity:
		if strings.Contains(text, "process") || strings.Contains(text, "workflow") {
			return processOpportunityTemplate
		}
		return technologyOpportunityTemplate
	case tension.TypeRisk:
		return riskMitigationTemplate
	case tension.TypeConflict:
		return conflictResolutionTemplate
	case tension.TypeIdea:
		return ideaValidationTemplate
	}
	return genericTemplate
}

var bugFixTemplate = solutionTemplate{
	Title:       "Bug Fix",
	Description: "Reproduce, fix and verify the reported defect",
	Type:        SolutionImmediateAction,
	Priority:    LevelHigh,
	Impact:      "Restores correct behavior for affected users",
	StepTitles: []string{
		"Reproduce the reported issue",
		"Analyze failure path and isolate the defect",
		"Implement the fix with regression coverage",
		"Deploy and verify in production",
	},
	SuccessCriteria: []string{"Defect no longer reproducible", "Regression test added"},
	Resources:       []string{"Engineer familiar with the affected component"},
	Risks:           []string{"Fix may mask a deeper design problem"},
}

var systemRecoveryTemplate = solutionTemplate{
	Title:       "System Recovery",
	Description: "Restore service, then address the failure cause",
	Type:        SolutionImmediateAction,
	Priority:    LevelCritical,
	Impact:      "Restores availability of the affected system",
	StepTitles: []string{
		"Immediate service restoration from last known good state",
		"Assess blast radius and notify affected parties",
		"Investigate root cause of the failure",
		"Implement safeguards preventing recurrence",
	},
	SuccessCriteria: []string{"Service availability restored", "Root cause documented"},
	Resources:       []string{"On-call engineer", "Operations runbook"},
	Risks:           []string{"Restoration without root cause may recur"},
}

var performanceTemplate = solutionTemplate{
	Title:       "Performance Optimization",
	Description: "Profile, identify and remove the dominant bottleneck",
	Type:        SolutionTechnology,
	Priority:    LevelHigh,
	Impact:      "Improves responsiveness of the affected workflow",
	StepTitles: []string{
		"Analyze current performance profile",
		"Identify dominant bottlenecks",
		"Implement targeted optimizations",
		"Verify improvement against baseline",
	},
	SuccessCriteria: []string{"Measured latency within target"},
	Resources:       []string{"Profiling tooling", "Performance engineer"},
	Risks:           []string{"Optimization may trade off maintainability"},
}

var rootCauseTemplate = solutionTemplate{
	Title:       "Root Cause Resolution",
	Description: "Investigate the problem systematically and resolve its cause",
	Type:        SolutionInvestigation,
	Priority:    LevelMedium,
	Impact:      "Removes the underlying cause rather than symptoms",
	StepTitles: []string{
		"Investigate and document the problem",
		"Identify contributing factors",
		"Develop remediation plan",
		"Implement and verify remediation",
	},
	SuccessCriteria: []string{"Problem closed with documented cause"},
	Resources:       []string{"Subject-matter expert"},
	Risks:           []string{"Investigation may surface wider issues"},
}

var processOpportunityTemplate = solutionTemplate{
	Title:       "Process Improvement Initiative",
	Description: "Redesign the affected process to capture the opportunity",
	Type:        SolutionProcessImprovement,
	Priority:    LevelMedium,
	Impact:      "Sustained efficiency gain for the affected process",
	StepTitles: []string{
		"Analyze current process and its metrics",
		"Develop improved process design",
		"Implement changes with the affected team",
		"Review outcomes after one cycle",
	},
	SuccessCriteria: []string{"Process metrics improve against baseline"},
	Resources:       []string{"Process owner", "Affected team time"},
	Risks:           []string{"Change fatigue in the affected team"},
}

var technologyOpportunityTemplate = solutionTemplate{
	Title:       "Technology Enhancement",
	Description: "Build the enhancement the opportunity identifies",
	Type:        SolutionTechnology,
	Priority:    LevelMedium,
	Impact:      "Delivers the identified capability improvement",
	StepTitles: []string{
		"Assess feasibility and expected value",
		"Develop the enhancement incrementally",
		"Deploy behind a gradual rollout",
		"Review adoption and measured value",
	},
	SuccessCriteria: []string{"Enhancement adopted by target users"},
	Resources:       []string{"Engineering capacity"},
	Risks:           []string{"Value estimate may not materialize"},
}

var riskMitigationTemplate = solutionTemplate{
	Title:       "Risk Mitigation Plan",
	Description: "Quantify the risk and put mitigations in place",
	Type:        SolutionInvestigation,
	Priority:    LevelHigh,
	Impact:      "Reduces likelihood and impact of the identified risk",
	StepTitles: []string{
		"Assess likelihood and potential impact",
		"Identify mitigation options",
		"Implement the selected mitigations",
		"Establish monitoring for early warning",
	},
	SuccessCriteria: []string{"Residual risk accepted by the owner"},
	Resources:       []string{"Risk owner", "Relevant specialists"},
	Risks:           []string{"Mitigation cost may exceed expected loss"},
}

var conflictResolutionTemplate = solutionTemplate{
	Title:       "Conflict Resolution",
	Description: "Surface the underlying interests and align the parties",
	Type:        SolutionProcessImprovement,
	Priority:    LevelMedium,
	Impact:      "Restores effective collaboration",
	StepTitles: []string{
		"Assess positions and underlying interests",
		"Facilitate a structured conversation",
		"Agree on a shared working arrangement",
		"Review the arrangement after two weeks",
	},
	SuccessCriteria: []string{"Parties agree on the arrangement"},
	Resources:       []string{"Neutral facilitator"},
	Risks:           []string{"Unresolved interests may resurface"},
}

var ideaValidationTemplate = solutionTemplate{
	Title:       "Idea Validation",
	Description: "Test the idea cheaply before committing resources",
	Type:        SolutionInvestigation,
	Priority:    LevelLow,
	Impact:      "Validates or discards the idea with minimal spend",
	StepTitles: []string{
		"Assess the idea against current goals",
		"Develop a minimal experiment",
		"Review experiment results",
	},
	SuccessCriteria: []string{"Clear go/no-go decision recorded"},
	Resources:       []string{"Small experiment budget"},
	Risks:           []string{"Experiment may not generalize"},
}

var genericTemplate = solutionTemplate{
	Title:       "Structured Resolution",
	Description: "Clarify the tension and resolve it stepwise",
	Type:        SolutionInvestigation,
	Priority:    LevelMedium,
	Impact:      "Moves an unclassified tension to a resolvable state",
	StepTitles: []string{
		"Investigate and clarify the tension",
		"Identify the responsible owner",
		"Develop a resolution plan",
		"Implement and close",
	},
	SuccessCriteria: []string{"Tension closed with documented outcome"},
	Resources:       []string{"Owner time"},
	Risks:           []string{"Scope may grow during clarification"},
}

// themeTemplates maps analysis themes to alternative solution skeletons
var themeTemplates = map[string]solutionTemplate{
	"Technology": {
		Title:       "Technical Remediation",
		Description: "Address the tension through a technical change",
		Type:        SolutionTechnology,
		Priority:    LevelMedium,
		Impact:      "Technical debt and reliability improvement",
		StepTitles: []string{
			"Review the affected technical components",
			"Develop the technical change",
			"Deploy with rollback plan",
		},
		SuccessCriteria: []string{"Change deployed without incident"},
		Resources:       []string{"Engineering capacity"},
		Risks:           []string{"Change may interact with adjacent systems"},
	},
	"Business": {
		Title:       "Business Process Adjustment",
		Description: "Address the tension through a business-side change",
		Type:        SolutionProcessImprovement,
		Priority:    LevelMedium,
		Impact:      "Aligns business operations with the identified need",
		StepTitles: []string{
			"Analyze business impact and stakeholders",
			"Develop the adjusted process",
			"Implement with stakeholder sign-off",
		},
		SuccessCriteria: []string{"Stakeholders sign off on the adjustment"},
		Resources:       []string{"Stakeholder time"},
		Risks:           []string{"Competing business priorities"},
	},
	"Security": {
		Title:       "Security Hardening",
		Description: "Close the security exposure and verify the fix",
		Type:        SolutionImmediateAction,
		Priority:    LevelHigh,
		Impact:      "Reduces the security attack surface",
		StepTitles: []string{
			"Assess exposure and affected assets",
			"Implement the security fix",
			"Review with a follow-up security audit",
		},
		SuccessCriteria: []string{"Follow-up audit passes"},
		Resources:       []string{"Security engineer"},
		Risks:           []string{"Fix may break dependent integrations"},
	},
}

var escalationTemplate = solutionTemplate{
	Title:       "Management Escalation",
	Description: "Escalate for immediate attention and resourcing",
	Type:        SolutionEscalation,
	Priority:    LevelCritical,
	Impact:      "Secures leadership attention and resources quickly",
	StepTitles: []string{
		"Notify responsible leadership immediately",
		"Assess alignment on severity and ownership",
		"Immediate allocation of required resources",
	},
	SuccessCriteria: []string{"Owner and resources confirmed"},
	Resources:       []string{"Leadership availability"},
	Risks:           []string{"Escalation fatigue if overused"},
}
