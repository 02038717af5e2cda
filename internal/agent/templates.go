package agent

import (
	"time"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/tension"
)

// Template is an agent blueprint: metadata plus the keyword set the
// matcher scores against and the event types instances subscribe to
type Template struct {
	Metadata      TemplateMetadata  `json:"metadata"`
	Keywords      []string          `json:"keywords"`
	Subscriptions []events.EventType `json:"subscriptions"`
}

func winSplit(w, i, n float64) map[string]float64 {
	return map[string]float64{DimWisdom: w, DimIntelligence: i, DimNetworking: n}
}

// BuiltinTemplates returns the predefined agent catalog. Each call
// returns fresh copies; callers may mutate freely.
func BuiltinTemplates() []*Template {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*Template{
		{
			Metadata: TemplateMetadata{
				TemplateName:  "DataAnalyst",
				PrimaryDomain: "data_analysis",
				Capabilities: []Capability{
					{
						Name:                 "statistical_analysis",
						Description:          "Statistical analysis of structured data sets",
						ProficiencyLevel:     0.9,
						EstimatedTimePerTask: 120,
						RelatedTensionTypes:  []tension.Type{tension.TypeDataAnalysis, tension.TypeProblem},
						WINContribution:      winSplit(0.3, 0.6, 0.1),
					},
					{
						Name:                 "trend_identification",
						Description:          "Detect trends and patterns in historical data",
						ProficiencyLevel:     0.85,
						EstimatedTimePerTask: 90,
						RelatedTensionTypes:  []tension.Type{tension.TypeDataAnalysis, tension.TypeOpportunity},
						WINContribution:      winSplit(0.4, 0.5, 0.1),
					},
					{
						Name:                 "report_generation",
						Description:          "Produce readable reports and visualizations from findings",
						ProficiencyLevel:     0.8,
						EstimatedTimePerTask: 60,
						Prerequisites:        []string{"statistical_analysis"},
						RelatedTensionTypes:  []tension.Type{tension.TypeDataAnalysis},
						WINContribution:      winSplit(0.3, 0.4, 0.3),
					},
				},
				DomainExpertise:       []string{"data analysis", "statistics", "business intelligence", "reporting"},
				SupportedTensionTypes: []tension.Type{tension.TypeDataAnalysis, tension.TypeProblem, tension.TypeOpportunity},
				Version:               "1.0",
				CreatedAt:             created,
				UpdatedAt:             created,
				WINOptimizationWeights: winSplit(0.4, 0.4, 0.2),
			},
			Keywords: []string{"data", "analysis", "analytics", "trends", "patterns", "metrics", "sales", "report", "statistics", "quarterly"},
			Subscriptions: []events.EventType{
				events.EventDataUpdated,
				events.EventAnalysisRequested,
				events.EventReportGenerated,
			},
		},
		{
			Metadata: TemplateMetadata{
				TemplateName:  "CodeGenerator",
				PrimaryDomain: "software_development",
				Capabilities: []Capability{
					{
						Name:                 "code_implementation",
						Description:          "Implement features and fixes in production codebases",
						ProficiencyLevel:     0.9,
						EstimatedTimePerTask: 180,
						RelatedTensionTypes:  []tension.Type{tension.TypeProblem, tension.TypeTechnicalDebt},
						WINContribution:      winSplit(0.2, 0.7, 0.1),
					},
					{
						Name:                 "code_review",
						Description:          "Review changes for correctness, style, and maintainability",
						ProficiencyLevel:     0.85,
						EstimatedTimePerTask: 60,
						RelatedTensionTypes:  []tension.Type{tension.TypeTechnicalDebt},
						WINContribution:      winSplit(0.4, 0.4, 0.2),
					},
					{
						Name:                 "deployment_automation",
						Description:          "Automate build and deployment pipelines",
						ProficiencyLevel:     0.75,
						EstimatedTimePerTask: 120,
						Prerequisites:        []string{"code_implementation"},
						WINContribution:      winSplit(0.2, 0.6, 0.2),
					},
				},
				DomainExpertise:       []string{"software development", "code generation", "devops", "testing"},
				SupportedTensionTypes: []tension.Type{tension.TypeProblem, tension.TypeTechnicalDebt},
				Version:               "1.0",
				CreatedAt:             created,
				UpdatedAt:             created,
				WINOptimizationWeights: winSplit(0.3, 0.5, 0.2),
			},
			Keywords: []string{"code", "bug", "feature", "implement", "deploy", "refactor", "api", "build", "software"},
			Subscriptions: []events.EventType{
				events.EventTaskCreated,
				events.EventCodeReviewRequested,
				events.EventDeploymentRequested,
				events.EventBugReported,
				events.EventFeatureRequested,
			},
		},
		{
			Metadata: TemplateMetadata{
				TemplateName:  "Integration",
				PrimaryDomain: "system_integration",
				Capabilities: []Capability{
					{
						Name:                 "api_integration",
						Description:          "Connect external services over HTTP and messaging APIs",
						ProficiencyLevel:     0.85,
						EstimatedTimePerTask: 150,
						RelatedTensionTypes:  []tension.Type{tension.TypeProblem},
						WINContribution:      winSplit(0.2, 0.5, 0.3),
					},
					{
						Name:                 "data_synchronization",
						Description:          "Keep records consistent across connected systems",
						ProficiencyLevel:     0.8,
						EstimatedTimePerTask: 120,
						WINContribution:      winSplit(0.3, 0.5, 0.2),
					},
					{
						Name:                 "failure_diagnosis",
						Description:          "Diagnose failing calls and broken connections between systems",
						ProficiencyLevel:     0.75,
						EstimatedTimePerTask: 90,
						WINContribution:      winSplit(0.5, 0.4, 0.1),
					},
				},
				DomainExpertise:       []string{"system integration", "apis", "webhooks", "message brokers"},
				SupportedTensionTypes: []tension.Type{tension.TypeProblem, tension.TypeCommunicationBreakdown},
				Version:               "1.0",
				CreatedAt:             created,
				UpdatedAt:             created,
				WINOptimizationWeights: winSplit(0.3, 0.4, 0.3),
			},
			Keywords: []string{"integration", "sync", "webhook", "connector", "pipeline", "api", "broker"},
			Subscriptions: []events.EventType{
				events.EventIntegrationRequested,
				events.EventAPICallFailed,
				events.EventDataSyncCompleted,
			},
		},
		{
			Metadata: TemplateMetadata{
				TemplateName:  "Research",
				PrimaryDomain: "research",
				Capabilities: []Capability{
					{
						Name:                 "information_gathering",
						Description:          "Collect and evaluate sources on a research question",
						ProficiencyLevel:     0.85,
						EstimatedTimePerTask: 120,
						RelatedTensionTypes:  []tension.Type{tension.TypeIdea, tension.TypeOpportunity},
						WINContribution:      winSplit(0.6, 0.3, 0.1),
					},
					{
						Name:                 "knowledge_synthesis",
						Description:          "Synthesize findings into actionable knowledge",
						ProficiencyLevel:     0.8,
						EstimatedTimePerTask: 90,
						Prerequisites:        []string{"information_gathering"},
						WINContribution:      winSplit(0.5, 0.3, 0.2),
					},
					{
						Name:                 "trend_detection",
						Description:          "Spot emerging directions worth investigating",
						ProficiencyLevel:     0.75,
						EstimatedTimePerTask: 60,
						WINContribution:      winSplit(0.5, 0.4, 0.1),
					},
				},
				DomainExpertise:       []string{"research", "market research", "knowledge management"},
				SupportedTensionTypes: []tension.Type{tension.TypeIdea, tension.TypeOpportunity, tension.TypeStrategicMisalignment},
				Version:               "1.0",
				CreatedAt:             created,
				UpdatedAt:             created,
				WINOptimizationWeights: winSplit(0.5, 0.3, 0.2),
			},
			Keywords: []string{"research", "investigate", "explore", "knowledge", "study", "market", "discover"},
			Subscriptions: []events.EventType{
				events.EventResearchRequested,
				events.EventKnowledgeUpdated,
				events.EventTrendDetected,
			},
		},
		{
			Metadata: TemplateMetadata{
				TemplateName:  "UXDesigner",
				PrimaryDomain: "user_experience",
				Capabilities: []Capability{
					{
						Name:                 "usability_assessment",
						Description:          "Evaluate interfaces against usability heuristics",
						ProficiencyLevel:     0.85,
						EstimatedTimePerTask: 90,
						RelatedTensionTypes:  []tension.Type{tension.TypeOpportunity},
						WINContribution:      winSplit(0.5, 0.3, 0.2),
					},
					{
						Name:                 "interface_design",
						Description:          "Design user interfaces and interaction flows",
						ProficiencyLevel:     0.8,
						EstimatedTimePerTask: 180,
						WINContribution:      winSplit(0.3, 0.5, 0.2),
					},
					{
						Name:                 "feedback_analysis",
						Description:          "Turn user feedback into prioritized design changes",
						ProficiencyLevel:     0.75,
						EstimatedTimePerTask: 60,
						WINContribution:      winSplit(0.4, 0.3, 0.3),
					},
				},
				DomainExpertise:       []string{"user experience", "interface design", "usability"},
				SupportedTensionTypes: []tension.Type{tension.TypeOpportunity, tension.TypeIdea},
				Version:               "1.0",
				CreatedAt:             created,
				UpdatedAt:             created,
				WINOptimizationWeights: winSplit(0.4, 0.3, 0.3),
			},
			Keywords: []string{"user", "interface", "design", "usability", "experience", "ux", "feedback"},
			Subscriptions: []events.EventType{
				events.EventUserFeedbackReceived,
				events.EventDesignUpdated,
				events.EventUsabilityTestCompleted,
			},
		},
		{
			Metadata: TemplateMetadata{
				TemplateName:  "Operations",
				PrimaryDomain: "operations",
				Capabilities: []Capability{
					{
						Name:                 "incident_response",
						Description:          "Coordinate response to operational incidents",
						ProficiencyLevel:     0.85,
						EstimatedTimePerTask: 60,
						RelatedTensionTypes:  []tension.Type{tension.TypeProblem, tension.TypeRisk},
						WINContribution:      winSplit(0.4, 0.3, 0.3),
					},
					{
						Name:                 "process_coordination",
						Description:          "Keep cross-team processes running and unblocked",
						ProficiencyLevel:     0.8,
						EstimatedTimePerTask: 90,
						RelatedTensionTypes:  []tension.Type{tension.TypeProcessImprovement, tension.TypeResourceConstraint},
						WINContribution:      winSplit(0.3, 0.3, 0.4),
					},
					{
						Name:                 "escalation_management",
						Description:          "Route unresolved work to the right owner",
						ProficiencyLevel:     0.75,
						EstimatedTimePerTask: 30,
						RelatedTensionTypes:  []tension.Type{tension.TypeConflict, tension.TypeCommunicationBreakdown},
						WINContribution:      winSplit(0.3, 0.2, 0.5),
					},
				},
				DomainExpertise:       []string{"operations", "incident management", "process improvement"},
				SupportedTensionTypes: []tension.Type{tension.TypeProblem, tension.TypeRisk, tension.TypeConflict, tension.TypeProcessImprovement, tension.TypeResourceConstraint, tension.TypeCommunicationBreakdown},
				Version:               "1.0",
				CreatedAt:             created,
				UpdatedAt:             created,
				WINOptimizationWeights: winSplit(0.3, 0.3, 0.4),
			},
			Keywords: []string{"incident", "outage", "process", "escalate", "operations", "coordinate", "workflow"},
			Subscriptions: []events.EventType{
				events.EventTensionCreated,
				events.EventTensionUpdated,
				events.EventAgentError,
			},
		},
	}
}

// typeKeywords drive the keyword fallback in domain relevance when no
// capability declares the tension type explicitly
var typeKeywords = map[tension.Type][]string{
	tension.TypeProblem:                {"fix", "diagnose", "incident", "failure", "implementation"},
	tension.TypeOpportunity:            {"improve", "design", "research", "analysis", "growth"},
	tension.TypeRisk:                   {"risk", "incident", "security", "diagnosis", "response"},
	tension.TypeConflict:               {"escalation", "coordination", "mediation"},
	tension.TypeIdea:                   {"research", "design", "explore", "synthesis"},
	tension.TypeResourceConstraint:     {"coordination", "process", "allocation"},
	tension.TypeProcessImprovement:     {"process", "workflow", "coordination", "automation"},
	tension.TypeCommunicationBreakdown: {"coordination", "escalation", "synchronization"},
	tension.TypeStrategicMisalignment:  {"research", "synthesis", "knowledge"},
	tension.TypeTechnicalDebt:          {"code", "review", "refactor", "implementation"},
	tension.TypeDataAnalysis:           {"analysis", "data", "report", "trend", "statistical"},
}
