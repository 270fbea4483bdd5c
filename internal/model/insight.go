package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Facet is one of the six per-application insight dimensions.
type Facet string

const (
	FacetCapability              Facet = "capability"
	FacetUserSatisfaction        Facet = "user-satisfaction"
	FacetTechnicalDebt           Facet = "technical-debt"
	FacetIntegrationOpportunity  Facet = "integration-opportunity"
	FacetMarketAlternative       Facet = "market-alternative"
	FacetStrategicRecommendation Facet = "strategic-recommendation"
)

// AllFacets lists the facets in generation order. The strategic
// recommendation is last because it summarises the others.
var AllFacets = []Facet{
	FacetCapability,
	FacetUserSatisfaction,
	FacetTechnicalDebt,
	FacetIntegrationOpportunity,
	FacetMarketAlternative,
	FacetStrategicRecommendation,
}

// Valid reports whether f is a known facet.
func (f Facet) Valid() bool {
	for _, k := range AllFacets {
		if k == f {
			return true
		}
	}
	return false
}

// ConfidenceLevel is the coarse confidence attached to an insight.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Valid reports whether c is a known level.
func (c ConfidenceLevel) Valid() bool {
	return c == ConfidenceHigh || c == ConfidenceMedium || c == ConfidenceLow
}

// UnmarshalText accepts any letter case ("High", "LOW").
func (c *ConfidenceLevel) UnmarshalText(b []byte) error {
	*c = ConfidenceLevel(strings.ToLower(strings.TrimSpace(string(b))))
	return nil
}

// Score maps the level onto [0,1] for aggregate reporting.
func (c ConfidenceLevel) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return 0.9
	case ConfidenceMedium:
		return 0.6
	default:
		return 0.3
	}
}

// Priority ranks an insight. P1 is most urgent.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Valid reports whether p is P1, P2 or P3.
func (p Priority) Valid() bool {
	return p == PriorityP1 || p == PriorityP2 || p == PriorityP3
}

// ParsePriority normalizes free text such as " p1" to a Priority. The
// result may still be invalid.
func ParsePriority(s string) Priority {
	return Priority(strings.ToUpper(strings.TrimSpace(s)))
}

// UnmarshalText accepts any letter case ("p2").
func (p *Priority) UnmarshalText(b []byte) error {
	*p = ParsePriority(string(b))
	return nil
}

// Rank returns 1..3 for valid priorities and 4 otherwise.
func (p Priority) Rank() int {
	switch p {
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	}
	return 4
}

// Insight is one stored facet for one application.
type Insight struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Facet         Facet           `json:"facet"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Priority      Priority        `json:"priority,omitempty"`
	Impact        string          `json:"impact,omitempty"`
	Complexity    string          `json:"complexity,omitempty"`
	Confidence    ConfidenceLevel `json:"confidence"`
	Evidence      []string        `json:"evidence"`
	AffectedApps  []string        `json:"affected_apps,omitempty"`
	Unsupported   bool            `json:"unsupported,omitempty"`
	NotApplicable bool            `json:"not_applicable,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ModelVersion  string          `json:"model_version,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// PortfolioInsightType is the closed set of cross-application findings.
type PortfolioInsightType string

const (
	PortfolioConsolidation    PortfolioInsightType = "consolidation"
	PortfolioIntegrationPoint PortfolioInsightType = "integration-point"
	PortfolioRedundancy       PortfolioInsightType = "redundancy"
	PortfolioGap              PortfolioInsightType = "gap"
	PortfolioQuickWin         PortfolioInsightType = "quick-win"
	PortfolioRisk             PortfolioInsightType = "risk"
)

// PortfolioInsightTypes lists the types in their canonical sort order.
var PortfolioInsightTypes = []PortfolioInsightType{
	PortfolioConsolidation,
	PortfolioIntegrationPoint,
	PortfolioRedundancy,
	PortfolioGap,
	PortfolioQuickWin,
	PortfolioRisk,
}

// Rank returns the position of t in PortfolioInsightTypes, or -1.
func (t PortfolioInsightType) Rank() int {
	for i, k := range PortfolioInsightTypes {
		if k == t {
			return i
		}
	}
	return -1
}

// PortfolioInsight is a cross-application finding.
type PortfolioInsight struct {
	ID                string               `json:"id"`
	Type              PortfolioInsightType `json:"type"`
	Title             string               `json:"title"`
	Description       string               `json:"description"`
	Priority          Priority             `json:"priority"`
	Impact            string               `json:"impact"`
	Complexity        string               `json:"complexity"`
	Evidence          []string             `json:"evidence"`
	AffectedApps      []string             `json:"affected_apps"`
	RecommendedAction string               `json:"recommended_action"`
	ModelVersion      string               `json:"model_version,omitempty"`
	GeneratedAt       time.Time            `json:"generated_at"`
}
