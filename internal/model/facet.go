package model

import "strings"

// FacetBody carries the fields every facet variant shares.
type FacetBody struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    Priority        `json:"priority,omitempty"`
	Impact      string          `json:"impact,omitempty"`
	Complexity  string          `json:"complexity,omitempty"`
	Confidence  ConfidenceLevel `json:"confidence"`
	Evidence    []string        `json:"evidence"`
}

// Body returns the shared fields.
func (b FacetBody) Body() FacetBody { return b }

func (b FacetBody) validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return Invalid("title", "required")
	}
	if !b.Confidence.Valid() {
		return Invalid("confidence", "must be high, medium or low, got %q", b.Confidence)
	}
	if b.Priority != "" && !b.Priority.Valid() {
		return Invalid("priority", "must be P1, P2 or P3, got %q", b.Priority)
	}
	return nil
}

// FacetPayload is the tagged variant produced for one facet. Each
// implementation validates its own required fields.
type FacetPayload interface {
	Facet() Facet
	Body() FacetBody
	Validate() error
	// References lists other applications the facet names.
	References() []string
}

// CapabilityFacet describes what the application does well and badly.
type CapabilityFacet struct {
	FacetBody
	Strengths   []string `json:"strengths"`
	Limitations []string `json:"limitations"`
	UniqueValue string   `json:"unique_value"`
}

func (CapabilityFacet) Facet() Facet           { return FacetCapability }
func (CapabilityFacet) References() []string { return nil }

func (f CapabilityFacet) Validate() error {
	if err := f.validate(); err != nil {
		return err
	}
	if len(f.Strengths) == 0 && len(f.Limitations) == 0 {
		return Invalid("strengths", "at least one strength or limitation required")
	}
	return nil
}

// UserSatisfactionFacet summarises user sentiment.
type UserSatisfactionFacet struct {
	FacetBody
	Sentiment           string   `json:"sentiment"`
	PainPoints          []string `json:"pain_points"`
	SatisfactionSignals []string `json:"satisfaction_signals"`
	KeyQuotes           []string `json:"key_quotes"`
}

func (UserSatisfactionFacet) Facet() Facet           { return FacetUserSatisfaction }
func (UserSatisfactionFacet) References() []string { return nil }

func (f UserSatisfactionFacet) Validate() error {
	if err := f.validate(); err != nil {
		return err
	}
	switch strings.ToLower(f.Sentiment) {
	case "positive", "neutral", "negative", "mixed":
		return nil
	}
	return Invalid("sentiment", "must be positive, neutral, negative or mixed, got %q", f.Sentiment)
}

// TechnicalDebtFacet describes accumulated technical debt.
type TechnicalDebtFacet struct {
	FacetBody
	Severity           string   `json:"severity"`
	Issues             []string `json:"issues"`
	ModernizationNeeds []string `json:"modernization_needs"`
}

func (TechnicalDebtFacet) Facet() Facet           { return FacetTechnicalDebt }
func (TechnicalDebtFacet) References() []string { return nil }

func (f TechnicalDebtFacet) Validate() error {
	if err := f.validate(); err != nil {
		return err
	}
	switch strings.ToLower(f.Severity) {
	case "high", "medium", "low":
		return nil
	}
	return Invalid("severity", "must be high, medium or low, got %q", f.Severity)
}

// IntegrationFacet lists consolidation and integration candidates.
type IntegrationFacet struct {
	FacetBody
	CanConsolidateWith  []string `json:"can_consolidate_with"`
	ShouldIntegrateInto []string `json:"should_integrate_into"`
	Dependencies        []string `json:"dependencies"`
}

func (IntegrationFacet) Facet() Facet { return FacetIntegrationOpportunity }

func (f IntegrationFacet) Validate() error { return f.validate() }

func (f IntegrationFacet) References() []string {
	return dedupe(f.CanConsolidateWith, f.ShouldIntegrateInto, f.Dependencies)
}

// MarketAlternativeFacet lists replacement products for commercial software.
type MarketAlternativeFacet struct {
	FacetBody
	Alternatives   []string `json:"alternatives"`
	MigrationPath  string   `json:"migration_path"`
	MarketPosition string   `json:"market_position"`
}

func (MarketAlternativeFacet) Facet() Facet           { return FacetMarketAlternative }
func (MarketAlternativeFacet) References() []string { return nil }

func (f MarketAlternativeFacet) Validate() error {
	if err := f.validate(); err != nil {
		return err
	}
	if len(f.Alternatives) == 0 {
		return Invalid("alternatives", "at least one alternative required")
	}
	return nil
}

// RecommendationAction is the closed set of strategic actions.
type RecommendationAction string

const (
	ActionIntegrate   RecommendationAction = "integrate"
	ActionMigrate     RecommendationAction = "migrate"
	ActionRetire      RecommendationAction = "retire"
	ActionConsolidate RecommendationAction = "consolidate"
	ActionEnhance     RecommendationAction = "enhance"
	ActionMaintain    RecommendationAction = "maintain"
)

// Valid reports whether a is a known action.
func (a RecommendationAction) Valid() bool {
	switch a {
	case ActionIntegrate, ActionMigrate, ActionRetire, ActionConsolidate, ActionEnhance, ActionMaintain:
		return true
	}
	return false
}

// UnmarshalText accepts any letter case ("Retire").
func (a *RecommendationAction) UnmarshalText(b []byte) error {
	*a = RecommendationAction(strings.ToLower(strings.TrimSpace(string(b))))
	return nil
}

// RecommendationFacet is the overall strategic recommendation.
type RecommendationFacet struct {
	FacetBody
	Action          RecommendationAction `json:"action"`
	Target          string               `json:"target,omitempty"`
	Rationale       string               `json:"rationale"`
	EstimatedImpact string               `json:"estimated_impact,omitempty"`
}

func (RecommendationFacet) Facet() Facet { return FacetStrategicRecommendation }

func (f RecommendationFacet) References() []string {
	if f.Target == "" {
		return nil
	}
	return []string{f.Target}
}

// Validate checks structure only. Missing evidence is not a validation
// failure; callers flag it as unsupported.
func (f RecommendationFacet) Validate() error {
	if err := f.validate(); err != nil {
		return err
	}
	if !f.Action.Valid() {
		return Invalid("action", "unknown action %q", f.Action)
	}
	if !f.Priority.Valid() {
		return Invalid("priority", "must be P1, P2 or P3, got %q", f.Priority)
	}
	return nil
}

func dedupe(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, s := range l {
			s = strings.TrimSpace(s)
			if s == "" || seen[strings.ToLower(s)] {
				continue
			}
			seen[strings.ToLower(s)] = true
			out = append(out, s)
		}
	}
	return out
}
