package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/apm-cli/internal/ingest"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/registry"
	"github.com/sells-group/apm-cli/internal/scorer"
)

const extractSystem = `You are an enterprise architect analysing interview transcripts about a software application.
Map statements in the transcript to the assessment questions you are given. Only answer questions the transcript actually addresses.
For every answer give a confidence between 0 and 1 and quote the supporting excerpt verbatim.
If the speaker implies a rating, give it as "score" on a 1-5 scale, otherwise omit it.

Respond with JSON only:
{"answers":[{"question_id":"AR-01","question":"<question text>","answer":"<answer>","score":3,"confidence":0.8,"source_excerpt":"<quote>"}],"summary":"<one paragraph>"}`

const scoreSystem = `You are an enterprise architect scoring a software application on assessment blocks.
Score each requested block from 1 to 5 using its rubric and only the evidence provided. Give a confidence between 0 and 1 and a one or two sentence rationale that cites the evidence.

Respond with JSON only:
{"scores":{"<Block Name>":{"score":3,"confidence":0.7,"rationale":"<rationale>"}}}`

const facetSystem = `You are a senior enterprise architect producing one section of an application assessment.
Use only the context provided. Every claim must be supported by an evidence item that quotes an answer, a transcript excerpt or a block score.
Respond with a single JSON object matching the schema you are given and nothing else.`

const portfolioSystem = `You are a senior enterprise architect reviewing a portfolio of software applications.
Find patterns that span two or more applications: consolidation candidates, integration points, redundancy, capability gaps, quick wins and risks.
Refer to applications only by the exact names given. Each finding must name at least two applications and cite evidence from their assessments.

Respond with JSON only:
{"insights":[{"type":"consolidation|integration-point|redundancy|gap|quick-win|risk","title":"","description":"","priority":"P1|P2|P3","impact":"high|medium|low","complexity":"high|medium|low","evidence":[""],"affected_apps":["",""],"recommended_action":""}]}`

var facetSchemas = map[model.Facet]string{
	model.FacetCapability: `{"title":"","description":"","confidence":"high|medium|low","evidence":[""],
 "strengths":[""],"limitations":[""],"unique_value":""}`,
	model.FacetUserSatisfaction: `{"title":"","description":"","confidence":"high|medium|low","evidence":[""],
 "sentiment":"positive|neutral|negative|mixed","pain_points":[""],"satisfaction_signals":[""],"key_quotes":[""]}`,
	model.FacetTechnicalDebt: `{"title":"","description":"","priority":"P1|P2|P3","impact":"","complexity":"","confidence":"high|medium|low","evidence":[""],
 "severity":"high|medium|low","issues":[""],"modernization_needs":[""]}`,
	model.FacetIntegrationOpportunity: `{"title":"","description":"","priority":"P1|P2|P3","impact":"","complexity":"","confidence":"high|medium|low","evidence":[""],
 "can_consolidate_with":["<application name>"],"should_integrate_into":["<application name>"],"dependencies":[""]}`,
	model.FacetMarketAlternative: `{"title":"","description":"","confidence":"high|medium|low","evidence":[""],
 "alternatives":["<product>"],"migration_path":"","market_position":""}`,
	model.FacetStrategicRecommendation: `{"title":"","description":"","priority":"P1|P2|P3","impact":"","complexity":"","confidence":"high|medium|low","evidence":["<quote or block score>"],
 "action":"integrate|migrate|retire|consolidate|enhance|maintain","target":"<application name, optional>","rationale":"","estimated_impact":""}`,
}

var facetAsks = map[model.Facet]string{
	model.FacetCapability:              "Assess the functional capabilities of the application: what it does well, where it falls short and what is unique to it.",
	model.FacetUserSatisfaction:        "Assess how satisfied users are with the application, including pain points and direct quotes.",
	model.FacetTechnicalDebt:           "Assess the technical debt of the application and what modernization it needs.",
	model.FacetIntegrationOpportunity:  "Identify other applications in the portfolio this one could be consolidated with or integrated into.",
	model.FacetMarketAlternative:       "List commercial market alternatives to this product, how it compares and a realistic migration path.",
	model.FacetStrategicRecommendation: "Recommend exactly one strategic action for this application. Cite at least one evidence item.",
}

// buildExtractPrompt lists the catalog questions and the transcript text.
func buildExtractPrompt(app *model.Application, fileName, text string, cat *registry.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Application: %s\nTranscript: %s\n\nAssessment questions:\n", app.Name, fileName)
	for _, block := range model.AllBlocks {
		fmt.Fprintf(&b, "\n%s\n", block)
		for _, q := range cat.ByBlock(block) {
			fmt.Fprintf(&b, "- [%s] %s\n", q.ID, q.Text)
		}
	}
	fmt.Fprintf(&b, "\nTranscript text:\n%s\n", text)
	return b.String()
}

// buildScorePrompt lists the rubric and evidence for each block that
// needs a model-assigned score.
func buildScorePrompt(app *model.Application, blocks []scorer.Suggestion, cat *registry.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Application: %s\n", app.Name)
	for _, s := range blocks {
		fmt.Fprintf(&b, "\n## %s\n", s.Block)
		if info, ok := cat.Block(s.Block); ok {
			fmt.Fprintf(&b, "%s\nRubric:\n", info.Description)
			for i, level := range info.Rubric {
				fmt.Fprintf(&b, "  %d: %s\n", i+1, level)
			}
		}
		b.WriteString("Evidence:\n")
		for _, a := range sortedAnswers(s.Evidence) {
			fmt.Fprintf(&b, "- %s (%s, confidence %.2f): %s\n", questionLabel(cat, a.QuestionID), a.Source, a.Confidence, a.AnswerText)
		}
	}
	return b.String()
}

// appContext is everything the facet prompts know about one application.
type appContext struct {
	app         *model.Application
	answers     []model.Answer
	transcripts []model.Transcript
	assessment  *scorer.Assessment
	others      []string
	market      string
}

func buildFacetPrompt(facet model.Facet, c *appContext, cat *registry.Catalog, prior []model.Insight, maxChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nSchema:\n%s\n\n", facetAsks[facet], facetSchemas[facet])
	fmt.Fprintf(&b, "Application: %s\nCommercial product: %t\n", c.app.Name, c.app.Commercial)

	if a := c.assessment; a != nil {
		fmt.Fprintf(&b, "\nScores (value index %.1f, health index %.1f, quadrant %s):\n", a.ValueIndex, a.HealthIndex, a.Label)
		for _, block := range model.AllBlocks {
			if s, ok := a.BlockScores[block]; ok {
				fmt.Fprintf(&b, "- %s: %d\n", block, s)
			} else {
				fmt.Fprintf(&b, "- %s: no score\n", block)
			}
		}
	}

	if len(c.answers) > 0 {
		b.WriteString("\nAnswers:\n")
		for _, a := range sortedAnswers(c.answers) {
			score := ""
			if a.Score != nil {
				score = fmt.Sprintf(" [score %d]", *a.Score)
			}
			fmt.Fprintf(&b, "- %s%s: %s\n", questionLabel(cat, a.QuestionID), score, a.AnswerText)
		}
	}

	if len(c.transcripts) > 0 {
		b.WriteString("\nTranscript excerpts:\n")
		budget := maxChars
		for _, t := range c.transcripts {
			if budget <= 0 {
				break
			}
			text := ingest.Truncate(t.Text, budget)
			budget -= len([]rune(text))
			fmt.Fprintf(&b, "### %s\n%s\n", t.FileName, text)
		}
	}

	if facet == model.FacetIntegrationOpportunity && len(c.others) > 0 {
		fmt.Fprintf(&b, "\nOther applications in the portfolio: %s\n", strings.Join(c.others, ", "))
	}
	if facet == model.FacetMarketAlternative && c.market != "" {
		fmt.Fprintf(&b, "\nMarket research:\n%s\n", c.market)
	}
	if len(prior) > 0 {
		b.WriteString("\nFindings so far:\n")
		for _, in := range prior {
			fmt.Fprintf(&b, "- %s: %s. %s\n", in.Facet, in.Title, in.Description)
		}
	}
	return b.String()
}

// portfolioEntry is one application's summary in the portfolio prompt.
type portfolioEntry struct {
	app        model.Application
	assessment *scorer.Assessment
	insights   []model.Insight
}

func buildPortfolioPrompt(entries []portfolioEntry, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Return at most %d findings.\n\nApplications:\n", limit)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n## %s\n", e.app.Name)
		if a := e.assessment; a != nil {
			fmt.Fprintf(&b, "Quadrant %s, value index %.1f, health index %.1f\n", a.Label, a.ValueIndex, a.HealthIndex)
		}
		for _, in := range e.insights {
			if in.NotApplicable {
				continue
			}
			fmt.Fprintf(&b, "- %s (%s confidence): %s. %s\n", in.Facet, in.Confidence, in.Title, in.Description)
			if len(in.AffectedApps) > 0 {
				fmt.Fprintf(&b, "  related: %s\n", strings.Join(in.AffectedApps, ", "))
			}
		}
	}
	return b.String()
}

// sortedAnswers orders answers by block then question so prompts are
// stable across runs.
func sortedAnswers(answers []model.Answer) []model.Answer {
	out := append([]model.Answer(nil), answers...)
	rank := make(map[model.Block]int, len(model.AllBlocks))
	for i, b := range model.AllBlocks {
		rank[b] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if rank[out[i].Block] != rank[out[j].Block] {
			return rank[out[i].Block] < rank[out[j].Block]
		}
		if out[i].QuestionID != out[j].QuestionID {
			return out[i].QuestionID < out[j].QuestionID
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func questionLabel(cat *registry.Catalog, id string) string {
	if q, ok := cat.Get(id); ok {
		return fmt.Sprintf("[%s] %s", q.ID, q.Text)
	}
	return "[" + id + "]"
}
