package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

var categoryGuidance = map[domain.Category]string{
	domain.CategoryPerceptions:   "How people perceive and mentally map spaces: biases, community views, societal narratives. (Keywords: believe, feel, think, perceive, view, narrative, bias)",
	domain.CategoryRelationships: "The web of social and political interactions: who holds power, patterns of inclusion and exclusion. (Keywords: power, influence, control, access, inequality, stakeholders)",
	domain.CategoryPolicies:      "Formal mechanisms shaping a space such as laws, regulations and resource allocation. (Keywords: policy, law, regulation, funding, investment, budget, plan, project)",
	domain.CategorySystemic:      "Potential harms to vulnerable groups. (Keywords: displacement, gentrification, risk, harm, burden, inequality, vulnerable)",
}

// The document is passed through whole; bounding it is the model's concern.
func buildInsightPrompt(documentText string) string {
	var categories strings.Builder
	for _, category := range domain.Categories {
		fmt.Fprintf(&categories, "- %s: %s\n", category, categoryGuidance[category])
	}

	return fmt.Sprintf(`You are an expert urban analyst specializing in socio-spatial and equity analysis.
Analyze the document below using the "Masterplanning for Democracy" framework.

Identify key excerpts that fall into exactly one of these categories:
%s
For each finding provide:
1. "excerpt": the exact, verbatim quote from the document. Do not paraphrase.
2. "insight": a concise summary of the finding.
3. "category": one of the category names above, spelled exactly as listed.

Return strict JSON: {"insights":[{"insight":"...","excerpt":"...","category":"..."}]}.
Return {"insights":[]} when nothing qualifies. No markdown, no extra keys.

Document:
---
%s
---
`, categories.String(), documentText)
}

func buildEquityRiskPrompt(policyText, qualitativeContext, geospatialContext string) string {
	return fmt.Sprintf(`You are an expert urban planning analyst focused on equity, justice and disparate impact.
Analyze the proposed policy below using the project context.

Proposed policy:
---
%s
---

Qualitative context (accepted themes and direct quotes from community feedback and reports):
---
%s
---

Geospatial context (available spatial data layers for the project area):
---
%s
---

Identify potential disparate impacts on vulnerable populations.
Return strict JSON with keys:
summary (string, one sentence naming the most significant equity risk),
keyRisks (array of 3-5 strings),
recommendations (array of strings with actionable mitigations).
No markdown, no extra keys.
`, policyText, qualitativeContext, geospatialContext)
}
