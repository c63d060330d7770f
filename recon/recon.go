// Package recon implements the Recon Agent and Critic (spec.md §4.9's
// "external, pluggable" agents) as graph/model.ChatModel wrappers, plus
// the Fingerprinter (C0) that turns a probed target into a
// graph.Fingerprint.
package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/compile"
	"github.com/kestrelsec/attackgraph/graph/model"
)

// reconSystemPrompt instructs the model to return an AttackPlan as JSON
// and nothing else. The core never parses prose; it only ever accepts a
// structured tool-free JSON body, grounded on the teacher's pattern of
// driving ChatModel with a strict system prompt rather than a tool
// schema when the output is a single structured document.
const reconSystemPrompt = `You are a web application security recon agent. Given a description of a target's fingerprint and any prior attempt history, respond with ONLY a JSON object of this shape, no prose:
{"opportunities":[{"recommended_exploit":"<tag>","exploit_target":"<concrete path, never a template>","observation":"<what a successful exploit looks like>","opportunity_text":"<one-line rationale>"}]}`

const criticSystemPrompt = `You are a security recon critic. Given a JSON AttackPlan, evaluate whether its first opportunity is concrete and well-formed. Respond with ONLY JSON of this shape, no prose:
{"opportunities":[...same shape as input, corrected if needed...],"accepted":true|false}`

// LLMReconAgent implements compile.ReconAgent by prompting a ChatModel.
type LLMReconAgent struct {
	Model model.ChatModel
}

func (a *LLMReconAgent) ProducePlan(ctx context.Context, reconContext string) (compile.AttackPlan, error) {
	out, err := a.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: reconSystemPrompt},
		{Role: model.RoleUser, Content: reconContext},
	}, nil)
	if err != nil {
		return compile.AttackPlan{}, fmt.Errorf("recon: chat: %w", err)
	}
	return parseAttackPlan(out.Text)
}

// LLMCritic implements compile.Critic by prompting a ChatModel to refine
// and accept or reject a plan.
type LLMCritic struct {
	Model model.ChatModel
}

func (c *LLMCritic) RefinePlan(ctx context.Context, plan compile.AttackPlan) (compile.RefinedPlan, error) {
	body, err := json.Marshal(planJSON{Opportunities: toOpportunityJSON(plan.Opportunities)})
	if err != nil {
		return compile.RefinedPlan{}, fmt.Errorf("recon: marshal plan: %w", err)
	}
	out, err := c.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: criticSystemPrompt},
		{Role: model.RoleUser, Content: string(body)},
	}, nil)
	if err != nil {
		return compile.RefinedPlan{}, fmt.Errorf("recon: critic chat: %w", err)
	}
	return parseRefinedPlan(out.Text)
}

type opportunityJSON struct {
	RecommendedExploit string `json:"recommended_exploit"`
	ExploitTarget      string `json:"exploit_target"`
	Observation        string `json:"observation"`
	OpportunityText    string `json:"opportunity_text"`
}

type planJSON struct {
	Opportunities []opportunityJSON `json:"opportunities"`
}

type refinedPlanJSON struct {
	planJSON
	Accepted bool `json:"accepted"`
}

func toOpportunityJSON(opps []compile.Opportunity) []opportunityJSON {
	out := make([]opportunityJSON, len(opps))
	for i, o := range opps {
		out[i] = opportunityJSON{
			RecommendedExploit: o.RecommendedExploit,
			ExploitTarget:      o.ExploitTarget,
			Observation:        o.Observation,
			OpportunityText:    o.OpportunityText,
		}
	}
	return out
}

func fromOpportunityJSON(opps []opportunityJSON) []compile.Opportunity {
	out := make([]compile.Opportunity, len(opps))
	for i, o := range opps {
		out[i] = compile.Opportunity{
			RecommendedExploit: o.RecommendedExploit,
			ExploitTarget:      o.ExploitTarget,
			Observation:        o.Observation,
			OpportunityText:    o.OpportunityText,
		}
	}
	return out
}

// extractJSONObject trims any leading/trailing prose a model adds despite
// being told not to, by slicing from the first '{' to the matching last
// '}'. Models are unreliable about "JSON only"; this is cheaper than a
// second round trip to ask them to fix their own output.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

func parseAttackPlan(text string) (compile.AttackPlan, error) {
	var doc planJSON
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &doc); err != nil {
		return compile.AttackPlan{}, fmt.Errorf("%w: recon agent response: %v", graph.ErrMalformedPlan, err)
	}
	return compile.AttackPlan{Opportunities: fromOpportunityJSON(doc.Opportunities)}, nil
}

func parseRefinedPlan(text string) (compile.RefinedPlan, error) {
	var doc refinedPlanJSON
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &doc); err != nil {
		return compile.RefinedPlan{}, fmt.Errorf("%w: critic response: %v", graph.ErrMalformedPlan, err)
	}
	return compile.RefinedPlan{
		AttackPlan: compile.AttackPlan{Opportunities: fromOpportunityJSON(doc.Opportunities)},
		Accepted:   doc.Accepted,
	}, nil
}
