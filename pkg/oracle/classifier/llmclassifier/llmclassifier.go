// Package llmclassifier implements classifier.Classifier on top of any
// pkg/oracle/llm.Provider, prompting the model to render a structured verdict
// on a candidate-conflicting edge pair.
package llmclassifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/classifier"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/llm"
)

// systemPrompt instructs the model to classify a conflicting edge pair and
// respond with a single JSON object only.
const systemPrompt = `You are a dissonance classifier for a constitutive knowledge graph.
Given two edges that share a source node and relation but disagree on the
target or weight, decide whether the newer edge is an EVOLUTION of the
older (the older is simply outdated), a CONTRADICTION (they cannot both be
true), or a NUANCE (both hold, true in different contexts).
Respond with a single JSON object of the form:
{"resolution_type": "EVOLUTION"|"CONTRADICTION"|"NUANCE", "confidence": 0.0-1.0, "rationale": "..."}
Do not include any other text.`

// Classifier implements classifier.Classifier using an LLM completion.
type Classifier struct {
	provider llm.Provider
}

// New wraps provider as a classifier.Classifier.
func New(provider llm.Provider) *Classifier {
	return &Classifier{provider: provider}
}

// verdictJSON mirrors the JSON shape the system prompt requests.
type verdictJSON struct {
	ResolutionType string  `json:"resolution_type"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale"`
}

// Classify implements classifier.Classifier.
func (c *Classifier) Classify(ctx context.Context, edgeA, edgeB ckg.Edge) (classifier.Verdict, error) {
	prompt := fmt.Sprintf(
		"Edge A: %s --[%s]--> %s (weight=%.2f, properties=%v, created_at=%s)\n"+
			"Edge B: %s --[%s]--> %s (weight=%.2f, properties=%v, created_at=%s)",
		edgeA.SourceName, edgeA.Relation, edgeA.TargetName, edgeA.Weight, edgeA.Properties, edgeA.CreatedAt,
		edgeB.SourceName, edgeB.Relation, edgeB.TargetName, edgeB.Weight, edgeB.Properties, edgeB.CreatedAt,
	)

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		Temperature:  0,
	})
	if err != nil {
		return classifier.Verdict{}, ckg.NewError(ckg.KindClassifierUnavailable, "dissonance classifier request failed").WithCause(err)
	}

	var parsed verdictJSON
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &parsed); err != nil {
		return classifier.Verdict{}, ckg.NewError(ckg.KindClassifierUnavailable, "dissonance classifier returned unparseable response").WithCause(err).WithDetails(map[string]any{"raw": resp.Content})
	}

	rt := ckg.ResolutionType(parsed.ResolutionType)
	if !rt.IsValid() {
		return classifier.Verdict{}, ckg.NewError(ckg.KindClassifierUnavailable, "dissonance classifier returned unrecognised resolution_type").WithDetails(map[string]any{"resolution_type": parsed.ResolutionType})
	}

	return classifier.Verdict{
		ResolutionType: rt,
		Confidence:     parsed.Confidence,
		Rationale:      parsed.Rationale,
	}, nil
}

// stripCodeFence removes a leading/trailing ``` fence some models wrap JSON
// responses in despite the system prompt's instruction not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
