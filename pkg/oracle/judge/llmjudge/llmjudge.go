// Package llmjudge implements judge.Evaluator on top of any
// pkg/oracle/llm.Provider.
package llmjudge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/llm"
)

const systemPrompt = `You judge the quality of an answer produced from retrieved
context, for a retrieval-augmented constitutive knowledge graph. Score how
well the answer is supported by the context and how well it addresses the
query. Respond with a single JSON object only:
{"reward": 0.0-1.0, "reasoning": "..."}`

// Evaluator implements judge.Evaluator using an LLM completion.
type Evaluator struct {
	provider llm.Provider
}

// New wraps provider as a judge.Evaluator.
func New(provider llm.Provider) *Evaluator {
	return &Evaluator{provider: provider}
}

type verdictJSON struct {
	Reward    float64 `json:"reward"`
	Reasoning string  `json:"reasoning"`
}

// Evaluate implements judge.Evaluator.
func (e *Evaluator) Evaluate(ctx context.Context, query, retrievedContext, answer string) (judge.Verdict, error) {
	prompt := "Query: " + query + "\n\nRetrieved context:\n" + retrievedContext + "\n\nAnswer:\n" + answer

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		Temperature:  0,
	})
	if err != nil {
		return judge.Verdict{}, ckg.NewError(ckg.KindInternal, "judge request failed").WithCause(err)
	}

	var parsed verdictJSON
	raw := strings.TrimSpace(resp.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return judge.Verdict{}, ckg.NewError(ckg.KindInternal, "judge returned unparseable response").WithCause(err).WithDetails(map[string]any{"raw": resp.Content})
	}

	return judge.Verdict{Reward: parsed.Reward, Reasoning: parsed.Reasoning}, nil
}
