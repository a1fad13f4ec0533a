// Package mock provides a test double for the judge.Evaluator interface.
package mock

import (
	"context"
	"sync"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge"
)

// EvaluateCall records a single invocation of Evaluate.
type EvaluateCall struct {
	Query            string
	RetrievedContext string
	Answer           string
}

// Evaluator is a mock implementation of judge.Evaluator.
type Evaluator struct {
	mu sync.Mutex

	// Verdict is returned by Evaluate when Err is nil.
	Verdict judge.Verdict

	// Err, if non-nil, is returned as the error from Evaluate.
	Err error

	// Calls records every invocation of Evaluate, in order.
	Calls []EvaluateCall
}

// Evaluate records the call and returns Verdict, Err.
func (e *Evaluator) Evaluate(ctx context.Context, query, retrievedContext, answer string) (judge.Verdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, EvaluateCall{Query: query, RetrievedContext: retrievedContext, Answer: answer})
	return e.Verdict, e.Err
}

var _ judge.Evaluator = (*Evaluator)(nil)
