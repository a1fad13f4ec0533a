// Package judge defines the evaluator oracle behind the Integrative
// Evaluation Function's feedback loop (§4.8, §6): given a query, the
// retrieved context, and the answer produced from it, render a scalar reward
// used to recalibrate IEF weights every RecalibrationThreshold queries.
package judge

import "context"

// Verdict is the judge's scored assessment of one query/context/answer triple.
type Verdict struct {
	// Reward is the judge's scalar quality score in [0,1].
	Reward float64

	// Reasoning is a short natural-language justification, persisted onto
	// the IEF feedback record for later audit and the staged dual-judge
	// kappa calculation.
	Reasoning string
}

// Evaluator scores a retrieval-and-answer outcome for the IEF feedback loop.
//
// Implementations must be safe for concurrent use.
type Evaluator interface {
	// Evaluate scores answer as a response to query given the retrieved
	// context passed to the generator.
	Evaluate(ctx context.Context, query, retrievedContext, answer string) (Verdict, error)
}
