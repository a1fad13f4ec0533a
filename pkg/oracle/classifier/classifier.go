// Package classifier defines the dissonance-classification oracle (§4.6,
// §6): given two candidate-conflicting edges, decide whether they describe
// an EVOLUTION (the newer supersedes the older), a CONTRADICTION (they
// cannot both hold), or a NUANCE (both hold, in different contexts).
//
// The classifier is consulted by the dissonance engine and never mutates the
// graph itself — it only renders a verdict.
package classifier

import (
	"context"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// Verdict is the classifier's judgement on a candidate-conflicting edge pair.
type Verdict struct {
	// ResolutionType is one of EVOLUTION, CONTRADICTION, or NUANCE.
	ResolutionType ckg.ResolutionType

	// Confidence is the classifier's self-reported confidence in [0,1].
	Confidence float64

	// Rationale is a short natural-language justification, persisted onto
	// the resulting resolution hyperedge's context field.
	Rationale string
}

// Classifier judges whether two edges conflict and, if so, how.
//
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Classify compares edgeA and edgeB, which share the same source node
	// and relation (the dissonance engine's candidate-enumeration
	// precondition), and returns a [Verdict].
	Classify(ctx context.Context, edgeA, edgeB ckg.Edge) (Verdict, error)
}
