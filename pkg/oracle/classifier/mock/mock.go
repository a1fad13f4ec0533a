// Package mock provides a test double for the classifier.Classifier interface.
package mock

import (
	"context"
	"sync"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/classifier"
)

// Classifier is a mock implementation of classifier.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Verdict is returned by Classify when Err is nil.
	Verdict classifier.Verdict

	// Err, if non-nil, is returned as the error from Classify.
	Err error

	// Calls records every (edgeA, edgeB) pair passed to Classify, in order.
	Calls [][2]ckg.Edge
}

// Classify records the call and returns Verdict, Err.
func (c *Classifier) Classify(ctx context.Context, edgeA, edgeB ckg.Edge) (classifier.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, [2]ckg.Edge{edgeA, edgeB})
	return c.Verdict, c.Err
}

var _ classifier.Classifier = (*Classifier)(nil)
