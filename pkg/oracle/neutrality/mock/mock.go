// Package mock provides a test double for the neutrality.Checker interface.
package mock

import (
	"context"
	"sync"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/neutrality"
)

// CheckCall records a single invocation of Check.
type CheckCall struct {
	Rationale           string
	ConversationContext string
}

// Checker is a mock implementation of neutrality.Checker.
type Checker struct {
	mu sync.Mutex

	// Verdict is returned by Check when Err is nil.
	Verdict neutrality.Verdict

	// Err, if non-nil, is returned as the error from Check.
	Err error

	// Calls records every invocation of Check, in order.
	Calls []CheckCall
}

// Check records the call and returns Verdict, Err.
func (c *Checker) Check(ctx context.Context, rationale string, conversationContext string) (neutrality.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, CheckCall{Rationale: rationale, ConversationContext: conversationContext})
	return c.Verdict, c.Err
}

var _ neutrality.Checker = (*Checker)(nil)
