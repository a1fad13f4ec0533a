package smf

import (
	"log/slog"
	"sync"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// Transition names a proposal state change published on a [Broadcaster], for
// the smf_pending_proposals/smf_review live-update stream (§7).
type Transition string

const (
	TransitionProposed      Transition = "proposed"
	TransitionConsentGiven  Transition = "consent_recorded"
	TransitionApproved      Transition = "approved"
	TransitionRejected      Transition = "rejected"
	TransitionExecuted      Transition = "executed"
	TransitionUndone        Transition = "undone"
	TransitionExpired       Transition = "retention_expired"
)

// ProposalEvent is one entry in the live-review stream.
type ProposalEvent struct {
	Proposal   ckg.Proposal
	Transition Transition
}

// subscriberBuffer bounds how many undelivered events a slow subscriber may
// accumulate before events are dropped for it; the stream is a best-effort
// review aid, not an audit log (get_audit_log remains authoritative).
const subscriberBuffer = 32

// Broadcaster fans out [ProposalEvent]s to any number of subscribers, for a
// host reviewing pending self-modification proposals without polling
// ListPendingProposals. The zero value is not usable; construct with
// [NewBroadcaster].
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan ProposalEvent]struct{}
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan ProposalEvent]struct{})}
}

// Subscribe registers a new subscriber and returns its event channel and an
// unsubscribe function. The caller must call unsubscribe once done reading,
// after which the channel receives no further events.
func (b *Broadcaster) Subscribe() (ch <-chan ProposalEvent, unsubscribe func()) {
	c := make(chan ProposalEvent, subscriberBuffer)
	b.mu.Lock()
	b.subs[c] = struct{}{}
	b.mu.Unlock()

	return c, func() {
		b.mu.Lock()
		if _, ok := b.subs[c]; ok {
			delete(b.subs, c)
			close(c)
		}
		b.mu.Unlock()
	}
}

// Publish fans event out to every current subscriber. A subscriber whose
// buffer is full has the event dropped for it rather than blocking the
// publisher.
func (b *Broadcaster) Publish(event ProposalEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		select {
		case c <- event:
		default:
			slog.Warn("smf review stream: dropping event for slow subscriber", "proposal_id", event.Proposal.ID, "transition", event.Transition)
		}
	}
}
