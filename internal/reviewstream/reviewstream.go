// Package reviewstream serves the smf_pending_proposals/smf_review
// live-update stream over WebSocket: a reviewing host subscribes once and
// receives every proposal-state transition as it happens, instead of polling
// get_audit_log (§7).
package reviewstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/smf"
)

const writeTimeout = 5 * time.Second

// Handler serves a read-only WebSocket stream of [smf.ProposalEvent]s. It
// implements [http.Handler] and should be mounted on a single path (e.g.
// "/smf/stream"); every accepted connection gets its own subscription.
type Handler struct {
	broadcaster *smf.Broadcaster
}

// NewHandler constructs a Handler streaming from b.
func NewHandler(b *smf.Broadcaster) *Handler {
	return &Handler{broadcaster: b}
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("smf review stream: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends application messages; CloseRead services
	// control frames (ping/pong/close) and cancels ctx once the peer goes
	// away, which is this handler's only disconnect signal.
	ctx := conn.CloseRead(r.Context())

	events, unsubscribe := h.broadcaster.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			if err := h.send(ctx, conn, event); err != nil {
				slog.Warn("smf review stream: write failed, closing", "err", err)
				return
			}
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, event smf.ProposalEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("smf review stream: marshal event", "err", err)
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
