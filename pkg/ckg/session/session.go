// Package session implements the write-through session API of §4.10: raw
// dialogue logging, L2 insight compression, insight curation, bounded
// working-memory maintenance, and episodic memory.
//
// Curation writes from a secondary actor always route through [smf.Engine]
// so that the neutrality check and consent ledger are inescapable; a
// primary actor's writes execute directly against the store.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/smf"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings"
)

const (
	defaultWorkingMemoryCapacity = 8
	semanticFidelityThreshold    = 0.5
	episodeSearchTopK            = 3
)

// Engine orchestrates the session write path over the L0/L2/working-memory/
// episode stores. All methods are safe for concurrent use as long as the
// underlying store and SMF engine are.
type Engine struct {
	store                 ckg.Store
	embedder              embeddings.Provider
	smf                   *smf.Engine
	workingMemoryCapacity int
}

// New constructs an Engine. workingMemoryCapacity falls back to §3's default
// of 8 when non-positive.
func New(store ckg.Store, embedder embeddings.Provider, smfEngine *smf.Engine, workingMemoryCapacity int) *Engine {
	capacity := workingMemoryCapacity
	if capacity <= 0 {
		capacity = defaultWorkingMemoryCapacity
	}
	return &Engine{store: store, embedder: embedder, smf: smfEngine, workingMemoryCapacity: capacity}
}

// StoreRawDialogue implements store_raw_dialogue (§4.10): appends one raw
// conversational turn to L0.
func (e *Engine) StoreRawDialogue(ctx context.Context, sessionID, speaker, content string) (ckg.RawDialogueEntry, error) {
	entry, err := e.store.AppendDialogue(ctx, sessionID, speaker, content)
	if err != nil {
		return ckg.RawDialogueEntry{}, fmt.Errorf("session: store raw dialogue: %w", err)
	}
	return entry, nil
}

// CompressionResult is the response shape of CompressToInsight: the stored
// insight plus an optional non-fatal fidelity warning.
type CompressionResult struct {
	Insight         ckg.Insight
	FidelityWarning string
}

// CompressToInsight implements compress_to_l2_insight (§4.10): embeds
// content, scores its semantic fidelity, and persists the insight with
// memory_strength defaulted to 0.5 regardless of the fidelity score — the
// score below threshold only surfaces as a warning, never blocks the write.
func (e *Engine) CompressToInsight(ctx context.Context, sessionID string, sector ckg.Sector, content string, sourceEntryIDs []int64, tags []string) (CompressionResult, error) {
	embedding, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return CompressionResult{}, fmt.Errorf("session: compress to insight: embed: %w", err)
	}

	insight, err := e.store.CompressToInsight(ctx, sessionID, sector, content, embedding, sourceEntryIDs, tags)
	if err != nil {
		return CompressionResult{}, fmt.Errorf("session: compress to insight: %w", err)
	}

	result := CompressionResult{Insight: insight}
	if score := semanticFidelityScore(content); score < semanticFidelityThreshold {
		result.FidelityWarning = fmt.Sprintf(
			"semantic fidelity score %.2f below threshold %.2f; insight stored regardless",
			score, semanticFidelityThreshold)
	}
	return result, nil
}

// semanticFidelityScore approximates §4.10's "ratio of noun+verb tokens to
// total" heuristic without a part-of-speech tagger: the fraction of tokens
// that are not closed-class function words. Low-content filler ("um",
// "yeah", "I mean") is dominated by function words, so this tracks the same
// signal the spec's heuristic is after.
func semanticFidelityScore(content string) float64 {
	tokens := strings.Fields(content)
	if len(tokens) == 0 {
		return 0
	}
	contentTokens := 0
	for _, tok := range tokens {
		word := strings.ToLower(strings.Trim(tok, ".,!?;:\"'()"))
		if word == "" || stopWords[word] {
			continue
		}
		contentTokens++
	}
	return float64(contentTokens) / float64(len(tokens))
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"um": true, "uh": true, "yeah": true, "like": true, "so": true, "and": true, "or": true,
	"but": true, "of": true, "to": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "that": true, "this": true, "be": true, "been": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "mean": true, "just": true, "really": true,
}

// UpdateInsightInput is the caller-supplied shape of update_insight (§4.10).
type UpdateInsightInput struct {
	InsightID         int64
	Actor             ckg.Actor
	Reason            string
	NewContent        *string
	NewMemoryStrength *float64
}

// UpdateInsightResult is the response shape of UpdateInsight: either the
// directly-updated insight (primary actor) or a pending SMF proposal
// (secondary actor).
type UpdateInsightResult struct {
	Insight  ckg.Insight
	Proposal *ckg.Proposal
	Pending  bool
}

// UpdateInsight implements update_insight (§4.10). Reason is required; at
// least one of NewContent/NewMemoryStrength must be set, and NewContent must
// be non-empty after trimming. A primary actor's update executes directly;
// a secondary actor's always creates an SMF proposal, regardless of whether
// the insight backs a constitutive edge — §4.10 branches on actor level
// alone, unlike graph mutations which branch on constitutive status.
func (e *Engine) UpdateInsight(ctx context.Context, in UpdateInsightInput) (UpdateInsightResult, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return UpdateInsightResult{}, ckg.NewError(ckg.KindInvalidArgument, "reason is required")
	}
	if in.NewContent == nil && in.NewMemoryStrength == nil {
		return UpdateInsightResult{}, ckg.NewError(ckg.KindInvalidArgument,
			"at least one of new_content or new_memory_strength must be set")
	}

	var trimmedContent *string
	if in.NewContent != nil {
		trimmed := strings.TrimSpace(*in.NewContent)
		if trimmed == "" {
			return UpdateInsightResult{}, ckg.NewError(ckg.KindInvalidArgument, "new_content must be non-empty after trimming")
		}
		trimmedContent = &trimmed
	}

	existing, err := e.store.GetInsight(ctx, in.InsightID)
	if err != nil {
		return UpdateInsightResult{}, err
	}
	if existing.IsDeleted() {
		return UpdateInsightResult{}, ckg.NewError(ckg.KindNotFound, "insight not found").
			WithDetails(map[string]any{"insight_id": in.InsightID})
	}

	content := existing.Content
	if trimmedContent != nil {
		content = *trimmedContent
	}

	if in.Actor == ckg.ActorPrimary {
		updated, err := e.store.UpdateInsight(ctx, in.InsightID, content, in.NewMemoryStrength, in.Actor, in.Reason, nil)
		if err != nil {
			return UpdateInsightResult{}, err
		}
		return UpdateInsightResult{Insight: updated}, nil
	}

	payload := map[string]any{"content": content, "reason": in.Reason}
	if in.NewMemoryStrength != nil {
		payload["memory_strength"] = *in.NewMemoryStrength
	}
	proposal, err := e.smf.Propose(ctx, smf.ProposeInput{
		Kind:            ckg.ProposalKindUpdateInsight,
		TargetInsightID: &in.InsightID,
		Payload:         payload,
		ProposedBy:      in.Actor,
		Detected:        fmt.Sprintf("secondary-actor edit requested for insight %d: %s", in.InsightID, in.Reason),
		Affected:        fmt.Sprintf("insight %d content/memory_strength", in.InsightID),
		IfApproved:      "the insight is updated and a new revision is appended to its history",
		IfRejected:      "the insight keeps its current content and memory_strength",
	})
	if err != nil {
		return UpdateInsightResult{}, err
	}
	return UpdateInsightResult{Proposal: &proposal, Pending: true}, nil
}

// DeleteInsight implements delete_insight (§4.10): a soft delete executed
// directly for any actor — unlike UpdateInsight, §4.10 draws no actor-level
// distinction here.
func (e *Engine) DeleteInsight(ctx context.Context, insightID int64, actor ckg.Actor, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ckg.NewError(ckg.KindInvalidArgument, "reason is required")
	}
	if err := e.store.DeleteInsight(ctx, insightID, actor, reason); err != nil {
		return fmt.Errorf("session: delete insight: %w", err)
	}
	return nil
}

// UpdateWorkingMemory implements update_working_memory (§4.10): touches
// insightID into sessionID's bounded LRU working set, evicting the oldest
// unprotected (importance <= 0.8) entry into stale memory on overflow.
//
// §4.10 phrases the operation as update_working_memory(content, importance);
// this engine never re-derives an insight from raw content on its own, so
// callers compress content to an insight first (via CompressToInsight) and
// pass its ID here.
func (e *Engine) UpdateWorkingMemory(ctx context.Context, sessionID string, insightID int64, importance float64) error {
	if err := e.store.Touch(ctx, sessionID, insightID, importance, e.workingMemoryCapacity); err != nil {
		return fmt.Errorf("session: update working memory: %w", err)
	}
	return nil
}

// StoreEpisodeInput is the caller-supplied shape of store_episode (§4.10).
type StoreEpisodeInput struct {
	SessionID  string
	Query      string
	Reward     float64
	Reflection string
	InsightIDs []int64
}

// StoreEpisode implements store_episode (§4.10): embeds query and persists
// an episode row. reward must fall within [-1, 1].
func (e *Engine) StoreEpisode(ctx context.Context, in StoreEpisodeInput) (ckg.Episode, error) {
	if in.Reward < -1 || in.Reward > 1 {
		return ckg.Episode{}, ckg.NewError(ckg.KindInvalidArgument, "reward must be within [-1, 1]").
			WithDetails(map[string]any{"reward": in.Reward})
	}

	embedding, err := e.embedder.Embed(ctx, in.Query)
	if err != nil {
		return ckg.Episode{}, fmt.Errorf("session: store episode: embed: %w", err)
	}

	now := time.Now()
	ep, err := e.store.StoreEpisode(ctx, ckg.Episode{
		SessionID:  in.SessionID,
		Summary:    in.Query,
		Embedding:  embedding,
		Reward:     in.Reward,
		Reflection: in.Reflection,
		StartedAt:  now,
		EndedAt:    now,
		InsightIDs: in.InsightIDs,
	})
	if err != nil {
		return ckg.Episode{}, fmt.Errorf("session: store episode: %w", err)
	}
	return ep, nil
}

// RecallEpisodes implements §4.10's episode-memory retrieval contract
// (cosine similarity >= 0.70, top-3 by similarity): embeds query and
// delegates the similarity floor to the store.
func (e *Engine) RecallEpisodes(ctx context.Context, query string) ([]ckg.Episode, error) {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("session: recall episodes: embed: %w", err)
	}
	episodes, err := e.store.SearchEpisodes(ctx, embedding, episodeSearchTopK)
	if err != nil {
		return nil, fmt.Errorf("session: recall episodes: %w", err)
	}
	return episodes, nil
}
