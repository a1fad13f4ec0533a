package session_test

import (
	"context"
	"testing"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/session"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/smf"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/neutrality"
	neutralitymock "github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/neutrality/mock"

	embeddingsmock "github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings/mock"
)

// fakeStore overrides only the [ckg.Store] methods the session engine (and
// the SMF engine it drives) uses.
type fakeStore struct {
	ckg.Store

	dialogue   []ckg.RawDialogueEntry
	insights   map[int64]ckg.Insight
	proposals  map[int64]ckg.Proposal
	nextPropID int64
	touched    []touchCall
	episodes   []ckg.Episode
	searchHits []ckg.Episode
}

type touchCall struct {
	sessionID  string
	insightID  int64
	importance float64
	capacity   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		insights:  map[int64]ckg.Insight{},
		proposals: map[int64]ckg.Proposal{},
	}
}

func (f *fakeStore) AppendDialogue(ctx context.Context, sessionID, speaker, text string) (ckg.RawDialogueEntry, error) {
	entry := ckg.RawDialogueEntry{ID: int64(len(f.dialogue) + 1), SessionID: sessionID, Speaker: speaker, Text: text}
	f.dialogue = append(f.dialogue, entry)
	return entry, nil
}

func (f *fakeStore) CompressToInsight(ctx context.Context, sessionID string, sector ckg.Sector, content string, embedding []float32, sourceEntryIDs []int64, tags []string) (ckg.Insight, error) {
	insight := ckg.Insight{
		ID: int64(len(f.insights) + 1), SessionID: sessionID, Sector: sector, Content: content,
		Embedding: embedding, SourceEntryIDs: sourceEntryIDs, MemoryStrength: 0.5, Tags: tags,
	}
	f.insights[insight.ID] = insight
	return insight, nil
}

func (f *fakeStore) GetInsight(ctx context.Context, insightID int64) (ckg.Insight, error) {
	in, ok := f.insights[insightID]
	if !ok {
		return ckg.Insight{}, ckg.NewError(ckg.KindNotFound, "insight not found")
	}
	return in, nil
}

func (f *fakeStore) UpdateInsight(ctx context.Context, insightID int64, content string, newMemoryStrength *float64, actor ckg.Actor, reason string, proposalID *int64) (ckg.Insight, error) {
	in, ok := f.insights[insightID]
	if !ok {
		return ckg.Insight{}, ckg.NewError(ckg.KindNotFound, "insight not found")
	}
	in.Content = content
	if newMemoryStrength != nil {
		in.MemoryStrength = *newMemoryStrength
	}
	f.insights[insightID] = in
	return in, nil
}

func (f *fakeStore) DeleteInsight(ctx context.Context, insightID int64, actor ckg.Actor, reason string) error {
	in, ok := f.insights[insightID]
	if !ok {
		return ckg.NewError(ckg.KindNotFound, "insight not found")
	}
	now := in.ModifiedAt
	in.DeletedAt = &now
	in.DeletedBy = string(actor)
	in.DeleteReason = reason
	f.insights[insightID] = in
	return nil
}

func (f *fakeStore) Touch(ctx context.Context, sessionID string, insightID int64, importance float64, capacity int) error {
	f.touched = append(f.touched, touchCall{sessionID, insightID, importance, capacity})
	return nil
}

func (f *fakeStore) StoreEpisode(ctx context.Context, ep ckg.Episode) (ckg.Episode, error) {
	ep.ID = int64(len(f.episodes) + 1)
	f.episodes = append(f.episodes, ep)
	return ep, nil
}

func (f *fakeStore) SearchEpisodes(ctx context.Context, embedding []float32, topK int) ([]ckg.Episode, error) {
	return f.searchHits, nil
}

func (f *fakeStore) WriteAudit(ctx context.Context, entry ckg.AuditEntry) (int64, error) { return 1, nil }

func (f *fakeStore) CreateProposal(ctx context.Context, p ckg.Proposal) (ckg.Proposal, error) {
	f.nextPropID++
	p.ID = f.nextPropID
	p.Status = ckg.ProposalPending
	f.proposals[p.ID] = p
	return p, nil
}

func newEmbedder() *embeddingsmock.Provider {
	return &embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}}
}

func newSMFEngine(store *fakeStore) *smf.Engine {
	checker := &neutralitymock.Checker{Verdict: neutrality.Verdict{Neutral: true, Reason: "no coercion detected"}}
	return smf.New(store, checker, 0, 0)
}

func TestStoreRawDialogue_AppendsEntry(t *testing.T) {
	store := newFakeStore()
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	entry, err := engine.StoreRawDialogue(context.Background(), "sess-1", "player", "I head north")
	if err != nil {
		t.Fatalf("StoreRawDialogue: %v", err)
	}
	if entry.SessionID != "sess-1" || entry.Text != "I head north" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if len(store.dialogue) != 1 {
		t.Fatalf("expected one stored entry, got %d", len(store.dialogue))
	}
}

func TestCompressToInsight_StoresRegardlessOfLowFidelity(t *testing.T) {
	store := newFakeStore()
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	result, err := engine.CompressToInsight(context.Background(), "sess-1", ckg.SectorSemantic,
		"um uh yeah so like I mean", nil, nil)
	if err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}
	if result.Insight.ID == 0 {
		t.Fatalf("expected insight to be persisted, got %+v", result.Insight)
	}
	if result.FidelityWarning == "" {
		t.Fatalf("expected a fidelity warning for filler-dominated content")
	}
}

func TestCompressToInsight_NoWarningForSubstantiveContent(t *testing.T) {
	store := newFakeStore()
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	result, err := engine.CompressToInsight(context.Background(), "sess-1", ckg.SectorSemantic,
		"Marco forged the sword in the mountain smithy during the war", nil, nil)
	if err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}
	if result.FidelityWarning != "" {
		t.Fatalf("expected no fidelity warning, got %q", result.FidelityWarning)
	}
}

func TestUpdateInsight_RequiresReason(t *testing.T) {
	store := newFakeStore()
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	newContent := "revised"
	_, err := engine.UpdateInsight(context.Background(), session.UpdateInsightInput{
		InsightID: 1, Actor: ckg.ActorPrimary, NewContent: &newContent,
	})
	if ckg.KindOf(err) != ckg.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for missing reason, got %v", err)
	}
}

func TestUpdateInsight_RequiresAtLeastOneField(t *testing.T) {
	store := newFakeStore()
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	_, err := engine.UpdateInsight(context.Background(), session.UpdateInsightInput{
		InsightID: 1, Actor: ckg.ActorPrimary, Reason: "cleanup",
	})
	if ckg.KindOf(err) != ckg.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument when no field is set, got %v", err)
	}
}

func TestUpdateInsight_RejectsBlankNewContent(t *testing.T) {
	store := newFakeStore()
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	blank := "   "
	_, err := engine.UpdateInsight(context.Background(), session.UpdateInsightInput{
		InsightID: 1, Actor: ckg.ActorPrimary, Reason: "cleanup", NewContent: &blank,
	})
	if ckg.KindOf(err) != ckg.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for blank new_content, got %v", err)
	}
}

func TestUpdateInsight_SoftDeletedReturnsNotFound(t *testing.T) {
	store := newFakeStore()
	store.insights[1] = ckg.Insight{ID: 1, Content: "old"}
	deletedAt := store.insights[1]
	now := deletedAt.ModifiedAt
	deletedAt.DeletedAt = &now
	store.insights[1] = deletedAt
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	newContent := "new"
	_, err := engine.UpdateInsight(context.Background(), session.UpdateInsightInput{
		InsightID: 1, Actor: ckg.ActorPrimary, Reason: "cleanup", NewContent: &newContent,
	})
	if ckg.KindOf(err) != ckg.KindNotFound {
		t.Fatalf("expected NotFound for soft-deleted insight, got %v", err)
	}
}

func TestUpdateInsight_PrimaryActorExecutesDirectly(t *testing.T) {
	store := newFakeStore()
	store.insights[1] = ckg.Insight{ID: 1, Content: "old content", MemoryStrength: 0.5}
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	newContent := "corrected content"
	result, err := engine.UpdateInsight(context.Background(), session.UpdateInsightInput{
		InsightID: 1, Actor: ckg.ActorPrimary, Reason: "typo fix", NewContent: &newContent,
	})
	if err != nil {
		t.Fatalf("UpdateInsight: %v", err)
	}
	if result.Pending {
		t.Fatalf("expected a primary-actor update to execute directly, not go pending")
	}
	if result.Insight.Content != "corrected content" {
		t.Fatalf("expected content updated directly, got %+v", result.Insight)
	}
}

func TestUpdateInsight_SecondaryActorAlwaysCreatesProposal(t *testing.T) {
	store := newFakeStore()
	store.insights[1] = ckg.Insight{ID: 1, Content: "old content", MemoryStrength: 0.5}
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	newContent := "reframed content"
	result, err := engine.UpdateInsight(context.Background(), session.UpdateInsightInput{
		InsightID: 1, Actor: ckg.ActorSecondary, Reason: "self-reframing", NewContent: &newContent,
	})
	if err != nil {
		t.Fatalf("UpdateInsight: %v", err)
	}
	if !result.Pending || result.Proposal == nil {
		t.Fatalf("expected a secondary-actor update to create a pending proposal, got %+v", result)
	}
	if store.insights[1].Content != "old content" {
		t.Fatalf("expected direct store content untouched until approval, got %+v", store.insights[1])
	}
}

func TestDeleteInsight_DelegatesForAnyActor(t *testing.T) {
	store := newFakeStore()
	store.insights[1] = ckg.Insight{ID: 1, Content: "old"}
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	if err := engine.DeleteInsight(context.Background(), 1, ckg.ActorSecondary, "no longer relevant"); err != nil {
		t.Fatalf("DeleteInsight: %v", err)
	}
	if store.insights[1].DeletedAt == nil {
		t.Fatalf("expected insight soft-deleted")
	}
}

func TestUpdateWorkingMemory_UsesConfiguredCapacity(t *testing.T) {
	store := newFakeStore()
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 4)

	if err := engine.UpdateWorkingMemory(context.Background(), "sess-1", 42, 0.9); err != nil {
		t.Fatalf("UpdateWorkingMemory: %v", err)
	}
	if len(store.touched) != 1 || store.touched[0].capacity != 4 {
		t.Fatalf("expected one touch call with capacity 4, got %+v", store.touched)
	}
}

func TestStoreEpisode_RejectsOutOfRangeReward(t *testing.T) {
	store := newFakeStore()
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	_, err := engine.StoreEpisode(context.Background(), session.StoreEpisodeInput{
		SessionID: "sess-1", Query: "what happened at the bridge?", Reward: 1.5,
	})
	if ckg.KindOf(err) != ckg.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for out-of-range reward, got %v", err)
	}
}

func TestStoreEpisode_EmbedsQueryAndPersists(t *testing.T) {
	store := newFakeStore()
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	ep, err := engine.StoreEpisode(context.Background(), session.StoreEpisodeInput{
		SessionID: "sess-1", Query: "what happened at the bridge?", Reward: 0.8, Reflection: "guessed right",
	})
	if err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}
	if ep.Summary != "what happened at the bridge?" || ep.Reward != 0.8 || ep.Reflection != "guessed right" {
		t.Fatalf("unexpected episode: %+v", ep)
	}
	if len(ep.Embedding) == 0 {
		t.Fatalf("expected embedded episode query")
	}
}

func TestRecallEpisodes_ReturnsStoreHits(t *testing.T) {
	store := newFakeStore()
	store.searchHits = []ckg.Episode{{ID: 1, Summary: "bridge collapse"}}
	engine := session.New(store, newEmbedder(), newSMFEngine(store), 0)

	episodes, err := engine.RecallEpisodes(context.Background(), "what happened at the bridge?")
	if err != nil {
		t.Fatalf("RecallEpisodes: %v", err)
	}
	if len(episodes) != 1 || episodes[0].ID != 1 {
		t.Fatalf("expected the store's search hits passed through, got %+v", episodes)
	}
}
