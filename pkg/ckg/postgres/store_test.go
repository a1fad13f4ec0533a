package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if CKG_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CKG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CKG_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim, 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS ief_feedback CASCADE",
		"DROP TABLE IF EXISTS smf_proposals CASCADE",
		"DROP TABLE IF EXISTS stale_memory CASCADE",
		"DROP TABLE IF EXISTS working_memory CASCADE",
		"DROP TABLE IF EXISTS insight_revisions CASCADE",
		"DROP TABLE IF EXISTS insights CASCADE",
		"DROP TABLE IF EXISTS episodes CASCADE",
		"DROP TABLE IF EXISTS raw_dialogue CASCADE",
		"DROP TABLE IF EXISTS audit_log CASCADE",
		"DROP TABLE IF EXISTS edges CASCADE",
		"DROP TABLE IF EXISTS nodes CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func embedding(seed float32) []float32 {
	return []float32{seed, seed + 1, seed + 2, seed + 3}
}

// ─────────────────────────────────────────────────────────────────────────────
// Graph core
// ─────────────────────────────────────────────────────────────────────────────

func TestStore_AddNode_UpsertsOnLabelName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n1, err := store.AddNode(ctx, "person", "Ava", map[string]any{"role": "user"})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	n2, err := store.AddNode(ctx, "person", "Ava", map[string]any{"role": "admin"})
	if err != nil {
		t.Fatalf("AddNode (upsert): %v", err)
	}
	if n1.ID != n2.ID {
		t.Fatalf("expected upsert to reuse node id, got %d and %d", n1.ID, n2.ID)
	}
	if n2.Properties["role"] != "admin" {
		t.Fatalf("expected upserted properties to win, got %v", n2.Properties)
	}
}

func TestStore_CountByType_GroupsByLabel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Ava", "Ben"} {
		if _, err := store.AddNode(ctx, "person", name, nil); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	if _, err := store.AddNode(ctx, "place", "Harbor", nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	counts, err := store.CountByType(ctx)
	if err != nil {
		t.Fatalf("CountByType: %v", err)
	}
	if counts["person"] != 2 || counts["place"] != 1 {
		t.Fatalf("CountByType = %+v, want person=2 place=1", counts)
	}
}

func TestStore_AddEdge_DerivesConstitutiveSectorAndEntrenchment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, err := store.AddEdge(ctx, "Ava", "Kindness", "VALUES", 1.0, "",
		map[string]any{"edge_type": "constitutive"})
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if !e.IsConstitutive() {
		t.Fatalf("expected constitutive edge")
	}
	if e.Entrenchment != ckg.EntrenchmentMaximal {
		t.Fatalf("expected maximal entrenchment, got %q", e.Entrenchment)
	}
}

func TestStore_GetEdgeFuzzy_ExactMatchShortCircuits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want, err := store.AddEdge(ctx, "Ava", "Coffee", "LIKES", 1.0, "", nil)
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	got, err := store.GetEdgeFuzzy(ctx, "Ava", "Coffee", "LIKES")
	if err != nil {
		t.Fatalf("GetEdgeFuzzy: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("expected exact match to resolve edge %d, got %d", want.ID, got.ID)
	}
}

func TestStore_GetEdgeFuzzy_ResolvesCloseSpellingWhenUnambiguous(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want, err := store.AddEdge(ctx, "Ava", "Coffee", "DISLIKES_INTENSELY", 1.0, "", nil)
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	got, err := store.GetEdgeFuzzy(ctx, "Ava", "Coffee", "DISLIKES_INTENSLY") // misspelled
	if err != nil {
		t.Fatalf("GetEdgeFuzzy: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("expected fuzzy match to resolve edge %d, got %d", want.ID, got.ID)
	}
}

func TestStore_GetEdgeFuzzy_AmbiguousWhenMultipleCandidatesClearThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AddEdge(ctx, "Ava", "Coffee", "LIKES", 1.0, "", nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if _, err := store.AddEdge(ctx, "Ava", "Coffee", "LIKES_A_LOT", 1.0, "", nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	_, err := store.GetEdgeFuzzy(ctx, "Ava", "Coffee", "LIKES_SOMEWHAT")
	if ckg.KindOf(err) != ckg.KindAmbiguous {
		t.Fatalf("expected Ambiguous, got %v", err)
	}
}

func TestStore_GetEdgeFuzzy_NotFoundWhenNoCandidateClearsThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AddEdge(ctx, "Ava", "Coffee", "LIKES", 1.0, "", nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	_, err := store.GetEdgeFuzzy(ctx, "Ava", "Coffee", "DESPISES")
	if ckg.KindOf(err) != ckg.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestStore_DeleteEdge_BlocksConstitutiveAndAudits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, err := store.AddEdge(ctx, "Ava", "Kindness", "VALUES", 1.0, "",
		map[string]any{"edge_type": "constitutive"})
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	err = store.DeleteEdge(ctx, e.ID, ckg.ActorPrimary)
	if ckg.KindOf(err) != ckg.KindConstitutiveEdgeProtection {
		t.Fatalf("expected ConstitutiveEdgeProtection, got %v", err)
	}

	entries, err := store.ListAudit(ctx, &e.ID, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	found := false
	for _, entry := range entries {
		if entry.Action == ckg.AuditActionDeleteEdge && entry.Blocked {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a blocked DELETE_EDGE audit entry, got %+v", entries)
	}
}

func TestStore_DeleteEdge_SucceedsForDescriptiveEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, err := store.AddEdge(ctx, "Ava", "Coffee", "LIKES", 0.5, "", nil)
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := store.DeleteEdge(ctx, e.ID, ckg.ActorPrimary); err != nil {
		t.Fatalf("DeleteEdge: %v", err)
	}
	if _, err := store.GetEdgeByID(ctx, e.ID); ckg.KindOf(err) != ckg.KindNotFound {
		t.Fatalf("expected edge gone after delete, got %v", err)
	}
}

func TestStore_Neighbors_BoundedDepth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustEdge := func(src, dst, rel string) {
		t.Helper()
		if _, err := store.AddEdge(ctx, src, dst, rel, 1.0, "", nil); err != nil {
			t.Fatalf("AddEdge(%s,%s,%s): %v", src, dst, rel, err)
		}
	}
	mustEdge("A", "B", "KNOWS")
	mustEdge("B", "C", "KNOWS")
	mustEdge("C", "D", "KNOWS")

	edges, err := store.Neighbors(ctx, "A", ckg.WithDepth(1))
	if err != nil {
		t.Fatalf("Neighbors depth 1: %v", err)
	}
	if len(edges) != 1 || edges[0].TargetName != "B" {
		t.Fatalf("expected exactly [A->B] at depth 1, got %+v", edges)
	}

	edges, err = store.Neighbors(ctx, "A", ckg.WithDepth(3))
	if err != nil {
		t.Fatalf("Neighbors depth 3: %v", err)
	}
	if len(edges) != 3 {
		t.Fatalf("expected 3 reachable edges within depth 3, got %d", len(edges))
	}
}

func TestStore_FindPath_ReportsNotFoundWhenDisconnected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AddNode(ctx, "thing", "Island", nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if _, err := store.AddNode(ctx, "thing", "Mainland", nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	result, err := store.FindPath(ctx, "Island", "Mainland")
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if result.PathFound {
		t.Fatalf("expected no path between disconnected nodes, got %+v", result)
	}
}

func TestStore_ResolveDissonance_SupersedesOlderEdgeOnEqualEntrenchment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older, err := store.AddEdge(ctx, "Ava", "Coffee", "LIKES", 0.5, "", nil)
	if err != nil {
		t.Fatalf("AddEdge older: %v", err)
	}
	newer, err := store.AddEdge(ctx, "Ava", "Tea", "LIKES", 0.9, "", nil)
	if err != nil {
		t.Fatalf("AddEdge newer: %v", err)
	}

	resolution, err := store.ResolveDissonance(ctx, older.ID, newer.ID, ckg.ResolutionEvolution,
		"preference changed", "judge")
	if err != nil {
		t.Fatalf("ResolveDissonance: %v", err)
	}
	if !resolution.IsResolution() {
		t.Fatalf("expected a resolution hyperedge, got %+v", resolution)
	}

	supersededOlder, err := store.GetEdgeByID(ctx, older.ID)
	if err != nil {
		t.Fatalf("GetEdgeByID older: %v", err)
	}
	if supersededOlder.Properties["superseded_by"] == nil {
		t.Fatalf("expected older edge marked superseded_by, got %+v", supersededOlder.Properties)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// L0 / L2 / working memory / episodes
// ─────────────────────────────────────────────────────────────────────────────

func TestStore_AppendAndListDialogue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AppendDialogue(ctx, "sess-1", "user", "hello"); err != nil {
		t.Fatalf("AppendDialogue: %v", err)
	}
	if _, err := store.AppendDialogue(ctx, "sess-1", "assistant", "hi there"); err != nil {
		t.Fatalf("AppendDialogue: %v", err)
	}

	entries, err := store.ListDialogue(ctx, "sess-1", time.Time{})
	if err != nil {
		t.Fatalf("ListDialogue: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestStore_UpdateInsight_AppendsRevisionNeverOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insight, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorSemantic, "likes tea",
		embedding(0), nil, []string{"beverages"})
	if err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}

	if _, err := store.UpdateInsight(ctx, insight.ID, "likes tea strongly", nil, ckg.ActorPrimary, "clarifying intensity", nil); err != nil {
		t.Fatalf("UpdateInsight: %v", err)
	}

	revisions, err := store.ListInsightRevisions(ctx, insight.ID)
	if err != nil {
		t.Fatalf("ListInsightRevisions: %v", err)
	}
	if len(revisions) != 1 {
		t.Fatalf("expected one revision, got %+v", revisions)
	}
	rev := revisions[0]
	if rev.Action != ckg.RevisionActionUpdate || rev.NewContent != "likes tea strongly" || rev.OldContent != "likes tea" {
		t.Fatalf("expected revision capturing old/new content, got %+v", rev)
	}
	if rev.Reason != "clarifying intensity" {
		t.Fatalf("expected revision to persist reason, got %+v", rev)
	}

	fetched, err := store.GetInsight(ctx, insight.ID)
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if fetched.Content != "likes tea strongly" {
		t.Fatalf("expected content updated, got %q", fetched.Content)
	}
}

func TestStore_DeleteInsight_SoftDeletesOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insight, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorSemantic, "likes tea",
		embedding(0), nil, nil)
	if err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}

	if err := store.DeleteInsight(ctx, insight.ID, ckg.ActorPrimary, "no longer relevant"); err != nil {
		t.Fatalf("DeleteInsight: %v", err)
	}

	fetched, err := store.GetInsight(ctx, insight.ID)
	if err != nil {
		t.Fatalf("GetInsight after soft delete: %v", err)
	}
	if !fetched.IsDeleted() {
		t.Fatalf("expected insight marked deleted, got %+v", fetched)
	}
}

func TestStore_DeleteInsight_WritesHistoryRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insight, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorSemantic, "likes tea",
		embedding(0), nil, nil)
	if err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}

	if err := store.DeleteInsight(ctx, insight.ID, ckg.ActorPrimary, "no longer relevant"); err != nil {
		t.Fatalf("DeleteInsight: %v", err)
	}

	revisions, err := store.ListInsightRevisions(ctx, insight.ID)
	if err != nil {
		t.Fatalf("ListInsightRevisions: %v", err)
	}
	if len(revisions) != 1 {
		t.Fatalf("expected exactly one history row for delete_insight, got %+v", revisions)
	}
	rev := revisions[0]
	if rev.Action != ckg.RevisionActionDelete || rev.Reason != "no longer relevant" {
		t.Fatalf("expected a DELETE-action revision carrying the reason, got %+v", rev)
	}
}

func TestStore_FindPath_ExcludesSupersededEdgeUnlessIncluded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older, err := store.AddEdge(ctx, "Ava", "Coffee", "LIKES", 0.5, "", nil)
	if err != nil {
		t.Fatalf("AddEdge older: %v", err)
	}
	if _, err := store.AddEdge(ctx, "Ava", "Tea", "LIKES", 0.9, "", nil); err != nil {
		t.Fatalf("AddEdge newer: %v", err)
	}
	newer, err := store.GetEdge(ctx, "Ava", "Tea", "LIKES")
	if err != nil {
		t.Fatalf("GetEdge newer: %v", err)
	}

	if _, err := store.ResolveDissonance(ctx, older.ID, newer.ID, ckg.ResolutionEvolution, "preference changed", "judge"); err != nil {
		t.Fatalf("ResolveDissonance: %v", err)
	}

	result, err := store.FindPath(ctx, "Ava", "Coffee")
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if result.PathFound {
		t.Fatalf("expected superseded edge to be excluded from find_path by default, got %+v", result)
	}

	result, err = store.FindPath(ctx, "Ava", "Coffee", ckg.WithPathIncludeSuperseded(true))
	if err != nil {
		t.Fatalf("FindPath include_superseded: %v", err)
	}
	if !result.PathFound {
		t.Fatalf("expected superseded edge included when include_superseded=true")
	}
}

func TestStore_Neighbors_IncludesResolutionHyperedgeEvenWhenSupersededIsHidden(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older, err := store.AddEdge(ctx, "Ava", "Coffee", "LIKES", 0.5, "", nil)
	if err != nil {
		t.Fatalf("AddEdge older: %v", err)
	}
	if _, err := store.AddEdge(ctx, "Ava", "Tea", "LIKES", 0.9, "", nil); err != nil {
		t.Fatalf("AddEdge newer: %v", err)
	}
	newer, err := store.GetEdge(ctx, "Ava", "Tea", "LIKES")
	if err != nil {
		t.Fatalf("GetEdge newer: %v", err)
	}

	resolution, err := store.ResolveDissonance(ctx, older.ID, newer.ID, ckg.ResolutionEvolution, "preference changed", "judge")
	if err != nil {
		t.Fatalf("ResolveDissonance: %v", err)
	}

	edges, err := store.Neighbors(ctx, "Ava", ckg.WithIncludeSuperseded(false))
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	var sawWinner, sawResolution, sawLoser bool
	for _, e := range edges {
		switch e.ID {
		case newer.ID:
			sawWinner = true
		case resolution.ID:
			sawResolution = true
		case older.ID:
			sawLoser = true
		}
	}
	if !sawWinner {
		t.Fatalf("expected the winning edge to be returned, got %+v", edges)
	}
	if !sawResolution {
		t.Fatalf("expected the resolution hyperedge to be returned even with include_superseded=false, got %+v", edges)
	}
	if sawLoser {
		t.Fatalf("expected the superseded loser edge to be excluded, got %+v", edges)
	}
}

func TestStore_ListInsights_FiltersSoftDeletedAndBySector(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kept, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorSemantic, "likes tea",
		embedding(0), nil, nil)
	if err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}
	if _, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorEmotional, "felt anxious",
		embedding(1), nil, nil); err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}
	deleted, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorSemantic, "likes coffee",
		embedding(2), nil, nil)
	if err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}
	if err := store.DeleteInsight(ctx, deleted.ID, ckg.ActorPrimary, "superseded"); err != nil {
		t.Fatalf("DeleteInsight: %v", err)
	}

	all, err := store.ListInsights(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("ListInsights: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListInsights unfiltered = %d, want 2 (soft-deleted excluded)", len(all))
	}

	semantic, err := store.ListInsights(ctx, "sess-1", ckg.SectorSemantic)
	if err != nil {
		t.Fatalf("ListInsights sector-filtered: %v", err)
	}
	if len(semantic) != 1 || semantic[0].ID != kept.ID {
		t.Fatalf("ListInsights(sector=semantic) = %+v, want just %d", semantic, kept.ID)
	}
}

func TestStore_SearchSemantic_RespectsEmptySectorFilterAsZeroMatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorSemantic, "likes tea",
		embedding(0), nil, nil); err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}

	results, err := store.SearchSemantic(ctx, embedding(0), ckg.ApplySearchOpts(ckg.WithSearchSectorFilter([]ckg.Sector{})))
	if err != nil {
		t.Fatalf("SearchSemantic: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected explicit empty sector filter to match nothing, got %d", len(results))
	}

	results, err = store.SearchSemantic(ctx, embedding(0), ckg.ApplySearchOpts())
	if err != nil {
		t.Fatalf("SearchSemantic (unfiltered): %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match with no filter, got %d", len(results))
	}
}

func TestStore_Touch_EvictsUnprotectedEntryOverCapacity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ids := make([]int64, 0, 9)
	for i := 0; i < 9; i++ {
		insight, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorSemantic, "content",
			embedding(float32(i)), nil, nil)
		if err != nil {
			t.Fatalf("CompressToInsight: %v", err)
		}
		ids = append(ids, insight.ID)
	}

	for _, id := range ids {
		if err := store.Touch(ctx, "sess-1", id, 0.2, 8); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}

	entries, err := store.ListWorkingMemory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListWorkingMemory: %v", err)
	}
	if len(entries) != 8 {
		t.Fatalf("expected working memory capped at 8, got %d", len(entries))
	}

	stale, err := store.ListStaleMemory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListStaleMemory: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected exactly 1 evicted entry, got %d", len(stale))
	}
}

func TestStore_Touch_ProtectsHighImportanceFromEviction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	protectedInsight, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorEmotional, "anchor",
		embedding(0), nil, nil)
	if err != nil {
		t.Fatalf("CompressToInsight: %v", err)
	}
	if err := store.Touch(ctx, "sess-1", protectedInsight.ID, 0.95, 8); err != nil {
		t.Fatalf("Touch protected: %v", err)
	}

	for i := 0; i < 8; i++ {
		insight, err := store.CompressToInsight(ctx, "sess-1", ckg.SectorSemantic, "content",
			embedding(float32(i+1)), nil, nil)
		if err != nil {
			t.Fatalf("CompressToInsight: %v", err)
		}
		if err := store.Touch(ctx, "sess-1", insight.ID, 0.2, 8); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}

	entries, err := store.ListWorkingMemory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListWorkingMemory: %v", err)
	}
	for _, e := range entries {
		if e.InsightID == protectedInsight.ID {
			return
		}
	}
	t.Fatalf("expected protected high-importance entry to survive eviction, got %+v", entries)
}

func TestStore_StoreEpisode_UpsertsInPlace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	ep, err := store.StoreEpisode(ctx, ckg.Episode{
		SessionID: "sess-1",
		Summary:   "first draft",
		Embedding: embedding(0),
		StartedAt: now,
		EndedAt:   now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}

	updated, err := store.StoreEpisode(ctx, ckg.Episode{
		ID:        ep.ID,
		SessionID: "sess-1",
		Summary:   "revised summary",
		Embedding: embedding(0),
		StartedAt: now,
		EndedAt:   now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("StoreEpisode (upsert): %v", err)
	}
	if updated.ID != ep.ID {
		t.Fatalf("expected same episode id, got %d and %d", ep.ID, updated.ID)
	}
	if updated.Summary != "revised summary" {
		t.Fatalf("expected upserted summary, got %q", updated.Summary)
	}

	episodes, err := store.ListEpisodes(ctx, "sess-1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("expected exactly 1 episode after upsert, got %d", len(episodes))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SMF proposals
// ─────────────────────────────────────────────────────────────────────────────

func TestStore_RecordConsent_BilateralRequiresBothActors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreateProposal(ctx, ckg.Proposal{
		Kind:          ckg.ProposalKindDeleteEdge,
		Rationale:     "no longer true",
		ProposedBy:    ckg.ActorPrimary,
		RequiredLevel: ckg.ApprovalBilateral,
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	p, err = store.RecordConsent(ctx, p.ID, ckg.ActorPrimary)
	if err != nil {
		t.Fatalf("RecordConsent primary: %v", err)
	}
	if p.Status != ckg.ProposalPending {
		t.Fatalf("expected still pending after only primary consent, got %q", p.Status)
	}

	p, err = store.RecordConsent(ctx, p.ID, ckg.ActorSecondary)
	if err != nil {
		t.Fatalf("RecordConsent secondary: %v", err)
	}
	if p.Status != ckg.ProposalApproved {
		t.Fatalf("expected approved after both consents, got %q", p.Status)
	}
	if p.ResolvedAt == nil {
		t.Fatalf("expected ResolvedAt set on approval")
	}
}

func TestStore_RecordConsent_PrimaryOnlySufficesForPrimaryLevel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreateProposal(ctx, ckg.Proposal{
		Kind:          ckg.ProposalKindAddEdge,
		Rationale:     "new preference observed",
		ProposedBy:    ckg.ActorPrimary,
		RequiredLevel: ckg.ApprovalPrimary,
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	p, err = store.RecordConsent(ctx, p.ID, ckg.ActorPrimary)
	if err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	if p.Status != ckg.ProposalApproved {
		t.Fatalf("expected approved after primary-only consent on primary-level proposal, got %q", p.Status)
	}
}

func TestStore_ExpirePendingProposals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreateProposal(ctx, ckg.Proposal{
		Kind:          ckg.ProposalKindAddEdge,
		Rationale:     "stale proposal",
		ProposedBy:    ckg.ActorPrimary,
		RequiredLevel: ckg.ApprovalPrimary,
		ExpiresAt:     time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	expired, err := store.ExpirePendingProposals(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpirePendingProposals: %v", err)
	}
	if len(expired) != 1 || expired[0] != p.ID {
		t.Fatalf("expected proposal %d to expire, got %v", p.ID, expired)
	}

	fetched, err := store.GetProposal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if fetched.Status != ckg.ProposalTimedOut {
		t.Fatalf("expected timed_out status, got %q", fetched.Status)
	}
}

func TestStore_MarkUndone_OnlyFromApproved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreateProposal(ctx, ckg.Proposal{
		Kind:          ckg.ProposalKindAddEdge,
		Rationale:     "approved already",
		ProposedBy:    ckg.ActorPrimary,
		RequiredLevel: ckg.ApprovalPrimary,
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if _, err := store.RecordConsent(ctx, p.ID, ckg.ActorPrimary); err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}

	undone, err := store.MarkUndone(ctx, p.ID, 999)
	if err != nil {
		t.Fatalf("MarkUndone: %v", err)
	}
	if undone.Status != ckg.ProposalUndone {
		t.Fatalf("expected undone status, got %q", undone.Status)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// IEF feedback
// ─────────────────────────────────────────────────────────────────────────────

func TestStore_RecordFeedback_AccumulatesUntilRecalibrated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.RecordFeedback(ctx, ckg.Feedback{
		Query: "what does Ava like?", RetrievedContext: "likes tea", Answer: "tea", Reward: 1.0,
	})
	if err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1 after first feedback, got %d", count)
	}

	count, err = store.RecordFeedback(ctx, ckg.Feedback{
		Query: "what does Ava like?", RetrievedContext: "likes coffee", Answer: "coffee", Reward: -1.0,
	})
	if err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2 after second feedback, got %d", count)
	}

	if err := store.MarkRecalibrated(ctx); err != nil {
		t.Fatalf("MarkRecalibrated: %v", err)
	}

	pending, err := store.ListFeedbackSinceRecalibration(ctx)
	if err != nil {
		t.Fatalf("ListFeedbackSinceRecalibration: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending feedback after recalibration, got %d", len(pending))
	}
}
