// Package retrieval implements hybrid retrieval (§4.9): semantic, lexical,
// and graph legs run concurrently and are fused by Reciprocal Rank Fusion.
// Pre-filtering is delegated to the store via [ckg.ResolvedSearchConfig]:
// the semantic and lexical legs apply the sector, date and tags filters
// before ranking, and the graph leg passes the superseded setting to its
// neighbor traversal. The source-type filter is carried in the config but
// no leg applies it.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings"
)

const rrfK = 60.0

// Weights is the per-leg RRF weight split (§4.9). The three fields should
// sum to 1.0, though Fuse does not enforce it.
type Weights struct {
	Semantic float64
	Lexical  float64
	Graph    float64
}

// DefaultWeights is §4.9's non-relational default split.
func DefaultWeights() Weights { return Weights{Semantic: 0.60, Lexical: 0.20, Graph: 0.20} }

// RelationalWeights is §4.9's split once the query-routing heuristic
// detects relational terms.
func RelationalWeights() Weights { return Weights{Semantic: 0.40, Lexical: 0.20, Graph: 0.40} }

// collapsedWeights is §4.9's fallback split when the graph leg recalls
// nothing, regardless of which weight set routing picked.
func collapsedWeights() Weights { return Weights{Semantic: 0.80, Lexical: 0.20, Graph: 0} }

// Result is one fused retrieval hit. Kind distinguishes an insight-backed
// hit from a graph-leg edge that has no linked insight, since RRF fuses
// purely by rank and the two legs can return different document shapes.
type Result struct {
	Kind     string // "insight" or "edge"
	ID       int64
	Insight  *ckg.Insight
	Edge     *ckg.Edge
	RRFScore float64
}

func (r Result) key() string { return fmt.Sprintf("%s:%d", r.Kind, r.ID) }

// Engine runs the three retrieval legs and fuses them.
type Engine struct {
	store              ckg.Store
	embedder           embeddings.Provider
	relationalKeywords []string
}

// New constructs an Engine. relationalKeywords drives the query-routing
// heuristic of §4.9/§9 OQ2.
func New(store ckg.Store, embedder embeddings.Provider, relationalKeywords []string) *Engine {
	return &Engine{store: store, embedder: embedder, relationalKeywords: relationalKeywords}
}

// Search runs hybrid retrieval for query under opts' pre-filters and
// returns fused results, most relevant first, truncated to opts' top_k.
func (e *Engine) Search(ctx context.Context, query string, opts ...ckg.SearchOpt) ([]Result, error) {
	cfg := ckg.ApplySearchOpts(opts...)

	queryVector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	var semantic, lexical []ckg.InsightResult
	var graphEdges []ckg.Edge

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		semantic, err = e.store.SearchSemantic(gctx, queryVector, cfg)
		return err
	})
	group.Go(func() error {
		var err error
		lexical, err = e.store.SearchLexical(gctx, query, cfg)
		return err
	})
	group.Go(func() error {
		edges, err := e.graphLeg(gctx, query, cfg)
		if err != nil {
			return err
		}
		graphEdges = edges
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("retrieval: leg fan-out: %w", err)
	}

	weights := DefaultWeights()
	if IsRelationalQuery(query, e.relationalKeywords) {
		weights = RelationalWeights()
	}
	if len(graphEdges) == 0 {
		weights = collapsedWeights()
	}

	fused := Fuse(semantic, lexical, graphEdges, weights)
	if len(fused) > cfg.TopK {
		fused = fused[:cfg.TopK]
	}
	return fused, nil
}

// graphLeg implements §4.9's graph retrieval leg: it extracts candidate
// entity names from query (keyword-based: capitalized tokens), runs bounded
// neighbor traversal from each, and returns the recalled edges. It only
// runs at all when the query routes as relational; for any other query it
// recalls nothing, so Search fuses with the collapsed semantic/lexical split.
func (e *Engine) graphLeg(ctx context.Context, query string, cfg ckg.ResolvedSearchConfig) ([]ckg.Edge, error) {
	if !IsRelationalQuery(query, e.relationalKeywords) {
		return nil, nil
	}

	var edges []ckg.Edge
	seen := map[int64]bool{}
	for _, name := range extractEntityNames(query) {
		neighbors, err := e.store.Neighbors(ctx, name,
			ckg.WithDepth(1),
			ckg.WithSectorFilter(sectorFilterFor(cfg)),
			ckg.WithIncludeSuperseded(cfg.IncludeSuperseded),
		)
		if err != nil {
			if ckg.KindOf(err) == ckg.KindNotFound {
				continue
			}
			return nil, err
		}
		for _, edge := range neighbors {
			if seen[edge.ID] {
				continue
			}
			seen[edge.ID] = true
			edges = append(edges, edge)
		}
	}
	return edges, nil
}

// sectorFilterFor threads a search's sector pre-filter into a Neighbors
// call, preserving the "set-but-empty means no matches" semantics.
func sectorFilterFor(cfg ckg.ResolvedSearchConfig) []ckg.Sector {
	if !cfg.SectorFilterSet {
		return nil
	}
	if cfg.SectorFilter == nil {
		return []ckg.Sector{}
	}
	return cfg.SectorFilter
}

// Fuse combines the three legs' ranked results via Reciprocal Rank Fusion
// (k=60), sorted by descending fused score.
func Fuse(semantic, lexical []ckg.InsightResult, graph []ckg.Edge, weights Weights) []Result {
	scores := map[string]float64{}
	docs := map[string]Result{}

	add := func(r Result, weight float64, rank int) {
		if weight <= 0 {
			return
		}
		key := r.key()
		scores[key] += weight / (rrfK + float64(rank))
		if _, ok := docs[key]; !ok {
			docs[key] = r
		}
	}

	for i, ir := range semantic {
		insight := ir.Insight
		add(Result{Kind: "insight", ID: insight.ID, Insight: &insight}, weights.Semantic, i+1)
	}
	for i, ir := range lexical {
		insight := ir.Insight
		add(Result{Kind: "insight", ID: insight.ID, Insight: &insight}, weights.Lexical, i+1)
	}
	for i, e := range graph {
		edge := e
		add(Result{Kind: "edge", ID: edge.ID, Edge: &edge}, weights.Graph, i+1)
	}

	results := make([]Result, 0, len(docs))
	for key, r := range docs {
		r.RRFScore = scores[key]
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RRFScore > results[j].RRFScore })
	return results
}

// IsRelationalQuery implements §4.9/§9 OQ2's query-routing heuristic: a
// configurable keyword list checked against a lowercased, tokenized query.
// Multi-word keywords match as substrings; single-word keywords match whole
// tokens only.
func IsRelationalQuery(query string, keywords []string) bool {
	lower := strings.ToLower(query)
	tokens := strings.Fields(lower)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[strings.Trim(t, ".,!?;:\"'")] = true
	}
	for _, kw := range keywords {
		kwLower := strings.ToLower(strings.TrimSpace(kw))
		if kwLower == "" {
			continue
		}
		if strings.Contains(kwLower, " ") {
			if strings.Contains(lower, kwLower) {
				return true
			}
			continue
		}
		if tokenSet[kwLower] {
			return true
		}
	}
	return false
}

// extractEntityNames pulls capitalized tokens out of query as candidate
// node names — the simplest keyword-based entity extraction consistent
// with §4.9's "extracts salient entity names (keyword-based)".
func extractEntityNames(query string) []string {
	var names []string
	for _, word := range strings.Fields(query) {
		trimmed := strings.Trim(word, ".,!?;:\"'")
		if trimmed == "" {
			continue
		}
		r := []rune(trimmed)
		if unicode.IsUpper(r[0]) {
			names = append(names, trimmed)
		}
	}
	return names
}
