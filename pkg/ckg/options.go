package ckg

import "time"

// neighborConfig holds the resolved settings for a [GraphStore.Neighbors] call.
// Unexported; built up by [NeighborOpt] functions and read via [ApplyNeighborOpts].
type neighborConfig struct {
	Relation          string
	Depth             int
	SectorFilter      []Sector
	IncludeSuperseded bool
}

// NeighborOpt configures a [GraphStore.Neighbors] call (§4.5 query_neighbors).
type NeighborOpt func(*neighborConfig)

// WithRelation restricts traversal to edges of the given relation name.
func WithRelation(relation string) NeighborOpt {
	return func(c *neighborConfig) { c.Relation = relation }
}

// WithDepth sets the maximum traversal depth, clamped to [1,5] by the caller.
func WithDepth(depth int) NeighborOpt {
	return func(c *neighborConfig) { c.Depth = depth }
}

// WithSectorFilter restricts results to the given sectors. A nil slice means
// "no restriction"; a non-nil empty slice deliberately means "no matches" (§4.9).
func WithSectorFilter(sectors []Sector) NeighborOpt {
	return func(c *neighborConfig) { c.SectorFilter = sectors }
}

// WithIncludeSuperseded includes edges that a resolution hyperedge has
// superseded. Default false (§4.5).
func WithIncludeSuperseded(include bool) NeighborOpt {
	return func(c *neighborConfig) { c.IncludeSuperseded = include }
}

// ApplyNeighborOpts resolves opts against the §4.5 defaults (depth=1, no
// filter, superseded hidden) and returns the resolved configuration. Exported
// so the postgres implementation (and any future backend) can share the
// same option-resolution logic as this package's callers.
func ApplyNeighborOpts(opts ...NeighborOpt) (relation string, depth int, sectorFilter []Sector, includeSuperseded bool) {
	cfg := neighborConfig{Depth: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Depth < 1 {
		cfg.Depth = 1
	}
	if cfg.Depth > 5 {
		cfg.Depth = 5
	}
	return cfg.Relation, cfg.Depth, cfg.SectorFilter, cfg.IncludeSuperseded
}

// pathConfig holds the resolved settings for a [GraphStore.FindPath] call.
type pathConfig struct {
	MaxDepth          int
	MaxPaths          int
	Timeout           time.Duration
	IncludeSuperseded bool
}

// PathOpt configures a [GraphStore.FindPath] call (§4.5 find_path).
type PathOpt func(*pathConfig)

// WithMaxDepth bounds the BFS depth. Default 5.
func WithMaxDepth(depth int) PathOpt {
	return func(c *pathConfig) { c.MaxDepth = depth }
}

// WithMaxPaths bounds the number of shortest paths returned. Default 10.
func WithMaxPaths(n int) PathOpt {
	return func(c *pathConfig) { c.MaxPaths = n }
}

// WithTimeout bounds wall-clock search time. Default 1s (§4.5's intrinsic cap).
func WithTimeout(d time.Duration) PathOpt {
	return func(c *pathConfig) { c.Timeout = d }
}

// WithPathIncludeSuperseded includes edges a resolution hyperedge has
// superseded when searching for a path. Default false, matching
// [WithIncludeSuperseded] (§4.5, §8: "E₁ is absent from query_neighbors,
// find_path, and hybrid_search results").
func WithPathIncludeSuperseded(include bool) PathOpt {
	return func(c *pathConfig) { c.IncludeSuperseded = include }
}

// ApplyPathOpts resolves opts against the §4.5 defaults.
func ApplyPathOpts(opts ...PathOpt) (maxDepth, maxPaths int, timeout time.Duration, includeSuperseded bool) {
	cfg := pathConfig{MaxDepth: 5, MaxPaths: 10, Timeout: time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = 5
	}
	if cfg.MaxPaths < 1 {
		cfg.MaxPaths = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	return cfg.MaxDepth, cfg.MaxPaths, cfg.Timeout, cfg.IncludeSuperseded
}

// PathStep is one hop of a found path: the node arrived at, and the edge used
// to arrive (nil for the starting node).
type PathStep struct {
	NodeName string
	Edge     *Edge
}

// PathResult is the response shape of find_path (§4.5).
type PathResult struct {
	PathFound  bool
	PathLength int
	Paths      [][]PathStep
}

// searchConfig holds pre-filtering settings shared by semantic, lexical, and
// graph retrieval legs (§4.9 "Pre-filtering").
type searchConfig struct {
	SectorFilter     []Sector
	SectorFilterSet  bool
	DateFrom         *time.Time
	DateTo           *time.Time
	TagsFilter       []string
	SourceTypeFilter string
	IncludeSuperseded bool
	TopK             int
}

// SearchOpt configures a hybrid-retrieval search call (§4.9).
type SearchOpt func(*searchConfig)

// WithSearchSectorFilter restricts results to the given sectors. Passing a
// non-nil empty slice deliberately yields zero matches (§4.9).
func WithSearchSectorFilter(sectors []Sector) SearchOpt {
	return func(c *searchConfig) { c.SectorFilter = sectors; c.SectorFilterSet = true }
}

// WithDateRange restricts results to insights created within [from, to].
// Either bound may be the zero time to mean unbounded.
func WithDateRange(from, to time.Time) SearchOpt {
	return func(c *searchConfig) {
		if !from.IsZero() {
			c.DateFrom = &from
		}
		if !to.IsZero() {
			c.DateTo = &to
		}
	}
}

// WithTagsFilter restricts results to insights carrying all of the given tags.
func WithTagsFilter(tags []string) SearchOpt {
	return func(c *searchConfig) { c.TagsFilter = tags }
}

// WithSourceTypeFilter records the given result class in the resolved
// search config. No retrieval leg filters on it, so results are not
// restricted by it.
func WithSourceTypeFilter(sourceType string) SearchOpt {
	return func(c *searchConfig) { c.SourceTypeFilter = sourceType }
}

// WithSearchIncludeSuperseded includes superseded edges in graph-leg results.
func WithSearchIncludeSuperseded(include bool) SearchOpt {
	return func(c *searchConfig) { c.IncludeSuperseded = include }
}

// WithTopK overrides the default top-k of 5.
func WithTopK(k int) SearchOpt {
	return func(c *searchConfig) { c.TopK = k }
}

// ResolvedSearchConfig is the fully-resolved, read-only view of a search
// call's pre-filters, returned by [ApplySearchOpts].
type ResolvedSearchConfig struct {
	SectorFilter      []Sector
	SectorFilterSet   bool
	DateFrom          *time.Time
	DateTo            *time.Time
	TagsFilter        []string
	SourceTypeFilter  string
	IncludeSuperseded bool
	TopK              int
}

// ApplySearchOpts resolves opts against the §4.9 defaults (top_k=5, no
// filters, superseded hidden).
func ApplySearchOpts(opts ...SearchOpt) ResolvedSearchConfig {
	cfg := searchConfig{TopK: 5}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	return ResolvedSearchConfig{
		SectorFilter:      cfg.SectorFilter,
		SectorFilterSet:   cfg.SectorFilterSet,
		DateFrom:          cfg.DateFrom,
		DateTo:            cfg.DateTo,
		TagsFilter:        cfg.TagsFilter,
		SourceTypeFilter:  cfg.SourceTypeFilter,
		IncludeSuperseded: cfg.IncludeSuperseded,
		TopK:              cfg.TopK,
	}
}
