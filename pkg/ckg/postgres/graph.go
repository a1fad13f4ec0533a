package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antzucaro/matchr"
	"github.com/jackc/pgx/v5"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// fuzzyRelationThreshold is the minimum Jaro-Winkler similarity a candidate
// relation must clear to be considered a match for [Store.GetEdgeFuzzy].
const fuzzyRelationThreshold = 0.85

// AddNode implements [ckg.GraphStore]. It upserts a node by (label, name);
// on conflict only properties are refreshed.
func (s *Store) AddNode(ctx context.Context, label, name string, properties map[string]any) (ckg.Node, error) {
	if properties == nil {
		properties = map[string]any{}
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return ckg.Node{}, fmt.Errorf("graph: marshal node properties: %w", err)
	}

	const q = `
		INSERT INTO nodes (label, name, properties, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (label, name) DO UPDATE SET
		    properties = nodes.properties || EXCLUDED.properties
		RETURNING id, label, name, properties, vector_id, created_at`

	row := s.pool.QueryRow(ctx, q, label, name, propsJSON)
	return scanNode(row)
}

// GetNode implements [ckg.GraphStore].
func (s *Store) GetNode(ctx context.Context, label, name string) (ckg.Node, error) {
	const q = `
		SELECT id, label, name, properties, vector_id, created_at
		FROM   nodes
		WHERE  label = $1 AND name = $2`

	row := s.pool.QueryRow(ctx, q, label, name)
	n, err := scanNode(row)
	if err != nil {
		if isNoRows(err) {
			return ckg.Node{}, ckg.NewError(ckg.KindNotFound, "node not found").
				WithDetails(map[string]any{"label": label, "name": name})
		}
		return ckg.Node{}, err
	}
	return n, nil
}

func scanNode(row pgx.Row) (ckg.Node, error) {
	var (
		n         ckg.Node
		propsJSON []byte
	)
	if err := row.Scan(&n.ID, &n.Label, &n.Name, &propsJSON, &n.VectorID, &n.CreatedAt); err != nil {
		return ckg.Node{}, err
	}
	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &n.Properties); err != nil {
			return ckg.Node{}, fmt.Errorf("graph: unmarshal node properties: %w", err)
		}
	}
	return n, nil
}

// AddEdge implements [ckg.GraphStore]. Endpoints are upserted by name first;
// the edge itself is then upserted by (source, target, relation), merging
// properties last-write-wins on conflicting keys and refreshing
// modified_at. The sector is derived by the classifier on creation only and
// left untouched on update (§4.5).
func (s *Store) AddEdge(ctx context.Context, sourceName, targetName, relation string, weight float64, sectorHint ckg.Sector, properties map[string]any) (ckg.Edge, error) {
	if properties == nil {
		properties = map[string]any{}
	}

	source, err := s.AddNode(ctx, "entity", sourceName, nil)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: add edge: source: %w", err)
	}
	target, err := s.AddNode(ctx, "entity", targetName, nil)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: add edge: target: %w", err)
	}

	derivedSector := sectorHint
	if derivedSector == "" || !derivedSector.IsValid() {
		derivedSector = s.classify.Classify(ctx, relation, properties)
	}

	entrenchment := ckg.EntrenchmentDefault
	if v, _ := properties["edge_type"].(string); v == "constitutive" {
		entrenchment = ckg.EntrenchmentMaximal
	}

	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: marshal edge properties: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: add edge: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO edges
		    (source_id, target_id, relation, weight, properties, sector, entrenchment_level, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (source_id, target_id, relation) DO UPDATE SET
		    weight      = $4,
		    properties  = edges.properties || EXCLUDED.properties,
		    modified_at = now()
		RETURNING id, source_id, target_id, relation, weight, properties, sector, entrenchment_level,
		          created_at, modified_at, last_accessed, access_count, last_reclassification`

	row := tx.QueryRow(ctx, q, source.ID, target.ID, relation, weight, propsJSON, derivedSector, entrenchment)
	edge, err := scanEdge(row)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: add edge: %w", err)
	}
	edge.SourceName, edge.TargetName = sourceName, targetName

	if _, err := writeAudit(ctx, tx, ckg.AuditEntry{
		EdgeID: &edge.ID,
		Action: ckg.AuditActionAddEdge,
		Actor:  string(ckg.ActorPrimary),
	}); err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: add edge: audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: add edge: commit: %w", err)
	}
	return edge, nil
}

// GetEdge implements [ckg.GraphStore]. Returns [ckg.KindAmbiguous] when more
// than one edge matches (should not occur given the unique constraint, but
// guarded defensively for callers passing unresolved names).
func (s *Store) GetEdge(ctx context.Context, sourceName, targetName, relation string) (ckg.Edge, error) {
	const q = `
		SELECT e.id, e.source_id, e.target_id, e.relation, e.weight, e.properties, e.sector,
		       e.entrenchment_level, e.created_at, e.modified_at, e.last_accessed, e.access_count,
		       e.last_reclassification
		FROM   edges e
		JOIN   nodes  src ON src.id = e.source_id
		JOIN   nodes  tgt ON tgt.id = e.target_id
		WHERE  src.name = $1 AND tgt.name = $2 AND e.relation = $3`

	rows, err := s.pool.Query(ctx, q, sourceName, targetName, relation)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: get edge: %w", err)
	}
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.Edge, error) {
		return scanEdge(row)
	})
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: get edge: scan: %w", err)
	}
	if len(edges) == 0 {
		return ckg.Edge{}, ckg.NewError(ckg.KindNotFound, "edge not found").
			WithDetails(map[string]any{"source": sourceName, "target": targetName, "relation": relation})
	}
	if len(edges) > 1 {
		ids := make([]int64, len(edges))
		for i, e := range edges {
			ids[i] = e.ID
		}
		return ckg.Edge{}, ckg.NewError(ckg.KindAmbiguous, "multiple edges matched").
			WithDetails(map[string]any{"edge_ids": ids})
	}
	edge := edges[0]
	edge.SourceName, edge.TargetName = sourceName, targetName
	return edge, nil
}

// GetEdgeFuzzy resolves the edge between sourceName and targetName whose
// relation matches relation, for reclassify_memory_sector callers that name
// a relation conceptually ("dislikes") without knowing its exact stored
// spelling ("dislikes_intensely"). It tries an exact match first; if none is
// found, every edge between the two nodes is scored against relation with
// Jaro-Winkler similarity and candidates clearing [fuzzyRelationThreshold]
// are considered matches. Returns [ckg.KindNotFound] when no candidate
// clears the threshold, or [ckg.KindAmbiguous] — with every clearing edge's
// ID and relation attached via [ckg.Error.WithDetails] — when more than one
// does (§4.5, §7).
func (s *Store) GetEdgeFuzzy(ctx context.Context, sourceName, targetName, relation string) (ckg.Edge, error) {
	if edge, err := s.GetEdge(ctx, sourceName, targetName, relation); err == nil {
		return edge, nil
	} else if ckg.KindOf(err) != ckg.KindNotFound {
		return ckg.Edge{}, err
	}

	const q = `
		SELECT e.id, e.source_id, e.target_id, e.relation, e.weight, e.properties, e.sector,
		       e.entrenchment_level, e.created_at, e.modified_at, e.last_accessed, e.access_count,
		       e.last_reclassification
		FROM   edges e
		JOIN   nodes src ON src.id = e.source_id
		JOIN   nodes tgt ON tgt.id = e.target_id
		WHERE  src.name = $1 AND tgt.name = $2`

	rows, err := s.pool.Query(ctx, q, sourceName, targetName)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: get edge fuzzy: %w", err)
	}
	candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.Edge, error) {
		return scanEdge(row)
	})
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: get edge fuzzy: scan: %w", err)
	}

	var matches []ckg.Edge
	for _, c := range candidates {
		if matchr.JaroWinkler(relation, c.Relation, false) >= fuzzyRelationThreshold {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return ckg.Edge{}, ckg.NewError(ckg.KindNotFound, "edge not found").
			WithDetails(map[string]any{"source": sourceName, "target": targetName, "relation": relation})
	}
	if len(matches) > 1 {
		ids := make([]int64, len(matches))
		relations := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
			relations[i] = m.Relation
		}
		return ckg.Edge{}, ckg.NewError(ckg.KindAmbiguous, "multiple edges approximately matched relation").
			WithDetails(map[string]any{"edge_ids": ids, "relations": relations, "requested_relation": relation})
	}
	edge := matches[0]
	edge.SourceName, edge.TargetName = sourceName, targetName
	return edge, nil
}

// GetEdgeByID implements [ckg.GraphStore].
func (s *Store) GetEdgeByID(ctx context.Context, edgeID int64) (ckg.Edge, error) {
	const q = `
		SELECT e.id, e.source_id, e.target_id, e.relation, e.weight, e.properties, e.sector,
		       e.entrenchment_level, e.created_at, e.modified_at, e.last_accessed, e.access_count,
		       e.last_reclassification, src.name, tgt.name
		FROM   edges e
		JOIN   nodes src ON src.id = e.source_id
		JOIN   nodes tgt ON tgt.id = e.target_id
		WHERE  e.id = $1`

	row := s.pool.QueryRow(ctx, q, edgeID)
	var (
		e                     ckg.Edge
		propsJSON             []byte
		lastReclassifyJSON    []byte
	)
	if err := row.Scan(
		&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &propsJSON, &e.Sector,
		&e.Entrenchment, &e.CreatedAt, &e.ModifiedAt, &e.LastAccessed, &e.AccessCount,
		&lastReclassifyJSON, &e.SourceName, &e.TargetName,
	); err != nil {
		if isNoRows(err) {
			return ckg.Edge{}, ckg.NewError(ckg.KindNotFound, "edge not found").
				WithDetails(map[string]any{"edge_id": edgeID})
		}
		return ckg.Edge{}, fmt.Errorf("graph: get edge by id: %w", err)
	}
	if err := unmarshalEdgeJSON(&e, propsJSON, lastReclassifyJSON); err != nil {
		return ckg.Edge{}, err
	}
	return e, nil
}

// DeleteEdge implements [ckg.GraphStore]. Constitutive edges are refused and
// the attempt is still audited (§3, §4.5 "all delete attempts... emit an
// audit entry").
func (s *Store) DeleteEdge(ctx context.Context, edgeID int64, actor ckg.Actor) error {
	edge, err := s.GetEdgeByID(ctx, edgeID)
	if err != nil {
		return err
	}
	if edge.IsConstitutive() {
		if _, auditErr := s.WriteAudit(ctx, ckg.AuditEntry{
			EdgeID:  &edgeID,
			Action:  ckg.AuditActionDeleteEdge,
			Blocked: true,
			Reason:  "constitutive edge protection",
			Actor:   string(actor),
		}); auditErr != nil {
			return fmt.Errorf("graph: delete edge: audit: %w", auditErr)
		}
		return ckg.NewError(ckg.KindConstitutiveEdgeProtection, "edge is constitutive, use the self-modification framework").
			WithDetails(map[string]any{"edge_id": edgeID})
	}
	return s.ForceDeleteEdge(ctx, edgeID, actor)
}

// ForceDeleteEdge implements [ckg.GraphStore]. Only the SMF executor should
// call this once bilateral consent has been recorded.
func (s *Store) ForceDeleteEdge(ctx context.Context, edgeID int64, actor ckg.Actor) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("graph: force delete edge: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM edges WHERE id = $1`, edgeID)
	if err != nil {
		return fmt.Errorf("graph: force delete edge: %w", err)
	}
	blocked := tag.RowsAffected() == 0
	reason := ""
	if blocked {
		reason = "edge not found"
	}
	if _, auditErr := writeAudit(ctx, tx, ckg.AuditEntry{
		EdgeID:  &edgeID,
		Action:  ckg.AuditActionDeleteEdge,
		Blocked: blocked,
		Reason:  reason,
		Actor:   string(actor),
	}); auditErr != nil {
		return fmt.Errorf("graph: force delete edge: audit: %w", auditErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("graph: force delete edge: commit: %w", err)
	}
	if blocked {
		return ckg.NewError(ckg.KindNotFound, "edge not found").WithDetails(map[string]any{"edge_id": edgeID})
	}
	return nil
}

// ReclassifyEdge implements [ckg.GraphStore].
func (s *Store) ReclassifyEdge(ctx context.Context, edgeID int64, newSector ckg.Sector, actor ckg.Actor) (ckg.Sector, error) {
	if !newSector.IsValid() {
		return "", ckg.NewError(ckg.KindInvalidArgument, "unknown sector").
			WithDetails(map[string]any{"sector": newSector})
	}

	edge, err := s.GetEdgeByID(ctx, edgeID)
	if err != nil {
		return "", err
	}
	oldSector := edge.Sector

	reclass := ckg.Reclassification{FromSector: oldSector, ToSector: newSector, Actor: string(actor)}
	reclassJSON, err := json.Marshal(reclass)
	if err != nil {
		return "", fmt.Errorf("graph: reclassify edge: marshal: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("graph: reclassify edge: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		UPDATE edges
		SET    sector = $2, last_reclassification = $3, modified_at = now()
		WHERE  id = $1`
	if _, err := tx.Exec(ctx, q, edgeID, newSector, reclassJSON); err != nil {
		return "", fmt.Errorf("graph: reclassify edge: %w", err)
	}

	if _, err := writeAudit(ctx, tx, ckg.AuditEntry{
		EdgeID: &edgeID,
		Action: ckg.AuditActionReclassify,
		Actor:  string(actor),
		Properties: map[string]any{"from_sector": oldSector, "to_sector": newSector},
	}); err != nil {
		return "", fmt.Errorf("graph: reclassify edge: audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("graph: reclassify edge: commit: %w", err)
	}
	return oldSector, nil
}

// TouchEdge implements [ckg.GraphStore].
func (s *Store) TouchEdge(ctx context.Context, edgeID int64) error {
	const q = `
		UPDATE edges
		SET    last_accessed = now(), access_count = access_count + 1
		WHERE  id = $1`
	tag, err := s.pool.Exec(ctx, q, edgeID)
	if err != nil {
		return fmt.Errorf("graph: touch edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ckg.NewError(ckg.KindNotFound, "edge not found").WithDetails(map[string]any{"edge_id": edgeID})
	}
	return nil
}

// Neighbors implements [ckg.GraphStore] (query_neighbors, §4.5): a bounded
// recursive-CTE traversal from nodeName, cycles suppressed by tracking
// visited node IDs along each candidate path.
func (s *Store) Neighbors(ctx context.Context, nodeName string, opts ...ckg.NeighborOpt) ([]ckg.Edge, error) {
	relation, depth, sectorFilter, includeSuperseded := ckg.ApplyNeighborOpts(opts...)

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	startArg := next(nodeName)
	depthArg := next(depth)

	relationFilter := ""
	if relation != "" {
		relationFilter = "\n          AND e.relation = " + next(relation)
	}
	sectorCond := ""
	if len(sectorFilter) > 0 {
		sectorCond = "\n          AND e.sector = ANY(" + next(sectorFilter) + "::text[])"
	}
	supersededCond := ""
	if !includeSuperseded {
		supersededCond = "\n          AND NOT (e.properties ? 'is_superseded')"
	}

	q := fmt.Sprintf(`
		WITH RECURSIVE traversal AS (
		    SELECT n.id AS node_id, ARRAY[n.id] AS visited, 0 AS depth
		    FROM   nodes n
		    WHERE  n.name = %s

		    UNION ALL

		    SELECT tgt.id, t.visited || tgt.id, t.depth + 1
		    FROM   traversal t
		    JOIN   edges e   ON e.source_id = t.node_id
		    JOIN   nodes  tgt ON tgt.id = e.target_id
		    WHERE  t.depth < %s
		      AND  NOT (tgt.id = ANY(t.visited))%s%s%s
		)
		SELECT DISTINCT ON (e.id)
		       e.id, e.source_id, e.target_id, e.relation, e.weight, e.properties, e.sector,
		       e.entrenchment_level, e.created_at, e.modified_at, e.last_accessed, e.access_count,
		       e.last_reclassification, t.depth, src.name, tgt.name
		FROM   traversal t
		JOIN   edges e   ON e.source_id = t.node_id
		JOIN   nodes  src ON src.id = e.source_id
		JOIN   nodes  tgt ON tgt.id = e.target_id
		WHERE  t.depth < %s%s%s%s
		ORDER  BY e.id, t.depth ASC, e.weight DESC`,
		startArg, depthArg, relationFilter, sectorCond, supersededCond,
		depthArg, relationFilter, sectorCond, supersededCond)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: neighbors: %w", err)
	}
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.Edge, error) {
		return scanEdgeWithDistance(row)
	})
	if err != nil {
		return nil, fmt.Errorf("graph: neighbors: scan: %w", err)
	}
	sortByDistanceThenWeight(edges)
	if edges == nil {
		edges = []ckg.Edge{}
	}
	return edges, nil
}

// FindPath implements [ckg.GraphStore] (find_path, §4.5).
func (s *Store) FindPath(ctx context.Context, fromName, toName string, opts ...ckg.PathOpt) (ckg.PathResult, error) {
	maxDepth, maxPaths, timeout, includeSuperseded := ckg.ApplyPathOpts(opts...)

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	supersededCond := ""
	if !includeSuperseded {
		supersededCond = "\n          AND NOT (e.properties ? 'is_superseded')"
	}

	q := fmt.Sprintf(`
		WITH RECURSIVE path_search AS (
		    SELECT n.id AS node_id, ARRAY[n.id] AS visited, ARRAY[]::bigint[] AS edge_path, 0 AS depth
		    FROM   nodes n
		    WHERE  n.name = $1

		    UNION ALL

		    SELECT e.target_id, ps.visited || e.target_id, ps.edge_path || e.id, ps.depth + 1
		    FROM   path_search ps
		    JOIN   edges e ON e.source_id = ps.node_id
		    WHERE  ps.depth < $3
		      AND  NOT (e.target_id = ANY(ps.visited))%s
		)
		SELECT edge_path, depth
		FROM   path_search
		JOIN   nodes dst ON dst.id = path_search.node_id
		WHERE  dst.name = $2
		ORDER  BY depth
		LIMIT  $4`, supersededCond)

	rows, err := s.pool.Query(pctx, q, fromName, toName, maxDepth, maxPaths)
	if err != nil {
		return ckg.PathResult{}, fmt.Errorf("graph: find path: %w", err)
	}
	type rawPath struct {
		edgeIDs []int64
		depth   int
	}
	raws, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rawPath, error) {
		var rp rawPath
		if err := row.Scan(&rp.edgeIDs, &rp.depth); err != nil {
			return rawPath{}, err
		}
		return rp, nil
	})
	if err != nil {
		return ckg.PathResult{}, fmt.Errorf("graph: find path: scan: %w", err)
	}
	if len(raws) == 0 {
		return ckg.PathResult{PathFound: false}, nil
	}
	shortest := raws[:1]
	for _, rp := range raws[1:] {
		if rp.depth == raws[0].depth {
			shortest = append(shortest, rp)
		}
	}
	raws = shortest

	result := ckg.PathResult{PathFound: true, PathLength: raws[0].depth}
	for _, rp := range raws {
		steps := make([]ckg.PathStep, 0, len(rp.edgeIDs))
		for _, eid := range rp.edgeIDs {
			edge, err := s.GetEdgeByID(pctx, eid)
			if err != nil {
				return ckg.PathResult{}, fmt.Errorf("graph: find path: resolve edge %d: %w", eid, err)
			}
			steps = append(steps, ckg.PathStep{NodeName: edge.TargetName, Edge: &edge})
		}
		result.Paths = append(result.Paths, steps)
	}
	return result, nil
}

// ResolveDissonance implements [ckg.GraphStore] (§3, §4.6). It creates a
// resolution hyperedge over edgeAID/edgeBID. EVOLUTION and CONTRADICTION
// mark the superseded edge (choosing the loser by entrenchment, then
// recency) but never delete it; NUANCE leaves both edges active.
func (s *Store) ResolveDissonance(ctx context.Context, edgeAID, edgeBID int64, resolutionType ckg.ResolutionType, resolutionContext string, resolvedBy string) (ckg.Edge, error) {
	if !resolutionType.IsValid() {
		return ckg.Edge{}, ckg.NewError(ckg.KindInvalidArgument, "unknown resolution type").
			WithDetails(map[string]any{"resolution_type": resolutionType})
	}

	edgeA, err := s.GetEdgeByID(ctx, edgeAID)
	if err != nil {
		return ckg.Edge{}, err
	}
	edgeB, err := s.GetEdgeByID(ctx, edgeBID)
	if err != nil {
		return ckg.Edge{}, err
	}

	hyperEdgeProps := map[string]any{
		"edge_type":       "resolution",
		"resolution_type": resolutionType,
		"context":         resolutionContext,
		"resolved_by":     resolvedBy,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: resolve dissonance: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	switch resolutionType {
	case ckg.ResolutionEvolution, ckg.ResolutionContradiction:
		loser := pickSupersededEdge(edgeA, edgeB)
		winner := edgeA
		if loser.ID == edgeA.ID {
			winner = edgeB
		}
		// supersedes/superseded_by here describe the resolution's own
		// relationship to the two edges it reconciles; they are distinct
		// from is_superseded below, which marks the loser itself so it can
		// be excluded from traversal. Reusing one key for both would make
		// the hyperedge match its own exclusion predicate.
		hyperEdgeProps["supersedes"] = []int64{loser.ID}
		hyperEdgeProps["superseded_by"] = []int64{winner.ID}

		loserProps := loser.Properties
		if loserProps == nil {
			loserProps = map[string]any{}
		}
		loserProps["is_superseded"] = true
		loserProps["superseded_by"] = winner.ID
		loserJSON, err := json.Marshal(loserProps)
		if err != nil {
			return ckg.Edge{}, fmt.Errorf("graph: resolve dissonance: marshal superseded props: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE edges SET properties = properties || $2::jsonb, modified_at = now() WHERE id = $1`, loser.ID, loserJSON); err != nil {
			return ckg.Edge{}, fmt.Errorf("graph: resolve dissonance: mark superseded: %w", err)
		}
	case ckg.ResolutionNuance:
		hyperEdgeProps["supersedes"] = []int64{}
		hyperEdgeProps["superseded_by"] = []int64{}
	}

	propsJSON, err := json.Marshal(hyperEdgeProps)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: resolve dissonance: marshal: %w", err)
	}

	const q = `
		INSERT INTO edges (source_id, target_id, relation, weight, properties, sector, entrenchment_level, created_at, modified_at)
		VALUES ($1, $2, 'RESOLVES', 1.0, $3, $4, 'default', now(), now())
		RETURNING id, source_id, target_id, relation, weight, properties, sector, entrenchment_level,
		          created_at, modified_at, last_accessed, access_count, last_reclassification`

	row := tx.QueryRow(ctx, q, edgeA.SourceID, edgeB.SourceID, propsJSON, edgeA.Sector)
	hyperEdge, err := scanEdge(row)
	if err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: resolve dissonance: %w", err)
	}

	if _, err := writeAudit(ctx, tx, ckg.AuditEntry{
		EdgeID: &hyperEdge.ID,
		Action: ckg.AuditActionResolveDissonance,
		Actor:  resolvedBy,
		Properties: map[string]any{"edge_a": edgeAID, "edge_b": edgeBID, "resolution_type": resolutionType},
	}); err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: resolve dissonance: audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ckg.Edge{}, fmt.Errorf("graph: resolve dissonance: commit: %w", err)
	}
	return hyperEdge, nil
}

// pickSupersededEdge chooses which of two conflicting edges yields, per the
// AGM-aligned entrenchment tie-break of §4.6: lower entrenchment loses;
// ties broken by older ModifiedAt losing.
func pickSupersededEdge(a, b ckg.Edge) ckg.Edge {
	if a.Entrenchment == ckg.EntrenchmentMaximal && b.Entrenchment != ckg.EntrenchmentMaximal {
		return b
	}
	if b.Entrenchment == ckg.EntrenchmentMaximal && a.Entrenchment != ckg.EntrenchmentMaximal {
		return a
	}
	if a.ModifiedAt.Before(b.ModifiedAt) {
		return a
	}
	return b
}

// ListCandidateConflicts implements [ckg.GraphStore] (§4.6 enumeration
// step): pairs of active, non-resolution edges sharing a source and
// relation but disagreeing on target or weight.
func (s *Store) ListCandidateConflicts(ctx context.Context, limit int) ([][2]ckg.Edge, error) {
	if limit <= 0 {
		limit = 100
	}

	const q = `
		SELECT a.id, b.id
		FROM   edges a
		JOIN   edges b ON a.source_id = b.source_id
		                AND a.relation = b.relation
		                AND a.id < b.id
		                AND (a.target_id != b.target_id OR a.weight != b.weight)
		WHERE  NOT (a.properties ? 'is_superseded')
		  AND  NOT (b.properties ? 'is_superseded')
		  AND  (a.properties->>'edge_type') IS DISTINCT FROM 'resolution'
		  AND  (b.properties->>'edge_type') IS DISTINCT FROM 'resolution'
		ORDER BY a.id
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("graph: list candidate conflicts: %w", err)
	}
	type idPair struct{ a, b int64 }
	pairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (idPair, error) {
		var p idPair
		if err := row.Scan(&p.a, &p.b); err != nil {
			return idPair{}, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: list candidate conflicts: scan: %w", err)
	}

	result := make([][2]ckg.Edge, 0, len(pairs))
	for _, p := range pairs {
		edgeA, err := s.GetEdgeByID(ctx, p.a)
		if err != nil {
			return nil, err
		}
		edgeB, err := s.GetEdgeByID(ctx, p.b)
		if err != nil {
			return nil, err
		}
		result = append(result, [2]ckg.Edge{edgeA, edgeB})
	}
	return result, nil
}

// CountByType implements [ckg.GraphStore] (count_by_type): a count of nodes
// per label.
func (s *Store) CountByType(ctx context.Context) (map[string]int, error) {
	const q = `SELECT label, count(*) FROM nodes GROUP BY label`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("graph: count by type: %w", err)
	}
	type labelCount struct {
		label string
		count int
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (labelCount, error) {
		var lc labelCount
		if err := row.Scan(&lc.label, &lc.count); err != nil {
			return labelCount{}, err
		}
		return lc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: count by type: scan: %w", err)
	}

	result := make(map[string]int, len(counts))
	for _, lc := range counts {
		result[lc.label] = lc.count
	}
	return result, nil
}

func scanEdge(row pgx.Row) (ckg.Edge, error) {
	var (
		e                  ckg.Edge
		propsJSON          []byte
		lastReclassifyJSON []byte
	)
	if err := row.Scan(
		&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &propsJSON, &e.Sector,
		&e.Entrenchment, &e.CreatedAt, &e.ModifiedAt, &e.LastAccessed, &e.AccessCount,
		&lastReclassifyJSON,
	); err != nil {
		return ckg.Edge{}, err
	}
	if err := unmarshalEdgeJSON(&e, propsJSON, lastReclassifyJSON); err != nil {
		return ckg.Edge{}, err
	}
	return e, nil
}

func scanEdgeWithDistance(row pgx.Row) (ckg.Edge, error) {
	var (
		e                  ckg.Edge
		propsJSON          []byte
		lastReclassifyJSON []byte
	)
	if err := row.Scan(
		&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &propsJSON, &e.Sector,
		&e.Entrenchment, &e.CreatedAt, &e.ModifiedAt, &e.LastAccessed, &e.AccessCount,
		&lastReclassifyJSON, &e.Distance, &e.SourceName, &e.TargetName,
	); err != nil {
		return ckg.Edge{}, err
	}
	if err := unmarshalEdgeJSON(&e, propsJSON, lastReclassifyJSON); err != nil {
		return ckg.Edge{}, err
	}
	return e, nil
}

func unmarshalEdgeJSON(e *ckg.Edge, propsJSON, lastReclassifyJSON []byte) error {
	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &e.Properties); err != nil {
			return fmt.Errorf("graph: unmarshal edge properties: %w", err)
		}
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	if len(lastReclassifyJSON) > 0 && string(lastReclassifyJSON) != "null" {
		var r ckg.Reclassification
		if err := json.Unmarshal(lastReclassifyJSON, &r); err != nil {
			return fmt.Errorf("graph: unmarshal last reclassification: %w", err)
		}
		e.LastReclassification = &r
	}
	return nil
}

// sortByDistanceThenWeight orders edges by (distance asc, weight desc), the
// contract of query_neighbors (§4.5). The SQL ORDER BY leads with e.id, as
// DISTINCT ON requires, so this sort is what puts the rows in that order.
func sortByDistanceThenWeight(edges []ckg.Edge) {
	for i := 1; i < len(edges); i++ {
		for j := i; j > 0; j-- {
			a, b := edges[j-1], edges[j]
			if a.Distance > b.Distance || (a.Distance == b.Distance && a.Weight < b.Weight) {
				edges[j-1], edges[j] = edges[j], edges[j-1]
			} else {
				break
			}
		}
	}
}
