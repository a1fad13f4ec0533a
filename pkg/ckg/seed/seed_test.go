package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// fakeGraphStore overrides only the [ckg.GraphStore] methods Import uses.
type fakeGraphStore struct {
	ckg.GraphStore

	nodes map[string]ckg.Node
	edges []ckg.Edge

	failOnEdge string // relation that triggers an error from AddEdge, if set
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{nodes: make(map[string]ckg.Node)}
}

func (f *fakeGraphStore) AddNode(ctx context.Context, label, name string, properties map[string]any) (ckg.Node, error) {
	n := ckg.Node{Label: label, Name: name, Properties: properties}
	f.nodes[name] = n
	return n, nil
}

func (f *fakeGraphStore) AddEdge(ctx context.Context, sourceName, targetName, relation string, weight float64, sector ckg.Sector, properties map[string]any) (ckg.Edge, error) {
	if relation == f.failOnEdge {
		return ckg.Edge{}, ckg.NewError(ckg.KindInternal, "boom")
	}
	e := ckg.Edge{
		SourceName: sourceName,
		TargetName: targetName,
		Relation:   relation,
		Weight:     weight,
		Sector:     sector,
		Properties: properties,
	}
	f.edges = append(f.edges, e)
	return e, nil
}

const validSeedYAML = `
meta:
  name: baseline identity graph
nodes:
  - label: person
    name: Alex
    properties:
      role: user
  - label: value
    name: reliability
edges:
  - source: Alex
    target: reliability
    relation: values
    weight: 0.9
    sector: semantic
    properties:
      edge_type: constitutive
`

func TestLoadGraphSeedFromReader(t *testing.T) {
	sf, err := LoadGraphSeedFromReader(strings.NewReader(validSeedYAML))
	if err != nil {
		t.Fatalf("LoadGraphSeedFromReader: %v", err)
	}
	if sf.Meta.Name != "baseline identity graph" {
		t.Errorf("Meta.Name = %q", sf.Meta.Name)
	}
	if len(sf.Nodes) != 2 || len(sf.Edges) != 1 {
		t.Fatalf("got %d nodes, %d edges", len(sf.Nodes), len(sf.Edges))
	}
}

func TestLoadGraphSeedFromReaderRejectsUnknownField(t *testing.T) {
	const bad = `
nodes:
  - label: person
    name: Alex
    nickname: Al
`
	if _, err := LoadGraphSeedFromReader(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestGraphSeedFileValidate(t *testing.T) {
	cases := []struct {
		name    string
		seed    GraphSeedFile
		wantErr bool
	}{
		{
			name: "valid",
			seed: GraphSeedFile{
				Nodes: []NodeDefinition{{Label: "person", Name: "Alex"}},
			},
		},
		{
			name: "node missing label",
			seed: GraphSeedFile{
				Nodes: []NodeDefinition{{Name: "Alex"}},
			},
			wantErr: true,
		},
		{
			name: "edge references undefined node",
			seed: GraphSeedFile{
				Nodes: []NodeDefinition{{Label: "person", Name: "Alex"}},
				Edges: []EdgeDefinition{{Source: "Alex", Target: "ghost", Relation: "knows", Sector: ckg.SectorSemantic}},
			},
			wantErr: true,
		},
		{
			name: "edge with invalid sector",
			seed: GraphSeedFile{
				Nodes: []NodeDefinition{{Label: "person", Name: "Alex"}, {Label: "person", Name: "Sam"}},
				Edges: []EdgeDefinition{{Source: "Alex", Target: "Sam", Relation: "knows", Sector: "not-a-sector"}},
			},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.seed.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestImport(t *testing.T) {
	sf, err := LoadGraphSeedFromReader(strings.NewReader(validSeedYAML))
	if err != nil {
		t.Fatalf("LoadGraphSeedFromReader: %v", err)
	}
	store := newFakeGraphStore()

	result, err := Import(context.Background(), store, sf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.NodesImported != 2 || result.EdgesImported != 1 {
		t.Fatalf("got %+v", result)
	}
	if _, ok := store.nodes["Alex"]; !ok {
		t.Error("expected node Alex to be upserted")
	}
	if len(store.edges) != 1 || store.edges[0].Relation != "values" {
		t.Fatalf("unexpected edges: %+v", store.edges)
	}
}

func TestImportNilSeed(t *testing.T) {
	if _, err := Import(context.Background(), newFakeGraphStore(), nil); err == nil {
		t.Fatal("expected error for nil seed")
	}
}

func TestImportInvalidSeedAbortsBeforeAnyStoreCall(t *testing.T) {
	sf := &GraphSeedFile{
		Nodes: []NodeDefinition{{Name: "missing-label"}},
	}
	store := newFakeGraphStore()
	if _, err := Import(context.Background(), store, sf); err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.nodes) != 0 {
		t.Errorf("expected no nodes imported, got %d", len(store.nodes))
	}
}

func TestImportStopsOnStoreErrorAndReturnsPartialCount(t *testing.T) {
	sf, err := LoadGraphSeedFromReader(strings.NewReader(validSeedYAML))
	if err != nil {
		t.Fatalf("LoadGraphSeedFromReader: %v", err)
	}
	store := newFakeGraphStore()
	store.failOnEdge = "values"

	result, err := Import(context.Background(), store, sf)
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
	if result.NodesImported != 2 || result.EdgesImported != 0 {
		t.Fatalf("got %+v", result)
	}
}
