// Package seed implements bulk graph seeding from YAML definitions: loading a
// seed file describing nodes and edges, validating it, and importing it into
// a [ckg.GraphStore] through the same upsert operations graph_add_node and
// graph_add_edge use at runtime.
//
// Adapted from the teacher's pre-session campaign-file loader
// (internal/entity): that package populated a flat entity registry ahead of
// a game session; this one populates the graph directly, so EntityDefinition
// and its relationship list collapse into separate node and edge
// definitions addressed by name.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// GraphSeedFile is the top-level structure of a graph seed YAML file.
//
// Example:
//
//	meta:
//	  name: "baseline identity graph"
//	nodes:
//	  - label: person
//	    name: "Alex"
//	    properties:
//	      role: user
//	edges:
//	  - source: "Alex"
//	    target: "reliability"
//	    relation: values
//	    weight: 0.9
//	    sector: semantic
//	    properties:
//	      edge_type: constitutive
type GraphSeedFile struct {
	Meta  SeedMeta         `yaml:"meta"`
	Nodes []NodeDefinition `yaml:"nodes"`
	Edges []EdgeDefinition `yaml:"edges"`
}

// SeedMeta holds top-level metadata for a seed file. It is descriptive only;
// nothing in it is persisted to the graph.
type SeedMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// NodeDefinition is one entry of a seed file's nodes list, mapped directly
// onto [ckg.GraphStore.AddNode]'s arguments.
type NodeDefinition struct {
	Label      string         `yaml:"label"`
	Name       string         `yaml:"name"`
	Properties map[string]any `yaml:"properties"`
}

// EdgeDefinition is one entry of a seed file's edges list, mapped directly
// onto [ckg.GraphStore.AddEdge]'s arguments. Source and Target reference
// nodes by name and must each match a node in the same file's nodes list,
// in any order; a node that exists only in the store is not accepted.
type EdgeDefinition struct {
	Source     string         `yaml:"source"`
	Target     string         `yaml:"target"`
	Relation   string         `yaml:"relation"`
	Weight     float64        `yaml:"weight"`
	Sector     ckg.Sector     `yaml:"sector"`
	Properties map[string]any `yaml:"properties"`
}

// Validate checks a [NodeDefinition] for required fields.
func (n NodeDefinition) Validate() error {
	var errs []error
	if n.Label == "" {
		errs = append(errs, errors.New("label must not be empty"))
	}
	if n.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	return errors.Join(errs...)
}

// Validate checks an [EdgeDefinition] for required fields and a recognised
// sector.
func (e EdgeDefinition) Validate() error {
	var errs []error
	if e.Source == "" {
		errs = append(errs, errors.New("source must not be empty"))
	}
	if e.Target == "" {
		errs = append(errs, errors.New("target must not be empty"))
	}
	if e.Relation == "" {
		errs = append(errs, errors.New("relation must not be empty"))
	}
	if !e.Sector.IsValid() {
		errs = append(errs, fmt.Errorf("sector %q is not a recognised sector", e.Sector))
	}
	return errors.Join(errs...)
}

// Validate checks every node and edge definition in the file, returning a
// single joined error naming every violation found.
func (f *GraphSeedFile) Validate() error {
	var errs []error
	names := make(map[string]bool, len(f.Nodes))
	for i, n := range f.Nodes {
		if err := n.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("nodes[%d] %q: %w", i, n.Name, err))
			continue
		}
		names[n.Name] = true
	}
	for i, e := range f.Edges {
		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("edges[%d]: %w", i, err))
			continue
		}
		if !names[e.Source] {
			errs = append(errs, fmt.Errorf("edges[%d]: source %q is not defined in nodes", i, e.Source))
		}
		if !names[e.Target] {
			errs = append(errs, fmt.Errorf("edges[%d]: target %q is not defined in nodes", i, e.Target))
		}
	}
	return errors.Join(errs...)
}

// LoadGraphSeedFile reads and parses a graph seed YAML file from disk.
func LoadGraphSeedFile(path string) (*GraphSeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: open graph seed file %q: %w", path, err)
	}
	defer f.Close()

	sf, err := LoadGraphSeedFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("seed: parse graph seed file %q: %w", path, err)
	}
	return sf, nil
}

// LoadGraphSeedFromReader parses graph seed YAML from an [io.Reader]. The
// reader is consumed entirely; the caller is responsible for closing it.
func LoadGraphSeedFromReader(r io.Reader) (*GraphSeedFile, error) {
	var sf GraphSeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys at any level to catch typos
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("seed: decode graph seed yaml: %w", err)
	}
	return &sf, nil
}

// Result summarizes an Import call: the number of nodes and edges
// successfully upserted.
type Result struct {
	NodesImported int
	EdgesImported int
}

// Import validates seed and upserts every node then every edge into store
// via graph_add_node and graph_add_edge (§4.2). Nodes are imported before
// edges so that edge definitions may reference any node in the same file
// regardless of declaration order. A validation failure aborts before any
// store call; a store failure aborts the import and returns the partial
// count alongside the error.
func Import(ctx context.Context, store ckg.GraphStore, seed *GraphSeedFile) (Result, error) {
	if seed == nil {
		return Result{}, fmt.Errorf("seed: graph seed file must not be nil")
	}
	if err := seed.Validate(); err != nil {
		return Result{}, fmt.Errorf("seed: invalid graph seed file: %w", err)
	}

	var result Result
	for _, n := range seed.Nodes {
		if _, err := store.AddNode(ctx, n.Label, n.Name, n.Properties); err != nil {
			return result, fmt.Errorf("seed: add node %q: %w", n.Name, err)
		}
		result.NodesImported++
	}
	for _, e := range seed.Edges {
		if _, err := store.AddEdge(ctx, e.Source, e.Target, e.Relation, e.Weight, e.Sector, e.Properties); err != nil {
			return result, fmt.Errorf("seed: add edge %s-[%s]->%s: %w", e.Source, e.Relation, e.Target, err)
		}
		result.EdgesImported++
	}
	return result, nil
}
