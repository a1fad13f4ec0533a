package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/classifier"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/neutrality"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps oracle provider names to their constructor functions for
// each of the four pluggable external collaborators (§6). It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
	classifier map[string]func(ProviderEntry) (classifier.Classifier, error)
	neutrality map[string]func(ProviderEntry) (neutrality.Checker, error)
	judge      map[string]func(ProviderEntry) (judge.Evaluator, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		classifier: make(map[string]func(ProviderEntry) (classifier.Classifier, error)),
		neutrality: make(map[string]func(ProviderEntry) (neutrality.Checker, error)),
		judge:      make(map[string]func(ProviderEntry) (judge.Evaluator, error)),
	}
}

// RegisterEmbeddings registers an embedding oracle factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterClassifier registers a dissonance-classifier oracle factory under name.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry) (classifier.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier[name] = factory
}

// RegisterNeutrality registers a neutrality-checker oracle factory under name.
func (r *Registry) RegisterNeutrality(name string, factory func(ProviderEntry) (neutrality.Checker, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.neutrality[name] = factory
}

// RegisterJudge registers an evaluator/judge oracle factory under name.
func (r *Registry) RegisterJudge(name string, factory func(ProviderEntry) (judge.Evaluator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.judge[name] = factory
}

// CreateEmbeddings constructs the embedding provider named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateClassifier constructs the dissonance classifier named by entry.Name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.classifier[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateNeutrality constructs the neutrality checker named by entry.Name.
func (r *Registry) CreateNeutrality(entry ProviderEntry) (neutrality.Checker, error) {
	r.mu.RLock()
	factory, ok := r.neutrality[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: neutrality provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateJudge constructs the evaluator/judge named by entry.Name.
func (r *Registry) CreateJudge(entry ProviderEntry) (judge.Evaluator, error) {
	r.mu.RLock()
	factory, ok := r.judge[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: judge provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
