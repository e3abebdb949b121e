package provider

import (
	"fmt"
	"sort"
	"sync"
)

// EmbeddingFactory creates an EmbeddingProvider from configuration.
type EmbeddingFactory func(config EmbeddingConfig) (EmbeddingProvider, error)

// SyntaxFactory creates a SyntaxAnalyzer.
type SyntaxFactory func() (SyntaxAnalyzer, error)

// VectorStoreFactory creates a VectorStore.
type VectorStoreFactory func() (VectorStore, error)

// Registry holds factories for all provider types.
type Registry struct {
	mu sync.RWMutex

	embeddingFactories   map[string]EmbeddingFactory
	syntaxFactories      map[string]SyntaxFactory
	vectorStoreFactories map[string]VectorStoreFactory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		embeddingFactories:   make(map[string]EmbeddingFactory),
		syntaxFactories:      make(map[string]SyntaxFactory),
		vectorStoreFactories: make(map[string]VectorStoreFactory),
	}
}

// RegisterEmbedding registers an embedding provider factory.
func (r *Registry) RegisterEmbedding(name string, factory EmbeddingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddingFactories[name] = factory
}

// RegisterSyntax registers a syntax analyzer factory.
func (r *Registry) RegisterSyntax(name string, factory SyntaxFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syntaxFactories[name] = factory
}

// RegisterVectorStore registers a vector store factory.
func (r *Registry) RegisterVectorStore(name string, factory VectorStoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vectorStoreFactories[name] = factory
}

// CreateEmbedding creates an embedding provider by name.
func (r *Registry) CreateEmbedding(name string, config EmbeddingConfig) (EmbeddingProvider, error) {
	r.mu.RLock()
	factory, ok := r.embeddingFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s (available: %v)", name, r.ListEmbeddings())
	}
	return factory(config)
}

// CreateSyntax creates a syntax analyzer by name.
func (r *Registry) CreateSyntax(name string) (SyntaxAnalyzer, error) {
	r.mu.RLock()
	factory, ok := r.syntaxFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown syntax analyzer: %s (available: %v)", name, r.ListSyntax())
	}
	return factory()
}

// CreateVectorStore creates a vector store by name.
func (r *Registry) CreateVectorStore(name string) (VectorStore, error) {
	r.mu.RLock()
	factory, ok := r.vectorStoreFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown vector store: %s (available: %v)", name, r.ListVectorStores())
	}
	return factory()
}

// ListEmbeddings returns all registered embedding provider names.
func (r *Registry) ListEmbeddings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.embeddingFactories)
}

// ListSyntax returns all registered syntax analyzer names.
func (r *Registry) ListSyntax() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.syntaxFactories)
}

// ListVectorStores returns all registered vector store names.
func (r *Registry) ListVectorStores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.vectorStoreFactories)
}

// HasEmbedding checks if an embedding provider is registered.
func (r *Registry) HasEmbedding(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.embeddingFactories[name]
	return ok
}

// HasVectorStore checks if a vector store is registered.
func (r *Registry) HasVectorStore(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.vectorStoreFactories[name]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global default registry.
var DefaultRegistry = NewRegistry()

// RegisterEmbedding registers an embedding provider in the default registry.
func RegisterEmbedding(name string, factory EmbeddingFactory) {
	DefaultRegistry.RegisterEmbedding(name, factory)
}

// RegisterSyntax registers a syntax analyzer in the default registry.
func RegisterSyntax(name string, factory SyntaxFactory) {
	DefaultRegistry.RegisterSyntax(name, factory)
}

// RegisterVectorStore registers a vector store in the default registry.
func RegisterVectorStore(name string, factory VectorStoreFactory) {
	DefaultRegistry.RegisterVectorStore(name, factory)
}
