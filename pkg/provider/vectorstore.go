package provider

// VectorStore composes all the smaller store interfaces.
// New code should depend on the smaller interfaces (ChunkStore,
// HierarchyStore, etc.) rather than VectorStore when possible.
type VectorStore interface {
	Store
	HierarchyStore
	ChunkStore
	ReferenceStore
	Searcher
	MetadataStore
}

// VectorStoreConfig contains configuration for vector stores.
type VectorStoreConfig struct {
	Provider string // "sqlitevec", "memory"
	Path     string // Path to database file
}
