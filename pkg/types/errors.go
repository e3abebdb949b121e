package types

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrParentNotFound is returned when a hierarchy entry names a missing parent.
	ErrParentNotFound = errors.New("parent node not found")

	// ErrRootExists is returned when a second root is added to the hierarchy.
	ErrRootExists = errors.New("root node already exists")

	// ErrIndexNotFound is returned when the index doesn't exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrUnsupportedLanguage is returned when no grammar exists for a file.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseError is returned when parsing fails or yields nothing usable.
	ErrParseError = errors.New("parse error")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrSearchFailed is returned when search fails.
	ErrSearchFailed = errors.New("search failed")

	// ErrStoreFailed is returned when store operation fails.
	ErrStoreFailed = errors.New("store operation failed")

	// ErrCancelled is returned when an operation is cancelled.
	ErrCancelled = errors.New("operation cancelled")
)
