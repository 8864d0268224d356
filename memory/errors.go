package memory

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmbedding matches any *EmbeddingError.
	ErrEmbedding = errors.New("embedding failed")
	// ErrStorageUnavailable is returned when the backing store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUnknownMemoryIndex matches any *UnknownMemoryIndexError or
	// *StaleMemoryIndexError.
	ErrUnknownMemoryIndex = errors.New("unknown memory index")
	// ErrPartialMutation matches any *PartialMutationError.
	ErrPartialMutation = errors.New("partial mutation failure")
)

// EmbeddingError wraps a transport or quota failure of the embedding model.
type EmbeddingError struct {
	Provider string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding (%s): %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }

// StorageError reports a repository call that could not reach its backend.
// It always matches ErrStorageUnavailable.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

// NewStorageError wraps err for the given backend operation.
func NewStorageError(backend, op string, err error) *StorageError {
	return &StorageError{Backend: backend, Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Backend, e.Op, ErrStorageUnavailable, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// UnknownMemoryIndexError is returned when a transient index falls outside
// the candidate set it was resolved against.
type UnknownMemoryIndexError struct {
	Index int
	Size  int
}

func (e *UnknownMemoryIndexError) Error() string {
	return fmt.Sprintf("unknown memory index %d (candidate set has %d)", e.Index, e.Size)
}

func (e *UnknownMemoryIndexError) Is(target error) bool { return target == ErrUnknownMemoryIndex }

// StaleMemoryIndexError is returned when a transient index names a memory
// that an earlier action of the same call already removed or replaced.
type StaleMemoryIndexError struct {
	Index int
}

func (e *StaleMemoryIndexError) Error() string {
	return fmt.Sprintf("memory index %d was already changed in this call", e.Index)
}

func (e *StaleMemoryIndexError) Is(target error) bool { return target == ErrUnknownMemoryIndex }

// PartialMutationError reports a multi-step mutation where some steps
// succeeded before one failed. Nothing is rolled back.
type PartialMutationError struct {
	Action    string
	Succeeded []string
	Failed    []string
	Err       error
}

func (e *PartialMutationError) Error() string {
	return fmt.Sprintf("%s: %v: succeeded [%s], failed [%s]: %v",
		e.Action, ErrPartialMutation,
		strings.Join(e.Succeeded, ", "), strings.Join(e.Failed, ", "), e.Err)
}

func (e *PartialMutationError) Unwrap() error { return e.Err }

func (e *PartialMutationError) Is(target error) bool { return target == ErrPartialMutation }

// ErrMissingOwner is returned when a record without an owner is inserted.
var ErrMissingOwner = errors.New("record has no owner id")

// DimensionError is returned when a vector does not match the collection.
type DimensionError struct {
	Got, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding has dimension %d, collection expects %d", e.Got, e.Want)
}
