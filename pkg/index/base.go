// Package index defines the vector index contract for semantic retrieval.
//
// The index is a derived, best-effort shadow of the record store: it only
// ever returns candidate IDs, never authoritative content, and it may be
// rebuilt from the record store at any time. Callers must re-resolve hits
// through the record store before trusting them.
package index

import (
	"context"
	"errors"
)

// ErrNotIndexed indicates that no entry exists for the requested ID.
var ErrNotIndexed = errors.New("entry not indexed")

// Collection names one of the three logical vector collections.
type Collection string

const (
	// CollectionMemories indexes full memory content.
	CollectionMemories Collection = "memory_items"

	// CollectionSummaries indexes summary text. Primary retrieval path.
	CollectionSummaries Collection = "summaries"

	// CollectionTopics indexes topic descriptions for semantic topic lookup.
	CollectionTopics Collection = "topics"
)

// Collections lists all logical collections.
var Collections = []Collection{CollectionMemories, CollectionSummaries, CollectionTopics}

// Entry is an indexed document: its text and attached metadata.
type Entry struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Index defines the vector index interface.
//
// All write operations are best-effort from the orchestrator's point of
// view; implementations should still report errors so callers can flag
// degraded states.
type Index interface {
	// Upsert adds or replaces an entry. Metadata keys not present in the
	// call are preserved from any existing entry with the same ID, so
	// partial updates never clobber fields like created_at.
	Upsert(ctx context.Context, col Collection, id, text string, metadata map[string]string) error

	// Query returns up to k entry IDs ranked by similarity to the query
	// text. The optional where map filters on exact metadata equality.
	// An empty collection yields an empty result, not an error.
	Query(ctx context.Context, col Collection, query string, k int, where map[string]string) ([]string, error)

	// Get retrieves an indexed entry by ID. Returns ErrNotIndexed on miss.
	Get(ctx context.Context, col Collection, id string) (*Entry, error)

	// Delete removes an entry by ID. Deleting a missing ID is not an error.
	Delete(ctx context.Context, col Collection, id string) error

	// Reset drops and recreates all collections.
	Reset(ctx context.Context) error

	// Count reports the number of entries in a collection.
	Count(ctx context.Context, col Collection) (int, error)

	// Close releases resources.
	Close() error
}
