// Package store defines the record store contract for the memory system.
//
// The record store is the single source of truth for memory items, topics,
// and summaries. Every operation on the interface is individually atomic
// (one transaction per call); multi-step consistency across calls is the
// responsibility of the orchestrator in pkg/core.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates that a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// MemoryItem is a stored unit of knowledge.
type MemoryItem struct {
	// ID is the unique identifier, generated at creation, immutable.
	ID int64

	// Content is the full text. Never empty.
	Content string

	// Topic is the free-form category name. References a Topic row.
	Topic string

	// Tags is an ordered list of tag strings, possibly empty.
	Tags []string

	// CreatedAt is set once at creation.
	CreatedAt time.Time

	// UpdatedAt is refreshed on every mutation.
	UpdatedAt time.Time

	// Version starts at 1 and increments on every update.
	Version int

	// ContentSize is len(Content) at the last write. Drives summary tiering.
	ContentSize int
}

// Topic is an aggregate counter keyed by name.
type Topic struct {
	// Name is the primary key, matching MemoryItem.Topic values.
	Name string

	// Description is an optional human-readable description.
	Description string

	// ItemCount is the number of live memory items in this topic.
	// Never negative.
	ItemCount int

	// CreatedAt is set when the topic is first referenced.
	CreatedAt time.Time
}

// Summary is a derived, size-tiered condensation of a memory item.
type Summary struct {
	// ID is the unique identifier, distinct from the parent memory's ID.
	ID int64

	// MemoryID references the parent MemoryItem. Cascade-deleted with it.
	MemoryID int64

	// SummaryType is the tier used to produce the summary
	// (direct_tiny, extractive_short, or abstractive_medium).
	SummaryType string

	// SummaryText is the condensed text. For direct_tiny it equals the
	// original content.
	SummaryText string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoryPatch describes a partial update to a memory item.
// Nil fields are left unchanged.
type MemoryPatch struct {
	Content *string
	Topic   *string
	Tags    *[]string
}

// TopicCount pairs a topic name with its live item count.
type TopicCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Status holds aggregate record store statistics.
type Status struct {
	TotalMemories  int          `json:"total_memories"`
	TotalTopics    int          `json:"total_topics"`
	TotalSummaries int          `json:"total_summaries"`
	TopTopics      []TopicCount `json:"top_topics"`
	LatestItemAt   *time.Time   `json:"latest_item_date,omitempty"`
}

// Store defines the record store interface.
//
// Implementations must enforce primary-key uniqueness on IDs, referential
// cascade delete from MemoryItem to its Summaries, and a floor of zero on
// topic item counts.
type Store interface {
	// InsertMemory stores a new memory item and increments (or creates)
	// its topic's counter in the same transaction.
	InsertMemory(ctx context.Context, item *MemoryItem) error

	// GetMemory retrieves a memory item by ID.
	// Returns ErrNotFound if it does not exist.
	GetMemory(ctx context.Context, id int64) (*MemoryItem, error)

	// UpdateMemory applies a partial update, bumping version and updated_at.
	//
	// The memory row itself is updated before any topic bookkeeping, so a
	// cascade attached to the old topic row can never destroy the item
	// mid-update. When the topic changes, the old topic's counter is
	// decremented (the row is removed once it reaches zero) and the new
	// topic's counter incremented or created, all in one transaction.
	//
	// Returns the updated item, or ErrNotFound.
	UpdateMemory(ctx context.Context, id int64, patch *MemoryPatch) (*MemoryItem, error)

	// DeleteMemory removes a memory item. Associated summaries are removed
	// by relational cascade and the topic counter is decremented (floored
	// at zero). Returns ErrNotFound when nothing was deleted.
	DeleteMemory(ctx context.Context, id int64) error

	// InsertSummary stores a new summary row.
	InsertSummary(ctx context.Context, s *Summary) error

	// GetSummaryByID retrieves a summary by its own ID.
	GetSummaryByID(ctx context.Context, id int64) (*Summary, error)

	// GetSummary retrieves the summary of a given type for a memory.
	GetSummary(ctx context.Context, memoryID int64, summaryType string) (*Summary, error)

	// AnySummaryForMemory retrieves whichever summary row exists for the
	// memory, regardless of type. At most one row is expected.
	AnySummaryForMemory(ctx context.Context, memoryID int64) (*Summary, error)

	// SummariesForMemory lists all summary rows for a memory.
	SummariesForMemory(ctx context.Context, memoryID int64) ([]*Summary, error)

	// UpdateSummary overwrites a summary's text and tier in place.
	UpdateSummary(ctx context.Context, id int64, summaryType, summaryText string) error

	// DeleteSummaries removes all summaries for a memory.
	DeleteSummaries(ctx context.Context, memoryID int64) error

	// ListMemories lists all memory items, newest first. Used to rebuild
	// the vector index from the authoritative records.
	ListMemories(ctx context.Context) ([]*MemoryItem, error)

	// ListSummaries lists all summary rows.
	ListSummaries(ctx context.Context) ([]*Summary, error)

	// ListTopics lists all topics, largest first.
	ListTopics(ctx context.Context) ([]*Topic, error)

	// DeleteTopicIfEmpty removes a topic only when its item count is zero.
	// Reports whether the topic was deleted; ErrNotFound when it does not
	// exist.
	DeleteTopicIfEmpty(ctx context.Context, name string) (bool, error)

	// Status returns aggregate statistics.
	Status(ctx context.Context) (*Status, error)

	// Reset drops and recreates all tables.
	Reset(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
