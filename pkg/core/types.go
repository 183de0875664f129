package core

import "time"

// ReturnType selects what content a retrieval result carries.
type ReturnType string

const (
	// ReturnFullText includes the authoritative memory content.
	ReturnFullText ReturnType = "full_text"

	// ReturnSummary includes the stored summary text.
	ReturnSummary ReturnType = "summary"

	// ReturnBoth includes both.
	ReturnBoth ReturnType = "both"
)

// SummaryInfo reports the outcome of the automatic summarization sub-steps
// of a store or update. The flags are independent: a summary can be
// generated but fail to index, and the memory is still considered stored.
type SummaryInfo struct {
	// Generated is true when summary text was obtained, either directly
	// (direct_tiny) or from the generator.
	Generated bool `json:"generated"`

	// Stored is true when the summary row was written to the record store.
	Stored bool `json:"stored"`

	// Indexed is true when the summary was written to the vector index.
	Indexed bool `json:"indexed"`

	// SummaryID is the summary row's ID when Stored is true.
	SummaryID int64 `json:"summary_id,omitempty"`

	// Tier is the summarization tier that was selected.
	Tier Tier `json:"tier,omitempty"`
}

// StoreResult reports the outcome of a store operation.
//
// RecordStored is the only flag whose failure aborts the operation (in
// which case an error is returned instead of a result). The remaining
// flags describe best-effort sub-steps; callers can distinguish "stored
// but not searchable" from "stored but not summarized".
type StoreResult struct {
	ID          int64     `json:"id"`
	Topic       string    `json:"topic"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	ContentSize int       `json:"content_size"`

	// RecordStored is true once the memory row and topic counter are
	// durable. Always true on a non-error return.
	RecordStored bool `json:"record_stored"`

	// Indexed is true when the memory content was written to the vector
	// index.
	Indexed bool `json:"indexed"`

	// TopicIndexed is true when the topic description was written to the
	// vector index.
	TopicIndexed bool `json:"topic_indexed"`

	// Summary reports the automatic summarization outcome.
	Summary SummaryInfo `json:"summary"`
}

// UpdateResult reports the outcome of an update operation. The record
// mutation is authoritative; Indexed and Summary describe best-effort
// shadow updates.
type UpdateResult struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`

	// Indexed is true when the updated memory was re-written to the
	// vector index.
	Indexed bool `json:"indexed"`

	// TopicIndexed is true when the (possibly new) topic description was
	// written to the vector index.
	TopicIndexed bool `json:"topic_indexed"`

	// Summary is non-nil only when the content changed and the summary
	// was therefore regenerated.
	Summary *SummaryInfo `json:"summary,omitempty"`
}

// DeleteResult reports the outcome of a delete operation.
type DeleteResult struct {
	ID int64 `json:"id"`

	// SummaryVectorsDeleted counts summary entries removed from the
	// vector index before the record delete.
	SummaryVectorsDeleted int `json:"summary_vectors_deleted"`

	// MemoryVectorDeleted is true when the memory's own vector entry was
	// removed.
	MemoryVectorDeleted bool `json:"memory_vector_deleted"`
}

// MemoryResult is one retrieval hit, assembled from the authoritative
// record store after the vector index proposed the candidate.
type MemoryResult struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Content is set when the return type includes full text.
	Content string `json:"content,omitempty"`

	// Summary is set when the return type includes the summary.
	Summary string `json:"summary,omitempty"`

	// SummaryType is the tier of the summary, when Summary is set.
	SummaryType string `json:"summary_type,omitempty"`
}

// StatusInfo is the aggregate system status: authoritative record counts
// plus vector index counts and runtime details.
type StatusInfo struct {
	TotalMemories  int `json:"total_memories"`
	TotalTopics    int `json:"total_topics"`
	TotalSummaries int `json:"total_summaries"`

	TopTopics    []TopicCount `json:"top_topics"`
	LatestItemAt *time.Time   `json:"latest_item_date,omitempty"`

	// IndexedMemories and IndexedSummaries are the vector collection
	// sizes; they can lag the record counts when indexing degraded.
	IndexedMemories  int `json:"indexed_memories"`
	IndexedSummaries int `json:"indexed_summaries"`

	StorageRoot  string     `json:"storage_root"`
	LastBackupAt *time.Time `json:"last_backup_at,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// TopicCount pairs a topic name with its live item count.
type TopicCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ReindexResult reports how many entries were rebuilt per collection.
type ReindexResult struct {
	Memories  int `json:"memories"`
	Summaries int `json:"summaries"`
	Topics    int `json:"topics"`
}

// SummarizeRequest is an ad hoc summarization request. Exactly one of
// MemoryID, Query, or Topic must be set.
type SummarizeRequest struct {
	// MemoryID summarizes a single memory's content.
	MemoryID int64 `json:"memory_id,omitempty"`

	// Query summarizes the contents of memories semantically matching
	// the query.
	Query string `json:"query,omitempty"`

	// Topic summarizes the contents of memories in the topic.
	Topic string `json:"topic,omitempty"`

	// Style is the summary style. Defaults to abstractive.
	Style string `json:"summary_type,omitempty"`

	// Length is the target length. Defaults to medium.
	Length string `json:"length,omitempty"`

	// MaxMemories bounds how many memories feed a query or topic
	// summarization. Defaults to 10.
	MaxMemories int `json:"max_memories,omitempty"`
}

// SummarizeResult is the outcome of an ad hoc summarization.
type SummarizeResult struct {
	Summary string `json:"summary"`
	Style   string `json:"summary_type"`
	Length  string `json:"length"`

	// Source describes what was summarized: "memory", "query", or "topic".
	Source string `json:"source"`

	// MemoryCount is how many memories contributed content.
	MemoryCount int `json:"memory_count"`
}
