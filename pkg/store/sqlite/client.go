// Package sqlite provides the SQLite implementation of the record store.
//
// SQLite is the default backend: a single file under the storage root,
// opened with foreign keys enforced and WAL journaling. Foreign keys give
// the cascade from memory items to summaries, and from topics to memory
// items, which is why write ordering inside UpdateMemory matters.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pxl-research/tai-mcp-memory/pkg/store"
)

// Client implements store.Store using SQLite as the backend.
type Client struct {
	db *sql.DB
}

// Config contains configuration for creating a SQLite record store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

// NewClient opens (or creates) the SQLite database and ensures the schema
// exists.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{db: db}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables creates the schema if it does not exist.
//
// topics is created first because memory_items carries a cascading foreign
// key to it; summaries cascade from memory_items.
func (c *Client) initTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS topics (
			name TEXT PRIMARY KEY,
			description TEXT,
			created_at DATETIME NOT NULL,
			item_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS memory_items (
			id INTEGER PRIMARY KEY,
			content TEXT NOT NULL,
			topic TEXT NOT NULL REFERENCES topics(name) ON DELETE CASCADE,
			tags TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			content_size INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY,
			memory_id INTEGER NOT NULL REFERENCES memory_items(id) ON DELETE CASCADE,
			summary_type TEXT NOT NULL,
			summary_text TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_items_topic ON memory_items(topic)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_memory_id ON summaries(memory_id)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// InsertMemory stores a memory item and bumps its topic counter in one
// transaction. The topic row is written first to satisfy the foreign key.
func (c *Client) InsertMemory(ctx context.Context, item *store.MemoryItem) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO topics (name, created_at, item_count) VALUES (?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET item_count = item_count + 1
	`, item.Topic, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_items (id, content, topic, tags, created_at, updated_at, version, content_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Content, item.Topic, joinTags(item.Tags),
		item.CreatedAt, item.UpdatedAt, item.Version, item.ContentSize)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}

	return nil
}

// GetMemory retrieves a memory item by ID.
func (c *Client) GetMemory(ctx context.Context, id int64) (*store.MemoryItem, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, content, topic, tags, created_at, updated_at, version, content_size
		FROM memory_items WHERE id = ?
	`, id)

	item, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetMemory: %w", err)
	}

	return item, nil
}

// UpdateMemory applies a partial update inside one transaction.
//
// The memory row is mutated first. Only afterwards is topic bookkeeping
// resolved, so that removing an emptied old topic row (which cascades to
// its memory items) can never delete the item being moved.
func (c *Client) UpdateMemory(ctx context.Context, id int64, patch *store.MemoryPatch) (*store.MemoryItem, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("UpdateMemory: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, content, topic, tags, created_at, updated_at, version, content_size
		FROM memory_items WHERE id = ?
	`, id)
	current, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateMemory: %w", err)
	}

	now := time.Now()

	newContent := current.Content
	newSize := current.ContentSize
	if patch.Content != nil {
		newContent = *patch.Content
		newSize = len(newContent)
	}
	newTopic := current.Topic
	if patch.Topic != nil {
		newTopic = *patch.Topic
	}
	newTags := joinTags(current.Tags)
	if patch.Tags != nil {
		newTags = joinTags(*patch.Tags)
	}

	// When the topic changes, the new topic row must exist before the
	// memory row can reference it.
	topicChanged := newTopic != current.Topic
	if topicChanged {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO topics (name, created_at, item_count) VALUES (?, ?, 1)
			ON CONFLICT(name) DO UPDATE SET item_count = item_count + 1
		`, newTopic, now)
		if err != nil {
			return nil, fmt.Errorf("UpdateMemory: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memory_items
		SET content = ?, topic = ?, tags = ?, updated_at = ?,
		    version = version + 1, content_size = ?
		WHERE id = ?
	`, newContent, newTopic, newTags, now, newSize, id)
	if err != nil {
		return nil, fmt.Errorf("UpdateMemory: %w", err)
	}

	if topicChanged {
		_, err = tx.ExecContext(ctx, `
			UPDATE topics SET item_count = MAX(item_count - 1, 0) WHERE name = ?
		`, current.Topic)
		if err != nil {
			return nil, fmt.Errorf("UpdateMemory: %w", err)
		}
		// The moved item no longer references the old topic, so the
		// cascade on this delete is a no-op for it.
		_, err = tx.ExecContext(ctx, `
			DELETE FROM topics WHERE name = ? AND item_count = 0
		`, current.Topic)
		if err != nil {
			return nil, fmt.Errorf("UpdateMemory: %w", err)
		}
	}

	row = tx.QueryRowContext(ctx, `
		SELECT id, content, topic, tags, created_at, updated_at, version, content_size
		FROM memory_items WHERE id = ?
	`, id)
	updated, err := scanMemory(row)
	if err != nil {
		return nil, fmt.Errorf("UpdateMemory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("UpdateMemory: %w", err)
	}

	return updated, nil
}

// DeleteMemory removes a memory item, cascading to its summaries, and
// decrements the topic counter (floored at zero).
func (c *Client) DeleteMemory(ctx context.Context, id int64) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DeleteMemory: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var topic string
	err = tx.QueryRowContext(ctx, `SELECT topic FROM memory_items WHERE id = ?`, id).Scan(&topic)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("DeleteMemory: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("DeleteMemory: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE topics SET item_count = MAX(item_count - 1, 0) WHERE name = ?
	`, topic)
	if err != nil {
		return fmt.Errorf("DeleteMemory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("DeleteMemory: %w", err)
	}

	return nil
}

// InsertSummary stores a summary row.
func (c *Client) InsertSummary(ctx context.Context, s *store.Summary) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO summaries (id, memory_id, summary_type, summary_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.MemoryID, s.SummaryType, s.SummaryText, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("InsertSummary: %w", err)
	}
	return nil
}

// GetSummaryByID retrieves a summary by its own ID.
func (c *Client) GetSummaryByID(ctx context.Context, id int64) (*store.Summary, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, memory_id, summary_type, summary_text, created_at, updated_at
		FROM summaries WHERE id = ?
	`, id)
	return scanSummaryRow(row, "GetSummaryByID")
}

// GetSummary retrieves the summary of a given type for a memory.
func (c *Client) GetSummary(ctx context.Context, memoryID int64, summaryType string) (*store.Summary, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, memory_id, summary_type, summary_text, created_at, updated_at
		FROM summaries WHERE memory_id = ? AND summary_type = ?
	`, memoryID, summaryType)
	return scanSummaryRow(row, "GetSummary")
}

// AnySummaryForMemory retrieves whichever summary row exists for the memory.
func (c *Client) AnySummaryForMemory(ctx context.Context, memoryID int64) (*store.Summary, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, memory_id, summary_type, summary_text, created_at, updated_at
		FROM summaries WHERE memory_id = ? LIMIT 1
	`, memoryID)
	return scanSummaryRow(row, "AnySummaryForMemory")
}

// SummariesForMemory lists all summary rows for a memory.
func (c *Client) SummariesForMemory(ctx context.Context, memoryID int64) ([]*store.Summary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, memory_id, summary_type, summary_text, created_at, updated_at
		FROM summaries WHERE memory_id = ?
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("SummariesForMemory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []*store.Summary
	for rows.Next() {
		var s store.Summary
		if err := rows.Scan(&s.ID, &s.MemoryID, &s.SummaryType, &s.SummaryText, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("SummariesForMemory: %w", err)
		}
		summaries = append(summaries, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SummariesForMemory: %w", err)
	}

	return summaries, nil
}

// UpdateSummary overwrites a summary's text and tier in place.
func (c *Client) UpdateSummary(ctx context.Context, id int64, summaryType, summaryText string) error {
	result, err := c.db.ExecContext(ctx, `
		UPDATE summaries SET summary_type = ?, summary_text = ?, updated_at = ? WHERE id = ?
	`, summaryType, summaryText, time.Now(), id)
	if err != nil {
		return fmt.Errorf("UpdateSummary: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateSummary: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return nil
}

// DeleteSummaries removes all summaries for a memory.
func (c *Client) DeleteSummaries(ctx context.Context, memoryID int64) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM summaries WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("DeleteSummaries: %w", err)
	}
	return nil
}

// ListMemories lists all memory items, newest first.
func (c *Client) ListMemories(ctx context.Context) ([]*store.MemoryItem, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, content, topic, tags, created_at, updated_at, version, content_size
		FROM memory_items ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("ListMemories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*store.MemoryItem
	for rows.Next() {
		var item store.MemoryItem
		var tags sql.NullString
		if err := rows.Scan(&item.ID, &item.Content, &item.Topic, &tags,
			&item.CreatedAt, &item.UpdatedAt, &item.Version, &item.ContentSize); err != nil {
			return nil, fmt.Errorf("ListMemories: %w", err)
		}
		item.Tags = splitTags(tags.String)
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListMemories: %w", err)
	}

	return items, nil
}

// ListSummaries lists all summary rows.
func (c *Client) ListSummaries(ctx context.Context) ([]*store.Summary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, memory_id, summary_type, summary_text, created_at, updated_at
		FROM summaries
	`)
	if err != nil {
		return nil, fmt.Errorf("ListSummaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []*store.Summary
	for rows.Next() {
		var s store.Summary
		if err := rows.Scan(&s.ID, &s.MemoryID, &s.SummaryType, &s.SummaryText, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListSummaries: %w", err)
		}
		summaries = append(summaries, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListSummaries: %w", err)
	}

	return summaries, nil
}

// ListTopics lists all topics ordered by item count, largest first.
func (c *Client) ListTopics(ctx context.Context) ([]*store.Topic, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, description, created_at, item_count
		FROM topics ORDER BY item_count DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("ListTopics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var topics []*store.Topic
	for rows.Next() {
		var t store.Topic
		var description sql.NullString
		if err := rows.Scan(&t.Name, &description, &t.CreatedAt, &t.ItemCount); err != nil {
			return nil, fmt.Errorf("ListTopics: %w", err)
		}
		t.Description = description.String
		topics = append(topics, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTopics: %w", err)
	}

	return topics, nil
}

// DeleteTopicIfEmpty removes a topic only when its item count is zero.
func (c *Client) DeleteTopicIfEmpty(ctx context.Context, name string) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT item_count FROM topics WHERE name = ?`, name).Scan(&count)
	if err == sql.ErrNoRows {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("DeleteTopicIfEmpty: %w", err)
	}

	if count != 0 {
		return false, nil
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM topics WHERE name = ? AND item_count = 0`, name); err != nil {
		return false, fmt.Errorf("DeleteTopicIfEmpty: %w", err)
	}

	return true, nil
}

// Status returns aggregate statistics.
func (c *Client) Status(ctx context.Context) (*store.Status, error) {
	status := &store.Status{}

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_items`).Scan(&status.TotalMemories); err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics`).Scan(&status.TotalTopics); err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries`).Scan(&status.TotalSummaries); err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT name, item_count FROM topics ORDER BY item_count DESC LIMIT 5
	`)
	if err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tc store.TopicCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			return nil, fmt.Errorf("Status: %w", err)
		}
		status.TopTopics = append(status.TopTopics, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}

	var latest sql.NullTime
	err = c.db.QueryRowContext(ctx, `
		SELECT created_at FROM memory_items ORDER BY created_at DESC LIMIT 1
	`).Scan(&latest)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("Status: %w", err)
	}
	if latest.Valid {
		status.LatestItemAt = &latest.Time
	}

	return status, nil
}

// Reset drops and recreates all tables.
func (c *Client) Reset(ctx context.Context) error {
	for _, table := range []string{"summaries", "memory_items", "topics"} {
		if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("Reset: %w", err)
		}
	}
	return c.initTables(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanMemory scans a memory item from a row.
func scanMemory(row *sql.Row) (*store.MemoryItem, error) {
	var item store.MemoryItem
	var tags sql.NullString

	err := row.Scan(&item.ID, &item.Content, &item.Topic, &tags,
		&item.CreatedAt, &item.UpdatedAt, &item.Version, &item.ContentSize)
	if err != nil {
		return nil, err
	}

	item.Tags = splitTags(tags.String)
	return &item, nil
}

// scanSummaryRow scans a summary, mapping sql.ErrNoRows to store.ErrNotFound.
func scanSummaryRow(row *sql.Row, op string) (*store.Summary, error) {
	var s store.Summary
	err := row.Scan(&s.ID, &s.MemoryID, &s.SummaryType, &s.SummaryText, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &s, nil
}

// joinTags serializes tags as a comma-separated string.
func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// splitTags parses a comma-separated tag string.
func splitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
