// Package postgres provides the PostgreSQL implementation of the record
// store, for deployments where the memory database is shared rather than a
// local file. The contract and cascade behavior match the SQLite backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pxl-research/tai-mcp-memory/pkg/store"
)

// Client implements store.Store using PostgreSQL as the backend.
type Client struct {
	db *sql.DB
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewClient connects to PostgreSQL and ensures the schema exists.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{db: db}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS topics (
			name TEXT PRIMARY KEY,
			description TEXT,
			created_at TIMESTAMP NOT NULL,
			item_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS memory_items (
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			topic TEXT NOT NULL REFERENCES topics(name) ON DELETE CASCADE,
			tags TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			content_size INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id BIGINT PRIMARY KEY,
			memory_id BIGINT NOT NULL REFERENCES memory_items(id) ON DELETE CASCADE,
			summary_type TEXT NOT NULL,
			summary_text TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
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
// transaction.
func (c *Client) InsertMemory(ctx context.Context, item *store.MemoryItem) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO topics (name, created_at, item_count) VALUES ($1, $2, 1)
		ON CONFLICT (name) DO UPDATE SET item_count = topics.item_count + 1
	`, item.Topic, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_items (id, content, topic, tags, created_at, updated_at, version, content_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
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
		FROM memory_items WHERE id = $1
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

// UpdateMemory applies a partial update. The memory row is mutated before
// topic bookkeeping, matching the SQLite backend's ordering guarantee.
func (c *Client) UpdateMemory(ctx context.Context, id int64, patch *store.MemoryPatch) (*store.MemoryItem, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("UpdateMemory: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, content, topic, tags, created_at, updated_at, version, content_size
		FROM memory_items WHERE id = $1
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

	topicChanged := newTopic != current.Topic
	if topicChanged {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO topics (name, created_at, item_count) VALUES ($1, $2, 1)
			ON CONFLICT (name) DO UPDATE SET item_count = topics.item_count + 1
		`, newTopic, now)
		if err != nil {
			return nil, fmt.Errorf("UpdateMemory: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memory_items
		SET content = $1, topic = $2, tags = $3, updated_at = $4,
		    version = version + 1, content_size = $5
		WHERE id = $6
	`, newContent, newTopic, newTags, now, newSize, id)
	if err != nil {
		return nil, fmt.Errorf("UpdateMemory: %w", err)
	}

	if topicChanged {
		_, err = tx.ExecContext(ctx, `
			UPDATE topics SET item_count = GREATEST(item_count - 1, 0) WHERE name = $1
		`, current.Topic)
		if err != nil {
			return nil, fmt.Errorf("UpdateMemory: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM topics WHERE name = $1 AND item_count = 0
		`, current.Topic)
		if err != nil {
			return nil, fmt.Errorf("UpdateMemory: %w", err)
		}
	}

	row = tx.QueryRowContext(ctx, `
		SELECT id, content, topic, tags, created_at, updated_at, version, content_size
		FROM memory_items WHERE id = $1
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

// DeleteMemory removes a memory item, cascading to its summaries.
func (c *Client) DeleteMemory(ctx context.Context, id int64) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DeleteMemory: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var topic string
	err = tx.QueryRowContext(ctx, `SELECT topic FROM memory_items WHERE id = $1`, id).Scan(&topic)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("DeleteMemory: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("DeleteMemory: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE topics SET item_count = GREATEST(item_count - 1, 0) WHERE name = $1
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
		VALUES ($1, $2, $3, $4, $5, $6)
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
		FROM summaries WHERE id = $1
	`, id)
	return scanSummaryRow(row, "GetSummaryByID")
}

// GetSummary retrieves the summary of a given type for a memory.
func (c *Client) GetSummary(ctx context.Context, memoryID int64, summaryType string) (*store.Summary, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, memory_id, summary_type, summary_text, created_at, updated_at
		FROM summaries WHERE memory_id = $1 AND summary_type = $2
	`, memoryID, summaryType)
	return scanSummaryRow(row, "GetSummary")
}

// AnySummaryForMemory retrieves whichever summary row exists for the memory.
func (c *Client) AnySummaryForMemory(ctx context.Context, memoryID int64) (*store.Summary, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, memory_id, summary_type, summary_text, created_at, updated_at
		FROM summaries WHERE memory_id = $1 LIMIT 1
	`, memoryID)
	return scanSummaryRow(row, "AnySummaryForMemory")
}

// SummariesForMemory lists all summary rows for a memory.
func (c *Client) SummariesForMemory(ctx context.Context, memoryID int64) ([]*store.Summary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, memory_id, summary_type, summary_text, created_at, updated_at
		FROM summaries WHERE memory_id = $1
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
		UPDATE summaries SET summary_type = $1, summary_text = $2, updated_at = $3 WHERE id = $4
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
	if _, err := c.db.ExecContext(ctx, `DELETE FROM summaries WHERE memory_id = $1`, memoryID); err != nil {
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
	err := c.db.QueryRowContext(ctx, `SELECT item_count FROM topics WHERE name = $1`, name).Scan(&count)
	if err == sql.ErrNoRows {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("DeleteTopicIfEmpty: %w", err)
	}

	if count != 0 {
		return false, nil
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM topics WHERE name = $1 AND item_count = 0`, name); err != nil {
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
		if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
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

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
