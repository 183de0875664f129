// Package chromem implements the vector index on chromem-go, an embedded
// pure-Go vector database. Collections persist under the storage root next
// to the record store so both are captured by the same backup archive; an
// empty path keeps everything in memory, which tests rely on.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/pxl-research/tai-mcp-memory/pkg/embedder"
	"github.com/pxl-research/tai-mcp-memory/pkg/index"
)

// Client implements index.Index using chromem-go.
type Client struct {
	db          *chromem.DB
	embedFunc   chromem.EmbeddingFunc
	collections map[index.Collection]*chromem.Collection
	mu          sync.RWMutex
}

// Config contains configuration for the chromem index.
type Config struct {
	// Path is the directory for persisted collections. Empty means
	// in-memory only.
	Path string
}

// NewClient creates a chromem-backed index. Embeddings are produced by the
// given provider; chromem invokes it for both document and query text.
func NewClient(cfg *Config, provider embedder.Provider) (*Client, error) {
	var db *chromem.DB
	var err error

	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("NewChromemClient: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	client := &Client{
		db: db,
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return provider.Embed(ctx, text)
		},
		collections: make(map[index.Collection]*chromem.Collection),
	}

	if err := client.createCollections(); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) createCollections() error {
	for _, col := range index.Collections {
		collection, err := c.db.GetOrCreateCollection(string(col), nil, c.embedFunc)
		if err != nil {
			return fmt.Errorf("createCollections: %s: %w", col, err)
		}
		c.collections[col] = collection
	}
	return nil
}

func (c *Client) collection(col index.Collection) (*chromem.Collection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	collection, ok := c.collections[col]
	if !ok {
		return nil, fmt.Errorf("unknown collection: %s", col)
	}
	return collection, nil
}

// Upsert adds or replaces an entry. Metadata of an existing entry is merged
// under the new values, so fields the caller does not pass survive the
// update.
func (c *Client) Upsert(ctx context.Context, col index.Collection, id, text string, metadata map[string]string) error {
	collection, err := c.collection(col)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	merged := metadata
	if existing, err := collection.GetByID(ctx, id); err == nil {
		merged = make(map[string]string, len(existing.Metadata)+len(metadata))
		for k, v := range existing.Metadata {
			merged[k] = v
		}
		for k, v := range metadata {
			merged[k] = v
		}
	}

	err = collection.AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  text,
		Metadata: merged,
	})
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	return nil
}

// Query returns up to k entry IDs ranked by similarity to the query text.
func (c *Client) Query(ctx context.Context, col index.Collection, query string, k int, where map[string]string) ([]string, error) {
	collection, err := c.collection(col)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	// chromem rejects nResults larger than the collection size.
	n := k
	if count := collection.Count(); count < n {
		n = count
	}
	if n <= 0 {
		return []string{}, nil
	}

	if len(where) == 0 {
		where = nil
	}

	results, err := collection.Query(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	ids := make([]string, 0, len(results))
	for _, result := range results {
		ids = append(ids, result.ID)
	}

	return ids, nil
}

// Get retrieves an indexed entry by ID.
func (c *Client) Get(ctx context.Context, col index.Collection, id string) (*index.Entry, error) {
	collection, err := c.collection(col)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	doc, err := collection.GetByID(ctx, id)
	if err != nil {
		return nil, index.ErrNotIndexed
	}

	return &index.Entry{
		ID:       doc.ID,
		Text:     doc.Content,
		Metadata: doc.Metadata,
	}, nil
}

// Delete removes an entry by ID.
func (c *Client) Delete(ctx context.Context, col index.Collection, id string) error {
	collection, err := c.collection(col)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	if err := collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	return nil
}

// Reset drops and recreates all collections.
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, col := range index.Collections {
		if err := c.db.DeleteCollection(string(col)); err != nil {
			return fmt.Errorf("Reset: %s: %w", col, err)
		}
	}

	c.collections = make(map[index.Collection]*chromem.Collection)
	return c.createCollections()
}

// Count reports the number of entries in a collection.
func (c *Client) Count(ctx context.Context, col index.Collection) (int, error) {
	collection, err := c.collection(col)
	if err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return collection.Count(), nil
}

// Close releases resources. chromem holds its data in memory (with
// write-through persistence when a path is configured), so there is
// nothing to flush.
func (c *Client) Close() error {
	return nil
}
