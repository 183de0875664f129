// Package core implements the memory lifecycle orchestrator: it coordinates
// the authoritative record store, the best-effort vector index, and the
// size-tiered summarizer across store, retrieve, update, and delete.
//
// The record store is the transaction boundary and the single source of
// truth. Vector index writes and summary generation are best-effort shadows
// whose failures are reported in result structs, never rolled back into the
// record write. Callers can therefore observe degraded states like "stored
// but not searchable" and repair them with Reindex.
package core

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/pxl-research/tai-mcp-memory/pkg/backup"
	"github.com/pxl-research/tai-mcp-memory/pkg/embedder"
	mockEmbedder "github.com/pxl-research/tai-mcp-memory/pkg/embedder/mock"
	openaiEmbedder "github.com/pxl-research/tai-mcp-memory/pkg/embedder/openai"
	"github.com/pxl-research/tai-mcp-memory/pkg/index"
	chromemIndex "github.com/pxl-research/tai-mcp-memory/pkg/index/chromem"
	"github.com/pxl-research/tai-mcp-memory/pkg/llm"
	openaiLLM "github.com/pxl-research/tai-mcp-memory/pkg/llm/openai"
	"github.com/pxl-research/tai-mcp-memory/pkg/store"
	postgresStore "github.com/pxl-research/tai-mcp-memory/pkg/store/postgres"
	sqliteStore "github.com/pxl-research/tai-mcp-memory/pkg/store/sqlite"
	"github.com/pxl-research/tai-mcp-memory/pkg/summarizer"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Service is the memory lifecycle orchestrator.
//
// A Service is safe for concurrent use: each operation performs short-lived
// calls against the long-lived store and index handles, and no lock is held
// across index or LLM calls. The only internal synchronization lives in the
// backup scheduler.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	service, _ := core.NewService(config)
//	defer service.Close()
//
//	result, _ := service.Store(ctx, "User prefers snake_case", "preferences", nil)
type Service struct {
	config     *Config
	store      store.Store
	index      index.Index
	embedder   embedder.Provider
	llm        llm.Provider
	summarizer *summarizer.Summarizer
	backups    *backup.Scheduler
	node       *snowflake.Node
	logger     *slog.Logger
}

// Option overrides one of the Service's collaborators, mainly for tests
// and embedding scenarios.
type Option func(*Service)

// WithStore injects a record store, bypassing config-driven construction.
func WithStore(s store.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithIndex injects a vector index.
func WithIndex(idx index.Index) Option {
	return func(svc *Service) { svc.index = idx }
}

// WithEmbedder injects an embedding provider.
func WithEmbedder(e embedder.Provider) Option {
	return func(svc *Service) { svc.embedder = e }
}

// WithLLM injects an LLM provider.
func WithLLM(p llm.Provider) Option {
	return func(svc *Service) { svc.llm = p }
}

// WithBackups injects a backup scheduler.
func WithBackups(b *backup.Scheduler) Option {
	return func(svc *Service) { svc.backups = b }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// NewService creates the orchestrator from configuration, constructing any
// collaborator not injected via options.
func NewService(cfg *Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	svc := &Service{config: cfg}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	if svc.store == nil {
		s, err := initStore(cfg)
		if err != nil {
			return nil, err
		}
		svc.store = s
	}

	if svc.embedder == nil {
		e, err := initEmbedder(cfg.Embedder)
		if err != nil {
			return nil, err
		}
		svc.embedder = e
	}

	if svc.index == nil {
		idx, err := chromemIndex.NewClient(&chromemIndex.Config{Path: cfg.IndexPath()}, svc.embedder)
		if err != nil {
			return nil, NewMemoryError("NewService", err)
		}
		svc.index = idx
	}

	if svc.llm == nil {
		p, err := initLLM(cfg.LLM)
		if err != nil {
			return nil, err
		}
		svc.llm = p
	}
	svc.summarizer = summarizer.New(svc.llm)

	if svc.backups == nil && cfg.Backup.Enabled {
		svc.backups = backup.New(&backup.Config{
			SourceDir: cfg.StorageRoot,
			BackupDir: cfg.BackupDir(),
			Interval:  cfg.BackupInterval(),
			Retention: cfg.Backup.Retention,
			Logger:    svc.logger,
		})
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewMemoryError("NewService", err)
	}
	svc.node = node

	return svc, nil
}

// initStore constructs the configured record store backend.
func initStore(cfg *Config) (store.Store, error) {
	switch cfg.Database.Provider {
	case "sqlite":
		client, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: cfg.DatabasePath()})
		if err != nil {
			return nil, NewMemoryError("initStore", err)
		}
		return client, nil
	case "postgres":
		pg := cfg.Database.Postgres
		client, err := postgresStore.NewClient(&postgresStore.Config{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			DBName:   pg.DBName,
			SSLMode:  pg.SSLMode,
		})
		if err != nil {
			return nil, NewMemoryError("initStore", err)
		}
		return client, nil
	default:
		return nil, NewMemoryError("initStore", ErrInvalidConfig)
	}
}

// initLLM constructs the configured LLM provider. OpenRouter speaks the
// OpenAI wire format, so both providers share a client.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "openrouter":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = openRouterBaseURL
		}
		return openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: baseURL,
		})
	default:
		return nil, NewMemoryError("initLLM", ErrInvalidConfig)
	}
}

// initEmbedder constructs the configured embedding provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "mock":
		return mockEmbedder.New(cfg.Dimensions), nil
	default:
		return nil, NewMemoryError("initEmbedder", ErrInvalidConfig)
	}
}

// Store saves a new memory item.
//
// The record store write (memory row plus topic counter) is the durability
// boundary: if it fails, the operation fails. Vector indexing, topic
// indexing, and automatic summarization follow as best-effort steps whose
// outcomes are reported in the result.
func (s *Service) Store(ctx context.Context, content, topic string, tags []string) (*StoreResult, error) {
	s.maybeBackup()

	if content == "" || topic == "" {
		return nil, NewMemoryError("Store", ErrInvalidInput)
	}
	if tags == nil {
		tags = []string{}
	}

	now := time.Now()
	item := &store.MemoryItem{
		ID:          s.node.Generate().Int64(),
		Content:     content,
		Topic:       topic,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
		ContentSize: len(content),
	}

	if err := s.store.InsertMemory(ctx, item); err != nil {
		return nil, NewMemoryError("Store", err)
	}

	result := &StoreResult{
		ID:           item.ID,
		Topic:        item.Topic,
		Tags:         item.Tags,
		CreatedAt:    item.CreatedAt,
		ContentSize:  item.ContentSize,
		RecordStored: true,
	}

	if err := s.indexMemory(ctx, item); err != nil {
		s.logger.Warn("memory indexing failed", "id", item.ID, "error", err)
	} else {
		result.Indexed = true
	}

	if err := s.indexTopic(ctx, item.Topic); err != nil {
		s.logger.Warn("topic indexing failed", "topic", item.Topic, "error", err)
	} else {
		result.TopicIndexed = true
	}

	result.Summary = s.refreshSummary(ctx, item)

	return result, nil
}

// Retrieve performs a semantic search over stored memories.
//
// The query runs against the summary collection only: summaries are shorter
// and cheaper to match, and each memory has at most one, so a memory cannot
// hit twice. Every candidate is re-resolved through the record store;
// candidates whose summary or memory row has since disappeared are skipped
// silently. Zero matches yield an empty slice, not an error.
func (s *Service) Retrieve(ctx context.Context, query string, maxResults int, topic string, returnType ReturnType) ([]*MemoryResult, error) {
	if query == "" {
		return nil, NewMemoryError("Retrieve", ErrInvalidInput)
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if returnType == "" {
		returnType = ReturnFullText
	}

	var where map[string]string
	if topic != "" {
		where = map[string]string{"topic": topic}
	}

	ids, err := s.index.Query(ctx, index.CollectionSummaries, query, maxResults, where)
	if err != nil {
		return nil, NewMemoryError("Retrieve", err)
	}

	results := make([]*MemoryResult, 0, len(ids))
	for _, rawID := range ids {
		summaryID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			s.logger.Warn("unparseable summary id in index", "id", rawID)
			continue
		}

		summary, err := s.store.GetSummaryByID(ctx, summaryID)
		if err != nil {
			// Orphaned vector entry; expected drift between the index
			// and the record store.
			s.logger.Debug("skipping orphaned summary hit", "summary_id", summaryID)
			continue
		}

		item, err := s.store.GetMemory(ctx, summary.MemoryID)
		if err != nil {
			s.logger.Debug("skipping summary of deleted memory", "memory_id", summary.MemoryID)
			continue
		}

		result := &MemoryResult{
			ID:        item.ID,
			Topic:     item.Topic,
			Tags:      item.Tags,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		}
		if returnType == ReturnFullText || returnType == ReturnBoth {
			result.Content = item.Content
		}
		if returnType == ReturnSummary || returnType == ReturnBoth {
			result.Summary = summary.SummaryText
			result.SummaryType = summary.SummaryType
		}

		results = append(results, result)
	}

	return results, nil
}

// Update applies a partial update to a memory item.
//
// The record mutation happens first, inside one store transaction that
// also resolves topic counters; only afterwards are the vector index and
// summary refreshed. When the content changed, the summary is re-tiered
// and the existing summary row is overwritten in place, whatever tier it
// carried before.
func (s *Service) Update(ctx context.Context, id int64, patch *store.MemoryPatch) (*UpdateResult, error) {
	s.maybeBackup()

	if patch == nil || (patch.Content == nil && patch.Topic == nil && patch.Tags == nil) {
		return nil, NewMemoryError("Update", ErrInvalidInput)
	}
	if patch.Content != nil && *patch.Content == "" {
		return nil, NewMemoryError("Update", ErrInvalidInput)
	}
	if patch.Topic != nil && *patch.Topic == "" {
		return nil, NewMemoryError("Update", ErrInvalidInput)
	}

	updated, err := s.store.UpdateMemory(ctx, id, patch)
	if err != nil {
		return nil, NewMemoryError("Update", err)
	}

	result := &UpdateResult{
		ID:        updated.ID,
		Topic:     updated.Topic,
		Version:   updated.Version,
		UpdatedAt: updated.UpdatedAt,
	}

	// Full re-index of the item; the index merges metadata, so fields
	// this update did not touch (created_at, content_size) survive.
	if err := s.indexMemory(ctx, updated); err != nil {
		s.logger.Warn("memory re-indexing failed", "id", updated.ID, "error", err)
	} else {
		result.Indexed = true
	}

	if err := s.indexTopic(ctx, updated.Topic); err != nil {
		s.logger.Warn("topic indexing failed", "topic", updated.Topic, "error", err)
	} else {
		result.TopicIndexed = true
	}

	if patch.Content != nil {
		info := s.refreshSummary(ctx, updated)
		result.Summary = &info
	}

	return result, nil
}

// Delete removes a memory item.
//
// Summary rows are looked up before anything is deleted so their vector
// entries can be cleaned up; the record delete then cascades to the
// summary rows and decrements the topic counter. Deleting an unknown ID
// is a reported failure, distinguishing "nothing to delete" from
// "deleted".
func (s *Service) Delete(ctx context.Context, id int64) (*DeleteResult, error) {
	s.maybeBackup()

	result := &DeleteResult{ID: id}

	summaries, err := s.store.SummariesForMemory(ctx, id)
	if err != nil {
		// Leftover vectors become orphans, which retrieval skips and
		// Reindex removes.
		s.logger.Warn("summary lookup before delete failed", "id", id, "error", err)
	}
	for _, summary := range summaries {
		if err := s.index.Delete(ctx, index.CollectionSummaries, formatID(summary.ID)); err != nil {
			s.logger.Warn("summary vector delete failed", "summary_id", summary.ID, "error", err)
			continue
		}
		result.SummaryVectorsDeleted++
	}

	if err := s.store.DeleteMemory(ctx, id); err != nil {
		return nil, NewMemoryError("Delete", err)
	}

	if err := s.index.Delete(ctx, index.CollectionMemories, formatID(id)); err != nil {
		s.logger.Warn("memory vector delete failed", "id", id, "error", err)
	} else {
		result.MemoryVectorDeleted = true
	}

	return result, nil
}

// Close releases the store, index, and provider handles.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
	}
	if s.llm != nil {
		errs = append(errs, s.llm.Close())
	}
	return errors.Join(errs...)
}

// maybeBackup opportunistically triggers the backup scheduler before a
// write. Failures are logged, never propagated: backups must not block
// writes.
func (s *Service) maybeBackup() {
	if s.backups == nil {
		return
	}

	path, created, err := s.backups.CreateIfDue()
	if err != nil {
		s.logger.Warn("opportunistic backup failed", "error", err)
		return
	}
	if created {
		s.logger.Info("opportunistic backup created", "path", path)
	}
}

// indexMemory writes a memory item's content and metadata to the vector
// index.
func (s *Service) indexMemory(ctx context.Context, item *store.MemoryItem) error {
	return s.index.Upsert(ctx, index.CollectionMemories, formatID(item.ID), item.Content, map[string]string{
		"topic":        item.Topic,
		"tags":         strings.Join(item.Tags, ","),
		"created_at":   item.CreatedAt.Format(time.RFC3339),
		"updated_at":   item.UpdatedAt.Format(time.RFC3339),
		"content_size": strconv.Itoa(item.ContentSize),
	})
}

// indexTopic writes a topic's semantic description entry. The topic name
// doubles as the entry ID, so repeated stores into one topic collapse to
// a single entry.
func (s *Service) indexTopic(ctx context.Context, name string) error {
	return s.index.Upsert(ctx, index.CollectionTopics, name, name, map[string]string{
		"name": name,
	})
}

// refreshSummary selects the tier for the item's content, obtains summary
// text, and writes it through to the record store and the vector index.
// Every step is best-effort; the returned SummaryInfo records how far it
// got.
func (s *Service) refreshSummary(ctx context.Context, item *store.MemoryItem) SummaryInfo {
	tier := SelectTier(item.ContentSize, s.config.Summary.TinyThreshold, s.config.Summary.SmallThreshold)
	info := SummaryInfo{Tier: tier}

	text := item.Content
	if style, length, ok := tier.Params(); ok {
		generated, err := s.summarizer.Generate(ctx, item.Content, style, length, "")
		if err != nil {
			s.logger.Warn("summary generation failed", "memory_id", item.ID, "tier", tier, "error", err)
			return info
		}
		text = generated
	}
	info.Generated = true

	now := time.Now()
	existing, err := s.store.AnySummaryForMemory(ctx, item.ID)
	switch {
	case err == nil:
		// Single-summary-per-memory: overwrite the row in place,
		// including its tier.
		if err := s.store.UpdateSummary(ctx, existing.ID, string(tier), text); err != nil {
			s.logger.Warn("summary update failed", "summary_id", existing.ID, "error", err)
			return info
		}
		info.Stored = true
		info.SummaryID = existing.ID
	case errors.Is(err, store.ErrNotFound):
		summary := &store.Summary{
			ID:          s.node.Generate().Int64(),
			MemoryID:    item.ID,
			SummaryType: string(tier),
			SummaryText: text,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.InsertSummary(ctx, summary); err != nil {
			s.logger.Warn("summary insert failed", "memory_id", item.ID, "error", err)
			return info
		}
		info.Stored = true
		info.SummaryID = summary.ID
	default:
		s.logger.Warn("summary lookup failed", "memory_id", item.ID, "error", err)
		return info
	}

	err = s.index.Upsert(ctx, index.CollectionSummaries, formatID(info.SummaryID), text, map[string]string{
		"memory_id":    formatID(item.ID),
		"topic":        item.Topic,
		"summary_type": string(tier),
	})
	if err != nil {
		s.logger.Warn("summary indexing failed", "summary_id", info.SummaryID, "error", err)
		return info
	}
	info.Indexed = true

	return info
}

// formatID renders an ID the way the vector index stores it.
func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// parseID parses an index entry ID back to a record ID.
func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
