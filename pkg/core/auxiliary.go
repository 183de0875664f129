package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pxl-research/tai-mcp-memory/pkg/backup"
	"github.com/pxl-research/tai-mcp-memory/pkg/index"
	"github.com/pxl-research/tai-mcp-memory/pkg/store"
	"github.com/pxl-research/tai-mcp-memory/pkg/summarizer"
)

// Initialize prepares the storage layer.
//
// With reset=false this is idempotent and loses no data: the schema and
// collections already exist from construction. With reset=true both the
// record store and the vector index are cleared; Status reports zero
// memories and topics immediately afterwards.
func (s *Service) Initialize(ctx context.Context, reset bool) error {
	if !reset {
		return nil
	}

	if err := s.store.Reset(ctx); err != nil {
		return NewMemoryError("Initialize", err)
	}
	if err := s.index.Reset(ctx); err != nil {
		return NewMemoryError("Initialize", err)
	}

	s.logger.Info("storage reset")
	return nil
}

// ListTopics lists all topics, largest first.
func (s *Service) ListTopics(ctx context.Context) ([]*store.Topic, error) {
	topics, err := s.store.ListTopics(ctx)
	if err != nil {
		return nil, NewMemoryError("ListTopics", err)
	}
	if topics == nil {
		topics = []*store.Topic{}
	}
	return topics, nil
}

// Status reports aggregate system state: authoritative record counts plus
// vector collection sizes, which can lag behind after degraded writes.
func (s *Service) Status(ctx context.Context) (*StatusInfo, error) {
	recordStatus, err := s.store.Status(ctx)
	if err != nil {
		return nil, NewMemoryError("Status", err)
	}

	info := &StatusInfo{
		TotalMemories:  recordStatus.TotalMemories,
		TotalTopics:    recordStatus.TotalTopics,
		TotalSummaries: recordStatus.TotalSummaries,
		LatestItemAt:   recordStatus.LatestItemAt,
		StorageRoot:    s.config.StorageRoot,
		Timestamp:      time.Now(),
	}
	for _, tc := range recordStatus.TopTopics {
		info.TopTopics = append(info.TopTopics, TopicCount{Name: tc.Name, Count: tc.Count})
	}

	if n, err := s.index.Count(ctx, index.CollectionMemories); err == nil {
		info.IndexedMemories = n
	} else {
		s.logger.Warn("memory collection count failed", "error", err)
	}
	if n, err := s.index.Count(ctx, index.CollectionSummaries); err == nil {
		info.IndexedSummaries = n
	} else {
		s.logger.Warn("summary collection count failed", "error", err)
	}

	if s.backups != nil {
		if last, ok := s.backups.LastBackupTime(); ok {
			info.LastBackupAt = &last
		}
	}

	return info, nil
}

// DeleteEmptyTopic removes a topic row, but only when no memory items
// reference it. Reports whether the topic was deleted.
func (s *Service) DeleteEmptyTopic(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, NewMemoryError("DeleteEmptyTopic", ErrInvalidInput)
	}

	deleted, err := s.store.DeleteTopicIfEmpty(ctx, name)
	if err != nil {
		return false, NewMemoryError("DeleteEmptyTopic", err)
	}

	if deleted {
		if err := s.index.Delete(ctx, index.CollectionTopics, name); err != nil {
			s.logger.Warn("topic vector delete failed", "topic", name, "error", err)
		}
	}

	return deleted, nil
}

// Summarize produces an ad hoc summary, distinct from the automatic tiered
// summaries. Exactly one of MemoryID, Query, or Topic must be set in the
// request: a memory ID summarizes that memory's content; a query or topic
// summarizes the joined contents of matching memories, found through the
// memory-content collection.
//
// Unlike the automatic path, generation failure here is the operation's
// failure: there is nothing else to fall back on.
func (s *Service) Summarize(ctx context.Context, req *SummarizeRequest) (*SummarizeResult, error) {
	if req == nil {
		return nil, NewMemoryError("Summarize", ErrInvalidInput)
	}

	sources := 0
	if req.MemoryID != 0 {
		sources++
	}
	if req.Query != "" {
		sources++
	}
	if req.Topic != "" {
		sources++
	}
	if sources != 1 {
		return nil, NewMemoryError("Summarize", ErrInvalidInput)
	}

	style := summarizer.Style(req.Style)
	if style == "" {
		style = summarizer.StyleAbstractive
	}
	length := summarizer.Length(req.Length)
	if length == "" {
		length = summarizer.LengthMedium
	}

	var (
		text   string
		source string
		count  int
	)

	switch {
	case req.MemoryID != 0:
		item, err := s.store.GetMemory(ctx, req.MemoryID)
		if err != nil {
			return nil, NewMemoryError("Summarize", err)
		}
		text = item.Content
		source = "memory"
		count = 1

	case req.Query != "":
		contents, err := s.collectContents(ctx, req.Query, nil, req.MaxMemories)
		if err != nil {
			return nil, NewMemoryError("Summarize", err)
		}
		text = strings.Join(contents, "\n\n---\n\n")
		source = "query"
		count = len(contents)

	default:
		contents, err := s.collectContents(ctx, req.Topic, map[string]string{"topic": req.Topic}, req.MaxMemories)
		if err != nil {
			return nil, NewMemoryError("Summarize", err)
		}
		text = strings.Join(contents, "\n\n---\n\n")
		source = "topic"
		count = len(contents)
	}

	if text == "" {
		return nil, NewMemoryError("Summarize", ErrNotFound)
	}

	summary, err := s.summarizer.Generate(ctx, text, style, length, req.Query)
	if err != nil {
		return nil, NewMemoryError("Summarize", err)
	}

	return &SummarizeResult{
		Summary:     summary,
		Style:       string(style),
		Length:      string(length),
		Source:      source,
		MemoryCount: count,
	}, nil
}

// collectContents queries the memory-content collection and resolves the
// hits through the record store, skipping orphans.
func (s *Service) collectContents(ctx context.Context, query string, where map[string]string, max int) ([]string, error) {
	if max <= 0 {
		max = 10
	}

	ids, err := s.index.Query(ctx, index.CollectionMemories, query, max, where)
	if err != nil {
		return nil, err
	}

	var contents []string
	for _, rawID := range ids {
		id, err := parseID(rawID)
		if err != nil {
			continue
		}
		item, err := s.store.GetMemory(ctx, id)
		if err != nil {
			continue
		}
		contents = append(contents, item.Content)
	}

	return contents, nil
}

// Reindex rebuilds the vector index from the record store. The index is
// reset first, so entries for deleted records disappear. This is the
// repair tool for drift accumulated from degraded best-effort writes.
func (s *Service) Reindex(ctx context.Context) (*ReindexResult, error) {
	memories, err := s.store.ListMemories(ctx)
	if err != nil {
		return nil, NewMemoryError("Reindex", err)
	}
	summaries, err := s.store.ListSummaries(ctx)
	if err != nil {
		return nil, NewMemoryError("Reindex", err)
	}
	topics, err := s.store.ListTopics(ctx)
	if err != nil {
		return nil, NewMemoryError("Reindex", err)
	}

	if err := s.index.Reset(ctx); err != nil {
		return nil, NewMemoryError("Reindex", err)
	}

	result := &ReindexResult{}

	byID := make(map[int64]*store.MemoryItem, len(memories))
	for _, item := range memories {
		byID[item.ID] = item
		if err := s.indexMemory(ctx, item); err != nil {
			s.logger.Warn("reindex: memory failed", "id", item.ID, "error", err)
			continue
		}
		result.Memories++
	}

	for _, summary := range summaries {
		metadata := map[string]string{
			"memory_id":    formatID(summary.MemoryID),
			"summary_type": summary.SummaryType,
		}
		if item, ok := byID[summary.MemoryID]; ok {
			metadata["topic"] = item.Topic
		}
		err := s.index.Upsert(ctx, index.CollectionSummaries, formatID(summary.ID), summary.SummaryText, metadata)
		if err != nil {
			s.logger.Warn("reindex: summary failed", "summary_id", summary.ID, "error", err)
			continue
		}
		result.Summaries++
	}

	for _, topic := range topics {
		if err := s.indexTopic(ctx, topic.Name); err != nil {
			s.logger.Warn("reindex: topic failed", "topic", topic.Name, "error", err)
			continue
		}
		result.Topics++
	}

	s.logger.Info("reindex complete",
		"memories", result.Memories, "summaries", result.Summaries, "topics", result.Topics)

	return result, nil
}

// Backup creates a backup archive immediately, regardless of the interval.
func (s *Service) Backup() (string, error) {
	if s.backups == nil {
		return "", NewMemoryError("Backup", errors.New("backups not configured"))
	}

	path, err := s.backups.Create()
	if err != nil {
		return "", NewMemoryError("Backup", err)
	}
	return path, nil
}

// ListBackups lists existing backup archives, newest first.
func (s *Service) ListBackups() ([]backup.Info, error) {
	if s.backups == nil {
		return []backup.Info{}, nil
	}

	backups, err := s.backups.ListBackups()
	if err != nil {
		return nil, NewMemoryError("ListBackups", err)
	}
	return backups, nil
}

// Restore unpacks the named backup archive over the storage root and
// invalidates the backup timestamp cache. The service must be closed and
// reconstructed afterwards; open store and index handles keep seeing the
// pre-restore data.
func (s *Service) Restore(name string) error {
	if s.backups == nil {
		return NewMemoryError("Restore", errors.New("backups not configured"))
	}

	if err := s.backups.Restore(name, s.config.StorageRoot); err != nil {
		return NewMemoryError("Restore", err)
	}

	s.backups.Invalidate()
	return nil
}
