// Package backup creates timestamped zip archives of the storage root and
// manages their retention.
//
// The scheduler keeps an in-memory cache of the last backup time, guarded
// by a mutex that spans the "is a backup due" check and the creation
// itself, so concurrent callers can never both decide a backup is due.
// Timestamps are parsed from archive filenames rather than file mtimes,
// which are unreliable across copy and restore.
package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	namePrefix = "memory_backup_"
	nameLayout = "2006-01-02_15-04-05"
	nameExt    = ".zip"
)

// Info describes one backup archive.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Config contains scheduler configuration.
type Config struct {
	// SourceDir is the storage root to archive.
	SourceDir string

	// BackupDir is where archives are written. Must not live inside
	// SourceDir (archives under the source would be archived themselves;
	// the walker skips BackupDir as a guard).
	BackupDir string

	// Interval is the minimum time between automatic backups.
	// Defaults to 24 hours.
	Interval time.Duration

	// Retention is how many archives to keep. Defaults to 5.
	Retention int

	// Logger receives backup activity. Defaults to slog.Default().
	Logger *slog.Logger
}

// Scheduler creates and prunes backups of the storage root.
//
// A Scheduler is constructed once per process and shared; all its methods
// are safe for concurrent use.
type Scheduler struct {
	sourceDir string
	backupDir string
	interval  time.Duration
	retention int
	logger    *slog.Logger

	mu          sync.Mutex
	lastBackup  time.Time
	initialized bool
}

// New creates a Scheduler.
func New(cfg *Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		sourceDir: cfg.SourceDir,
		backupDir: cfg.BackupDir,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// CreateIfDue atomically checks whether a backup is due and creates one if
// so. Returns the archive path and true when a backup was created.
func (s *Scheduler) CreateIfDue() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dueLocked() {
		return "", false, nil
	}

	path, err := s.createLocked()
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Create unconditionally creates a backup.
func (s *Scheduler) Create() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

// LastBackupTime reports when the most recent backup was created, from the
// cache when warm, otherwise from archive filenames on disk.
func (s *Scheduler) LastBackupTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.warmCacheLocked()
	return s.lastBackup, !s.lastBackup.IsZero()
}

// Invalidate drops the cached timestamp so the next check re-reads the
// filesystem. Used after a manual restore and for test isolation.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastBackup = time.Time{}
	s.initialized = false
	s.logger.Info("backup cache invalidated")
}

// ListBackups lists archives, newest first, ordered by the timestamp
// parsed from each filename.
func (s *Scheduler) ListBackups() ([]Info, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ListBackups: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		ts, ok := parseName(entry.Name())
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Name:      entry.Name(),
			Path:      filepath.Join(s.backupDir, entry.Name()),
			SizeBytes: fi.Size(),
			CreatedAt: ts,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	return backups, nil
}

// Restore unpacks the named archive over destDir. The caller must have
// closed any store handles on destDir first, and should Invalidate the
// scheduler afterwards.
func (s *Scheduler) Restore(name, destDir string) error {
	if _, ok := parseName(name); !ok {
		return fmt.Errorf("Restore: not a backup archive: %s", name)
	}

	archivePath := filepath.Join(s.backupDir, name)
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("Restore: %w", err)
	}
	defer func() { _ = reader.Close() }()

	for _, file := range reader.File {
		if err := extractFile(file, destDir); err != nil {
			return fmt.Errorf("Restore: %w", err)
		}
	}

	s.logger.Info("backup restored", "archive", name, "dest", destDir)
	return nil
}

// dueLocked reports whether a backup is due. Caller must hold mu.
func (s *Scheduler) dueLocked() bool {
	s.warmCacheLocked()

	if s.lastBackup.IsZero() {
		return true
	}
	return time.Since(s.lastBackup) >= s.interval
}

// warmCacheLocked fills the timestamp cache from disk once. Caller must
// hold mu.
func (s *Scheduler) warmCacheLocked() {
	if s.initialized {
		return
	}
	s.lastBackup = s.lastFromDisk()
	s.initialized = true
}

// createLocked creates an archive and updates the cache. Caller must hold
// mu.
func (s *Scheduler) createLocked() (string, error) {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}

	now := time.Now()
	name := namePrefix + now.Format(nameLayout) + nameExt
	path := filepath.Join(s.backupDir, name)

	if err := zipDir(s.sourceDir, s.backupDir, path); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}

	s.lastBackup = now
	s.initialized = true
	s.logger.Info("backup created", "archive", name)

	s.cleanupLocked()

	return path, nil
}

// cleanupLocked removes archives beyond the retention count, keeping the
// newest by parsed filename. Caller must hold mu.
func (s *Scheduler) cleanupLocked() {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		s.logger.Warn("backup cleanup failed", "error", err)
		return
	}

	type stamped struct {
		name string
		ts   time.Time
	}
	var backups []stamped
	for _, entry := range entries {
		if ts, ok := parseName(entry.Name()); ok {
			backups = append(backups, stamped{entry.Name(), ts})
		}
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ts.After(backups[j].ts)
	})

	for _, old := range backups[min(len(backups), s.retention):] {
		if err := os.Remove(filepath.Join(s.backupDir, old.name)); err != nil {
			s.logger.Warn("failed to delete old backup", "archive", old.name, "error", err)
		} else {
			s.logger.Info("deleted old backup", "archive", old.name)
		}
	}
}

// lastFromDisk finds the newest backup timestamp by parsing filenames.
func (s *Scheduler) lastFromDisk() time.Time {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return time.Time{}
	}

	var latest time.Time
	for _, entry := range entries {
		if ts, ok := parseName(entry.Name()); ok && ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

// parseName extracts the timestamp from an archive filename.
func parseName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameExt) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameExt)
	ts, err := time.ParseInLocation(nameLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// zipDir archives srcDir into zipPath, skipping skipDir.
func zipDir(srcDir, skipDir, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	writer := zip.NewWriter(out)
	defer func() { _ = writer.Close() }()

	err = filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == skipDir {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		dst, err := writer.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()

		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		return err
	}

	return writer.Close()
}

// extractFile writes one archive member under destDir, rejecting paths
// that would escape it.
func extractFile(file *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(file.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("illegal archive path: %s", file.Name)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}
