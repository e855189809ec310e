package database

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"resortwala/internal/config"
	"resortwala/internal/models"
)

const (
	BackupStatusSuccess = "success"
	BackupStatusFailed  = "failed"

	backupPrefix      = "backup_"
	backupSuffix      = ".db.gz"
	backupStampLayout = "20060102_150405"
)

// BackupService snapshots the database with VACUUM INTO and keeps gzipped
// copies for RetentionDays.
type BackupService struct {
	db     *DB
	cfg    config.BackupConfig
	now    func() time.Time
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &BackupService{db: db, cfg: cfg, now: time.Now, logger: logger}
}

// Start runs a backup immediately and then on every interval.
func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Backups disabled")
		return
	}
	s.logger.Info().Dur("interval", s.cfg.Interval).Str("dir", s.cfg.StoragePath).Msg("Backup schedule started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.PerformBackup(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Backup failed")
		}
		s.CleanupOldBackups()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PerformBackup writes backup_<stamp>.db.gz and records the attempt in the
// backups table whether or not it succeeded.
func (s *BackupService) PerformBackup(ctx context.Context) (*models.BackupRecord, error) {
	name := backupPrefix + s.now().UTC().Format(backupStampLayout) + backupSuffix
	rec := &models.BackupRecord{FileName: name, Status: BackupStatusSuccess}

	size, err := s.writeArchive(ctx, filepath.Join(s.cfg.StoragePath, name))
	rec.SizeBytes = size
	if err != nil {
		rec.Status = BackupStatusFailed
		rec.Error = err.Error()
	}
	if recErr := s.db.CreateBackupRecord(ctx, rec); recErr != nil {
		s.logger.Error().Err(recErr).Str("file", name).Msg("Failed to record backup")
	}
	if err != nil {
		return rec, err
	}

	s.logger.Info().Str("file", name).Int64("size", size).Msg("Backup written")
	return rec, nil
}

// writeArchive snapshots into a temp file next to dst, compresses it and
// renames the archive into place.
func (s *BackupService) writeArchive(ctx context.Context, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("backup dir: %w", err)
	}

	raw := strings.TrimSuffix(dst, ".gz") + ".tmp"
	defer os.Remove(raw)
	_ = os.Remove(raw)
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, raw); err != nil {
		return 0, fmt.Errorf("vacuum into: %w", err)
	}

	partial := dst + ".part"
	defer os.Remove(partial)
	size, err := compressFile(raw, partial)
	if err != nil {
		return 0, err
	}
	if err := os.Rename(partial, dst); err != nil {
		return 0, fmt.Errorf("backup rename: %w", err)
	}
	return size, nil
}

func compressFile(src, dst string) (size int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(src)
	if _, err = io.Copy(gz, in); err != nil {
		return 0, fmt.Errorf("compress backup: %w", err)
	}
	if err = gz.Close(); err != nil {
		return 0, fmt.Errorf("compress backup: %w", err)
	}
	return out.Seek(0, io.SeekCurrent)
}

// CleanupOldBackups deletes archives older than RetentionDays. The age comes
// from the timestamp in the file name, or the mtime for foreign names.
func (s *BackupService) CleanupOldBackups() int {
	if s.cfg.RetentionDays <= 0 {
		return 0
	}
	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Cannot list backup dir")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) {
			continue
		}
		taken, ok := backupTime(e)
		if !ok || !taken.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, e.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("Cannot delete old backup")
			continue
		}
		s.logger.Info().Str("file", e.Name()).Msg("Old backup deleted")
		removed++
	}
	return removed
}

func backupTime(e os.DirEntry) (time.Time, bool) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(e.Name(), backupPrefix), backupSuffix)
	if t, err := time.Parse(backupStampLayout, stamp); err == nil {
		return t, true
	}
	info, err := e.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (db *DB) CreateBackupRecord(ctx context.Context, rec *models.BackupRecord) error {
	rec.CreatedAt = db.now()
	res, err := db.ExecContext(ctx,
		`INSERT INTO backups (file_name, size_bytes, status, error, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.FileName, rec.SizeBytes, rec.Status, rec.Error, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create backup record: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read backup record id: %w", err)
	}
	return nil
}

// GetBackupRecords returns the latest backup attempts, newest first.
func (db *DB) GetBackupRecords(ctx context.Context, limit int) ([]*models.BackupRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, file_name, size_bytes, status, error, created_at FROM backups ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get backup records: %w", err)
	}
	defer rows.Close()

	var out []*models.BackupRecord
	for rows.Next() {
		rec := new(models.BackupRecord)
		if err := rows.Scan(&rec.ID, &rec.FileName, &rec.SizeBytes, &rec.Status, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
