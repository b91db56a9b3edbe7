// Package archive moves aged audit and dead letter rows into line-oriented
// archive files. Each file opens with a JSON header line followed by TABLE,
// COLUMNS, and DATA lines per exported table, optionally gzip-compressed.
package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// Archive format version
const FormatVersion = 1

// Archive types
const (
	TypeAudit       = "audit"
	TypeDeadLetters = "dead_letters"
)

// Archive statuses recorded in data_archive_log
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Options controls one archive run
type Options struct {
	// Type selects the rows to archive, TypeAudit or TypeDeadLetters
	Type string
	// Cutoff bounds the run; only rows strictly older are archived
	Cutoff time.Time
	// Compress gzips the output file
	Compress bool
	// Actor is recorded in the archive log
	Actor string
}

// Header is the first line of every archive file
type Header struct {
	Version   int       `json:"version"`
	ArchiveID string    `json:"archive_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Cutoff    time.Time `json:"cutoff"`
	Tables    []string  `json:"tables"`
}

// Service runs archive passes and records them in data_archive_log
type Service struct {
	gdb      *gorm.DB
	rootPath string
}

// NewService creates an archive service writing under rootPath
func NewService(gdb *gorm.DB, rootPath string) *Service {
	return &Service{gdb: gdb, rootPath: rootPath}
}

// Run archives rows older than the cutoff, deletes them from the live
// tables, and records the pass. The file is complete before any row is
// deleted.
func (s *Service) Run(ctx context.Context, opts Options) (*models.DataArchiveLog, error) {
	logger := slogging.Get()

	table, err := tableFor(opts.Type)
	if err != nil {
		return nil, err
	}
	if opts.Cutoff.IsZero() {
		return nil, fmt.Errorf("archive cutoff must be set")
	}

	archiveID := uuid.New().String()
	path := s.archivePath(archiveID, opts)

	entry := &models.DataArchiveLog{
		ArchiveID:   archiveID,
		ArchiveType: opts.Type,
		ArchiveDate: time.Now().UTC(),
		ArchivePath: path,
		Status:      StatusFailed,
		CreatedBy:   opts.Actor,
	}

	count, size, err := s.writeAndPrune(ctx, table, opts, archiveID, path)
	if err != nil {
		entry.Metadata = fmt.Sprintf(`{"error":%q}`, err.Error())
		if logErr := s.gdb.WithContext(ctx).Create(entry).Error; logErr != nil {
			logger.Error("Failed to record failed archive %s: %v", archiveID, logErr)
		}
		return nil, fmt.Errorf("failed to archive %s: %w", opts.Type, err)
	}

	entry.Status = StatusCompleted
	entry.RecordsArchived = count
	entry.ArchiveSize = size
	if err := s.gdb.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to record archive %s: %w", archiveID, err)
	}

	logger.Info("Archived %d %s rows to %s (%d bytes)", count, opts.Type, path, size)
	return entry, nil
}

func (s *Service) archivePath(archiveID string, opts Options) string {
	name := fmt.Sprintf("acs-%s-%s-%s.jsonl", opts.Type, opts.Cutoff.UTC().Format("20060102"), archiveID)
	if opts.Compress {
		name += ".gz"
	}
	return filepath.Join(s.rootPath, name)
}

func (s *Service) writeAndPrune(ctx context.Context, table string, opts Options, archiveID, path string) (count, size int64, err error) {
	if err := os.MkdirAll(s.rootPath, 0o750); err != nil {
		return 0, 0, fmt.Errorf("failed to create archive directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- path is built from config and a fresh uuid
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var w io.Writer = f
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(f)
		w = gz
	}

	header := Header{
		Version:   FormatVersion,
		ArchiveID: archiveID,
		Type:      opts.Type,
		CreatedAt: time.Now().UTC(),
		Cutoff:    opts.Cutoff.UTC(),
		Tables:    []string{table},
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to serialize archive header: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", headerJSON); err != nil {
		return 0, 0, fmt.Errorf("failed to write archive header: %w", err)
	}

	switch opts.Type {
	case TypeAudit:
		count, err = writeAuditRows(ctx, s.gdb, w, opts.Cutoff)
	case TypeDeadLetters:
		count, err = writeDeadLetterRows(ctx, s.gdb, w, opts.Cutoff)
	}
	if err != nil {
		return 0, 0, err
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return 0, 0, fmt.Errorf("failed to finish compressed archive: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return 0, 0, fmt.Errorf("failed to sync archive file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat archive file: %w", err)
	}
	size = info.Size()

	// Rows leave the live table only after the file is durable.
	if count > 0 {
		if err := pruneRows(ctx, s.gdb, opts); err != nil {
			return 0, 0, err
		}
	}
	return count, size, nil
}

func tableFor(archiveType string) (string, error) {
	switch archiveType {
	case TypeAudit:
		return models.AuditLog{}.TableName(), nil
	case TypeDeadLetters:
		return models.DeadLetter{}.TableName(), nil
	default:
		return "", fmt.Errorf("unknown archive type %q", archiveType)
	}
}

var auditColumns = []string{"id", "entity_type", "entity_id", "change_type", "changed_by", "change_date", "change_details", "content_hash"}

func writeAuditRows(ctx context.Context, gdb *gorm.DB, w io.Writer, cutoff time.Time) (int64, error) {
	if err := writeTablePreamble(w, models.AuditLog{}.TableName(), auditColumns); err != nil {
		return 0, err
	}

	var count int64
	var rows []models.AuditLog
	err := gdb.WithContext(ctx).
		Where("change_date < ?", cutoff).
		Order("id ASC").
		FindInBatches(&rows, 500, func(tx *gorm.DB, _ int) error {
			for _, row := range rows {
				if err := writeDataLine(w, []any{
					row.ID, row.EntityType, row.EntityID, row.ChangeType,
					row.ChangedBy, row.ChangeDate.UTC().Format(time.RFC3339Nano),
					row.ChangeDetails, row.ContentHash,
				}); err != nil {
					return err
				}
				count++
			}
			return nil
		}).Error
	if err != nil {
		return 0, fmt.Errorf("failed to export audit rows: %w", err)
	}
	return count, nil
}

var deadLetterColumns = []string{"id", "command_kind", "payload", "actor", "last_error", "attempts", "failure_count", "status", "enqueued_at"}

func writeDeadLetterRows(ctx context.Context, gdb *gorm.DB, w io.Writer, cutoff time.Time) (int64, error) {
	if err := writeTablePreamble(w, models.DeadLetter{}.TableName(), deadLetterColumns); err != nil {
		return 0, err
	}

	var count int64
	var rows []models.DeadLetter
	err := gdb.WithContext(ctx).
		Where("status = ? AND enqueued_at < ?", "abandoned", cutoff).
		Order("enqueued_at ASC").
		FindInBatches(&rows, 500, func(tx *gorm.DB, _ int) error {
			for _, row := range rows {
				if err := writeDataLine(w, []any{
					row.ID, row.CommandKind, row.Payload, row.Actor,
					row.LastError, row.Attempts, row.FailureCount, row.Status,
					row.EnqueuedAt.UTC().Format(time.RFC3339Nano),
				}); err != nil {
					return err
				}
				count++
			}
			return nil
		}).Error
	if err != nil {
		return 0, fmt.Errorf("failed to export dead letter rows: %w", err)
	}
	return count, nil
}

func writeTablePreamble(w io.Writer, table string, columns []string) error {
	if _, err := fmt.Fprintf(w, "TABLE: %s\n", table); err != nil {
		return fmt.Errorf("failed to write table line: %w", err)
	}
	colJSON, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("failed to serialize column list: %w", err)
	}
	if _, err := fmt.Fprintf(w, "COLUMNS: %s\n", colJSON); err != nil {
		return fmt.Errorf("failed to write columns line: %w", err)
	}
	return nil
}

func writeDataLine(w io.Writer, values []any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to serialize archive row: %w", err)
	}
	if _, err := fmt.Fprintf(w, "DATA: %s\n", data); err != nil {
		return fmt.Errorf("failed to write archive row: %w", err)
	}
	return nil
}

func pruneRows(ctx context.Context, gdb *gorm.DB, opts Options) error {
	var err error
	switch opts.Type {
	case TypeAudit:
		err = gdb.WithContext(ctx).Where("change_date < ?", opts.Cutoff).Delete(&models.AuditLog{}).Error
	case TypeDeadLetters:
		err = gdb.WithContext(ctx).Where("status = ? AND enqueued_at < ?", "abandoned", opts.Cutoff).Delete(&models.DeadLetter{}).Error
	}
	if err != nil {
		return fmt.Errorf("failed to prune archived rows: %w", err)
	}
	return nil
}
