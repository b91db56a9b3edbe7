package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// ChangeType classifies an audit record
type ChangeType string

const (
	ChangeCreate ChangeType = "CREATE"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	ChangeAdd    ChangeType = "ADD"
	ChangeRemove ChangeType = "REMOVE"
	ChangeGrant  ChangeType = "GRANT"
	ChangeRevoke ChangeType = "REVOKE"
	ChangeCheck  ChangeType = "CHECK"
	ChangeError  ChangeType = "ERROR"
)

// AuditWriter appends tamper-evident records to the audit log. IDs are dense
// and assigned in memory; each row carries a SHA-256 over its canonical
// field concatenation. Audit failures are logged and never fail the command
// that produced them.
type AuditWriter struct {
	gdb    *gorm.DB
	nextID atomic.Int64
}

// NewAuditWriter creates a writer and seeds its id counter from the stored
// maximum
func NewAuditWriter(ctx context.Context, gdb *gorm.DB) (*AuditWriter, error) {
	w := &AuditWriter{gdb: gdb}

	var maxID *int64
	if err := gdb.WithContext(ctx).Model(&models.AuditLog{}).Select("MAX(id)").Scan(&maxID).Error; err != nil {
		return nil, fmt.Errorf("failed to seed audit id counter: %w", err)
	}
	if maxID != nil {
		w.nextID.Store(*maxID)
	}
	return w, nil
}

// Record appends one audit row. Details must be JSON-serializable.
func (w *AuditWriter) Record(ctx context.Context, entityType string, entityID int64, change ChangeType, actor string, details any) {
	logger := slogging.Get()

	detailJSON, err := json.Marshal(details)
	if err != nil {
		logger.Error("Failed to serialize audit details for %s %d: %v", entityType, entityID, err)
		detailJSON = []byte("{}")
	}

	row := models.AuditLog{
		ID:            w.nextID.Add(1),
		EntityType:    entityType,
		EntityID:      entityID,
		ChangeType:    string(change),
		ChangedBy:     actor,
		ChangeDate:    time.Now().UTC(),
		ChangeDetails: string(detailJSON),
	}
	row.ContentHash = HashAuditRow(&row)

	if err := w.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		logger.Error("Failed to write audit record %d (%s %s %d): %v", row.ID, row.ChangeType, entityType, entityID, err)
	}
}

// RecordCommand audits a finished command using its payload as details
func (w *AuditWriter) RecordCommand(ctx context.Context, cmd *Command, change ChangeType, entityType string, entityID int64) {
	w.Record(ctx, entityType, entityID, change, cmd.Actor, map[string]any{
		"command_id": cmd.ID.String(),
		"kind":       cmd.Kind,
		"payload":    cmd.Payload,
	})
}

// HashAuditRow computes the SHA-256 content hash over the canonical field
// concatenation; ContentHash itself is excluded
func HashAuditRow(row *models.AuditLog) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%d|%s|%s|%s|%s",
		row.ID,
		row.EntityType,
		row.EntityID,
		row.ChangeType,
		row.ChangedBy,
		row.ChangeDate.UTC().Format(time.RFC3339Nano),
		row.ChangeDetails,
	)
	return hex.EncodeToString(h.Sum(nil))
}
