package engine

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
)

// AuditFinding describes one integrity problem in the audit log
type AuditFinding struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// AuditReport summarizes a verification pass over the audit log
type AuditReport struct {
	RowsChecked int64          `json:"rows_checked"`
	Findings    []AuditFinding `json:"findings,omitempty"`
}

// OK reports whether the log verified clean
func (r *AuditReport) OK() bool {
	return len(r.Findings) == 0
}

// VerifyAuditChain re-hashes every audit row and checks id density. Gaps
// mean deleted rows; hash mismatches mean edited rows.
func VerifyAuditChain(ctx context.Context, gdb *gorm.DB) (*AuditReport, error) {
	report := &AuditReport{}

	var prevID int64
	rows, err := gdb.WithContext(ctx).Model(&models.AuditLog{}).Order("id ASC").Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var row models.AuditLog
		if err := gdb.ScanRows(rows, &row); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		report.RowsChecked++

		if prevID != 0 && row.ID != prevID+1 {
			report.Findings = append(report.Findings, AuditFinding{
				ID:     row.ID,
				Reason: fmt.Sprintf("id gap: expected %d, found %d", prevID+1, row.ID),
			})
		}
		prevID = row.ID

		if got := HashAuditRow(&row); got != row.ContentHash {
			report.Findings = append(report.Findings, AuditFinding{
				ID:     row.ID,
				Reason: fmt.Sprintf("content hash mismatch: stored %s, computed %s", row.ContentHash, got),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}

	return report, nil
}
