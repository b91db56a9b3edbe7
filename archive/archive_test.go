package archive

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
)

func newTestGorm(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(models.All()...))
	return gdb
}

func seedAuditRows(t *testing.T, gdb *gorm.DB, count int, at time.Time) {
	t.Helper()
	for i := 1; i <= count; i++ {
		require.NoError(t, gdb.Create(&models.AuditLog{
			ID:            int64(i),
			EntityType:    "user",
			EntityID:      int64(i),
			ChangeType:    "CREATE",
			ChangedBy:     "tester",
			ChangeDate:    at,
			ChangeDetails: `{"n":` + fmt.Sprint(i) + `}`,
			ContentHash:   strings.Repeat("0", 64),
		}).Error)
	}
}

func TestArchiveAuditRows(t *testing.T) {
	gdb := newTestGorm(t)
	old := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	seedAuditRows(t, gdb, 3, old)

	// A recent row must survive the run.
	require.NoError(t, gdb.Create(&models.AuditLog{
		ID: 4, EntityType: "user", EntityID: 4, ChangeType: "CREATE",
		ChangedBy: "tester", ChangeDate: time.Now().UTC(),
		ContentHash: strings.Repeat("0", 64),
	}).Error)

	svc := NewService(gdb, t.TempDir())
	entry, err := svc.Run(context.Background(), Options{
		Type:   TypeAudit,
		Cutoff: old.AddDate(0, 1, 0),
		Actor:  "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, entry.Status)
	assert.Equal(t, int64(3), entry.RecordsArchived)
	assert.Greater(t, entry.ArchiveSize, int64(0))

	var remaining int64
	require.NoError(t, gdb.Model(&models.AuditLog{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)

	t.Run("file reads back", func(t *testing.T) {
		file, err := Read(entry.ArchivePath)
		require.NoError(t, err)
		assert.Equal(t, FormatVersion, file.Header.Version)
		assert.Equal(t, TypeAudit, file.Header.Type)
		require.Len(t, file.Tables, 1)

		table := file.Tables[0]
		assert.Equal(t, "audit_logs", table.Name)
		assert.Equal(t, auditColumns, table.Columns)
		require.Len(t, table.Rows, 3)
		assert.Equal(t, float64(1), table.Rows[0][0])
	})

	t.Run("run is recorded", func(t *testing.T) {
		var logs []models.DataArchiveLog
		require.NoError(t, gdb.Find(&logs).Error)
		require.Len(t, logs, 1)
		assert.Equal(t, entry.ArchiveID, logs[0].ArchiveID)
	})
}

func TestArchiveCompressed(t *testing.T) {
	gdb := newTestGorm(t)
	old := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	seedAuditRows(t, gdb, 2, old)

	svc := NewService(gdb, t.TempDir())
	entry, err := svc.Run(context.Background(), Options{
		Type:     TypeAudit,
		Cutoff:   old.AddDate(0, 1, 0),
		Compress: true,
		Actor:    "tester",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(entry.ArchivePath, ".gz"))

	file, err := Read(entry.ArchivePath)
	require.NoError(t, err)
	require.Len(t, file.Tables, 1)
	assert.Len(t, file.Tables[0].Rows, 2)
}

func TestArchiveAbandonedDeadLetters(t *testing.T) {
	gdb := newTestGorm(t)
	old := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, gdb.Create(&models.DeadLetter{
		ID: "dl-1", CommandKind: "create_user", Payload: "{}", Actor: "tester",
		LastError: "down", Attempts: 3, FailureCount: 10, Status: "abandoned",
		EnqueuedAt: old,
	}).Error)
	// Pending letters are never archived.
	require.NoError(t, gdb.Create(&models.DeadLetter{
		ID: "dl-2", CommandKind: "create_user", Payload: "{}", Actor: "tester",
		LastError: "down", Attempts: 3, Status: "pending",
		EnqueuedAt: old,
	}).Error)

	svc := NewService(gdb, t.TempDir())
	entry, err := svc.Run(context.Background(), Options{
		Type:   TypeDeadLetters,
		Cutoff: old.AddDate(0, 1, 0),
		Actor:  "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.RecordsArchived)

	var remaining []models.DeadLetter
	require.NoError(t, gdb.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "dl-2", remaining[0].ID)
}

func TestArchiveEmptyRun(t *testing.T) {
	gdb := newTestGorm(t)

	svc := NewService(gdb, t.TempDir())
	entry, err := svc.Run(context.Background(), Options{
		Type:   TypeAudit,
		Cutoff: time.Now().UTC(),
		Actor:  "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.RecordsArchived)
	assert.Equal(t, StatusCompleted, entry.Status)
}

func TestArchiveRejectsBadOptions(t *testing.T) {
	gdb := newTestGorm(t)
	svc := NewService(gdb, t.TempDir())

	_, err := svc.Run(context.Background(), Options{Type: "bogus", Cutoff: time.Now()})
	assert.Error(t, err)

	_, err = svc.Run(context.Background(), Options{Type: TypeAudit})
	assert.Error(t, err)
}

func TestReadRejectsMalformedFiles(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := decode(strings.NewReader(""))
		assert.Error(t, err)
	})

	t.Run("data before table", func(t *testing.T) {
		input := `{"version":1,"type":"audit"}` + "\nDATA: [1]\n"
		_, err := decode(strings.NewReader(input))
		assert.Error(t, err)
	})

	t.Run("column count mismatch", func(t *testing.T) {
		input := `{"version":1,"type":"audit"}` + "\nTABLE: audit_logs\nCOLUMNS: [\"a\",\"b\"]\nDATA: [1]\n"
		_, err := decode(strings.NewReader(input))
		assert.Error(t, err)
	})

	t.Run("unsupported version", func(t *testing.T) {
		input := `{"version":99}` + "\n"
		_, err := decode(strings.NewReader(input))
		assert.Error(t, err)
	})
}
