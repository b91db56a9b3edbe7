package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
)

// newTestGorm opens an isolated in-memory SQLite database with the full
// schema migrated
func newTestGorm(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// A shared-cache memory database disappears with its last connection.
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(models.All()...))
	return gdb
}

// fakeStore is a scriptable Persistence for executor tests. failures is the
// number of times Apply errors before succeeding; a negative value fails
// forever.
type fakeStore struct {
	mu       sync.Mutex
	failures int
	failWith error
	applied  []CommandKind
}

func (f *fakeStore) Apply(_ context.Context, cmd *Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		if f.failWith != nil {
			return f.failWith
		}
		return Transientf(fmt.Errorf("injected store failure"), "applying %s", cmd.Kind)
	}
	f.applied = append(f.applied, cmd.Kind)
	return nil
}

func (f *fakeStore) appliedKinds() []CommandKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CommandKind, len(f.applied))
	copy(out, f.applied)
	return out
}
