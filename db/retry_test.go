package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)
	return gdb, mock
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func TestWithRetryableTransactionRecovers(t *testing.T) {
	gdb, mock := newMockGorm(t)

	// First begin fails with a connection error, the retry succeeds.
	mock.ExpectBegin().WillReturnError(errors.New("driver: bad connection"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE widgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := WithRetryableTransaction(context.Background(), gdb, fastRetryConfig(), func(tx *gorm.DB) error {
		return tx.Exec("UPDATE widgets SET n = 1").Error
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryableTransactionDoesNotRetryApplicationErrors(t *testing.T) {
	gdb, mock := newMockGorm(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	appErr := fmt.Errorf("principal 42 not found")
	calls := 0
	err := WithRetryableTransaction(context.Background(), gdb, fastRetryConfig(), func(tx *gorm.DB) error {
		calls++
		return appErr
	})
	assert.ErrorIs(t, err, appErr)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryableTransactionExhaustsBudget(t *testing.T) {
	gdb, mock := newMockGorm(t)

	for i := 0; i < 3; i++ {
		mock.ExpectBegin().WillReturnError(errors.New("connection reset by peer"))
	}

	err := WithRetryableTransaction(context.Background(), gdb, fastRetryConfig(), func(tx *gorm.DB) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryableTransactionHonorsContext(t *testing.T) {
	gdb, mock := newMockGorm(t)

	mock.ExpectBegin().WillReturnError(errors.New("driver: bad connection"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetryableTransaction(ctx, gdb, RetryConfig{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}, func(tx *gorm.DB) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableError(t *testing.T) {
	retryable := []string{
		"driver: bad connection",
		"read tcp: connection reset by peer",
		"write: broken pipe",
		"dial tcp: i/o timeout",
		"pq: deadlock detected",
		"pq: could not serialize access due to concurrent update",
		"context deadline exceeded",
		"ERROR: duplicate key value violates unique constraint \"users_pkey\"",
		"UNIQUE constraint failed: users.id",
	}
	for _, msg := range retryable {
		assert.True(t, IsRetryableError(errors.New(msg)), msg)
	}

	notRetryable := []string{
		"syntax error at or near SELECT",
		"permission denied for table users",
		"principal 42 not found",
	}
	for _, msg := range notRetryable {
		assert.False(t, IsRetryableError(errors.New(msg)), msg)
	}

	assert.False(t, IsRetryableError(nil))
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(errors.New("driver: bad connection")))
	assert.True(t, IsConnectionError(errors.New("unexpected EOF")))
	assert.False(t, IsConnectionError(errors.New("deadlock detected")))
	assert.False(t, IsConnectionError(nil))
}
