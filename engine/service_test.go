package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JoshuaRamirez/ACS-sub000/db"
	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
)

func newTestService(t *testing.T, gdb *gorm.DB) *Service {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := NewService(ServiceConfig{
		TenantID:         "test-tenant",
		ChannelCapacity:  64,
		RetryMaxAttempts: 3,
		RetryBaseDelay:   time.Millisecond,
		PersistTimeout:   time.Second,
		ShutdownTimeout:  5 * time.Second,
		DLQDrainInterval: time.Hour,
	}, gdb, db.NewRedisDBFromClient(client), nil)

	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)
	return svc
}

func await(t *testing.T, fut *Future) CommandResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := fut.Wait(ctx)
	require.NoError(t, err)
	return res
}

func TestServiceLifecycle(t *testing.T) {
	gdb := newTestGorm(t)
	svc := newTestService(t, gdb)
	ctx := context.Background()

	userID, fut, err := svc.CreatePrincipal(ctx, KindUser, "alice", "tester", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), userID)
	require.NoError(t, await(t, fut).Err)

	groupID, fut, err := svc.CreatePrincipal(ctx, KindGroup, "engineering", "tester", nil)
	require.NoError(t, err)
	require.NoError(t, await(t, fut).Err)

	fut, err = svc.AddUserToGroup(ctx, userID, groupID, "tester")
	require.NoError(t, err)
	require.NoError(t, await(t, fut).Err)

	permID, fut, err := svc.GrantPermission(ctx, KindGroup, groupID, "/api/projects/*", VerbGet, false, "", "tester")
	require.NoError(t, err)
	assert.Equal(t, int64(1), permID)
	require.NoError(t, await(t, fut).Err)

	t.Run("check reflects inherited grant", func(t *testing.T) {
		ok, err := svc.Check(ctx, KindUser, userID, "/api/projects/42", VerbGet)
		require.NoError(t, err)
		assert.True(t, ok)

		result, err := svc.CheckDetailed(ctx, KindUser, userID, "/api/projects/42", VerbGet)
		require.NoError(t, err)
		assert.Equal(t, DecisionGranted, result.Decision)
		require.Len(t, result.InheritanceChain, 2)
		assert.Equal(t, KindGroup, result.InheritanceChain[1].Kind)
	})

	t.Run("queries read through the cache", func(t *testing.T) {
		user, err := svc.GetUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Name)

		groups, err := svc.GetUserGroups(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, []int64{groupID}, groups)

		perms, err := svc.GetPermissions(ctx, KindGroup, groupID)
		require.NoError(t, err)
		require.Len(t, perms, 1)
		assert.Equal(t, "/api/projects/*", perms[0].URIPattern)
	})

	t.Run("mutations reach the relational store", func(t *testing.T) {
		var users int64
		require.NoError(t, gdb.Model(&models.User{}).Count(&users).Error)
		assert.Equal(t, int64(1), users)

		var accesses int64
		require.NoError(t, gdb.Model(&models.URIAccess{}).Count(&accesses).Error)
		assert.Equal(t, int64(1), accesses)
	})

	t.Run("checks are audited and the log verifies", func(t *testing.T) {
		report, err := svc.VerifyAudit(ctx)
		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.Greater(t, report.RowsChecked, int64(0))

		var checks int64
		require.NoError(t, gdb.Model(&models.AuditLog{}).
			Where("change_type = ?", string(ChangeCheck)).Count(&checks).Error)
		assert.Greater(t, checks, int64(0))
	})
}

func TestServiceRejectsUnknownKind(t *testing.T) {
	gdb := newTestGorm(t)
	svc := newTestService(t, gdb)

	_, _, err := svc.CreatePrincipal(context.Background(), PrincipalKind("robot"), "r2", "tester", nil)
	assert.True(t, IsKind(err, KindInvalidArgument))

	_, err = svc.RenamePrincipal(context.Background(), PrincipalKind("robot"), 1, "r2", "tester")
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestServiceListPagination(t *testing.T) {
	gdb := newTestGorm(t)
	svc := newTestService(t, gdb)
	ctx := context.Background()

	names := []string{"alice", "bob", "carol"}
	for _, name := range names {
		_, fut, err := svc.CreatePrincipal(ctx, KindUser, name, "tester", nil)
		require.NoError(t, err)
		require.NoError(t, await(t, fut).Err)
	}

	page := svc.ListUsers(0, 2)
	require.Len(t, page, 2)
	assert.Equal(t, "alice", page[0].Name)

	page = svc.ListUsers(2, 2)
	require.Len(t, page, 1)
	assert.Equal(t, "carol", page[0].Name)

	assert.Empty(t, svc.ListUsers(10, 2))
	assert.Len(t, svc.ListUsers(0, 0), 3)
}

func TestServiceSurvivesRestart(t *testing.T) {
	gdb := newTestGorm(t)
	ctx := context.Background()

	svc := newTestService(t, gdb)
	userID, fut, err := svc.CreatePrincipal(ctx, KindUser, "alice", "tester", nil)
	require.NoError(t, err)
	require.NoError(t, await(t, fut).Err)

	_, fut, err = svc.GrantPermission(ctx, KindUser, userID, "/api/reports", VerbGet, false, "", "tester")
	require.NoError(t, err)
	require.NoError(t, await(t, fut).Err)
	svc.Stop()

	// A fresh process over the same store sees the same world.
	svc2 := newTestService(t, gdb)
	ok, err := svc2.Check(ctx, KindUser, userID, "/api/reports", VerbGet)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("id allocation resumes past stored rows", func(t *testing.T) {
		nextID, fut, err := svc2.CreatePrincipal(ctx, KindUser, "bob", "tester", nil)
		require.NoError(t, err)
		require.NoError(t, await(t, fut).Err)
		assert.Equal(t, userID+1, nextID)
	})
}

func TestServiceDeleteCascades(t *testing.T) {
	gdb := newTestGorm(t)
	svc := newTestService(t, gdb)
	ctx := context.Background()

	userID, fut, err := svc.CreatePrincipal(ctx, KindUser, "alice", "tester", nil)
	require.NoError(t, err)
	require.NoError(t, await(t, fut).Err)

	groupID, fut, err := svc.CreatePrincipal(ctx, KindGroup, "eng", "tester", nil)
	require.NoError(t, err)
	require.NoError(t, await(t, fut).Err)

	fut, err = svc.AddUserToGroup(ctx, userID, groupID, "tester")
	require.NoError(t, err)
	require.NoError(t, await(t, fut).Err)

	fut, err = svc.DeletePrincipal(ctx, KindUser, userID, "tester")
	require.NoError(t, err)
	require.NoError(t, await(t, fut).Err)

	_, err = svc.GetUser(ctx, userID)
	assert.True(t, IsKind(err, KindNotFound))

	var memberships int64
	require.NoError(t, gdb.Model(&models.UserGroup{}).Count(&memberships).Error)
	assert.Equal(t, int64(0), memberships)
}
