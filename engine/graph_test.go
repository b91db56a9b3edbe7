package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphCreate(t *testing.T) {
	g := NewGraph()

	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))

	t.Run("duplicate id is a conflict", func(t *testing.T) {
		err := g.Create(KindUser, 1, 101, "someone-else")
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("duplicate name is a conflict", func(t *testing.T) {
		err := g.Create(KindUser, 2, 101, "alice")
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("same name across kinds is fine", func(t *testing.T) {
		assert.NoError(t, g.Create(KindGroup, 1, 102, "alice"))
	})

	t.Run("empty name is invalid", func(t *testing.T) {
		err := g.Create(KindUser, 3, 103, "")
		assert.True(t, IsKind(err, KindInvalidArgument))
	})

	t.Run("non-positive id is invalid", func(t *testing.T) {
		err := g.Create(KindUser, 0, 104, "bob")
		assert.True(t, IsKind(err, KindInvalidArgument))
	})
}

func TestGraphRename(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindRole, 1, 100, "admin"))
	require.NoError(t, g.Create(KindRole, 2, 101, "auditor"))

	require.NoError(t, g.Rename(KindRole, 2, "reviewer"))
	snap, err := g.GetRole(2)
	require.NoError(t, err)
	assert.Equal(t, "reviewer", snap.Name)

	t.Run("rename to a taken name is a conflict", func(t *testing.T) {
		err := g.Rename(KindRole, 2, "admin")
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("rename of a missing role is not found", func(t *testing.T) {
		err := g.Rename(KindRole, 99, "ghost")
		assert.True(t, IsKind(err, KindNotFound))
	})
}

func TestGraphLinkValidation(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindUser, 2, 101, "bob"))
	require.NoError(t, g.Create(KindGroup, 1, 102, "engineering"))
	require.NoError(t, g.Create(KindRole, 1, 103, "admin"))

	t.Run("group contains user", func(t *testing.T) {
		require.NoError(t, g.Link(KindGroup, 1, KindUser, 1))
		assert.True(t, g.Linked(KindGroup, 1, KindUser, 1))
	})

	t.Run("role assigned to user", func(t *testing.T) {
		assert.NoError(t, g.Link(KindRole, 1, KindUser, 2))
	})

	t.Run("role attaches under group", func(t *testing.T) {
		assert.NoError(t, g.Link(KindGroup, 1, KindRole, 1))
	})

	t.Run("user can never be a parent", func(t *testing.T) {
		err := g.Link(KindUser, 1, KindUser, 2)
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("role cannot contain a group", func(t *testing.T) {
		err := g.Link(KindRole, 1, KindGroup, 1)
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("missing endpoint is not found", func(t *testing.T) {
		err := g.Link(KindGroup, 42, KindUser, 1)
		assert.True(t, IsKind(err, KindNotFound))
	})
}

func TestGraphGroupCycles(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindGroup, 1, 100, "root"))
	require.NoError(t, g.Create(KindGroup, 2, 101, "mid"))
	require.NoError(t, g.Create(KindGroup, 3, 102, "leaf"))

	require.NoError(t, g.Link(KindGroup, 1, KindGroup, 2))
	require.NoError(t, g.Link(KindGroup, 2, KindGroup, 3))

	t.Run("self link is rejected", func(t *testing.T) {
		err := g.Link(KindGroup, 1, KindGroup, 1)
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("closing a cycle is rejected", func(t *testing.T) {
		err := g.Link(KindGroup, 3, KindGroup, 1)
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("diamond shapes are allowed", func(t *testing.T) {
		require.NoError(t, g.Create(KindGroup, 4, 103, "side"))
		require.NoError(t, g.Link(KindGroup, 1, KindGroup, 4))
		assert.NoError(t, g.Link(KindGroup, 4, KindGroup, 3))
	})
}

func TestGraphUnlink(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "engineering"))
	require.NoError(t, g.Link(KindGroup, 1, KindUser, 1))

	require.NoError(t, g.Unlink(KindGroup, 1, KindUser, 1))
	assert.False(t, g.Linked(KindGroup, 1, KindUser, 1))

	t.Run("removing a missing edge is not found", func(t *testing.T) {
		err := g.Unlink(KindGroup, 1, KindUser, 1)
		assert.True(t, IsKind(err, KindNotFound))
	})
}

func TestGraphDeleteCascades(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "engineering"))
	require.NoError(t, g.Create(KindRole, 1, 102, "admin"))
	require.NoError(t, g.Link(KindGroup, 1, KindUser, 1))
	require.NoError(t, g.Link(KindGroup, 1, KindRole, 1))

	affected, err := g.Delete(KindGroup, 1)
	require.NoError(t, err)
	assert.Len(t, affected, 2)

	_, err = g.GetGroup(1)
	assert.True(t, IsKind(err, KindNotFound))

	// Former members lost their membership but still exist.
	user, err := g.GetUser(1)
	require.NoError(t, err)
	assert.Empty(t, user.GroupIDs)
}

func TestGraphPermissions(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))

	perm := Permission{
		ID:         1,
		OwnerID:    1,
		OwnerKind:  KindUser,
		URIPattern: "/api/reports/*",
		Verb:       VerbGet,
		Grant:      true,
		Scheme:     SchemeAPIURIAuthorization,
	}

	created, err := g.UpsertPermission(perm)
	require.NoError(t, err)
	assert.True(t, created)

	t.Run("same tuple updates in place", func(t *testing.T) {
		perm.Grant = false
		perm.Deny = true
		created, err := g.UpsertPermission(perm)
		require.NoError(t, err)
		assert.False(t, created)

		snap, err := g.GetUser(1)
		require.NoError(t, err)
		require.Len(t, snap.Permissions, 1)
		assert.True(t, snap.Permissions[0].Deny)
	})

	t.Run("grant equal to deny is a conflict", func(t *testing.T) {
		bad := perm
		bad.Grant = true
		bad.Deny = true
		_, err := g.UpsertPermission(bad)
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("empty uri is invalid", func(t *testing.T) {
		bad := perm
		bad.URIPattern = ""
		_, err := g.UpsertPermission(bad)
		assert.True(t, IsKind(err, KindInvalidArgument))
	})

	t.Run("remove deletes the tuple", func(t *testing.T) {
		require.NoError(t, g.RemovePermission(KindUser, 1, "/api/reports/*", VerbGet))
		err := g.RemovePermission(KindUser, 1, "/api/reports/*", VerbGet)
		assert.True(t, IsKind(err, KindNotFound))
	})
}

func TestGraphIDAllocation(t *testing.T) {
	g := NewGraph()

	first := g.NextID(KindUser)
	second := g.NextID(KindUser)
	assert.Equal(t, first+1, second)

	// Counters are independent per kind.
	assert.Equal(t, first, g.NextID(KindGroup))
	assert.Equal(t, first, g.NextID(KindRole))

	// Entity and permission ids never collide with principal ids.
	assert.Equal(t, int64(1), g.NextEntityID())
	assert.Equal(t, int64(1), g.NextPermissionID())
}

func TestGraphSnapshotsAreCopies(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "engineering"))
	require.NoError(t, g.Link(KindGroup, 1, KindUser, 1))

	snap, err := g.GetUser(1)
	require.NoError(t, err)
	snap.GroupIDs[0] = 999
	snap.Name = "mallory"

	fresh, err := g.GetUser(1)
	require.NoError(t, err)
	assert.Equal(t, "alice", fresh.Name)
	assert.Equal(t, []int64{1}, fresh.GroupIDs)
}
