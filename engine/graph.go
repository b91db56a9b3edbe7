package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"gorm.io/gorm"

	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// principalKey identifies a principal; ids are unique per kind, not globally
type principalKey struct {
	kind PrincipalKind
	id   int64
}

// permKey identifies a permission within its owning principal
type permKey struct {
	uri  string
	verb Verb
}

// principal is the shared capability set behind users, groups, and roles.
// Parent/child sets are kept bidirectional: every edge appears in both the
// parent's children and the child's parents.
type principal struct {
	id       int64
	entityID int64
	name     string
	kind     PrincipalKind

	parents     map[principalKey]*principal
	children    map[principalKey]*principal
	permissions map[permKey]*Permission
}

func newPrincipal(kind PrincipalKind, id, entityID int64, name string) *principal {
	return &principal{
		id:          id,
		entityID:    entityID,
		name:        name,
		kind:        kind,
		parents:     make(map[principalKey]*principal),
		children:    make(map[principalKey]*principal),
		permissions: make(map[permKey]*Permission),
	}
}

func (p *principal) key() principalKey {
	return principalKey{kind: p.kind, id: p.id}
}

func (p *principal) ref() PrincipalRef {
	return PrincipalRef{Kind: p.kind, ID: p.id, Name: p.name}
}

// Graph is the authoritative in-memory principal/permission store for one
// tenant. All mutations must be performed from the executor goroutine; the
// RWMutex publishes writes to concurrent readers running on caller
// goroutines.
type Graph struct {
	mu sync.RWMutex

	users  map[int64]*principal
	groups map[int64]*principal
	roles  map[int64]*principal

	// Id counters are atomic because ids are allocated outside the
	// executor for eager replies. Failed creates leave holes.
	nextUserID   atomic.Int64
	nextGroupID  atomic.Int64
	nextRoleID   atomic.Int64
	nextEntityID atomic.Int64
	nextPermID   atomic.Int64
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		users:  make(map[int64]*principal),
		groups: make(map[int64]*principal),
		roles:  make(map[int64]*principal),
	}
}

// NextID returns a monotonically increasing id for the given principal kind
func (g *Graph) NextID(kind PrincipalKind) int64 {
	switch kind {
	case KindUser:
		return g.nextUserID.Add(1)
	case KindGroup:
		return g.nextGroupID.Add(1)
	case KindRole:
		return g.nextRoleID.Add(1)
	default:
		return 0
	}
}

// NextEntityID returns a monotonically increasing id for the backing entity row
func (g *Graph) NextEntityID() int64 {
	return g.nextEntityID.Add(1)
}

// NextPermissionID returns a monotonically increasing permission id
func (g *Graph) NextPermissionID() int64 {
	return g.nextPermID.Add(1)
}

// lookup must be called with the lock held
func (g *Graph) lookup(kind PrincipalKind, id int64) (*principal, error) {
	var p *principal
	switch kind {
	case KindUser:
		p = g.users[id]
	case KindGroup:
		p = g.groups[id]
	case KindRole:
		p = g.roles[id]
	default:
		return nil, InvalidArgumentf("unknown principal kind: %q", kind)
	}
	if p == nil {
		return nil, NotFoundf("%s %d not found", kind, id)
	}
	return p, nil
}

func (g *Graph) kindMap(kind PrincipalKind) map[int64]*principal {
	switch kind {
	case KindUser:
		return g.users
	case KindGroup:
		return g.groups
	case KindRole:
		return g.roles
	default:
		return nil
	}
}

// GetUser returns a snapshot of the user with the given id
func (g *Graph) GetUser(id int64) (*UserSnapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, err := g.lookup(KindUser, id)
	if err != nil {
		return nil, err
	}
	return g.userSnapshot(p), nil
}

// GetGroup returns a snapshot of the group with the given id
func (g *Graph) GetGroup(id int64) (*GroupSnapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, err := g.lookup(KindGroup, id)
	if err != nil {
		return nil, err
	}
	return g.groupSnapshot(p), nil
}

// GetRole returns a snapshot of the role with the given id
func (g *Graph) GetRole(id int64) (*RoleSnapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, err := g.lookup(KindRole, id)
	if err != nil {
		return nil, err
	}
	return g.roleSnapshot(p), nil
}

// Users returns id-ordered snapshots of every user
func (g *Graph) Users() []UserSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]UserSnapshot, 0, len(g.users))
	for _, p := range g.users {
		out = append(out, *g.userSnapshot(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Groups returns id-ordered snapshots of every group
func (g *Graph) Groups() []GroupSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]GroupSnapshot, 0, len(g.groups))
	for _, p := range g.groups {
		out = append(out, *g.groupSnapshot(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Roles returns id-ordered snapshots of every role
func (g *Graph) Roles() []RoleSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]RoleSnapshot, 0, len(g.roles))
	for _, p := range g.roles {
		out = append(out, *g.roleSnapshot(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Graph) userSnapshot(p *principal) *UserSnapshot {
	snap := &UserSnapshot{
		ID:          p.id,
		Name:        p.name,
		GroupIDs:    []int64{},
		RoleIDs:     []int64{},
		Permissions: copyPermissions(p.permissions),
	}
	for key := range p.parents {
		switch key.kind {
		case KindGroup:
			snap.GroupIDs = append(snap.GroupIDs, key.id)
		case KindRole:
			snap.RoleIDs = append(snap.RoleIDs, key.id)
		}
	}
	sortIDs(snap.GroupIDs)
	sortIDs(snap.RoleIDs)
	return snap
}

func (g *Graph) groupSnapshot(p *principal) *GroupSnapshot {
	snap := &GroupSnapshot{
		ID:             p.id,
		Name:           p.name,
		ParentGroupIDs: []int64{},
		ChildGroupIDs:  []int64{},
		ChildUserIDs:   []int64{},
		RoleIDs:        []int64{},
		Permissions:    copyPermissions(p.permissions),
	}
	for key := range p.parents {
		if key.kind == KindGroup {
			snap.ParentGroupIDs = append(snap.ParentGroupIDs, key.id)
		}
	}
	for key := range p.children {
		switch key.kind {
		case KindGroup:
			snap.ChildGroupIDs = append(snap.ChildGroupIDs, key.id)
		case KindUser:
			snap.ChildUserIDs = append(snap.ChildUserIDs, key.id)
		case KindRole:
			snap.RoleIDs = append(snap.RoleIDs, key.id)
		}
	}
	sortIDs(snap.ParentGroupIDs)
	sortIDs(snap.ChildGroupIDs)
	sortIDs(snap.ChildUserIDs)
	sortIDs(snap.RoleIDs)
	return snap
}

func (g *Graph) roleSnapshot(p *principal) *RoleSnapshot {
	return &RoleSnapshot{
		ID:          p.id,
		Name:        p.name,
		Permissions: copyPermissions(p.permissions),
	}
}

func copyPermissions(perms map[permKey]*Permission) []Permission {
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Create adds a new principal to the graph. Executor-only.
// Duplicate names within a kind are rejected with Conflict.
func (g *Graph) Create(kind PrincipalKind, id, entityID int64, name string) error {
	if name == "" {
		return InvalidArgumentf("%s name must not be empty", kind)
	}
	if id <= 0 {
		return InvalidArgumentf("%s id must be positive, got %d", kind, id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.kindMap(kind)
	if m == nil {
		return InvalidArgumentf("unknown principal kind: %q", kind)
	}
	if _, exists := m[id]; exists {
		return Conflictf("choose a different id", "%s %d already exists", kind, id)
	}
	for _, existing := range m {
		if existing.name == name {
			return Conflictf("choose a different name", "%s named %q already exists", kind, name)
		}
	}

	m[id] = newPrincipal(kind, id, entityID, name)
	return nil
}

// Rename changes a principal's display name. Executor-only.
func (g *Graph) Rename(kind PrincipalKind, id int64, name string) error {
	if name == "" {
		return InvalidArgumentf("%s name must not be empty", kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.lookup(kind, id)
	if err != nil {
		return err
	}
	for _, existing := range g.kindMap(kind) {
		if existing.id != id && existing.name == name {
			return Conflictf("choose a different name", "%s named %q already exists", kind, name)
		}
	}
	p.name = name
	return nil
}

// Delete removes a principal and all of its edges and owned permissions.
// Executor-only. It returns the refs of the principals whose edge sets
// changed, for targeted cache invalidation.
func (g *Graph) Delete(kind PrincipalKind, id int64) ([]PrincipalRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.lookup(kind, id)
	if err != nil {
		return nil, err
	}

	affected := make([]PrincipalRef, 0, len(p.parents)+len(p.children))
	for _, parent := range p.parents {
		delete(parent.children, p.key())
		affected = append(affected, parent.ref())
	}
	for _, child := range p.children {
		delete(child.parents, p.key())
		affected = append(affected, child.ref())
	}

	delete(g.kindMap(kind), id)
	return affected, nil
}

// validateEdge enforces the structural invariants of the graph:
// users are leaves, roles attach under groups or as parents of users,
// and only groups nest under groups.
func validateEdge(parent, child *principal) error {
	if parent.kind == KindUser {
		return Conflictf("users cannot contain other principals", "user %d cannot be a parent", parent.id)
	}

	switch child.kind {
	case KindUser:
		// Groups contain users; roles are assigned to users.
		return nil
	case KindRole:
		if parent.kind != KindGroup {
			return Conflictf("roles attach under groups or directly to users",
				"%s %d cannot be a parent of role %d", parent.kind, parent.id, child.id)
		}
		return nil
	case KindGroup:
		if parent.kind != KindGroup {
			return Conflictf("only groups can contain groups",
				"%s %d cannot be a parent of group %d", parent.kind, parent.id, child.id)
		}
		return nil
	default:
		return InvalidArgumentf("unknown principal kind: %q", child.kind)
	}
}

// hasAncestor reports whether target appears in p's ancestor closure.
// Must be called with the lock held.
func hasAncestor(p *principal, target principalKey) bool {
	visited := make(map[principalKey]bool)
	stack := []*principal{p}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for key, parent := range current.parents {
			if key == target {
				return true
			}
			if !visited[key] {
				visited[key] = true
				stack = append(stack, parent)
			}
		}
	}
	return false
}

// Link adds a parent-child edge. Executor-only.
// Group-to-group links are rejected with Conflict when the child is already
// an ancestor of the parent, which would close a cycle.
func (g *Graph) Link(parentKind PrincipalKind, parentID int64, childKind PrincipalKind, childID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent, err := g.lookup(parentKind, parentID)
	if err != nil {
		return err
	}
	child, err := g.lookup(childKind, childID)
	if err != nil {
		return err
	}

	if err := validateEdge(parent, child); err != nil {
		return err
	}

	if parentKind == KindGroup && childKind == KindGroup {
		if parentID == childID {
			return Conflictf("a group cannot contain itself", "cycle detected linking group %d to itself", parentID)
		}
		if hasAncestor(parent, child.key()) {
			return Conflictf("remove the existing ancestry first",
				"cycle detected: group %d is an ancestor of group %d", childID, parentID)
		}
	}

	parent.children[child.key()] = child
	child.parents[parent.key()] = parent
	return nil
}

// Linked reports whether the parent-child edge exists
func (g *Graph) Linked(parentKind PrincipalKind, parentID int64, childKind PrincipalKind, childID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	parent, err := g.lookup(parentKind, parentID)
	if err != nil {
		return false
	}
	_, ok := parent.children[principalKey{kind: childKind, id: childID}]
	return ok
}

// Unlink removes a parent-child edge. Executor-only.
func (g *Graph) Unlink(parentKind PrincipalKind, parentID int64, childKind PrincipalKind, childID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent, err := g.lookup(parentKind, parentID)
	if err != nil {
		return err
	}
	child, err := g.lookup(childKind, childID)
	if err != nil {
		return err
	}

	if _, ok := parent.children[child.key()]; !ok {
		return NotFoundf("%s %d is not linked to %s %d", childKind, childID, parentKind, parentID)
	}

	delete(parent.children, child.key())
	delete(child.parents, parent.key())
	return nil
}

// UpsertPermission adds a permission to its owner, or updates the flags in
// place when the (owner, uri, verb) tuple already exists. Executor-only.
// It returns true when a new permission was created.
func (g *Graph) UpsertPermission(perm Permission) (bool, error) {
	if perm.URIPattern == "" {
		return false, InvalidArgumentf("permission uri pattern must not be empty")
	}
	if perm.Grant == perm.Deny {
		return false, Conflictf("a permission is either a grant or a deny",
			"grant=%v deny=%v on %q", perm.Grant, perm.Deny, perm.URIPattern)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	owner, err := g.lookup(perm.OwnerKind, perm.OwnerID)
	if err != nil {
		return false, err
	}

	key := permKey{uri: perm.URIPattern, verb: perm.Verb}
	if existing, ok := owner.permissions[key]; ok {
		existing.Grant = perm.Grant
		existing.Deny = perm.Deny
		existing.Scheme = perm.Scheme
		existing.ResourceID = perm.ResourceID
		return false, nil
	}

	stored := perm
	owner.permissions[key] = &stored
	return true, nil
}

// RemovePermission deletes a permission from its owner. Executor-only.
func (g *Graph) RemovePermission(ownerKind PrincipalKind, ownerID int64, uri string, verb Verb) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	owner, err := g.lookup(ownerKind, ownerID)
	if err != nil {
		return err
	}

	key := permKey{uri: uri, verb: verb}
	if _, ok := owner.permissions[key]; !ok {
		return NotFoundf("no permission on %q %s for %s %d", uri, verb, ownerKind, ownerID)
	}
	delete(owner.permissions, key)
	return nil
}

// LoadFromStore rebuilds the graph from the relational mirror. Called once at
// startup before the executor begins draining; after completion the id
// counters are set to max(existing id) per kind.
func (g *Graph) LoadFromStore(ctx context.Context, gdb *gorm.DB) error {
	logger := slogging.Get()
	logger.Info("Loading entity graph from store")

	g.mu.Lock()
	defer g.mu.Unlock()

	g.users = make(map[int64]*principal)
	g.groups = make(map[int64]*principal)
	g.roles = make(map[int64]*principal)

	tx := gdb.WithContext(ctx)

	var maxEntityID, maxUserID, maxGroupID, maxRoleID, maxPermID int64
	byEntity := make(map[int64]*principal)

	var users []models.User
	if err := tx.Find(&users).Error; err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	for _, row := range users {
		p := newPrincipal(KindUser, row.ID, row.EntityID, row.Name)
		g.users[row.ID] = p
		byEntity[row.EntityID] = p
		if row.ID > maxUserID {
			maxUserID = row.ID
		}
		if row.EntityID > maxEntityID {
			maxEntityID = row.EntityID
		}
	}

	var groups []models.Group
	if err := tx.Find(&groups).Error; err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	for _, row := range groups {
		p := newPrincipal(KindGroup, row.ID, row.EntityID, row.Name)
		g.groups[row.ID] = p
		byEntity[row.EntityID] = p
		if row.ID > maxGroupID {
			maxGroupID = row.ID
		}
		if row.EntityID > maxEntityID {
			maxEntityID = row.EntityID
		}
	}

	var roles []models.Role
	if err := tx.Find(&roles).Error; err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}
	for _, row := range roles {
		p := newPrincipal(KindRole, row.ID, row.EntityID, row.Name)
		g.roles[row.ID] = p
		byEntity[row.EntityID] = p
		if row.ID > maxRoleID {
			maxRoleID = row.ID
		}
		if row.EntityID > maxEntityID {
			maxEntityID = row.EntityID
		}
	}

	link := func(parent, child *principal) {
		if parent == nil || child == nil {
			return
		}
		parent.children[child.key()] = child
		child.parents[parent.key()] = parent
	}

	var userGroups []models.UserGroup
	if err := tx.Find(&userGroups).Error; err != nil {
		return fmt.Errorf("failed to load user_groups: %w", err)
	}
	for _, row := range userGroups {
		link(g.groups[row.GroupID], g.users[row.UserID])
	}

	var userRoles []models.UserRole
	if err := tx.Find(&userRoles).Error; err != nil {
		return fmt.Errorf("failed to load user_roles: %w", err)
	}
	for _, row := range userRoles {
		link(g.roles[row.RoleID], g.users[row.UserID])
	}

	var groupRoles []models.GroupRole
	if err := tx.Find(&groupRoles).Error; err != nil {
		return fmt.Errorf("failed to load group_roles: %w", err)
	}
	for _, row := range groupRoles {
		link(g.groups[row.GroupID], g.roles[row.RoleID])
	}

	var hierarchies []models.GroupHierarchy
	if err := tx.Find(&hierarchies).Error; err != nil {
		return fmt.Errorf("failed to load group_hierarchies: %w", err)
	}
	for _, row := range hierarchies {
		link(g.groups[row.ParentGroupID], g.groups[row.ChildGroupID])
	}

	// Permissions: join uri_accesses to resources, verbs, and the owning
	// permission scheme's entity.
	var schemes []models.PermissionScheme
	if err := tx.Find(&schemes).Error; err != nil {
		return fmt.Errorf("failed to load permission_schemes: %w", err)
	}
	schemeOwner := make(map[int64]*principal, len(schemes))
	for _, row := range schemes {
		schemeOwner[row.ID] = byEntity[row.EntityID]
	}

	schemeTypes := make(map[int64]string)
	var schemeTypeRows []models.SchemeType
	if err := tx.Find(&schemeTypeRows).Error; err != nil {
		return fmt.Errorf("failed to load scheme_types: %w", err)
	}
	for _, row := range schemeTypeRows {
		schemeTypes[row.ID] = row.SchemeName
	}
	schemeName := make(map[int64]string, len(schemes))
	for _, row := range schemes {
		schemeName[row.ID] = schemeTypes[row.SchemeTypeID]
	}

	verbs := make(map[int64]Verb)
	var verbRows []models.VerbType
	if err := tx.Find(&verbRows).Error; err != nil {
		return fmt.Errorf("failed to load verb_types: %w", err)
	}
	for _, row := range verbRows {
		verbs[row.ID] = Verb(row.VerbName)
	}

	resources := make(map[int64]string)
	var resourceRows []models.Resource
	if err := tx.Find(&resourceRows).Error; err != nil {
		return fmt.Errorf("failed to load resources: %w", err)
	}
	for _, row := range resourceRows {
		resources[row.ID] = row.URI
	}

	var accesses []models.URIAccess
	if err := tx.Find(&accesses).Error; err != nil {
		return fmt.Errorf("failed to load uri_accesses: %w", err)
	}
	for _, row := range accesses {
		owner := schemeOwner[row.PermissionSchemeID]
		if owner == nil {
			logger.Warn("Skipping uri_access %d: permission scheme %d has no known owner", row.ID, row.PermissionSchemeID)
			continue
		}
		uri, ok := resources[row.ResourceID]
		if !ok {
			logger.Warn("Skipping uri_access %d: resource %d not found", row.ID, row.ResourceID)
			continue
		}
		verb, ok := verbs[row.VerbTypeID]
		if !ok {
			logger.Warn("Skipping uri_access %d: verb type %d not found", row.ID, row.VerbTypeID)
			continue
		}

		resourceID := row.ResourceID
		perm := Permission{
			ID:         row.ID,
			OwnerID:    owner.id,
			OwnerKind:  owner.kind,
			URIPattern: uri,
			Verb:       verb,
			Grant:      row.Grant,
			Deny:       row.Deny,
			Scheme:     schemeName[row.PermissionSchemeID],
			ResourceID: &resourceID,
		}
		owner.permissions[permKey{uri: uri, verb: verb}] = &perm
		if row.ID > maxPermID {
			maxPermID = row.ID
		}
	}

	g.nextUserID.Store(maxUserID)
	g.nextGroupID.Store(maxGroupID)
	g.nextRoleID.Store(maxRoleID)
	g.nextEntityID.Store(maxEntityID)
	g.nextPermID.Store(maxPermID)

	logger.Info("Entity graph loaded: %d users, %d groups, %d roles, %d permissions",
		len(g.users), len(g.groups), len(g.roles), len(accesses))
	return nil
}
