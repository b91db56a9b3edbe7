package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/JoshuaRamirez/ACS-sub000/db"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// ServiceConfig carries the engine knobs for one tenant process
type ServiceConfig struct {
	TenantID string

	ChannelCapacity      int
	RetryMaxAttempts     int
	RetryBaseDelay       time.Duration
	PersistTimeout       time.Duration
	ShutdownTimeout      time.Duration
	DLQDrainInterval     time.Duration
	DLQAbandonThreshold  int
	SlowCommandThreshold time.Duration
	HealthSampleInterval time.Duration
}

// Service is the in-process API surface over the access control engine.
// Mutations go through the single-writer executor and return futures;
// queries read the cache and the graph directly.
type Service struct {
	cfg ServiceConfig

	gdb     *gorm.DB
	redisDB *db.RedisDB

	graph     *Graph
	store     *Store
	audit     *AuditWriter
	letters   *DeadLetterStore
	worker    *DeadLetterWorker
	executor  *Executor
	cache     *CacheService
	evaluator *Evaluator
	resources *ResourceRegistry
	metrics   *Metrics
	health    *HealthSampler

	stopOnce sync.Once
}

// NewService wires the engine components. Call Start before use.
func NewService(cfg ServiceConfig, gdb *gorm.DB, redisDB *db.RedisDB, reg prometheus.Registerer) *Service {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DLQDrainInterval <= 0 {
		cfg.DLQDrainInterval = time.Minute
	}
	if cfg.HealthSampleInterval <= 0 {
		cfg.HealthSampleInterval = 15 * time.Second
	}

	s := &Service{
		cfg:     cfg,
		gdb:     gdb,
		redisDB: redisDB,
		graph:   NewGraph(),
	}

	if reg != nil {
		s.metrics = NewMetrics(reg, cfg.SlowCommandThreshold)
	}

	s.store = NewStore(gdb)
	s.letters = NewDeadLetterStore(gdb, cfg.DLQAbandonThreshold)
	s.worker = NewDeadLetterWorker(s.letters, s.store, cfg.DLQDrainInterval)
	s.cache = NewCacheService(redisDB, cfg.TenantID, s.graph, s.metrics)
	s.resources = NewResourceRegistry(gdb)
	s.evaluator = NewEvaluator(s.graph, s.resources)

	retry := DefaultRetryPolicy()
	if cfg.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		retry.BaseDelay = cfg.RetryBaseDelay
	}

	return s.wireExecutor(ExecutorConfig{
		ChannelCapacity: cfg.ChannelCapacity,
		PersistTimeout:  cfg.PersistTimeout,
		Retry:           retry,
	})
}

func (s *Service) wireExecutor(cfg ExecutorConfig) *Service {
	s.health = NewHealthSampler(nil, s.letters, s.cfg.HealthSampleInterval)
	s.executor = NewExecutor(cfg, s.graph, s.store, s.letters, nil, s.metrics, s.health)
	s.health.executor = s.executor
	s.executor.SetAppliedHook(func(event InvalidationEvent) {
		s.cache.Invalidate(context.Background(), event)
	})
	return s
}

// Start loads state and launches the background loops
func (s *Service) Start(ctx context.Context) error {
	logger := slogging.Get()
	logger.Info("Starting access control engine for tenant %s", s.cfg.TenantID)

	if err := s.graph.LoadFromStore(ctx, s.gdb); err != nil {
		return fmt.Errorf("failed to load entity graph: %w", err)
	}
	if err := s.resources.Load(ctx); err != nil {
		return fmt.Errorf("failed to load resource registry: %w", err)
	}

	audit, err := NewAuditWriter(ctx, s.gdb)
	if err != nil {
		return fmt.Errorf("failed to initialize audit writer: %w", err)
	}
	s.audit = audit
	s.executor.audit = audit

	// A reloaded graph must never sit behind stale cache entries.
	if err := s.cache.Flush(ctx); err != nil {
		logger.Warn("Cache flush failed, continuing with cold cache: %v", err)
	}
	s.cache.Warmup(ctx)

	s.executor.Start()
	s.worker.Start(ctx)
	s.health.Start(ctx)

	logger.Info("Access control engine started")
	return nil
}

// Stop drains the executor and stops the background loops. Safe to call
// more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		logger := slogging.Get()
		logger.Info("Stopping access control engine")

		s.executor.Stop(s.cfg.ShutdownTimeout)
		s.worker.Stop()
		s.health.Stop()

		logger.Info("Access control engine stopped")
	})
}

// Resources exposes the registry for resource administration
func (s *Service) Resources() *ResourceRegistry {
	return s.resources
}

// Letters exposes the dead letter store for operator tooling
func (s *Service) Letters() *DeadLetterStore {
	return s.letters
}

// Health returns the latest vitals snapshot
func (s *Service) Health() *HealthSnapshot {
	return s.health.Latest()
}

// --- Mutations ---

// CreatePrincipal allocates ids eagerly and submits the create command. The
// returned id is valid immediately; the future resolves when the command is
// applied.
func (s *Service) CreatePrincipal(ctx context.Context, kind PrincipalKind, name, actor string, parentGroupID *int64) (int64, *Future, error) {
	id := s.graph.NextID(kind)
	payload := &CreatePrincipalPayload{
		Kind:          kind,
		ID:            id,
		EntityID:      s.graph.NextEntityID(),
		Name:          name,
		ParentGroupID: parentGroupID,
	}

	var cmdKind CommandKind
	switch kind {
	case KindUser:
		cmdKind = CommandCreateUser
	case KindGroup:
		cmdKind = CommandCreateGroup
	case KindRole:
		cmdKind = CommandCreateRole
	default:
		return 0, nil, InvalidArgumentf("unknown principal kind %q", kind)
	}

	fut, err := s.submit(ctx, cmdKind, payload, actor)
	if err != nil {
		return 0, nil, err
	}
	return id, fut, nil
}

// RenamePrincipal submits a rename command
func (s *Service) RenamePrincipal(ctx context.Context, kind PrincipalKind, id int64, name, actor string) (*Future, error) {
	var cmdKind CommandKind
	switch kind {
	case KindUser:
		cmdKind = CommandUpdateUser
	case KindGroup:
		cmdKind = CommandUpdateGroup
	case KindRole:
		cmdKind = CommandUpdateRole
	default:
		return nil, InvalidArgumentf("unknown principal kind %q", kind)
	}
	return s.submit(ctx, cmdKind, &UpdatePrincipalPayload{Kind: kind, ID: id, Name: name}, actor)
}

// DeletePrincipal submits a delete command cascading over edges and grants
func (s *Service) DeletePrincipal(ctx context.Context, kind PrincipalKind, id int64, actor string) (*Future, error) {
	var cmdKind CommandKind
	switch kind {
	case KindUser:
		cmdKind = CommandDeleteUser
	case KindGroup:
		cmdKind = CommandDeleteGroup
	case KindRole:
		cmdKind = CommandDeleteRole
	default:
		return nil, InvalidArgumentf("unknown principal kind %q", kind)
	}
	return s.submit(ctx, cmdKind, &DeletePrincipalPayload{Kind: kind, ID: id}, actor)
}

// AddUserToGroup submits a membership command
func (s *Service) AddUserToGroup(ctx context.Context, userID, groupID int64, actor string) (*Future, error) {
	return s.submit(ctx, CommandAddUserToGroup, &MembershipPayload{UserID: userID, GroupID: groupID}, actor)
}

// RemoveUserFromGroup submits a membership removal command
func (s *Service) RemoveUserFromGroup(ctx context.Context, userID, groupID int64, actor string) (*Future, error) {
	return s.submit(ctx, CommandRemoveUserGroup, &MembershipPayload{UserID: userID, GroupID: groupID}, actor)
}

// AssignRoleToUser submits a role assignment command
func (s *Service) AssignRoleToUser(ctx context.Context, userID, roleID int64, actor string) (*Future, error) {
	return s.submit(ctx, CommandAssignUserRole, &UserRolePayload{UserID: userID, RoleID: roleID}, actor)
}

// RemoveRoleFromUser submits a role removal command
func (s *Service) RemoveRoleFromUser(ctx context.Context, userID, roleID int64, actor string) (*Future, error) {
	return s.submit(ctx, CommandRemoveUserRole, &UserRolePayload{UserID: userID, RoleID: roleID}, actor)
}

// AttachRoleToGroup submits a role attachment command
func (s *Service) AttachRoleToGroup(ctx context.Context, groupID, roleID int64, actor string) (*Future, error) {
	return s.submit(ctx, CommandAttachGroupRole, &GroupRolePayload{GroupID: groupID, RoleID: roleID}, actor)
}

// DetachRoleFromGroup submits a role detachment command
func (s *Service) DetachRoleFromGroup(ctx context.Context, groupID, roleID int64, actor string) (*Future, error) {
	return s.submit(ctx, CommandDetachGroupRole, &GroupRolePayload{GroupID: groupID, RoleID: roleID}, actor)
}

// AddGroupToGroup nests a child group under a parent group
func (s *Service) AddGroupToGroup(ctx context.Context, parentGroupID, childGroupID int64, actor string) (*Future, error) {
	return s.submit(ctx, CommandAddGroupToGroup, &GroupHierarchyPayload{ParentGroupID: parentGroupID, ChildGroupID: childGroupID}, actor)
}

// RemoveGroupFromGroup un-nests a child group
func (s *Service) RemoveGroupFromGroup(ctx context.Context, parentGroupID, childGroupID int64, actor string) (*Future, error) {
	return s.submit(ctx, CommandRemoveGroupChild, &GroupHierarchyPayload{ParentGroupID: parentGroupID, ChildGroupID: childGroupID}, actor)
}

// GrantPermission submits a grant (or deny when deny is true). The
// permission id is allocated eagerly and returned with the future.
func (s *Service) GrantPermission(ctx context.Context, kind PrincipalKind, id int64, uri string, verb Verb, deny bool, scheme, actor string) (int64, *Future, error) {
	permID := s.graph.NextPermissionID()
	fut, err := s.submit(ctx, CommandGrantPermission, &GrantPayload{
		OwnerKind:    kind,
		OwnerID:      id,
		PermissionID: permID,
		URIPattern:   uri,
		Verb:         verb,
		Deny:         deny,
		Scheme:       scheme,
	}, actor)
	if err != nil {
		return 0, nil, err
	}
	return permID, fut, nil
}

// RevokePermission submits a revoke for the (uri, verb) tuple
func (s *Service) RevokePermission(ctx context.Context, kind PrincipalKind, id int64, uri string, verb Verb, actor string) (*Future, error) {
	return s.submit(ctx, CommandRevokePermission, &RevokePayload{
		OwnerKind:  kind,
		OwnerID:    id,
		URIPattern: uri,
		Verb:       verb,
	}, actor)
}

func (s *Service) submit(ctx context.Context, kind CommandKind, payload any, actor string) (*Future, error) {
	return s.executor.Submit(NewCommand(ctx, kind, payload, actor))
}

// --- Queries ---

// GetUser returns a user snapshot through the cache
func (s *Service) GetUser(ctx context.Context, id int64) (*UserSnapshot, error) {
	return s.cache.GetUser(ctx, id)
}

// GetGroup returns a group snapshot through the cache
func (s *Service) GetGroup(ctx context.Context, id int64) (*GroupSnapshot, error) {
	return s.cache.GetGroup(ctx, id)
}

// GetRole returns a role snapshot through the cache
func (s *Service) GetRole(ctx context.Context, id int64) (*RoleSnapshot, error) {
	return s.cache.GetRole(ctx, id)
}

// GetUserGroups returns the group ids a user belongs to
func (s *Service) GetUserGroups(ctx context.Context, userID int64) ([]int64, error) {
	return s.cache.GetUserGroups(ctx, userID)
}

// GetUserRoles returns the role ids assigned to a user
func (s *Service) GetUserRoles(ctx context.Context, userID int64) ([]int64, error) {
	return s.cache.GetUserRoles(ctx, userID)
}

// GetPermissions returns a principal's direct permission tuples
func (s *Service) GetPermissions(ctx context.Context, kind PrincipalKind, id int64) ([]Permission, error) {
	return s.cache.GetPermissions(ctx, kind, id)
}

// ListUsers returns a page of user snapshots ordered by id
func (s *Service) ListUsers(offset, limit int) []UserSnapshot {
	return pageOf(s.graph.Users(), offset, limit)
}

// ListGroups returns a page of group snapshots ordered by id
func (s *Service) ListGroups(offset, limit int) []GroupSnapshot {
	return pageOf(s.graph.Groups(), offset, limit)
}

// ListRoles returns a page of role snapshots ordered by id
func (s *Service) ListRoles(offset, limit int) []RoleSnapshot {
	return pageOf(s.graph.Roles(), offset, limit)
}

// ListPermissions returns a page of a principal's direct permission tuples
// ordered by permission id
func (s *Service) ListPermissions(ctx context.Context, kind PrincipalKind, id int64, offset, limit int) ([]Permission, error) {
	all, err := s.cache.GetPermissions(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return pageOf(all, offset, limit), nil
}

func pageOf[T any](all []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

// --- Checks ---

// Check answers a (principal, uri, verb) permission question
func (s *Service) Check(ctx context.Context, kind PrincipalKind, id int64, uri string, verb Verb) (bool, error) {
	result, err := s.CheckDetailed(ctx, kind, id, uri, verb)
	if err != nil {
		return false, err
	}
	return result.HasAccess, nil
}

// CheckDetailed answers with the full evaluation trace
func (s *Service) CheckDetailed(ctx context.Context, kind PrincipalKind, id int64, uri string, verb Verb) (*CheckResult, error) {
	result, err := s.evaluator.Check(kind, id, uri, verb)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCheck(result.Decision, result.Elapsed)
	if s.audit != nil {
		s.audit.Record(ctx, string(kind), id, ChangeCheck, "system", map[string]any{
			"uri":      uri,
			"verb":     verb,
			"decision": result.Decision,
		})
	}
	return result, nil
}

// CheckResource answers a (principal, resource id, verb) permission question
func (s *Service) CheckResource(ctx context.Context, kind PrincipalKind, id, resourceID int64, verb Verb) (*CheckResult, error) {
	result, err := s.evaluator.CheckResource(kind, id, resourceID, verb)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCheck(result.Decision, result.Elapsed)
	return result, nil
}

// EvaluateComplex answers a check with condition predicates applied
func (s *Service) EvaluateComplex(ctx context.Context, kind PrincipalKind, id int64, uri string, verb Verb, conditions []Condition, ectx EvalContext) (*CheckResult, error) {
	result, err := s.evaluator.EvaluateComplex(kind, id, uri, verb, conditions, ectx)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCheck(result.Decision, result.Elapsed)
	return result, nil
}

// VerifyAudit re-hashes the audit log and reports integrity findings
func (s *Service) VerifyAudit(ctx context.Context) (*AuditReport, error) {
	return VerifyAuditChain(ctx, s.gdb)
}
