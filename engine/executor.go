package engine

import (
	"context"
	"sync"
	"time"

	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// Executor is the single writer. Commands flow through one bounded channel
// and are applied strictly in arrival order: validate against the graph,
// mutate the graph, persist the rows, audit the outcome. A full channel
// blocks submitters, which is the backpressure story.
type Executor struct {
	graph   *Graph
	persist Persistence
	letters *DeadLetterStore
	audit   *AuditWriter
	retry   RetryPolicy
	metrics *Metrics
	health  *HealthSampler

	persistTimeout time.Duration

	commands  chan *Command
	quit      chan struct{}
	done      chan struct{}
	onApplied func(InvalidationEvent)

	// mu seals intake on Stop. Every send happens under the read lock, so
	// once Stop holds the write lock no command can slip into the channel
	// behind the drain.
	mu     sync.RWMutex
	closed bool
}

// SetAppliedHook registers a callback invoked on the executor goroutine
// after each successful command. Must be set before Start.
func (e *Executor) SetAppliedHook(fn func(InvalidationEvent)) {
	e.onApplied = fn
}

// ExecutorConfig sizes the executor
type ExecutorConfig struct {
	ChannelCapacity int
	PersistTimeout  time.Duration
	Retry           RetryPolicy
}

// NewExecutor wires the single-writer loop. audit, letters, metrics, and
// health may be nil in tests.
func NewExecutor(cfg ExecutorConfig, graph *Graph, persist Persistence, letters *DeadLetterStore, audit *AuditWriter, metrics *Metrics, health *HealthSampler) *Executor {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 1000
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Executor{
		graph:          graph,
		persist:        persist,
		letters:        letters,
		audit:          audit,
		retry:          cfg.Retry,
		metrics:        metrics,
		health:         health,
		persistTimeout: cfg.PersistTimeout,
		commands:       make(chan *Command, cfg.ChannelCapacity),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Submit enqueues a command and returns a future for its result. Submit
// blocks when the channel is full; it fails fast once the executor is
// shutting down or the caller's context expires.
func (e *Executor) Submit(cmd *Command) (*Future, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, Unsupportedf("executor is shut down")
	}

	select {
	case e.commands <- cmd:
		e.metrics.SetQueueDepth(len(e.commands))
		return &Future{cmd: cmd}, nil
	case <-cmd.Context().Done():
		return nil, Transientf(cmd.Context().Err(), "submitting command %s", cmd.ID)
	}
}

// QueueDepth reports current channel occupancy
func (e *Executor) QueueDepth() int {
	return len(e.commands)
}

// Start launches the apply loop
func (e *Executor) Start() {
	go e.run()
}

// Stop seals the intake and drains every accepted command. Safe to call
// more than once.
func (e *Executor) Stop(timeout time.Duration) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.quit)

	select {
	case <-e.done:
	case <-time.After(timeout):
		slogging.Get().Warn("Executor drain exceeded %s, waiting for remaining commands", timeout)
		<-e.done
	}
}

func (e *Executor) run() {
	defer close(e.done)
	logger := slogging.Get()
	logger.Info("Executor started (queue capacity %d)", cap(e.commands))

	for {
		select {
		case cmd := <-e.commands:
			e.process(cmd)
			e.metrics.SetQueueDepth(len(e.commands))
		case <-e.quit:
			e.drain()
			logger.Info("Executor stopped")
			return
		}
	}
}

// drain applies commands already queued at shutdown
func (e *Executor) drain() {
	for {
		select {
		case cmd := <-e.commands:
			e.process(cmd)
		default:
			return
		}
	}
}

// process runs one command through the full pipeline
func (e *Executor) process(cmd *Command) {
	started := time.Now()

	// A submitter that already gave up gets its command skipped before any
	// state changes.
	if err := cmd.Context().Err(); err != nil {
		cmd.complete(nil, Transientf(err, "command %s canceled before execution", cmd.ID))
		return
	}

	affected, err := e.applyToGraph(cmd)
	if err == nil {
		// The graph has changed, so stale cache entries must go now, before
		// persistence gets a chance to fail.
		if e.onApplied != nil && len(affected) > 0 {
			e.onApplied(InvalidationEvent{Command: cmd.Kind, Affected: affected})
		}
		err = e.persistWithRecovery(cmd)
	}

	elapsed := time.Since(started)
	e.metrics.ObserveCommand(cmd.Kind, elapsed, err)
	e.health.ObserveCommand(elapsed, err)
	e.writeAudit(cmd, affected, err)

	cmd.complete(affected, err)
}

// persistWithRecovery pushes the row deltas through the retry policy and
// falls back to the dead letter queue when the budget is exhausted. The
// terminal error still surfaces to the submitter; the graph mutation stands
// and the rows catch up when the letter is re-driven.
func (e *Executor) persistWithRecovery(cmd *Command) error {
	attempts, err := e.retry.Execute(context.Background(), string(cmd.Kind), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.persistTimeout)
		defer cancel()
		return e.persist.Apply(ctx, cmd)
	})
	cmd.Attempts = attempts
	e.metrics.ObserveRetries(attempts)
	if err == nil {
		return nil
	}
	cmd.LastError = err.Error()

	if !IsKind(err, KindTerminal) {
		// Validation raced persistence; the graph mutation already
		// happened, so this is an integrity signal, not a user error.
		slogging.Get().Error("Command %s (%s) failed non-transiently in the store: %v", cmd.ID, cmd.Kind, err)
		return Integrityf("command %s diverged between graph and store: %v", cmd.ID, err)
	}

	if e.letters == nil {
		return err
	}
	e.metrics.ObserveDeadLetter()
	if dlqErr := e.letters.Enqueue(context.Background(), cmd, err); dlqErr != nil {
		slogging.Get().Error("Command %s lost: dead letter enqueue failed: %v", cmd.ID, dlqErr)
		return Terminalf(dlqErr, "command %s could not be dead-lettered", cmd.ID)
	}
	return err
}

// applyToGraph validates and mutates in one step; the graph's own checks
// are the validation
func (e *Executor) applyToGraph(cmd *Command) ([]PrincipalRef, error) {
	switch p := cmd.Payload.(type) {
	case *CreatePrincipalPayload:
		// Check the parent before creating so a bad parent leaves no
		// half-made principal behind.
		if p.ParentGroupID != nil {
			if _, err := e.graph.GetGroup(*p.ParentGroupID); err != nil {
				return nil, err
			}
		}
		if err := e.graph.Create(p.Kind, p.ID, p.EntityID, p.Name); err != nil {
			return nil, err
		}
		affected := []PrincipalRef{{Kind: p.Kind, ID: p.ID, Name: p.Name}}
		if p.ParentGroupID != nil {
			if err := e.graph.Link(KindGroup, *p.ParentGroupID, p.Kind, p.ID); err != nil {
				return affected, err
			}
			affected = append(affected, PrincipalRef{Kind: KindGroup, ID: *p.ParentGroupID})
		}
		return affected, nil

	case *UpdatePrincipalPayload:
		if err := e.graph.Rename(p.Kind, p.ID, p.Name); err != nil {
			return nil, err
		}
		return []PrincipalRef{{Kind: p.Kind, ID: p.ID, Name: p.Name}}, nil

	case *DeletePrincipalPayload:
		affected, err := e.graph.Delete(p.Kind, p.ID)
		if err != nil {
			return nil, err
		}
		return append([]PrincipalRef{{Kind: p.Kind, ID: p.ID}}, affected...), nil

	case *MembershipPayload:
		refs := []PrincipalRef{{Kind: KindUser, ID: p.UserID}, {Kind: KindGroup, ID: p.GroupID}}
		if cmd.Kind == CommandRemoveUserGroup {
			return refs, e.graph.Unlink(KindGroup, p.GroupID, KindUser, p.UserID)
		}
		return refs, e.graph.Link(KindGroup, p.GroupID, KindUser, p.UserID)

	case *UserRolePayload:
		refs := []PrincipalRef{{Kind: KindUser, ID: p.UserID}, {Kind: KindRole, ID: p.RoleID}}
		if cmd.Kind == CommandRemoveUserRole {
			return refs, e.graph.Unlink(KindRole, p.RoleID, KindUser, p.UserID)
		}
		return refs, e.graph.Link(KindRole, p.RoleID, KindUser, p.UserID)

	case *GroupRolePayload:
		refs := []PrincipalRef{{Kind: KindGroup, ID: p.GroupID}, {Kind: KindRole, ID: p.RoleID}}
		if cmd.Kind == CommandDetachGroupRole {
			return refs, e.graph.Unlink(KindGroup, p.GroupID, KindRole, p.RoleID)
		}
		return refs, e.graph.Link(KindGroup, p.GroupID, KindRole, p.RoleID)

	case *GroupHierarchyPayload:
		refs := []PrincipalRef{{Kind: KindGroup, ID: p.ParentGroupID}, {Kind: KindGroup, ID: p.ChildGroupID}}
		if cmd.Kind == CommandRemoveGroupChild {
			return refs, e.graph.Unlink(KindGroup, p.ParentGroupID, KindGroup, p.ChildGroupID)
		}
		return refs, e.graph.Link(KindGroup, p.ParentGroupID, KindGroup, p.ChildGroupID)

	case *GrantPayload:
		perm := Permission{
			ID:         p.PermissionID,
			OwnerID:    p.OwnerID,
			OwnerKind:  p.OwnerKind,
			URIPattern: p.URIPattern,
			Verb:       p.Verb,
			Grant:      !p.Deny,
			Deny:       p.Deny,
			Scheme:     SchemeNameOrDefault(p.Scheme),
		}
		if _, err := e.graph.UpsertPermission(perm); err != nil {
			return nil, err
		}
		return []PrincipalRef{{Kind: p.OwnerKind, ID: p.OwnerID}}, nil

	case *RevokePayload:
		if err := e.graph.RemovePermission(p.OwnerKind, p.OwnerID, p.URIPattern, p.Verb); err != nil {
			return nil, err
		}
		return []PrincipalRef{{Kind: p.OwnerKind, ID: p.OwnerID}}, nil

	default:
		return nil, Unsupportedf("command %s carries unsupported payload %T", cmd.Kind, cmd.Payload)
	}
}

func (e *Executor) writeAudit(cmd *Command, affected []PrincipalRef, err error) {
	if e.audit == nil {
		return
	}

	entityType, entityID := auditSubject(cmd, affected)
	change := auditChange(cmd.Kind)
	if err != nil {
		change = ChangeError
	}
	e.audit.RecordCommand(context.Background(), cmd, change, entityType, entityID)
}

func auditSubject(cmd *Command, affected []PrincipalRef) (string, int64) {
	if len(affected) > 0 {
		return string(affected[0].Kind), affected[0].ID
	}
	switch p := cmd.Payload.(type) {
	case *CreatePrincipalPayload:
		return string(p.Kind), p.ID
	case *UpdatePrincipalPayload:
		return string(p.Kind), p.ID
	case *DeletePrincipalPayload:
		return string(p.Kind), p.ID
	case *GrantPayload:
		return string(p.OwnerKind), p.OwnerID
	case *RevokePayload:
		return string(p.OwnerKind), p.OwnerID
	default:
		return "command", 0
	}
}

func auditChange(kind CommandKind) ChangeType {
	switch kind {
	case CommandCreateUser, CommandCreateGroup, CommandCreateRole:
		return ChangeCreate
	case CommandUpdateUser, CommandUpdateGroup, CommandUpdateRole:
		return ChangeUpdate
	case CommandDeleteUser, CommandDeleteGroup, CommandDeleteRole:
		return ChangeDelete
	case CommandAddUserToGroup, CommandAssignUserRole, CommandAttachGroupRole, CommandAddGroupToGroup:
		return ChangeAdd
	case CommandRemoveUserGroup, CommandRemoveUserRole, CommandDetachGroupRole, CommandRemoveGroupChild:
		return ChangeRemove
	case CommandGrantPermission:
		return ChangeGrant
	case CommandRevokePermission:
		return ChangeRevoke
	default:
		return ChangeUpdate
	}
}
