package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CommandKind names a mutation the executor can apply
type CommandKind string

const (
	CommandCreateUser       CommandKind = "create_user"
	CommandCreateGroup      CommandKind = "create_group"
	CommandCreateRole       CommandKind = "create_role"
	CommandUpdateUser       CommandKind = "update_user"
	CommandUpdateGroup      CommandKind = "update_group"
	CommandUpdateRole       CommandKind = "update_role"
	CommandDeleteUser       CommandKind = "delete_user"
	CommandDeleteGroup      CommandKind = "delete_group"
	CommandDeleteRole       CommandKind = "delete_role"
	CommandAddUserToGroup   CommandKind = "add_user_to_group"
	CommandRemoveUserGroup  CommandKind = "remove_user_from_group"
	CommandAssignUserRole   CommandKind = "assign_role_to_user"
	CommandRemoveUserRole   CommandKind = "remove_role_from_user"
	CommandAttachGroupRole  CommandKind = "attach_role_to_group"
	CommandDetachGroupRole  CommandKind = "detach_role_from_group"
	CommandAddGroupToGroup  CommandKind = "add_group_to_group"
	CommandRemoveGroupChild CommandKind = "remove_group_from_group"
	CommandGrantPermission  CommandKind = "grant_permission"
	CommandRevokePermission CommandKind = "revoke_permission"
)

// CreatePrincipalPayload creates a user, group, or role. IDs are allocated by
// the caller before submission so the result is known at enqueue time.
// ParentGroupID, when set, links the new principal under a group in the same
// command.
type CreatePrincipalPayload struct {
	Kind          PrincipalKind `json:"kind"`
	ID            int64         `json:"id"`
	EntityID      int64         `json:"entity_id"`
	Name          string        `json:"name"`
	ParentGroupID *int64        `json:"parent_group_id,omitempty"`
}

// UpdatePrincipalPayload renames a principal
type UpdatePrincipalPayload struct {
	Kind PrincipalKind `json:"kind"`
	ID   int64         `json:"id"`
	Name string        `json:"name"`
}

// DeletePrincipalPayload removes a principal and all its edges and permissions
type DeletePrincipalPayload struct {
	Kind PrincipalKind `json:"kind"`
	ID   int64         `json:"id"`
}

// MembershipPayload links or unlinks a user and a group
type MembershipPayload struct {
	UserID  int64 `json:"user_id"`
	GroupID int64 `json:"group_id"`
}

// UserRolePayload assigns or removes a role for a user
type UserRolePayload struct {
	UserID int64 `json:"user_id"`
	RoleID int64 `json:"role_id"`
}

// GroupRolePayload attaches or detaches a role for a group
type GroupRolePayload struct {
	GroupID int64 `json:"group_id"`
	RoleID  int64 `json:"role_id"`
}

// GroupHierarchyPayload nests or un-nests a child group under a parent group
type GroupHierarchyPayload struct {
	ParentGroupID int64 `json:"parent_group_id"`
	ChildGroupID  int64 `json:"child_group_id"`
}

// GrantPayload upserts a permission tuple on a principal. PermissionID is
// allocated by the caller; it is ignored when an existing tuple with the same
// (uri, verb) is updated in place.
type GrantPayload struct {
	OwnerKind    PrincipalKind `json:"owner_kind"`
	OwnerID      int64         `json:"owner_id"`
	PermissionID int64         `json:"permission_id"`
	URIPattern   string        `json:"uri_pattern"`
	Verb         Verb          `json:"verb"`
	Deny         bool          `json:"deny"`
	Scheme       string        `json:"scheme"`
}

// RevokePayload removes a permission tuple from a principal
type RevokePayload struct {
	OwnerKind  PrincipalKind `json:"owner_kind"`
	OwnerID    int64         `json:"owner_id"`
	URIPattern string        `json:"uri_pattern"`
	Verb       Verb          `json:"verb"`
}

// CommandResult is delivered to the submitter when a command finishes
type CommandResult struct {
	// Affected lists principals whose cached state is stale after the
	// command, the command's own subject included
	Affected []PrincipalRef
	Err      error
}

// Command is the envelope carried through the executor channel. One command
// equals one atomic mutation; the executor applies commands strictly in
// arrival order.
type Command struct {
	ID         uuid.UUID   `json:"id"`
	Kind       CommandKind `json:"kind"`
	Payload    any         `json:"payload"`
	Actor      string      `json:"actor"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Attempts   int         `json:"attempts"`
	LastError  string      `json:"last_error,omitempty"`

	ctx    context.Context
	result chan CommandResult
}

// NewCommand builds a command envelope carrying the submitter's context for
// pre-execution cancellation
func NewCommand(ctx context.Context, kind CommandKind, payload any, actor string) *Command {
	return &Command{
		ID:         uuid.New(),
		Kind:       kind,
		Payload:    payload,
		Actor:      actor,
		EnqueuedAt: time.Now().UTC(),
		ctx:        ctx,
		result:     make(chan CommandResult, 1),
	}
}

// Context returns the submitter context, defaulting to Background for
// replayed commands
func (c *Command) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// complete delivers the result without blocking; the channel is buffered and
// written exactly once
func (c *Command) complete(affected []PrincipalRef, err error) {
	if c.result == nil {
		return
	}
	c.result <- CommandResult{Affected: affected, Err: err}
	close(c.result)
}

// Future is the submitter's handle on an in-flight command
type Future struct {
	cmd *Command
}

// Command returns the underlying envelope
func (f *Future) Command() *Command {
	return f.cmd
}

// Wait blocks until the command completes or ctx is done
func (f *Future) Wait(ctx context.Context) (CommandResult, error) {
	select {
	case res, ok := <-f.cmd.result:
		if !ok {
			return CommandResult{}, Terminalf(nil, "command %s completed without a result", f.cmd.ID)
		}
		return res, res.Err
	case <-ctx.Done():
		return CommandResult{}, Transientf(ctx.Err(), "waiting for command %s", f.cmd.ID)
	}
}

// commandEnvelope is the serialized form stored in the dead letter queue
type commandEnvelope struct {
	ID         uuid.UUID       `json:"id"`
	Kind       CommandKind     `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Actor      string          `json:"actor"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}

// MarshalEnvelope serializes a command for durable storage
func MarshalEnvelope(cmd *Command) ([]byte, error) {
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return nil, Terminalf(err, "marshaling payload for command %s", cmd.ID)
	}
	env := commandEnvelope{
		ID:         cmd.ID,
		Kind:       cmd.Kind,
		Payload:    payload,
		Actor:      cmd.Actor,
		EnqueuedAt: cmd.EnqueuedAt,
		Attempts:   cmd.Attempts,
		LastError:  cmd.LastError,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, Terminalf(err, "marshaling envelope for command %s", cmd.ID)
	}
	return data, nil
}

// UnmarshalEnvelope restores a command from durable storage. Restored
// commands carry no submitter context or result channel; they are applied by
// the dead letter worker, not waited on.
func UnmarshalEnvelope(data []byte) (*Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Terminalf(err, "unmarshaling command envelope")
	}
	payload, err := decodePayload(env.Kind, env.Payload)
	if err != nil {
		return nil, err
	}
	return &Command{
		ID:         env.ID,
		Kind:       env.Kind,
		Payload:    payload,
		Actor:      env.Actor,
		EnqueuedAt: env.EnqueuedAt,
		Attempts:   env.Attempts,
		LastError:  env.LastError,
	}, nil
}

func decodePayload(kind CommandKind, raw json.RawMessage) (any, error) {
	var target any
	switch kind {
	case CommandCreateUser, CommandCreateGroup, CommandCreateRole:
		target = &CreatePrincipalPayload{}
	case CommandUpdateUser, CommandUpdateGroup, CommandUpdateRole:
		target = &UpdatePrincipalPayload{}
	case CommandDeleteUser, CommandDeleteGroup, CommandDeleteRole:
		target = &DeletePrincipalPayload{}
	case CommandAddUserToGroup, CommandRemoveUserGroup:
		target = &MembershipPayload{}
	case CommandAssignUserRole, CommandRemoveUserRole:
		target = &UserRolePayload{}
	case CommandAttachGroupRole, CommandDetachGroupRole:
		target = &GroupRolePayload{}
	case CommandAddGroupToGroup, CommandRemoveGroupChild:
		target = &GroupHierarchyPayload{}
	case CommandGrantPermission:
		target = &GrantPayload{}
	case CommandRevokePermission:
		target = &RevokePayload{}
	default:
		return nil, Unsupportedf("unknown command kind %q", kind)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, Terminalf(err, "decoding %s payload", kind)
	}
	return target, nil
}
