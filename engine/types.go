package engine

import (
	"strings"
)

// PrincipalKind tags the three principal variants
type PrincipalKind string

const (
	KindUser  PrincipalKind = "user"
	KindGroup PrincipalKind = "group"
	KindRole  PrincipalKind = "role"
)

// ParsePrincipalKind converts a string to a PrincipalKind
func ParsePrincipalKind(s string) (PrincipalKind, error) {
	switch strings.ToLower(s) {
	case "user":
		return KindUser, nil
	case "group":
		return KindGroup, nil
	case "role":
		return KindRole, nil
	default:
		return "", InvalidArgumentf("unknown principal kind: %q", s)
	}
}

// Verb enumerates the HTTP verbs a permission can cover
type Verb string

const (
	VerbGet    Verb = "GET"
	VerbPost   Verb = "POST"
	VerbPut    Verb = "PUT"
	VerbPatch  Verb = "PATCH"
	VerbDelete Verb = "DELETE"
	// VerbAll matches any verb
	VerbAll Verb = "ALL"
)

// ParseVerb converts a string to a Verb
func ParseVerb(s string) (Verb, error) {
	switch strings.ToUpper(s) {
	case "GET":
		return VerbGet, nil
	case "POST":
		return VerbPost, nil
	case "PUT":
		return VerbPut, nil
	case "PATCH":
		return VerbPatch, nil
	case "DELETE":
		return VerbDelete, nil
	case "ALL", "*":
		return VerbAll, nil
	default:
		return "", InvalidArgumentf("unknown verb: %q", s)
	}
}

// Matches reports whether a permission verb covers a requested verb.
// ALL on the permission side covers everything.
func (v Verb) Matches(requested Verb) bool {
	return v == VerbAll || v == requested
}

// SchemeAPIURIAuthorization is the default permission scheme tag
const SchemeAPIURIAuthorization = "ApiUriAuthorization"

// Permission is a grant or deny on a URI pattern and verb, owned by a principal
type Permission struct {
	ID         int64         `json:"id"`
	OwnerID    int64         `json:"owner_id"`
	OwnerKind  PrincipalKind `json:"owner_kind"`
	URIPattern string        `json:"uri_pattern"`
	Verb       Verb          `json:"verb"`
	Grant      bool          `json:"grant"`
	Deny       bool          `json:"deny"`
	Scheme     string        `json:"scheme"`
	ResourceID *int64        `json:"resource_id,omitempty"`
}

// PrincipalRef identifies a principal in evaluation traces and snapshots
type PrincipalRef struct {
	Kind PrincipalKind `json:"kind"`
	ID   int64         `json:"id"`
	Name string        `json:"name"`
}

// UserSnapshot is an immutable copy of a user for caching and query replies
type UserSnapshot struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	GroupIDs    []int64      `json:"group_ids"`
	RoleIDs     []int64      `json:"role_ids"`
	Permissions []Permission `json:"permissions"`
}

// GroupSnapshot is an immutable copy of a group for caching and query replies
type GroupSnapshot struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	ParentGroupIDs []int64      `json:"parent_group_ids"`
	ChildGroupIDs  []int64      `json:"child_group_ids"`
	ChildUserIDs   []int64      `json:"child_user_ids"`
	RoleIDs        []int64      `json:"role_ids"`
	Permissions    []Permission `json:"permissions"`
}

// RoleSnapshot is an immutable copy of a role for caching and query replies
type RoleSnapshot struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}
