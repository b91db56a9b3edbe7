package engine

import (
	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
)

// Normalizers translate command payloads into relational rows. They are pure
// functions over already-resolved identifiers so the persistence adapter can
// run them inside a transaction without touching the graph.

// EntityTypeFor maps a principal kind to its entities.entity_type value
func EntityTypeFor(kind PrincipalKind) string {
	return string(kind)
}

// NormalizePrincipal builds the entity row plus the typed principal row for
// a create command
func NormalizePrincipal(p *CreatePrincipalPayload) (models.Entity, any, error) {
	entity := models.Entity{
		ID:         p.EntityID,
		EntityType: EntityTypeFor(p.Kind),
	}

	switch p.Kind {
	case KindUser:
		return entity, &models.User{ID: p.ID, EntityID: p.EntityID, Name: p.Name}, nil
	case KindGroup:
		return entity, &models.Group{ID: p.ID, EntityID: p.EntityID, Name: p.Name}, nil
	case KindRole:
		return entity, &models.Role{ID: p.ID, EntityID: p.EntityID, Name: p.Name}, nil
	default:
		return models.Entity{}, nil, InvalidArgumentf("unknown principal kind %q", p.Kind)
	}
}

// NormalizeMembership builds the user_groups junction row
func NormalizeMembership(p *MembershipPayload) models.UserGroup {
	return models.UserGroup{UserID: p.UserID, GroupID: p.GroupID}
}

// NormalizeUserRole builds the user_roles junction row
func NormalizeUserRole(p *UserRolePayload) models.UserRole {
	return models.UserRole{UserID: p.UserID, RoleID: p.RoleID}
}

// NormalizeGroupRole builds the group_roles junction row
func NormalizeGroupRole(p *GroupRolePayload) models.GroupRole {
	return models.GroupRole{GroupID: p.GroupID, RoleID: p.RoleID}
}

// NormalizeGroupHierarchy builds the group_hierarchies junction row
func NormalizeGroupHierarchy(p *GroupHierarchyPayload) models.GroupHierarchy {
	return models.GroupHierarchy{ParentGroupID: p.ParentGroupID, ChildGroupID: p.ChildGroupID}
}

// permissionRowIDs carries the lookup-table ids a grant resolves to inside
// its transaction
type permissionRowIDs struct {
	ResourceID         int64
	VerbTypeID         int64
	SchemeTypeID       int64
	PermissionSchemeID int64
}

// NormalizeGrant builds the uri_accesses row once the surrounding lookup
// rows are resolved
func NormalizeGrant(p *GrantPayload, ids permissionRowIDs) models.URIAccess {
	return models.URIAccess{
		ID:                 p.PermissionID,
		ResourceID:         ids.ResourceID,
		VerbTypeID:         ids.VerbTypeID,
		PermissionSchemeID: ids.PermissionSchemeID,
		Grant:              !p.Deny,
		Deny:               p.Deny,
	}
}

// SchemeNameOrDefault falls back to the API URI authorization scheme when a
// grant names none
func SchemeNameOrDefault(scheme string) string {
	if scheme == "" {
		return SchemeAPIURIAuthorization
	}
	return scheme
}
