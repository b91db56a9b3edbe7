package engine

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoshuaRamirez/ACS-sub000/db"
	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// Persistence applies a command's row deltas durably. The executor talks to
// this interface so tests can inject failing stores.
type Persistence interface {
	Apply(ctx context.Context, cmd *Command) error
}

// Store is the GORM-backed persistence adapter. Each Apply runs one
// transaction; inserts are written idempotently so dead letter replays of a
// partially observed command converge instead of conflicting.
type Store struct {
	gdb   *gorm.DB
	retry db.RetryConfig
}

// NewStore creates a persistence adapter over an open GORM handle
func NewStore(gdb *gorm.DB) *Store {
	return &Store{gdb: gdb, retry: db.DefaultRetryConfig()}
}

// Apply implements Persistence
func (s *Store) Apply(ctx context.Context, cmd *Command) error {
	return db.WithRetryableTransaction(ctx, s.gdb, s.retry, func(tx *gorm.DB) error {
		switch p := cmd.Payload.(type) {
		case *CreatePrincipalPayload:
			return s.applyCreate(tx, p)
		case *UpdatePrincipalPayload:
			return s.applyUpdate(tx, p)
		case *DeletePrincipalPayload:
			return s.applyDelete(tx, p)
		case *MembershipPayload:
			if cmd.Kind == CommandRemoveUserGroup {
				return s.applyRemoveRow(tx, &models.UserGroup{}, "user_id = ? AND group_id = ?", p.UserID, p.GroupID)
			}
			return s.applyAddRow(tx, NormalizeMembership(p))
		case *UserRolePayload:
			if cmd.Kind == CommandRemoveUserRole {
				return s.applyRemoveRow(tx, &models.UserRole{}, "user_id = ? AND role_id = ?", p.UserID, p.RoleID)
			}
			return s.applyAddRow(tx, NormalizeUserRole(p))
		case *GroupRolePayload:
			if cmd.Kind == CommandDetachGroupRole {
				return s.applyRemoveRow(tx, &models.GroupRole{}, "group_id = ? AND role_id = ?", p.GroupID, p.RoleID)
			}
			return s.applyAddRow(tx, NormalizeGroupRole(p))
		case *GroupHierarchyPayload:
			if cmd.Kind == CommandRemoveGroupChild {
				return s.applyRemoveRow(tx, &models.GroupHierarchy{}, "parent_group_id = ? AND child_group_id = ?", p.ParentGroupID, p.ChildGroupID)
			}
			return s.applyAddGroupChild(tx, p)
		case *GrantPayload:
			return s.applyGrant(tx, p)
		case *RevokePayload:
			return s.applyRevoke(tx, p)
		default:
			return Unsupportedf("command %s carries unsupported payload %T", cmd.Kind, cmd.Payload)
		}
	})
}

func (s *Store) applyCreate(tx *gorm.DB, p *CreatePrincipalPayload) error {
	entity, row, err := NormalizePrincipal(p)
	if err != nil {
		return err
	}

	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entity).Error; err != nil {
		return Transientf(err, "inserting entity %d", entity.ID)
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return Transientf(err, "inserting %s %d", p.Kind, p.ID)
	}

	if p.ParentGroupID == nil {
		return nil
	}

	switch p.Kind {
	case KindUser:
		return s.applyAddRow(tx, models.UserGroup{UserID: p.ID, GroupID: *p.ParentGroupID})
	case KindGroup:
		return s.applyAddGroupChild(tx, &GroupHierarchyPayload{ParentGroupID: *p.ParentGroupID, ChildGroupID: p.ID})
	case KindRole:
		return s.applyAddRow(tx, models.GroupRole{GroupID: *p.ParentGroupID, RoleID: p.ID})
	default:
		return InvalidArgumentf("unknown principal kind %q", p.Kind)
	}
}

func (s *Store) applyUpdate(tx *gorm.DB, p *UpdatePrincipalPayload) error {
	model, err := principalModel(p.Kind)
	if err != nil {
		return err
	}
	res := tx.Model(model).Where("id = ?", p.ID).Update("name", p.Name)
	if res.Error != nil {
		return Transientf(res.Error, "renaming %s %d", p.Kind, p.ID)
	}
	if res.RowsAffected == 0 {
		return NotFoundf("%s %d not found", p.Kind, p.ID)
	}
	return nil
}

// applyDelete cascades across junctions and owned permission rows before
// removing the principal and entity rows
func (s *Store) applyDelete(tx *gorm.DB, p *DeletePrincipalPayload) error {
	entityID, err := ownerEntityID(tx, p.Kind, p.ID)
	if err != nil {
		if IsKind(err, KindNotFound) {
			// Already gone; replays converge.
			return nil
		}
		return err
	}

	switch p.Kind {
	case KindUser:
		if err := tx.Where("user_id = ?", p.ID).Delete(&models.UserGroup{}).Error; err != nil {
			return Transientf(err, "deleting memberships of user %d", p.ID)
		}
		if err := tx.Where("user_id = ?", p.ID).Delete(&models.UserRole{}).Error; err != nil {
			return Transientf(err, "deleting role assignments of user %d", p.ID)
		}
	case KindGroup:
		if err := tx.Where("group_id = ?", p.ID).Delete(&models.UserGroup{}).Error; err != nil {
			return Transientf(err, "deleting memberships of group %d", p.ID)
		}
		if err := tx.Where("group_id = ?", p.ID).Delete(&models.GroupRole{}).Error; err != nil {
			return Transientf(err, "deleting role attachments of group %d", p.ID)
		}
		if err := tx.Where("parent_group_id = ? OR child_group_id = ?", p.ID, p.ID).Delete(&models.GroupHierarchy{}).Error; err != nil {
			return Transientf(err, "deleting hierarchy edges of group %d", p.ID)
		}
	case KindRole:
		if err := tx.Where("role_id = ?", p.ID).Delete(&models.UserRole{}).Error; err != nil {
			return Transientf(err, "deleting user assignments of role %d", p.ID)
		}
		if err := tx.Where("role_id = ?", p.ID).Delete(&models.GroupRole{}).Error; err != nil {
			return Transientf(err, "deleting group attachments of role %d", p.ID)
		}
	}

	if err := deleteOwnedPermissions(tx, entityID); err != nil {
		return err
	}

	model, err := principalModel(p.Kind)
	if err != nil {
		return err
	}
	if err := tx.Where("id = ?", p.ID).Delete(model).Error; err != nil {
		return Transientf(err, "deleting %s %d", p.Kind, p.ID)
	}
	if err := tx.Where("id = ?", entityID).Delete(&models.Entity{}).Error; err != nil {
		return Transientf(err, "deleting entity %d", entityID)
	}
	return nil
}

func (s *Store) applyAddRow(tx *gorm.DB, row any) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return Transientf(err, "inserting %T", row)
	}
	return nil
}

func (s *Store) applyRemoveRow(tx *gorm.DB, model any, query string, args ...any) error {
	if err := tx.Where(query, args...).Delete(model).Error; err != nil {
		return Transientf(err, "deleting %T", model)
	}
	return nil
}

// applyAddGroupChild re-checks acyclicity inside the transaction. The graph
// already validated the edge; a cycle here means the rows diverged from the
// graph and the command must not make it worse.
func (s *Store) applyAddGroupChild(tx *gorm.DB, p *GroupHierarchyPayload) error {
	if p.ParentGroupID == p.ChildGroupID {
		return Integrityf("group %d cannot contain itself", p.ChildGroupID)
	}

	seen := map[int64]bool{p.ParentGroupID: true}
	frontier := []int64{p.ParentGroupID}
	for len(frontier) > 0 {
		var parents []int64
		if err := tx.Model(&models.GroupHierarchy{}).
			Where("child_group_id IN ?", frontier).
			Pluck("parent_group_id", &parents).Error; err != nil {
			return Transientf(err, "walking group ancestors of %d", p.ParentGroupID)
		}
		frontier = frontier[:0]
		for _, id := range parents {
			if id == p.ChildGroupID {
				return Integrityf("stored hierarchy already reaches group %d above group %d", p.ChildGroupID, p.ParentGroupID)
			}
			if !seen[id] {
				seen[id] = true
				frontier = append(frontier, id)
			}
		}
	}

	return s.applyAddRow(tx, NormalizeGroupHierarchy(p))
}

func (s *Store) applyGrant(tx *gorm.DB, p *GrantPayload) error {
	entityID, err := ownerEntityID(tx, p.OwnerKind, p.OwnerID)
	if err != nil {
		return err
	}

	ids, err := resolvePermissionRows(tx, entityID, p)
	if err != nil {
		return err
	}

	access := NormalizeGrant(p, ids)
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "resource_id"},
			{Name: "verb_type_id"},
			{Name: "permission_scheme_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"grant_flag", "deny_flag"}),
	}).Create(&access).Error
	if err != nil {
		return Transientf(err, "upserting uri access for entity %d", entityID)
	}
	return nil
}

func (s *Store) applyRevoke(tx *gorm.DB, p *RevokePayload) error {
	entityID, err := ownerEntityID(tx, p.OwnerKind, p.OwnerID)
	if err != nil {
		return err
	}

	var resourceIDs []int64
	if err := tx.Model(&models.Resource{}).
		Where("uri = ? AND is_active = ?", p.URIPattern, true).
		Pluck("id", &resourceIDs).Error; err != nil {
		return Transientf(err, "resolving resource %q", p.URIPattern)
	}
	var verbIDs []int64
	if err := tx.Model(&models.VerbType{}).
		Where("verb_name = ?", string(p.Verb)).
		Pluck("id", &verbIDs).Error; err != nil {
		return Transientf(err, "resolving verb %q", p.Verb)
	}
	var schemeIDs []int64
	if err := tx.Model(&models.PermissionScheme{}).
		Where("entity_id = ?", entityID).
		Pluck("id", &schemeIDs).Error; err != nil {
		return Transientf(err, "resolving permission schemes of entity %d", entityID)
	}
	if len(resourceIDs) == 0 || len(verbIDs) == 0 || len(schemeIDs) == 0 {
		// Nothing stored; replays converge.
		return nil
	}

	if err := tx.Where(
		"resource_id IN ? AND verb_type_id IN ? AND permission_scheme_id IN ?",
		resourceIDs, verbIDs, schemeIDs,
	).Delete(&models.URIAccess{}).Error; err != nil {
		return Transientf(err, "deleting uri access for entity %d", entityID)
	}
	return nil
}

// resolvePermissionRows finds or creates the resource, verb, scheme type,
// and permission scheme rows a grant hangs off
func resolvePermissionRows(tx *gorm.DB, entityID int64, p *GrantPayload) (permissionRowIDs, error) {
	var ids permissionRowIDs

	var resource models.Resource
	err := tx.Where("uri = ? AND is_active = ?", p.URIPattern, true).First(&resource).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		resource = models.Resource{
			URI:          p.URIPattern,
			ResourceType: "uri",
			Version:      1,
			IsActive:     true,
		}
		err = tx.Create(&resource).Error
	}
	if err != nil {
		return ids, Transientf(err, "resolving resource %q", p.URIPattern)
	}
	ids.ResourceID = resource.ID

	verb := models.VerbType{VerbName: string(p.Verb)}
	if err := tx.Where("verb_name = ?", verb.VerbName).FirstOrCreate(&verb).Error; err != nil {
		return ids, Transientf(err, "resolving verb %q", p.Verb)
	}
	ids.VerbTypeID = verb.ID

	schemeType := models.SchemeType{SchemeName: SchemeNameOrDefault(p.Scheme)}
	if err := tx.Where("scheme_name = ?", schemeType.SchemeName).FirstOrCreate(&schemeType).Error; err != nil {
		return ids, Transientf(err, "resolving scheme %q", schemeType.SchemeName)
	}
	ids.SchemeTypeID = schemeType.ID

	scheme := models.PermissionScheme{EntityID: entityID, SchemeTypeID: schemeType.ID, Grant: !p.Deny}
	if err := tx.Where("entity_id = ? AND scheme_type_id = ?", entityID, schemeType.ID).FirstOrCreate(&scheme).Error; err != nil {
		return ids, Transientf(err, "resolving permission scheme of entity %d", entityID)
	}
	// An existing scheme row keeps the flag of its first grant; a later
	// grant that flips grant/deny must carry the row with it.
	if scheme.Grant == p.Deny {
		if err := tx.Model(&models.PermissionScheme{}).
			Where("id = ?", scheme.ID).
			Update("grant_flag", !p.Deny).Error; err != nil {
			return ids, Transientf(err, "updating permission scheme %d", scheme.ID)
		}
	}
	ids.PermissionSchemeID = scheme.ID

	return ids, nil
}

func deleteOwnedPermissions(tx *gorm.DB, entityID int64) error {
	var schemeIDs []int64
	if err := tx.Model(&models.PermissionScheme{}).
		Where("entity_id = ?", entityID).
		Pluck("id", &schemeIDs).Error; err != nil {
		return Transientf(err, "resolving permission schemes of entity %d", entityID)
	}
	if len(schemeIDs) == 0 {
		return nil
	}
	if err := tx.Where("permission_scheme_id IN ?", schemeIDs).Delete(&models.URIAccess{}).Error; err != nil {
		return Transientf(err, "deleting uri accesses of entity %d", entityID)
	}
	if err := tx.Where("id IN ?", schemeIDs).Delete(&models.PermissionScheme{}).Error; err != nil {
		return Transientf(err, "deleting permission schemes of entity %d", entityID)
	}
	slogging.Get().Debug("Deleted %d permission schemes for entity %d", len(schemeIDs), entityID)
	return nil
}

func principalModel(kind PrincipalKind) (any, error) {
	switch kind {
	case KindUser:
		return &models.User{}, nil
	case KindGroup:
		return &models.Group{}, nil
	case KindRole:
		return &models.Role{}, nil
	default:
		return nil, InvalidArgumentf("unknown principal kind %q", kind)
	}
}

func ownerEntityID(tx *gorm.DB, kind PrincipalKind, id int64) (int64, error) {
	model, err := principalModel(kind)
	if err != nil {
		return 0, err
	}
	var rows []int64
	if err := tx.Model(model).Where("id = ?", id).Limit(1).Pluck("entity_id", &rows).Error; err != nil {
		return 0, Transientf(err, "resolving entity of %s %d", kind, id)
	}
	if len(rows) == 0 {
		return 0, NotFoundf("%s %d not found", kind, id)
	}
	return rows[0], nil
}
