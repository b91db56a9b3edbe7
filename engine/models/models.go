// Package models defines GORM models for the ACS relational mirror.
// These models support PostgreSQL, MySQL, SQL Server, and SQLite through
// GORM's dialect abstraction. Entity ids are assigned by the engine, never
// by the database, so the in-memory graph stays authoritative.
package models

import (
	"time"
)

// Entity is the polymorphic backing row shared by users, groups, and roles
type Entity struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	EntityType string    `gorm:"column:entity_type;type:varchar(16);not null;index"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName specifies the table name for Entity
func (Entity) TableName() string {
	return "entities"
}

// User represents a user principal row
type User struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	EntityID int64  `gorm:"column:entity_id;not null;uniqueIndex"`
	Name     string `gorm:"column:name;type:varchar(255);not null"`

	Entity Entity `gorm:"foreignKey:EntityID;references:ID"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// Group represents a group principal row
type Group struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	EntityID int64  `gorm:"column:entity_id;not null;uniqueIndex"`
	Name     string `gorm:"column:name;type:varchar(255);not null"`

	Entity Entity `gorm:"foreignKey:EntityID;references:ID"`
}

// TableName specifies the table name for Group
func (Group) TableName() string {
	return "groups"
}

// Role represents a role principal row
type Role struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	EntityID int64  `gorm:"column:entity_id;not null;uniqueIndex"`
	Name     string `gorm:"column:name;type:varchar(255);not null"`

	Entity Entity `gorm:"foreignKey:EntityID;references:ID"`
}

// TableName specifies the table name for Role
func (Role) TableName() string {
	return "roles"
}

// UserGroup is the user-to-group membership junction row
type UserGroup struct {
	UserID  int64 `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	GroupID int64 `gorm:"column:group_id;primaryKey;autoIncrement:false"`
}

// TableName specifies the table name for UserGroup
func (UserGroup) TableName() string {
	return "user_groups"
}

// UserRole is the user-to-role assignment junction row
type UserRole struct {
	UserID int64 `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	RoleID int64 `gorm:"column:role_id;primaryKey;autoIncrement:false"`
}

// TableName specifies the table name for UserRole
func (UserRole) TableName() string {
	return "user_roles"
}

// GroupRole is the group-to-role attachment junction row
type GroupRole struct {
	GroupID int64 `gorm:"column:group_id;primaryKey;autoIncrement:false"`
	RoleID  int64 `gorm:"column:role_id;primaryKey;autoIncrement:false"`
}

// TableName specifies the table name for GroupRole
func (GroupRole) TableName() string {
	return "group_roles"
}

// GroupHierarchy is the parent-to-child group junction row; the closure is acyclic
type GroupHierarchy struct {
	ParentGroupID int64 `gorm:"column:parent_group_id;primaryKey;autoIncrement:false"`
	ChildGroupID  int64 `gorm:"column:child_group_id;primaryKey;autoIncrement:false"`
}

// TableName specifies the table name for GroupHierarchy
func (GroupHierarchy) TableName() string {
	return "group_hierarchies"
}

// Resource represents a protected URI template
type Resource struct {
	ID               int64     `gorm:"column:id;primaryKey"`
	URI              string    `gorm:"column:uri;type:varchar(1024);not null;index"`
	Description      string    `gorm:"column:description;type:text"`
	ResourceType     string    `gorm:"column:resource_type;type:varchar(64);not null"`
	Version          int       `gorm:"column:version;not null;default:1"`
	ParentResourceID *int64    `gorm:"column:parent_resource_id"`
	IsActive         bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName specifies the table name for Resource
func (Resource) TableName() string {
	return "resources"
}

// VerbType represents an HTTP verb lookup row
type VerbType struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	VerbName string `gorm:"column:verb_name;type:varchar(16);not null;uniqueIndex"`
}

// TableName specifies the table name for VerbType
func (VerbType) TableName() string {
	return "verb_types"
}

// SchemeType represents a permission scheme kind lookup row
type SchemeType struct {
	ID         int64  `gorm:"column:id;primaryKey"`
	SchemeName string `gorm:"column:scheme_name;type:varchar(64);not null;uniqueIndex"`
}

// TableName specifies the table name for SchemeType
func (SchemeType) TableName() string {
	return "scheme_types"
}

// PermissionScheme binds an entity to a scheme type with an overall grant flag
type PermissionScheme struct {
	ID           int64  `gorm:"column:id;primaryKey"`
	EntityID     int64  `gorm:"column:entity_id;not null;index"`
	SchemeTypeID int64  `gorm:"column:scheme_type_id;not null"`
	URIAccessID  *int64 `gorm:"column:uri_access_id"`
	Grant        bool   `gorm:"column:grant_flag;not null;default:false"`
}

// TableName specifies the table name for PermissionScheme
func (PermissionScheme) TableName() string {
	return "permission_schemes"
}

// URIAccess joins a permission scheme to a resource and verb;
// (resource, verb, scheme) is unique
type URIAccess struct {
	ID                 int64 `gorm:"column:id;primaryKey;autoIncrement:false"`
	ResourceID         int64 `gorm:"column:resource_id;not null;uniqueIndex:idx_uri_access_rvs"`
	VerbTypeID         int64 `gorm:"column:verb_type_id;not null;uniqueIndex:idx_uri_access_rvs"`
	PermissionSchemeID int64 `gorm:"column:permission_scheme_id;not null;uniqueIndex:idx_uri_access_rvs"`
	Grant              bool  `gorm:"column:grant_flag;not null;default:false"`
	Deny               bool  `gorm:"column:deny_flag;not null;default:false"`
}

// TableName specifies the table name for URIAccess
func (URIAccess) TableName() string {
	return "uri_accesses"
}

// AuditLog is an append-only record of a command outcome.
// Fields are immutable once written; ChangeDetails is a JSON payload and
// ContentHash is the SHA-256 over the canonical field concatenation.
type AuditLog struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	EntityType    string    `gorm:"column:entity_type;type:varchar(32);not null"`
	EntityID      int64     `gorm:"column:entity_id;not null;index"`
	ChangeType    string    `gorm:"column:change_type;type:varchar(16);not null"`
	ChangedBy     string    `gorm:"column:changed_by;type:varchar(255);not null"`
	ChangeDate    time.Time `gorm:"column:change_date;not null"`
	ChangeDetails string    `gorm:"column:change_details;type:text"`
	ContentHash   string    `gorm:"column:content_hash;type:varchar(64);not null"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}

// DataArchiveLog records a completed archive run
type DataArchiveLog struct {
	ArchiveID       string    `gorm:"column:archive_id;primaryKey;type:varchar(36)"`
	ArchiveType     string    `gorm:"column:archive_type;type:varchar(32);not null"`
	ArchiveDate     time.Time `gorm:"column:archive_date;not null"`
	RecordsArchived int64     `gorm:"column:records_archived;not null"`
	ArchiveSize     int64     `gorm:"column:archive_size;not null"`
	ArchivePath     string    `gorm:"column:archive_path;type:varchar(1024);not null"`
	Status          string    `gorm:"column:status;type:varchar(16);not null"`
	CreatedBy       string    `gorm:"column:created_by;type:varchar(255);not null"`
	Metadata        string    `gorm:"column:metadata;type:text"`
}

// TableName specifies the table name for DataArchiveLog
func (DataArchiveLog) TableName() string {
	return "data_archive_log"
}

// DeadLetter stores a command envelope whose persistence exhausted retries
type DeadLetter struct {
	ID           string     `gorm:"column:id;primaryKey;type:varchar(36)"`
	CommandKind  string     `gorm:"column:command_kind;type:varchar(64);not null"`
	Payload      string     `gorm:"column:payload;type:text;not null"`
	Actor        string     `gorm:"column:actor;type:varchar(255);not null"`
	LastError    string     `gorm:"column:last_error;type:text;not null"`
	Attempts     int        `gorm:"column:attempts;not null"`
	FailureCount int        `gorm:"column:failure_count;not null;default:0"`
	Status       string     `gorm:"column:status;type:varchar(16);not null;index"`
	EnqueuedAt   time.Time  `gorm:"column:enqueued_at;not null"`
	LastTriedAt  *time.Time `gorm:"column:last_tried_at"`
}

// TableName specifies the table name for DeadLetter
func (DeadLetter) TableName() string {
	return "dead_letters"
}

// All returns every model for auto-migration
func All() []interface{} {
	return []interface{}{
		&Entity{},
		&User{},
		&Group{},
		&Role{},
		&UserGroup{},
		&UserRole{},
		&GroupRole{},
		&GroupHierarchy{},
		&Resource{},
		&VerbType{},
		&SchemeType{},
		&PermissionScheme{},
		&URIAccess{},
		&AuditLog{},
		&DataArchiveLog{},
		&DeadLetter{},
	}
}
