package engine

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// ResourceRegistry mirrors the resources table in memory. At most one active
// version exists per URI; registering a URI again supersedes the previous
// version instead of mutating it.
type ResourceRegistry struct {
	mu       sync.RWMutex
	byID     map[int64]*models.Resource
	activeID map[string]int64

	gdb *gorm.DB
}

// NewResourceRegistry creates an empty registry over the given store
func NewResourceRegistry(gdb *gorm.DB) *ResourceRegistry {
	return &ResourceRegistry{
		byID:     make(map[int64]*models.Resource),
		activeID: make(map[string]int64),
		gdb:      gdb,
	}
}

// Load populates the registry from the resources table
func (r *ResourceRegistry) Load(ctx context.Context) error {
	var rows []models.Resource
	if err := r.gdb.WithContext(ctx).Find(&rows).Error; err != nil {
		return Transientf(err, "loading resources")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[int64]*models.Resource, len(rows))
	r.activeID = make(map[string]int64)
	for i := range rows {
		row := rows[i]
		r.byID[row.ID] = &row
		if row.IsActive {
			r.activeID[row.URI] = row.ID
		}
	}

	slogging.Get().Info("Resource registry loaded %d resources (%d active)", len(r.byID), len(r.activeID))
	return nil
}

// Register creates a new active version of a URI template, superseding any
// existing active version in the same transaction
func (r *ResourceRegistry) Register(ctx context.Context, uri, description, resourceType string, parentID *int64) (*models.Resource, error) {
	if uri == "" {
		return nil, InvalidArgumentf("resource uri must not be empty")
	}
	if _, err := CompileURIPattern(uri); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	version := 1
	var supersededID int64
	if prevID, ok := r.activeID[uri]; ok {
		version = r.byID[prevID].Version + 1
		supersededID = prevID
	}

	row := models.Resource{
		URI:              uri,
		Description:      description,
		ResourceType:     resourceType,
		Version:          version,
		ParentResourceID: parentID,
		IsActive:         true,
	}

	err := r.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if supersededID != 0 {
			if err := tx.Model(&models.Resource{}).Where("id = ?", supersededID).Update("is_active", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, Transientf(err, "registering resource %q", uri)
	}

	if supersededID != 0 {
		r.byID[supersededID].IsActive = false
	}
	r.byID[row.ID] = &row
	r.activeID[uri] = row.ID

	slogging.Get().Info("Registered resource %d %q version %d", row.ID, uri, version)
	return &row, nil
}

// Deactivate retires a resource version without replacing it
func (r *ResourceRegistry) Deactivate(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.byID[id]
	if !ok {
		return NotFoundf("resource %d not found", id)
	}
	if !row.IsActive {
		return nil
	}

	if err := r.gdb.WithContext(ctx).Model(&models.Resource{}).Where("id = ?", id).Update("is_active", false).Error; err != nil {
		return Transientf(err, "deactivating resource %d", id)
	}
	row.IsActive = false
	delete(r.activeID, row.URI)
	return nil
}

// ResourceURI implements ResourceResolver for active and retired versions
func (r *ResourceRegistry) ResourceURI(id int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return row.URI, true
}

// Get returns a copy of a resource row
func (r *ResourceRegistry) Get(id int64) (*models.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.byID[id]
	if !ok {
		return nil, NotFoundf("resource %d not found", id)
	}
	cp := *row
	return &cp, nil
}

// Match finds the active resource whose template most specifically matches
// the concrete URI
func (r *ResourceRegistry) Match(uri string) (*models.Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bestRow *models.Resource
	var bestPattern *URIPattern
	for templateURI, id := range r.activeID {
		pattern, err := CompileURIPattern(templateURI)
		if err != nil {
			continue
		}
		if ok, _ := pattern.Match(uri); !ok {
			continue
		}
		if bestPattern == nil || pattern.MoreSpecificThan(bestPattern) {
			bestPattern = pattern
			bestRow = r.byID[id]
		}
	}
	if bestRow == nil {
		return nil, false
	}
	cp := *bestRow
	return &cp, true
}

// Active returns copies of all active resources
func (r *ResourceRegistry) Active() []models.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Resource, 0, len(r.activeID))
	for _, id := range r.activeID {
		out = append(out, *r.byID[id])
	}
	return out
}
