package rbac

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// GrantAll in a role definition expands to every non-deprecated permission
const GrantAll = "*"

// CatalogDefinition is the provisioning source for permissions and system roles
type CatalogDefinition struct {
	Permissions []Permission     `yaml:"permissions"`
	Roles       []RoleDefinition `yaml:"roles"`
}

// RoleDefinition describes a system role to seed
type RoleDefinition struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// DefaultCatalogDefinition returns the embedded catalog
func DefaultCatalogDefinition() (*CatalogDefinition, error) {
	return ParseCatalogDefinition(defaultCatalogYAML)
}

// LoadCatalogDefinition reads a catalog file, falling back to the embedded one when path is empty
func LoadCatalogDefinition(path string) (*CatalogDefinition, error) {
	if path == "" {
		return DefaultCatalogDefinition()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalogDefinition(data)
}

// ParseCatalogDefinition decodes and validates a YAML catalog
func ParseCatalogDefinition(data []byte) (*CatalogDefinition, error) {
	var def CatalogDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks key format, categories, uniqueness and role references
func (d *CatalogDefinition) Validate() error {
	keys := make(map[string]struct{}, len(d.Permissions))
	for i, p := range d.Permissions {
		if !p.Category.Valid() {
			return invalid(fmt.Sprintf("permissions[%d].category", i), "unknown category %q", p.Category)
		}
		if !strings.HasPrefix(p.Key, string(p.Category)+".") || len(p.Key) == len(p.Category)+1 {
			return invalid(fmt.Sprintf("permissions[%d].key", i), "key %q must be <category>.<action>", p.Key)
		}
		if p.DisplayName == "" {
			return invalid(fmt.Sprintf("permissions[%d].display_name", i), "is required")
		}
		if _, dup := keys[p.Key]; dup {
			return invalid(fmt.Sprintf("permissions[%d].key", i), "duplicate key %q", p.Key)
		}
		keys[p.Key] = struct{}{}
	}

	names := make(map[string]struct{}, len(d.Roles))
	for i, r := range d.Roles {
		if !roleNamePattern.MatchString(r.Name) {
			return invalid(fmt.Sprintf("roles[%d].name", i), "invalid role name %q", r.Name)
		}
		if _, dup := names[r.Name]; dup {
			return invalid(fmt.Sprintf("roles[%d].name", i), "duplicate role %q", r.Name)
		}
		names[r.Name] = struct{}{}
		for _, key := range r.Permissions {
			if key == GrantAll {
				continue
			}
			if _, ok := keys[key]; !ok {
				return invalid(fmt.Sprintf("roles[%d].permissions", i), "unknown permission %q", key)
			}
		}
	}
	return nil
}

// expandRole resolves GrantAll into the definition's active keys
func (d *CatalogDefinition) expandRole(r RoleDefinition) []string {
	for _, key := range r.Permissions {
		if key == GrantAll {
			all := make([]string, 0, len(d.Permissions))
			for _, p := range d.Permissions {
				if !p.Deprecated {
					all = append(all, p.Key)
				}
			}
			return uniqueSorted(all)
		}
	}
	return uniqueSorted(r.Permissions)
}

// PermissionCatalog is an immutable snapshot of the permission catalog
type PermissionCatalog struct {
	byKey   map[string]Permission
	ordered []Permission
}

// NewPermissionCatalog builds a snapshot; the input slice is copied
func NewPermissionCatalog(perms []Permission) *PermissionCatalog {
	ordered := make([]Permission, len(perms))
	copy(ordered, perms)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })

	byKey := make(map[string]Permission, len(ordered))
	for _, p := range ordered {
		byKey[p.Key] = p
	}
	return &PermissionCatalog{byKey: byKey, ordered: ordered}
}

// List returns every permission, deprecated ones included, ordered by key
func (c *PermissionCatalog) List() []Permission {
	out := make([]Permission, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ListByCategory returns the permissions of one category
func (c *PermissionCatalog) ListByCategory(category Category) ([]Permission, error) {
	if !category.Valid() {
		return nil, invalid("category", "unknown category %q", category)
	}
	out := make([]Permission, 0)
	for _, p := range c.ordered {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

// Exists reports whether key is in the catalog
func (c *PermissionCatalog) Exists(key string) bool {
	_, ok := c.byKey[key]
	return ok
}

// Get looks up a key; unknown keys are NotFound, never a fallback
func (c *PermissionCatalog) Get(key string) (Permission, error) {
	p, ok := c.byKey[key]
	if !ok {
		return Permission{}, notFound("permission", key)
	}
	return p, nil
}

// Len returns the number of catalog entries
func (c *PermissionCatalog) Len() int {
	return len(c.ordered)
}

// PermissionLister loads the permission catalog from its source of truth
type PermissionLister interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// CatalogCache is a read-through cache of the permission catalog
type CatalogCache struct {
	source  PermissionLister
	current atomic.Pointer[PermissionCatalog]
	loadMu  sync.Mutex
}

// NewCatalogCache creates a cache over source
func NewCatalogCache(source PermissionLister) *CatalogCache {
	return &CatalogCache{source: source}
}

// Get returns the current snapshot, loading it when absent
func (c *CatalogCache) Get(ctx context.Context) (*PermissionCatalog, error) {
	if snap := c.current.Load(); snap != nil {
		return snap, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if snap := c.current.Load(); snap != nil {
		return snap, nil
	}
	return c.load(ctx)
}

// Reload replaces the snapshot with a fresh copy from the source
func (c *CatalogCache) Reload(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	_, err := c.load(ctx)
	return err
}

// Invalidate drops the snapshot; the next Get reloads
func (c *CatalogCache) Invalidate() {
	c.current.Store(nil)
}

func (c *CatalogCache) load(ctx context.Context) (*PermissionCatalog, error) {
	perms, err := c.source.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission catalog: %w", err)
	}
	snap := NewPermissionCatalog(perms)
	c.current.Store(snap)
	return snap, nil
}
