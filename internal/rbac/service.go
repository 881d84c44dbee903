package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"orbistack.org/internal/obs"
)

var (
	ErrNotFound     = errors.New("rbac: not found")
	ErrInvalidInput = errors.New("rbac: invalid input")
	ErrSystemRole   = errors.New("rbac: system role is immutable")
	ErrRoleInUse    = errors.New("rbac: role still assigned to users")
)

// reservedNames are the built-in role names custom roles may not shadow.
var reservedNames = map[string]struct{}{
	string(RoleAdmin):    {},
	string(RoleOperator): {},
	string(RoleViewer):   {},
}

// Filter narrows role listings.
type Filter struct {
	Type RoleType
	Name string
}

// Repository describes persistence operations required by the role service.
type Repository interface {
	Create(ctx context.Context, role *CustomRole) (*CustomRole, error)
	Get(ctx context.Context, id string) (*CustomRole, error)
	GetByName(ctx context.Context, name string) (*CustomRole, error)
	List(ctx context.Context, filter Filter) ([]*CustomRole, error)
	Update(ctx context.Context, role *CustomRole) (*CustomRole, error)
	Delete(ctx context.Context, id string) error
	AssignToUser(ctx context.Context, userID, roleID, assignedBy string) error
	RemoveFromUser(ctx context.Context, userID, roleID string) error
	GetUserRoles(ctx context.Context, userID string) ([]*CustomRole, error)
}

// Service aggregates a principal's effective permissions and manages the
// custom role lifecycle.
type Service struct {
	repo Repository
}

// NewService constructs the role service.
func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, errors.New("rbac: repository is required")
	}
	return &Service{repo: repo}, nil
}

// CreateRole creates a custom role after validating its name and permissions.
func (s *Service) CreateRole(ctx context.Context, name, description string, permissions []Permission) (*CustomRole, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, reserved := reservedNames[strings.ToLower(name)]; reserved {
		return nil, fmt.Errorf("%w: %q is a reserved role name", ErrInvalidInput, name)
	}
	if err := validatePermissions(permissions); err != nil {
		return nil, err
	}

	role := &CustomRole{
		Name:        name,
		Description: strings.TrimSpace(description),
		Type:        RoleTypeCustom,
		Permissions: permissions,
	}
	created, err := s.repo.Create(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	obs.Info("role created", map[string]any{"role_id": created.ID, "name": created.Name})
	return created, nil
}

// GetRole retrieves a role by ID.
func (s *Service) GetRole(ctx context.Context, id string) (*CustomRole, error) {
	return s.repo.Get(ctx, id)
}

// GetRoleByName retrieves a role by its unique name.
func (s *Service) GetRoleByName(ctx context.Context, name string) (*CustomRole, error) {
	return s.repo.GetByName(ctx, name)
}

// ListRoles returns roles matching the filter.
func (s *Service) ListRoles(ctx context.Context, filter Filter) ([]*CustomRole, error) {
	return s.repo.List(ctx, filter)
}

// UpdateRole replaces the name, description and permission set of a custom
// role. System roles cannot be updated.
func (s *Service) UpdateRole(ctx context.Context, id, name, description string, permissions []Permission) (*CustomRole, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsSystem() {
		return nil, ErrSystemRole
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, reserved := reservedNames[strings.ToLower(name)]; reserved {
		return nil, fmt.Errorf("%w: %q is a reserved role name", ErrInvalidInput, name)
	}
	if err := validatePermissions(permissions); err != nil {
		return nil, err
	}

	existing.Name = name
	existing.Description = strings.TrimSpace(description)
	existing.Permissions = permissions

	updated, err := s.repo.Update(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	obs.Info("role updated", map[string]any{"role_id": id})
	return updated, nil
}

// DeleteRole removes a custom role. The role must not be a system role and
// must have no remaining assignments.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem() {
		return ErrSystemRole
	}
	if existing.UserCount > 0 {
		return fmt.Errorf("%w: %d users assigned", ErrRoleInUse, existing.UserCount)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	obs.Info("role deleted", map[string]any{"role_id": id})
	return nil
}

// AssignRoleToUser grants a role to a user.
func (s *Service) AssignRoleToUser(ctx context.Context, userID, roleID, assignedBy string) error {
	if _, err := s.repo.Get(ctx, roleID); err != nil {
		return fmt.Errorf("role lookup: %w", err)
	}
	if err := s.repo.AssignToUser(ctx, userID, roleID, assignedBy); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RemoveRoleFromUser revokes a role from a user.
func (s *Service) RemoveRoleFromUser(ctx context.Context, userID, roleID string) error {
	if err := s.repo.RemoveFromUser(ctx, userID, roleID); err != nil {
		return fmt.Errorf("remove role: %w", err)
	}
	return nil
}

// GetUserRoles returns all roles assigned to the user.
func (s *Service) GetUserRoles(ctx context.Context, userID string) ([]*CustomRole, error) {
	return s.repo.GetUserRoles(ctx, userID)
}

// Permissions returns the union of permissions across the user's roles.
// Duplicate grants collapse; the result is sorted for deterministic output.
func (s *Service) Permissions(ctx context.Context, userID string) ([]Permission, error) {
	roles, err := s.repo.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[Permission]struct{})
	for _, role := range roles {
		for _, perm := range role.Permissions {
			set[perm] = struct{}{}
		}
	}
	perms := make([]Permission, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms, nil
}

// HasPermission reports whether the user's aggregated permission set contains
// the permission.
func (s *Service) HasPermission(ctx context.Context, userID string, perm Permission) (bool, error) {
	perms, err := s.Permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

// AllPermissions returns the full permission catalog.
func (s *Service) AllPermissions() []Permission {
	out := make([]Permission, len(Catalog))
	copy(out, Catalog)
	return out
}

func validatePermissions(permissions []Permission) error {
	known := make(map[Permission]struct{}, len(Catalog))
	for _, p := range Catalog {
		known[p] = struct{}{}
	}
	for _, perm := range permissions {
		if _, ok := known[perm]; !ok {
			return fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, perm)
		}
	}
	return nil
}
