// Package roles manages the per-role tab permission templates.
package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/clmc/procurement/internal/apperr"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/store"
)

func grants(pairs map[model.Tab]model.TabGrant) model.RolePermissions {
	tabs := make(map[model.Tab]model.TabGrant, len(model.Tabs))
	for _, tab := range model.Tabs {
		tabs[tab] = pairs[tab]
	}
	return model.RolePermissions{Tabs: tabs}
}

var (
	full = model.TabGrant{Access: true, Edit: true}
	view = model.TabGrant{Access: true}
)

// Defaults are the templates seeded on first boot.
func Defaults() map[model.Role]model.RolePermissions {
	all := map[model.Tab]model.TabGrant{}
	for _, tab := range model.Tabs {
		all[tab] = full
	}
	return map[model.Role]model.RolePermissions{
		model.RoleSuperAdmin: grants(all),
		model.RoleOperationsAdmin: grants(map[model.Tab]model.TabGrant{
			model.TabDashboard: view, model.TabMRFForm: full, model.TabProcurement: view,
			model.TabProjects: full, model.TabClients: full,
		}),
		model.RoleOperationsUser: grants(map[model.Tab]model.TabGrant{
			model.TabDashboard: view, model.TabMRFForm: full, model.TabProjects: view,
		}),
		model.RoleFinance: grants(map[model.Tab]model.TabGrant{
			model.TabDashboard: view, model.TabFinance: full, model.TabProjects: view,
			model.TabProcurement: view,
		}),
		model.RoleProcurement: grants(map[model.Tab]model.TabGrant{
			model.TabDashboard: view, model.TabMRFForm: view, model.TabProcurement: full,
			model.TabProjects: view,
		}),
	}
}

// Store is the template persistence used here.
type Store interface {
	GetRoleTemplate(ctx context.Context, role model.Role) (*model.RoleTemplate, error)
	ListRoleTemplates(ctx context.Context) ([]model.RoleTemplate, error)
	SaveRoleTemplate(ctx context.Context, rt *model.RoleTemplate) error
}

// EnsureTemplates inserts the default template of every role that has none.
// Existing templates are left alone. It returns the roles it created.
func EnsureTemplates(ctx context.Context, st Store) ([]model.Role, error) {
	var created []model.Role
	defaults := Defaults()
	for _, role := range model.Roles {
		_, err := st.GetRoleTemplate(ctx, role)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return created, err
		}
		if err := st.SaveRoleTemplate(ctx, &model.RoleTemplate{Role: role, Permissions: defaults[role]}); err != nil {
			return created, fmt.Errorf("seed %s template: %w", role, err)
		}
		created = append(created, role)
	}
	return created, nil
}

// Service edits templates from the permission matrix.
type Service struct {
	store Store
}

// NewService creates a Service.
func NewService(st Store) *Service { return &Service{store: st} }

// List returns every template.
func (s *Service) List(ctx context.Context) ([]model.RoleTemplate, error) {
	return s.store.ListRoleTemplates(ctx)
}

// Update sets the given tabs of role's template. Tabs not mentioned keep
// their current value. Edit without access is normalised to no edit.
func (s *Service) Update(ctx context.Context, caller *model.User, role model.Role, tabs map[model.Tab]model.TabGrant) (*model.RoleTemplate, error) {
	if caller.Role != model.RoleSuperAdmin {
		return nil, apperr.ErrForbidden
	}
	if !role.Valid() {
		return nil, apperr.Invalid("role", "is not a known role")
	}
	rt, err := s.store.GetRoleTemplate(ctx, role)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rt = &model.RoleTemplate{Role: role}
	case err != nil:
		return nil, err
	}
	if rt.Permissions.Tabs == nil {
		rt.Permissions.Tabs = map[model.Tab]model.TabGrant{}
	}
	for tab, g := range tabs {
		if err := apperr.Validate.Var(string(tab), "tab"); err != nil {
			return nil, apperr.Invalid("tabs."+string(tab), "is not a known tab")
		}
		if !g.Access {
			g.Edit = false
		}
		rt.Permissions.Tabs[tab] = g
	}
	if role == model.RoleSuperAdmin && !rt.Permissions.Tabs[model.TabAdmin].Access {
		return nil, apperr.Invalid("tabs.admin", "super_admin cannot lose admin access")
	}
	if err := s.store.SaveRoleTemplate(ctx, rt); err != nil {
		return nil, err
	}
	return rt, nil
}
