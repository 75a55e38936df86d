package store

import (
	"context"
	"fmt"
	"time"

	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/personnel"
	"gorm.io/gorm"
)

// ProjectFilter narrows ListProjects. Zero values do not filter.
type ProjectFilter struct {
	Codes         []string // IN predicate; a non-nil empty slice matches nothing
	ClientCode    string
	Active        *bool
	CreatedAfter  time.Time
	CreatedBefore time.Time
	CodePrefix    string
}

// CreateProject inserts p. A non-empty project code must be unique.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if p.ProjectCode != "" {
			var n int64
			if err := tx.Model(&model.Project{}).Where("project_code = ?", p.ProjectCode).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrConflict
			}
		}
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		// active has a column default, so GORM omits a false value on insert.
		if !p.Active {
			return tx.Model(p).Update("active", false).Error
		}
		return nil
	})
	if err != nil {
		return wrap(err, "create project")
	}
	s.publish(ctx, events.TopicProjects, p.ID, p)
	return nil
}

// GetProject is a point read by primary key.
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, wrap(err, "get project")
	}
	return &p, nil
}

// GetProjectByCode is a point read by project code.
func (s *Store) GetProjectByCode(ctx context.Context, code string) (*model.Project, error) {
	if code == "" {
		return nil, fmt.Errorf("get project: empty code: %w", ErrNotFound)
	}
	var p model.Project
	if err := s.db.WithContext(ctx).Where("project_code = ?", code).First(&p).Error; err != nil {
		return nil, wrap(err, "get project by code")
	}
	return &p, nil
}

// ListProjects runs a filtered query ordered newest first.
func (s *Store) ListProjects(ctx context.Context, f ProjectFilter) ([]model.Project, error) {
	q := s.db.WithContext(ctx).Model(&model.Project{})
	if f.Codes != nil {
		if len(f.Codes) == 0 {
			return []model.Project{}, nil
		}
		q = q.Where("project_code IN ?", f.Codes)
	}
	if f.ClientCode != "" {
		q = q.Where("client_code = ?", f.ClientCode)
	}
	if f.Active != nil {
		q = q.Where("active = ?", *f.Active)
	}
	if !f.CreatedAfter.IsZero() {
		q = q.Where("created_at >= ?", f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", f.CreatedBefore)
	}
	if f.CodePrefix != "" {
		q = q.Where("project_code LIKE ?", f.CodePrefix+"%")
	}
	var out []model.Project
	if err := q.Order("created_at desc").Find(&out).Error; err != nil {
		return nil, wrap(err, "list projects")
	}
	return out, nil
}

// UpdateProjectFields applies column updates to one project and returns the
// stored result.
func (s *Store) UpdateProjectFields(ctx context.Context, id string, fields map[string]any) (*model.Project, error) {
	var out model.Project
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where("id = ?", id).First(&out).Error; err != nil {
			return err
		}
		fields["updated_at"] = s.now()
		if err := tx.Model(&out).Updates(fields).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, wrap(err, "update project")
	}
	s.publish(ctx, events.TopicProjects, out.ID, &out)
	return &out, nil
}

// AddPersonnel atomically appends a member to the project's personnel list.
// The list is read in whatever legacy shape it is stored in and written back
// in the array shape. Adding an existing member reports changed=false.
func (s *Store) AddPersonnel(ctx context.Context, projectCode string, m personnel.Member) (*model.Project, bool, error) {
	return s.mutatePersonnel(ctx, projectCode, func(cur personnel.Personnel) personnel.Personnel {
		return cur.With(m.UserID, m.Name)
	})
}

// RemovePersonnel atomically removes a member. Removing an absent member is
// a no-op and reports changed=false.
func (s *Store) RemovePersonnel(ctx context.Context, projectCode string, m personnel.Member) (*model.Project, bool, error) {
	return s.mutatePersonnel(ctx, projectCode, func(cur personnel.Personnel) personnel.Personnel {
		return cur.Without(m.UserID, m.Name)
	})
}

func (s *Store) mutatePersonnel(ctx context.Context, projectCode string, fn func(personnel.Personnel) personnel.Personnel) (*model.Project, bool, error) {
	if projectCode == "" {
		return nil, false, fmt.Errorf("update personnel: empty project code: %w", ErrNotFound)
	}
	var (
		out     model.Project
		changed bool
	)
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where("project_code = ?", projectCode).First(&out).Error; err != nil {
			return err
		}
		cur := personnel.Normalize(&out)
		next := fn(cur)
		legacy := out.PersonnelUserID != nil || out.PersonnelName != nil || out.Personnel != nil
		if equalPersonnel(cur, next) && !legacy {
			return nil
		}
		changed = !equalPersonnel(cur, next)
		next.Apply(&out)
		out.UpdatedAt = s.now()
		return tx.Model(&out).Select(
			"personnel_user_ids", "personnel_names", "personnel_user_id",
			"personnel_name", "personnel", "updated_at",
		).Updates(&out).Error
	})
	if err != nil {
		return nil, false, wrap(err, "update personnel")
	}
	if changed {
		s.publish(ctx, events.TopicProjects, out.ID, &out)
	}
	return &out, changed, nil
}

// DeleteProject removes a project and its edit history.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&model.EditHistoryEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return wrap(err, "delete project")
	}
	s.publish(ctx, events.TopicProjects, id, nil)
	return nil
}

func equalPersonnel(a, b personnel.Personnel) bool {
	if len(a.UserIDs) != len(b.UserIDs) {
		return false
	}
	for i := range a.UserIDs {
		if a.UserIDs[i] != b.UserIDs[i] || a.Names[i] != b.Names[i] {
			return false
		}
	}
	return true
}
