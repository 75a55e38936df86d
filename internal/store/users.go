package store

import (
	"context"
	"slices"

	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"gorm.io/gorm"
)

// UserFilter narrows ListUsers. Zero values do not filter.
type UserFilter struct {
	Status model.UserStatus
	Role   model.Role
	IDs    []string
}

// CreateUser inserts u. Emails are unique.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return wrap(err, "create user")
	}
	s.publish(ctx, events.TopicUsers, u.ID, u)
	return nil
}

// GetUser is a point read by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, wrap(err, "get user")
	}
	return &u, nil
}

// GetUserByEmail is a point read by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, wrap(err, "get user by email")
	}
	return &u, nil
}

// ListUsers runs a filtered query ordered by name.
func (s *Store) ListUsers(ctx context.Context, f UserFilter) ([]model.User, error) {
	q := s.db.WithContext(ctx).Model(&model.User{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.IDs != nil {
		if len(f.IDs) == 0 {
			return []model.User{}, nil
		}
		q = q.Where("id IN ?", f.IDs)
	}
	var out []model.User
	if err := q.Order("full_name asc, email asc").Find(&out).Error; err != nil {
		return nil, wrap(err, "list users")
	}
	return out, nil
}

// UpdateUserFields applies column updates to one user and returns the result.
func (s *Store) UpdateUserFields(ctx context.Context, id string, fields map[string]any) (*model.User, error) {
	var out model.User
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
		return nil, wrap(err, "update user")
	}
	s.publish(ctx, events.TopicUsers, out.ID, &out)
	return &out, nil
}

// DeleteUser hard-deletes a user together with their refresh tokens.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&model.RefreshToken{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return wrap(err, "delete user")
	}
	s.publish(ctx, events.TopicUsers, id, nil)
	return nil
}

// AddAssignedProject is the set-union primitive on assigned_project_codes.
// It reports whether the stored set changed.
func (s *Store) AddAssignedProject(ctx context.Context, userID, code string) (bool, error) {
	return s.mutateAssigned(ctx, userID, func(cur []string) []string {
		if slices.Contains(cur, code) {
			return cur
		}
		return append(cur, code)
	})
}

// RemoveAssignedProject is the set-difference primitive. Removing a code the
// user does not hold is a no-op, not an error.
func (s *Store) RemoveAssignedProject(ctx context.Context, userID, code string) (bool, error) {
	return s.mutateAssigned(ctx, userID, func(cur []string) []string {
		return slices.DeleteFunc(cur, func(c string) bool { return c == code })
	})
}

func (s *Store) mutateAssigned(ctx context.Context, userID string, fn func([]string) []string) (bool, error) {
	var (
		u       model.User
		changed bool
	)
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where("id = ?", userID).First(&u).Error; err != nil {
			return err
		}
		before := len(u.AssignedProjectCodes)
		next := fn(append([]string{}, u.AssignedProjectCodes...))
		if len(next) == before {
			return nil
		}
		changed = true
		u.AssignedProjectCodes = model.StringSlice(next)
		u.UpdatedAt = s.now()
		return tx.Model(&u).Select("assigned_project_codes", "updated_at").Updates(&u).Error
	})
	if err != nil {
		return false, wrap(err, "update assigned projects")
	}
	if changed {
		s.publish(ctx, events.TopicUsers, u.ID, &u)
	}
	return changed, nil
}

// SetAssignedProjects replaces the user's assigned codes and returns the
// previous set alongside the updated user.
func (s *Store) SetAssignedProjects(ctx context.Context, userID string, codes []string) ([]string, *model.User, error) {
	var (
		u    model.User
		prev []string
	)
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where("id = ?", userID).First(&u).Error; err != nil {
			return err
		}
		prev = append([]string{}, u.AssignedProjectCodes...)
		u.AssignedProjectCodes = model.StringSlice(append([]string{}, codes...))
		u.UpdatedAt = s.now()
		return tx.Model(&u).Select("assigned_project_codes", "updated_at").Updates(&u).Error
	})
	if err != nil {
		return nil, nil, wrap(err, "set assigned projects")
	}
	s.publish(ctx, events.TopicUsers, u.ID, &u)
	return prev, &u, nil
}
