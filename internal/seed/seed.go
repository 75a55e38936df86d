// Package seed prepares a fresh database: a super admin account when the
// users table is empty, and a permission template for every role.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/roles"
	"github.com/clmc/procurement/internal/store"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminOptions configures the seed admin user.
type AdminOptions struct {
	Email    string
	Password string // if empty, a random password is generated
}

// Run seeds role templates and the admin account. Safe on every startup.
func Run(ctx context.Context, st *store.Store, opts AdminOptions, log *slog.Logger) error {
	created, err := roles.EnsureTemplates(ctx, st)
	if err != nil {
		return fmt.Errorf("seed role templates: %w", err)
	}
	if len(created) > 0 {
		log.Info("seeded role templates", "roles", created)
	}
	_, err = EnsureAdmin(ctx, st.DB(), opts, log)
	return err
}

// EnsureAdmin creates an active super_admin if no users exist and returns the
// password it used, or "" when nothing was created. A generated password is
// printed to stdout once.
func EnsureAdmin(ctx context.Context, db *gorm.DB, opts AdminOptions, log *slog.Logger) (string, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&model.User{}).Count(&count).Error; err != nil {
		return "", fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		log.Info("seed admin already exists")
		return "", nil
	}

	password := opts.Password
	if password == "" {
		var err error
		password, err = generatePassword()
		if err != nil {
			return "", fmt.Errorf("generate seed password: %w", err)
		}
		fmt.Printf("[procurement] seed admin password: %s\n", password)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash seed password: %w", err)
	}

	now := db.NowFunc()
	u := &model.User{
		Email:        opts.Email,
		FullName:     "Seed Admin",
		PasswordHash: string(hash),
		Role:         model.RoleSuperAdmin,
		Status:       model.StatusActive,
		AllProjects:  true,
		ApprovedAt:   &now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return "", fmt.Errorf("insert seed admin: %w", err)
	}

	log.Info("seed admin created", "email", opts.Email)
	return password, nil
}

func generatePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
