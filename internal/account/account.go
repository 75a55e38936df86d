// Package account implements user administration: self-registration behind
// an invitation code, approval, rejection, deactivation, role changes and
// project assignment edits.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clmc/procurement/internal/apperr"
	"github.com/clmc/procurement/internal/assignment"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/notify"
	"github.com/clmc/procurement/internal/store"
	"github.com/clmc/procurement/internal/worker"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned by Authenticate for a wrong email or password.
	ErrInvalidCredentials = errors.New("email or password is incorrect")
	// ErrDeactivated is returned by Authenticate for a deactivated account.
	ErrDeactivated = errors.New("account is deactivated")
)

// Sessions ends the live sessions of a user.
type Sessions interface {
	EndUser(userID string)
}

// Tokens revokes refresh tokens.
type Tokens interface {
	RevokeUser(ctx context.Context, userID string) error
}

// Service administers accounts.
type Service struct {
	store    *store.Store
	sync     *assignment.Dispatcher
	queue    worker.Enqueuer
	tokens   Tokens
	sessions Sessions
	baseURL  string
	log      *slog.Logger
}

// Config wires a Service. Sessions may be set later with SetSessions.
type Config struct {
	Store   *store.Store
	Sync    *assignment.Dispatcher
	Queue   worker.Enqueuer
	Tokens  Tokens
	BaseURL string
	Log     *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	return &Service{
		store:   cfg.Store,
		sync:    cfg.Sync,
		queue:   cfg.Queue,
		tokens:  cfg.Tokens,
		baseURL: cfg.BaseURL,
		log:     cfg.Log,
	}
}

// SetSessions attaches the session registry.
func (s *Service) SetSessions(sessions Sessions) { s.sessions = sessions }

// RegisterInput is the self-registration form.
type RegisterInput struct {
	Email          string `json:"email" validate:"required,email"`
	FullName       string `json:"full_name" validate:"required,max=120"`
	Password       string `json:"password" validate:"required,min=8"` //nolint:gosec // request field
	InvitationCode string `json:"invitation_code" validate:"required"`
}

// Register creates a pending account and consumes the invitation code in the
// same transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	in.InvitationCode = strings.TrimSpace(in.InvitationCode)
	if err := apperr.Struct(in); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &model.User{
		Email:          in.Email,
		FullName:       in.FullName,
		PasswordHash:   string(hash),
		Status:         model.StatusPending,
		InvitationCode: in.InvitationCode,
	}
	err = s.store.Batch(ctx, func(tx *store.Store) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Invalid("email", "is already registered")
			}
			return err
		}
		if err := tx.ClaimInvitation(ctx, in.InvitationCode, u.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
				return apperr.Invalid("invitation_code", "is invalid or already used")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("account registered", "user_id", u.ID, "email", u.Email)
	return u, nil
}

// Authenticate checks credentials. Pending and rejected accounts may sign in
// so they can see their status page.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if u.Status == model.StatusDeactivated {
		return nil, ErrDeactivated
	}
	return u, nil
}

func isAdmin(caller *model.User) bool {
	return caller.Role == model.RoleSuperAdmin
}

func canAssign(caller *model.User) bool {
	return caller.Role == model.RoleSuperAdmin || caller.Role == model.RoleOperationsAdmin
}

func (s *Service) target(ctx context.Context, caller *model.User, id string, allowed func(*model.User) bool) (*model.User, error) {
	if !allowed(caller) {
		return nil, apperr.ErrForbidden
	}
	return s.store.GetUser(ctx, id)
}

// List returns users matching f.
func (s *Service) List(ctx context.Context, caller *model.User, f store.UserFilter) ([]model.User, error) {
	if !canAssign(caller) {
		return nil, apperr.ErrForbidden
	}
	return s.store.ListUsers(ctx, f)
}

// Approve activates a pending account with role and mails the user.
func (s *Service) Approve(ctx context.Context, caller *model.User, id string, role model.Role) (*model.User, error) {
	u, err := s.target(ctx, caller, id, isAdmin)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperr.Invalid("role", "is not a known role")
	}
	if u.Status != model.StatusPending {
		return nil, apperr.Invalid("status", "only pending accounts can be approved")
	}
	now := s.store.Now()
	u, err = s.store.UpdateUserFields(ctx, id, map[string]any{
		"status":      model.StatusActive,
		"role":        role,
		"approved_at": now,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("account approved", "user_id", id, "role", role, "by", caller.ID)

	mail, err := notify.Approved(u, s.baseURL)
	if err != nil {
		s.log.Warn("render approval mail", "user_id", id, "err", err)
		return u, nil
	}
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), mail); err != nil {
		s.log.Warn("enqueue approval mail", "user_id", id, "err", err)
	}
	return u, nil
}

// Reject removes a pending account.
func (s *Service) Reject(ctx context.Context, caller *model.User, id string) error {
	u, err := s.target(ctx, caller, id, isAdmin)
	if err != nil {
		return err
	}
	if u.Status != model.StatusPending {
		return apperr.Invalid("status", "only pending accounts can be rejected")
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.endSessions(ctx, id)
	s.log.Info("account rejected", "user_id", id, "by", caller.ID)
	return nil
}

// Deactivate blocks an active account and ends its sessions.
func (s *Service) Deactivate(ctx context.Context, caller *model.User, id string) (*model.User, error) {
	u, err := s.target(ctx, caller, id, isAdmin)
	if err != nil {
		return nil, err
	}
	if u.ID == caller.ID {
		return nil, apperr.Invalid("id", "you cannot deactivate your own account")
	}
	if u.Status != model.StatusActive {
		return nil, apperr.Invalid("status", "only active accounts can be deactivated")
	}
	u, err = s.store.UpdateUserFields(ctx, id, map[string]any{
		"status":         model.StatusDeactivated,
		"deactivated_at": s.store.Now(),
	})
	if err != nil {
		return nil, err
	}
	s.endSessions(ctx, id)
	return u, nil
}

// Activate restores a deactivated account.
func (s *Service) Activate(ctx context.Context, caller *model.User, id string) (*model.User, error) {
	u, err := s.target(ctx, caller, id, isAdmin)
	if err != nil {
		return nil, err
	}
	if u.Status != model.StatusDeactivated {
		return nil, apperr.Invalid("status", "only deactivated accounts can be activated")
	}
	return s.store.UpdateUserFields(ctx, id, map[string]any{
		"status":         model.StatusActive,
		"deactivated_at": nil,
	})
}

// ChangeRole assigns a new role. The user's sessions are ended so the next
// sign-in binds permissions to the new role.
func (s *Service) ChangeRole(ctx context.Context, caller *model.User, id string, role model.Role) (*model.User, error) {
	u, err := s.target(ctx, caller, id, isAdmin)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperr.Invalid("role", "is not a known role")
	}
	if u.Role == role {
		return u, nil
	}
	if u.ID == caller.ID {
		return nil, apperr.Invalid("role", "you cannot change your own role")
	}
	u, err = s.store.UpdateUserFields(ctx, id, map[string]any{"role": role})
	if err != nil {
		return nil, err
	}
	s.endSessions(ctx, id)
	s.log.Info("role changed", "user_id", id, "role", role, "by", caller.ID)
	return u, nil
}

// SetAssignments replaces the user's assigned project codes and schedules
// the reverse sync onto project personnel.
func (s *Service) SetAssignments(ctx context.Context, caller *model.User, id string, codes []string) (*model.User, error) {
	if _, err := s.target(ctx, caller, id, canAssign); err != nil {
		return nil, err
	}
	clean := make([]string, 0, len(codes))
	seen := map[string]bool{}
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		if _, err := s.store.GetProjectByCode(ctx, c); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperr.Invalid("project_codes", "unknown project %q", c)
			}
			return nil, err
		}
		seen[c] = true
		clean = append(clean, c)
	}
	prev, u, err := s.store.SetAssignedProjects(ctx, id, clean)
	if err != nil {
		return nil, err
	}
	s.sync.AssignmentsChanged(ctx, id, prev, clean)
	return u, nil
}

// SetAllProjects toggles the all-projects scope of a user.
func (s *Service) SetAllProjects(ctx context.Context, caller *model.User, id string, all bool) (*model.User, error) {
	if _, err := s.target(ctx, caller, id, canAssign); err != nil {
		return nil, err
	}
	return s.store.UpdateUserFields(ctx, id, map[string]any{"all_projects": all})
}

// CreateInvitation issues a fresh single-use code.
func (s *Service) CreateInvitation(ctx context.Context, caller *model.User) (*model.InvitationCode, error) {
	if !isAdmin(caller) {
		return nil, apperr.ErrForbidden
	}
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate invitation: %w", err)
	}
	inv := &model.InvitationCode{Code: "CLMC-" + strings.ToUpper(hex.EncodeToString(b)), CreatedBy: caller.ID}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Invitations lists every code.
func (s *Service) Invitations(ctx context.Context, caller *model.User) ([]model.InvitationCode, error) {
	if !isAdmin(caller) {
		return nil, apperr.ErrForbidden
	}
	return s.store.ListInvitations(ctx)
}

func (s *Service) endSessions(ctx context.Context, userID string) {
	if s.tokens != nil {
		if err := s.tokens.RevokeUser(ctx, userID); err != nil {
			s.log.Warn("revoke refresh tokens", "user_id", userID, "err", err)
		}
	}
	if s.sessions != nil {
		s.sessions.EndUser(userID)
	}
}
