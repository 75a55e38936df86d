// Package project implements the project screens' operations: creation with
// generated codes, inline field edits, personnel pills and scoped listing.
// Every mutation writes an edit history entry; personnel changes schedule the
// assignment sync.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/clmc/procurement/internal/apperr"
	"github.com/clmc/procurement/internal/assignment"
	"github.com/clmc/procurement/internal/expense"
	"github.com/clmc/procurement/internal/history"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/personnel"
	"github.com/clmc/procurement/internal/store"
	"github.com/shopspring/decimal"
)

// Service coordinates the store, the history recorder and the sync dispatcher.
type Service struct {
	store    *store.Store
	history  *history.Recorder
	sync     *assignment.Dispatcher
	expenses *expense.Reconciler
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Service.
func New(st *store.Store, rec *history.Recorder, sync *assignment.Dispatcher, exp *expense.Reconciler, log *slog.Logger) *Service {
	return &Service{
		store:    st,
		history:  rec,
		sync:     sync,
		expenses: exp,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput is the new project form.
type CreateInput struct {
	ProjectName      string   `json:"project_name" validate:"required,max=200"`
	ClientCode       string   `json:"client_code" validate:"required"`
	Budget           string   `json:"budget" validate:"omitempty,money"`
	ContractCost     string   `json:"contract_cost" validate:"omitempty,money"`
	InternalStatus   string   `json:"internal_status" validate:"omitempty,internal_status"`
	ProjectStatus    string   `json:"project_status" validate:"omitempty,project_status"`
	PersonnelUserIDs []string `json:"personnel_user_ids" validate:"min=1,dive,required"`
}

func canManage(caller *model.User) bool {
	return caller.Role == model.RoleSuperAdmin || caller.Role == model.RoleOperationsAdmin
}

func actor(caller *model.User) history.Actor {
	return history.Actor{UserID: caller.ID, Name: caller.DisplayName()}
}

// Create validates in, generates the project code and stores the project in
// the array personnel shape.
func (s *Service) Create(ctx context.Context, caller *model.User, in CreateInput) (*model.Project, error) {
	if !canManage(caller) {
		return nil, apperr.ErrForbidden
	}
	if err := apperr.Struct(in); err != nil {
		return nil, err
	}
	clientCode := strings.ToUpper(strings.TrimSpace(in.ClientCode))
	if _, err := s.store.GetClientByCode(ctx, clientCode); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Invalid("client_code", "unknown client %q", clientCode)
		}
		return nil, err
	}

	members := make([]personnel.Member, 0, len(in.PersonnelUserIDs))
	seen := map[string]bool{}
	for _, id := range in.PersonnelUserIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperr.Invalid("personnel_user_ids", "unknown user %q", id)
			}
			return nil, err
		}
		members = append(members, personnel.Member{UserID: u.ID, Name: u.DisplayName()})
	}

	p := &model.Project{
		ProjectName:    strings.TrimSpace(in.ProjectName),
		ClientCode:     clientCode,
		Budget:         parseMoney(in.Budget),
		ContractCost:   parseMoney(in.ContractCost),
		InternalStatus: in.InternalStatus,
		ProjectStatus:  in.ProjectStatus,
		Active:         true,
	}
	if p.InternalStatus == "" {
		p.InternalStatus = model.InternalForInspection
	}
	if p.ProjectStatus == "" {
		p.ProjectStatus = model.ProjectPendingClientReview
	}
	personnel.FromMembers(members).Apply(p)

	// Two creators can race for the same sequence number; the loser retries.
	var err error
	for range 3 {
		p.ID = ""
		p.ProjectCode, err = s.nextCode(ctx, clientCode)
		if err != nil {
			return nil, err
		}
		err = s.store.CreateProject(ctx, p)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	s.history.Record(ctx, p.ID, model.ActionCreate, actor(caller), []model.FieldChange{
		{Field: "project_code", OldValue: "", NewValue: p.ProjectCode},
		{Field: "project_name", OldValue: "", NewValue: p.ProjectName},
	})
	s.sync.PersonnelChanged(ctx, p.ProjectCode, nil, personnel.Normalize(p).ResolvedIDs())
	return p, nil
}

var codeSeq = regexp.MustCompile(`^CLMC_[A-Z0-9]+_(\d{4})(\d{3,})$`)

// nextCode returns CLMC_<CLIENT>_<YYYY><NNN> with the next free sequence
// number for the client in the current year.
func (s *Service) nextCode(ctx context.Context, clientCode string) (string, error) {
	year := s.now().Year()
	prefix := fmt.Sprintf("CLMC_%s_%04d", clientCode, year)
	existing, err := s.store.ListProjects(ctx, store.ProjectFilter{CodePrefix: prefix})
	if err != nil {
		return "", err
	}
	maxSeq := 0
	for _, p := range existing {
		m := codeSeq.FindStringSubmatch(p.ProjectCode)
		if m == nil || !strings.HasPrefix(p.ProjectCode, prefix) {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n > maxSeq {
			maxSeq = n
		}
	}
	return fmt.Sprintf("%s%03d", prefix, maxSeq+1), nil
}

func parseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Editable inline fields and their columns.
var editable = map[string]bool{
	"project_name":    true,
	"client_code":     true,
	"budget":          true,
	"contract_cost":   true,
	"internal_status": true,
	"project_status":  true,
}

// UpdateField applies one inline edit. An edit whose normalised value equals
// the stored one writes nothing and records no history.
func (s *Service) UpdateField(ctx context.Context, caller *model.User, code, field, value string) (*model.Project, bool, error) {
	if field == "project_code" {
		return nil, false, apperr.Invalid(field, "cannot be changed")
	}
	if !editable[field] {
		return nil, false, apperr.Invalid(field, "is not editable")
	}
	p, err := s.Get(ctx, caller, code)
	if err != nil {
		return nil, false, err
	}

	value = strings.TrimSpace(value)
	var oldValue, newValue any
	switch field {
	case "project_name":
		if value == "" {
			return nil, false, apperr.Invalid(field, "is required")
		}
		oldValue, newValue = p.ProjectName, value
	case "client_code":
		value = strings.ToUpper(value)
		if _, err := s.store.GetClientByCode(ctx, value); err != nil {
			return nil, false, apperr.Invalid(field, "unknown client %q", value)
		}
		oldValue, newValue = p.ClientCode, value
	case "budget", "contract_cost":
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return nil, false, apperr.Invalid(field, "must be a non-negative amount")
		}
		if field == "budget" {
			oldValue = p.Budget
		} else {
			oldValue = p.ContractCost
		}
		newValue = d
	case "internal_status":
		if err := apperr.Validate.Var(value, "internal_status"); err != nil {
			return nil, false, apperr.Invalid(field, "is not a known internal status")
		}
		oldValue, newValue = p.InternalStatus, value
	case "project_status":
		if err := apperr.Validate.Var(value, "project_status"); err != nil {
			return nil, false, apperr.Invalid(field, "is not a known project status")
		}
		oldValue, newValue = p.ProjectStatus, value
	}

	change, changed := history.Diff(field, oldValue, newValue)
	if !changed {
		return p, false, nil
	}
	updated, err := s.store.UpdateProjectFields(ctx, p.ID, map[string]any{field: newValue})
	if err != nil {
		return nil, false, err
	}
	s.history.Record(ctx, p.ID, model.ActionUpdate, actor(caller), []model.FieldChange{change})
	return updated, true, nil
}

// ToggleActive flips the active flag.
func (s *Service) ToggleActive(ctx context.Context, caller *model.User, code string) (*model.Project, error) {
	p, err := s.Get(ctx, caller, code)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateProjectFields(ctx, p.ID, map[string]any{"active": !p.Active})
	if err != nil {
		return nil, err
	}
	s.history.Record(ctx, p.ID, model.ActionToggleActive, actor(caller), []model.FieldChange{
		{Field: "active", OldValue: p.Active, NewValue: updated.Active},
	})
	return updated, nil
}

// AddPersonnel adds a user pill. Adding a current member is a no-op.
func (s *Service) AddPersonnel(ctx context.Context, caller *model.User, code, userID string) (*model.Project, error) {
	p, err := s.Get(ctx, caller, code)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Invalid("user_id", "unknown user %q", userID)
		}
		return nil, err
	}
	before := personnel.Normalize(p)
	updated, changed, err := s.store.AddPersonnel(ctx, p.ProjectCode, personnel.Member{UserID: u.ID, Name: u.DisplayName()})
	if err != nil {
		return nil, err
	}
	if changed {
		s.personnelChanged(ctx, caller, updated, model.ActionPersonnelAdd, before)
	}
	return updated, nil
}

// RemovePersonnel removes a pill. Free-text entries have no user id and are
// matched by name.
func (s *Service) RemovePersonnel(ctx context.Context, caller *model.User, code, userID, name string) (*model.Project, error) {
	if userID == "" && name == "" {
		return nil, apperr.Invalid("user_id", "is required")
	}
	p, err := s.Get(ctx, caller, code)
	if err != nil {
		return nil, err
	}
	before := personnel.Normalize(p)
	updated, changed, err := s.store.RemovePersonnel(ctx, p.ProjectCode, personnel.Member{UserID: userID, Name: name})
	if err != nil {
		return nil, err
	}
	if changed {
		s.personnelChanged(ctx, caller, updated, model.ActionPersonnelRemove, before)
	}
	return updated, nil
}

func (s *Service) personnelChanged(ctx context.Context, caller *model.User, p *model.Project, action model.HistoryAction, before personnel.Personnel) {
	after := personnel.Normalize(p)
	s.history.Record(ctx, p.ID, action, actor(caller), []model.FieldChange{
		{Field: "personnel", OldValue: before.Names, NewValue: after.Names},
	})
	s.sync.PersonnelChanged(ctx, p.ProjectCode, before.ResolvedIDs(), after.ResolvedIDs())
}

// Delete hard-deletes a project. confirm must be set explicitly. The
// members' assignments are released through the sync.
func (s *Service) Delete(ctx context.Context, caller *model.User, code string, confirm bool) error {
	if !canManage(caller) {
		return apperr.ErrForbidden
	}
	if !confirm {
		return apperr.Invalid("confirm", "must be true to delete a project")
	}
	p, err := s.store.GetProjectByCode(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, p.ID); err != nil {
		return err
	}
	s.log.Info("project deleted", "project_code", code, "by", caller.ID)
	s.sync.PersonnelChanged(ctx, p.ProjectCode, personnel.Normalize(p).ResolvedIDs(), nil)
	return nil
}

// Visible reports whether caller may see project code. Operations users see
// only their assigned codes unless all_projects is set.
func Visible(caller *model.User, code string) bool {
	if caller.Role != model.RoleOperationsUser || caller.AllProjects {
		return true
	}
	for _, c := range caller.AssignedProjectCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Get returns a project the caller may see. Invisible projects are
// reported as not found.
func (s *Service) Get(ctx context.Context, caller *model.User, code string) (*model.Project, error) {
	if !Visible(caller, code) {
		return nil, fmt.Errorf("get project: %w", store.ErrNotFound)
	}
	return s.store.GetProjectByCode(ctx, code)
}

// List returns the projects the caller may see.
func (s *Service) List(ctx context.Context, caller *model.User, f store.ProjectFilter) ([]model.Project, error) {
	if caller.Role == model.RoleOperationsUser && !caller.AllProjects {
		codes := []string(caller.AssignedProjectCodes)
		if codes == nil {
			codes = []string{}
		}
		if f.Codes != nil {
			codes = intersect(codes, f.Codes)
		}
		f.Codes = codes
	}
	return s.store.ListProjects(ctx, f)
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, x := range b {
		in[x] = true
	}
	out := []string{}
	for _, x := range a {
		if in[x] {
			out = append(out, x)
		}
	}
	return out
}

// History returns the project's edit timeline, newest first.
func (s *Service) History(ctx context.Context, caller *model.User, code string) ([]model.EditHistoryEntry, error) {
	p, err := s.Get(ctx, caller, code)
	if err != nil {
		return nil, err
	}
	return s.history.List(ctx, p.ID)
}

// Expenses reconciles the project's spend against its budget.
func (s *Service) Expenses(ctx context.Context, caller *model.User, code string) (*expense.Summary, error) {
	p, err := s.Get(ctx, caller, code)
	if err != nil {
		return nil, err
	}
	return s.expenses.Reconcile(ctx, p.ProjectName, p.Budget)
}
