package store

import (
	"context"
	"time"

	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ---- Role templates -------------------------------------------------------

// GetRoleTemplate is a point read by role.
func (s *Store) GetRoleTemplate(ctx context.Context, role model.Role) (*model.RoleTemplate, error) {
	var rt model.RoleTemplate
	if err := s.db.WithContext(ctx).Where("role = ?", role).First(&rt).Error; err != nil {
		return nil, wrap(err, "get role template")
	}
	return &rt, nil
}

// ListRoleTemplates returns every stored template.
func (s *Store) ListRoleTemplates(ctx context.Context) ([]model.RoleTemplate, error) {
	var out []model.RoleTemplate
	if err := s.db.WithContext(ctx).Order("role asc").Find(&out).Error; err != nil {
		return nil, wrap(err, "list role templates")
	}
	return out, nil
}

// SaveRoleTemplate upserts rt and publishes it on the role template feed.
func (s *Store) SaveRoleTemplate(ctx context.Context, rt *model.RoleTemplate) error {
	rt.UpdatedAt = s.now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "role"}},
		DoUpdates: clause.AssignmentColumns([]string{"permissions", "updated_at"}),
	}).Create(rt).Error
	if err != nil {
		return wrap(err, "save role template")
	}
	s.publish(ctx, events.TopicRoleTemplates, string(rt.Role), rt)
	return nil
}

// ---- Purchase orders and transport requests -------------------------------

// RecordFilter narrows purchase order and transport request queries.
type RecordFilter struct {
	ProjectName   string
	FinanceStatus string // transport requests only
}

// CreatePurchaseOrder inserts po.
func (s *Store) CreatePurchaseOrder(ctx context.Context, po *model.PurchaseOrder) error {
	if po.ProcurementStatus == "" {
		po.ProcurementStatus = "Pending Procurement"
	}
	if err := s.db.WithContext(ctx).Create(po).Error; err != nil {
		return wrap(err, "create purchase order")
	}
	s.publish(ctx, events.TopicPurchaseOrders, po.ID, po)
	return nil
}

// ListPurchaseOrders runs a filtered query ordered newest first.
func (s *Store) ListPurchaseOrders(ctx context.Context, f RecordFilter) ([]model.PurchaseOrder, error) {
	q := s.db.WithContext(ctx).Model(&model.PurchaseOrder{})
	if f.ProjectName != "" {
		q = q.Where("project_name = ?", f.ProjectName)
	}
	var out []model.PurchaseOrder
	if err := q.Order("created_at desc").Find(&out).Error; err != nil {
		return nil, wrap(err, "list purchase orders")
	}
	return out, nil
}

// CreateTransportRequest inserts tr.
func (s *Store) CreateTransportRequest(ctx context.Context, tr *model.TransportRequest) error {
	if tr.FinanceStatus == "" {
		tr.FinanceStatus = model.FinancePending
	}
	if err := s.db.WithContext(ctx).Create(tr).Error; err != nil {
		return wrap(err, "create transport request")
	}
	s.publish(ctx, events.TopicTransportRequests, tr.ID, tr)
	return nil
}

// ListTransportRequests runs a filtered query ordered newest first.
func (s *Store) ListTransportRequests(ctx context.Context, f RecordFilter) ([]model.TransportRequest, error) {
	q := s.db.WithContext(ctx).Model(&model.TransportRequest{})
	if f.ProjectName != "" {
		q = q.Where("project_name = ?", f.ProjectName)
	}
	if f.FinanceStatus != "" {
		q = q.Where("finance_status = ?", f.FinanceStatus)
	}
	var out []model.TransportRequest
	if err := q.Order("created_at desc").Find(&out).Error; err != nil {
		return nil, wrap(err, "list transport requests")
	}
	return out, nil
}

// DecideTransportRequest sets the finance status of a pending request.
func (s *Store) DecideTransportRequest(ctx context.Context, id, status, decidedBy string) (*model.TransportRequest, error) {
	var out model.TransportRequest
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where("id = ?", id).First(&out).Error; err != nil {
			return err
		}
		if out.FinanceStatus != model.FinancePending {
			return ErrConflict
		}
		out.FinanceStatus = status
		out.DecidedBy = decidedBy
		return tx.Model(&out).Select("finance_status", "decided_by").Updates(&out).Error
	})
	if err != nil {
		return nil, wrap(err, "decide transport request")
	}
	s.publish(ctx, events.TopicTransportRequests, out.ID, &out)
	return &out, nil
}

// ---- Edit history ---------------------------------------------------------

// AppendHistory inserts one immutable history entry.
func (s *Store) AppendHistory(ctx context.Context, e *model.EditHistoryEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return wrap(err, "append history")
	}
	return nil
}

// ListHistory returns a project's entries, newest first.
func (s *Store) ListHistory(ctx context.Context, projectID string) ([]model.EditHistoryEntry, error) {
	var out []model.EditHistoryEntry
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("timestamp desc").
		Find(&out).Error; err != nil {
		return nil, wrap(err, "list history")
	}
	return out, nil
}

// ---- Clients --------------------------------------------------------------

// CreateClient inserts c. Client codes are unique.
func (s *Store) CreateClient(ctx context.Context, c *model.Client) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return wrap(err, "create client")
	}
	s.publish(ctx, events.TopicClients, c.ID, c)
	return nil
}

// GetClientByCode is a point read by client code.
func (s *Store) GetClientByCode(ctx context.Context, code string) (*model.Client, error) {
	var c model.Client
	if err := s.db.WithContext(ctx).Where("client_code = ?", code).First(&c).Error; err != nil {
		return nil, wrap(err, "get client")
	}
	return &c, nil
}

// ListClients returns every client ordered by company name.
func (s *Store) ListClients(ctx context.Context) ([]model.Client, error) {
	var out []model.Client
	if err := s.db.WithContext(ctx).Order("company_name asc").Find(&out).Error; err != nil {
		return nil, wrap(err, "list clients")
	}
	return out, nil
}

// ---- Invitation codes -----------------------------------------------------

// CreateInvitation inserts an unused invitation code.
func (s *Store) CreateInvitation(ctx context.Context, inv *model.InvitationCode) error {
	if err := s.db.WithContext(ctx).Create(inv).Error; err != nil {
		return wrap(err, "create invitation")
	}
	return nil
}

// ListInvitations returns all codes, newest first.
func (s *Store) ListInvitations(ctx context.Context) ([]model.InvitationCode, error) {
	var out []model.InvitationCode
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&out).Error; err != nil {
		return nil, wrap(err, "list invitations")
	}
	return out, nil
}

// ClaimInvitation marks code as used by userID. An unknown code is
// ErrNotFound and an already used one ErrConflict.
func (s *Store) ClaimInvitation(ctx context.Context, code, userID string) error {
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var inv model.InvitationCode
		if err := forUpdate(tx).Where("code = ?", code).First(&inv).Error; err != nil {
			return err
		}
		if inv.UsedBy != nil {
			return ErrConflict
		}
		now := s.now()
		return tx.Model(&inv).Updates(map[string]any{"used_by": userID, "used_at": now}).Error
	})
	return wrap(err, "claim invitation")
}

// Now returns the store clock, UTC.
func (s *Store) Now() time.Time { return s.now() }
