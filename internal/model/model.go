// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StringSlice is a []string that GORM serialises as JSON in a TEXT column.
type StringSlice []string

// Role is a user's role name. It is also the primary key of its RoleTemplate.
type Role string

const (
	RoleSuperAdmin      Role = "super_admin"
	RoleOperationsAdmin Role = "operations_admin"
	RoleOperationsUser  Role = "operations_user"
	RoleFinance         Role = "finance"
	RoleProcurement     Role = "procurement"
)

// Roles lists every role in display order.
var Roles = []Role{RoleSuperAdmin, RoleOperationsAdmin, RoleOperationsUser, RoleFinance, RoleProcurement}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// UserStatus is the account lifecycle state.
type UserStatus string

const (
	StatusPending     UserStatus = "pending"
	StatusActive      UserStatus = "active"
	StatusRejected    UserStatus = "rejected"
	StatusDeactivated UserStatus = "deactivated"
)

// Tab identifies one of the permission-gated UI sections.
type Tab string

const (
	TabDashboard   Tab = "dashboard"
	TabMRFForm     Tab = "mrf_form"
	TabProcurement Tab = "procurement"
	TabFinance     Tab = "finance"
	TabProjects    Tab = "projects"
	TabClients     Tab = "clients"
	TabAdmin       Tab = "admin"
)

// Tabs lists the seven permission tabs.
var Tabs = []Tab{TabDashboard, TabMRFForm, TabProcurement, TabFinance, TabProjects, TabClients, TabAdmin}

// InternalStatus values of a project.
const (
	InternalForInspection       = "For Inspection"
	InternalForProposal         = "For Proposal"
	InternalForInternalApproval = "For Internal Approval"
	InternalReadyToSubmit       = "Ready to Submit"
)

// InternalStatuses lists the four internal statuses.
var InternalStatuses = []string{InternalForInspection, InternalForProposal, InternalForInternalApproval, InternalReadyToSubmit}

// ProjectStatus values of a project.
const (
	ProjectPendingClientReview = "Pending Client Review"
	ProjectUnderClientReview   = "Under Client Review"
	ProjectApprovedByClient    = "Approved by Client"
	ProjectForMobilization     = "For Mobilization"
	ProjectOngoing             = "On-going"
	ProjectCompleted           = "Completed"
	ProjectLoss                = "Loss"
)

// ProjectStatuses lists the seven project statuses.
var ProjectStatuses = []string{
	ProjectPendingClientReview, ProjectUnderClientReview, ProjectApprovedByClient,
	ProjectForMobilization, ProjectOngoing, ProjectCompleted, ProjectLoss,
}

// Finance statuses of a transport request.
const (
	FinancePending  = "Pending"
	FinanceApproved = "Approved"
	FinanceRejected = "Rejected"
)

// HistoryAction is the kind of change recorded in an EditHistoryEntry.
type HistoryAction string

const (
	ActionCreate          HistoryAction = "create"
	ActionUpdate          HistoryAction = "update"
	ActionToggleActive    HistoryAction = "toggle_active"
	ActionPersonnelAdd    HistoryAction = "personnel_add"
	ActionPersonnelRemove HistoryAction = "personnel_remove"
)

// Project is a client engagement that purchase orders and transport requests
// are charged against. Personnel is stored as two index-aligned arrays; older
// rows may still carry one of the legacy single-value or free-text shapes.
type Project struct {
	ID               string          `gorm:"type:text;primaryKey" json:"id"`
	ProjectCode      string          `gorm:"type:text;not null;default:'';index" json:"project_code"`
	ProjectName      string          `gorm:"type:text;not null;index" json:"project_name"`
	ClientCode       string          `gorm:"type:text;not null;default:''" json:"client_code"`
	Budget           decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"budget"`
	ContractCost     decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"contract_cost"`
	InternalStatus   string          `gorm:"type:text;not null;default:''" json:"internal_status"`
	ProjectStatus    string          `gorm:"type:text;not null;default:''" json:"project_status"`
	Active           bool            `gorm:"not null;default:true" json:"active"`
	PersonnelUserIDs StringSlice     `gorm:"type:text;serializer:json" json:"personnel_user_ids"`
	PersonnelNames   StringSlice     `gorm:"type:text;serializer:json" json:"personnel_names"`
	PersonnelUserID  *string         `gorm:"type:text" json:"personnel_user_id,omitempty"`
	PersonnelName    *string         `gorm:"type:text" json:"personnel_name,omitempty"`
	Personnel        *string         `gorm:"type:text" json:"personnel,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (p *Project) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// User is the GORM model for the users table.
type User struct {
	ID                   string      `gorm:"type:text;primaryKey" json:"id"`
	Email                string      `gorm:"type:text;not null;uniqueIndex" json:"email"`
	FullName             string      `gorm:"type:text;not null;default:''" json:"full_name"`
	PasswordHash         string      `gorm:"type:text;not null;default:''" json:"-"`
	Role                 Role        `gorm:"type:text;not null;default:''" json:"role"`
	Status               UserStatus  `gorm:"type:text;not null;default:'pending'" json:"status"`
	AssignedProjectCodes StringSlice `gorm:"type:text;serializer:json" json:"assigned_project_codes"`
	AllProjects          bool        `gorm:"not null;default:false" json:"all_projects"`
	InvitationCode       string      `gorm:"type:text;not null;default:''" json:"-"`
	ApprovedAt           *time.Time  `json:"approved_at,omitempty"`
	DeactivatedAt        *time.Time  `json:"deactivated_at,omitempty"`
	CreatedAt            time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time   `gorm:"not null" json:"updated_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// DisplayName is the name shown on personnel pills.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

// TabGrant is the {access, edit} capability pair for one tab.
type TabGrant struct {
	Access bool `json:"access"`
	Edit   bool `json:"edit"`
}

// RolePermissions is the permission document of a role template. A tab that
// is absent from Tabs has not been configured.
type RolePermissions struct {
	Tabs map[Tab]TabGrant `json:"tabs"`
}

// RoleTemplate holds the tab permissions of one role.
type RoleTemplate struct {
	Role        Role            `gorm:"type:text;primaryKey" json:"role"`
	Permissions RolePermissions `gorm:"type:text;serializer:json" json:"permissions"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

// PurchaseOrder is a supplier order raised by procurement. ProjectName is the
// denormalised join key used by expense reconciliation.
type PurchaseOrder struct {
	ID                string          `gorm:"type:text;primaryKey" json:"id"`
	PONumber          string          `gorm:"type:text;not null;uniqueIndex" json:"po_number"`
	MRFID             string          `gorm:"type:text;not null;default:''" json:"mrf_id"`
	ProjectName       string          `gorm:"type:text;not null;index" json:"project_name"`
	SupplierName      string          `gorm:"type:text;not null;default:''" json:"supplier_name"`
	TotalAmount       decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"total_amount"`
	DeliveryFee       decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"delivery_fee"`
	IsSubcon          bool            `gorm:"not null;default:false" json:"is_subcon"`
	ItemsJSON         string          `gorm:"type:text;not null;default:'[]'" json:"items_json"`
	ProcurementStatus string          `gorm:"type:text;not null;default:'Pending Procurement'" json:"procurement_status"`
	CreatedAt         time.Time       `gorm:"not null" json:"created_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (po *PurchaseOrder) BeforeCreate(_ *gorm.DB) error {
	if po.ID == "" {
		po.ID = uuid.New().String()
	}
	return nil
}

// TransportRequest is a hauling/transport expense that finance approves.
type TransportRequest struct {
	ID            string          `gorm:"type:text;primaryKey" json:"id"`
	TRNumber      string          `gorm:"type:text;not null;uniqueIndex" json:"tr_number"`
	ProjectName   string          `gorm:"type:text;not null;index" json:"project_name"`
	TotalAmount   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"total_amount"`
	ItemsJSON     string          `gorm:"type:text;not null;default:'[]'" json:"items_json"`
	FinanceStatus string          `gorm:"type:text;not null;default:'Pending'" json:"finance_status"`
	DecidedBy     string          `gorm:"type:text;not null;default:''" json:"decided_by,omitempty"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (tr *TransportRequest) BeforeCreate(_ *gorm.DB) error {
	if tr.ID == "" {
		tr.ID = uuid.New().String()
	}
	return nil
}

// FieldChange is one field-level difference inside an EditHistoryEntry.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// EditHistoryEntry is an append-only audit record of a project mutation.
type EditHistoryEntry struct {
	ID        string        `gorm:"type:text;primaryKey" json:"id"`
	ProjectID string        `gorm:"type:text;not null;index" json:"project_id"`
	Timestamp time.Time     `gorm:"not null;index" json:"timestamp"`
	UserID    string        `gorm:"type:text;not null;default:''" json:"user_id"`
	UserName  string        `gorm:"type:text;not null;default:''" json:"user_name"`
	Action    HistoryAction `gorm:"type:text;not null" json:"action"`
	Changes   []FieldChange `gorm:"type:text;serializer:json" json:"changes"`
}

// BeforeCreate generates a UUID primary key if not set.
func (e *EditHistoryEntry) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// Client is a customer organisation; ClientCode is embedded in project codes.
type Client struct {
	ID             string    `gorm:"type:text;primaryKey" json:"id"`
	ClientCode     string    `gorm:"type:text;not null;uniqueIndex" json:"client_code"`
	CompanyName    string    `gorm:"type:text;not null" json:"company_name"`
	ContactPerson  string    `gorm:"type:text;not null;default:''" json:"contact_person"`
	ContactDetails string    `gorm:"type:text;not null;default:''" json:"contact_details"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (c *Client) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// InvitationCode gates self-registration. A code can be used once.
type InvitationCode struct {
	Code      string     `gorm:"type:text;primaryKey" json:"code"`
	CreatedBy string     `gorm:"type:text;not null;default:''" json:"created_by"`
	UsedBy    *string    `gorm:"type:text" json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
}

// RefreshToken is the GORM model for the refresh_tokens table.
type RefreshToken struct {
	ID        string    `gorm:"type:text;primaryKey"`
	UserID    string    `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null"`
	RevokedAt *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (rt *RefreshToken) BeforeCreate(_ *gorm.DB) error {
	if rt.ID == "" {
		rt.ID = uuid.New().String()
	}
	return nil
}

// All returns one zero value of every model, in migration order.
func All() []any {
	return []any{
		&User{},
		&RefreshToken{},
		&RoleTemplate{},
		&Client{},
		&InvitationCode{},
		&Project{},
		&PurchaseOrder{},
		&TransportRequest{},
		&EditHistoryEntry{},
	}
}
