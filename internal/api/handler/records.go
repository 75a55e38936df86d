package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/clmc/procurement/internal/api/jsonapi"
	"github.com/clmc/procurement/internal/apperr"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/store"
	"github.com/shopspring/decimal"
)

// RecordHandler handles clients, purchase orders and transport requests.
type RecordHandler struct {
	store *store.Store
}

// NewRecordHandler creates a RecordHandler.
func NewRecordHandler(st *store.Store) *RecordHandler {
	return &RecordHandler{store: st}
}

func recordFilter(r *http.Request) store.RecordFilter {
	q := r.URL.Query()
	return store.RecordFilter{ProjectName: q.Get("project_name"), FinanceStatus: q.Get("finance_status")}
}

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func items(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

// ListClients handles GET /api/v1/clients.
func (h *RecordHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.ListClients(r.Context())
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	renderList(w, "client", clients, func(c *model.Client) string { return c.ClientCode })
}

type clientRequest struct {
	ClientCode     string `json:"client_code" validate:"required,alphanum,max=12"`
	CompanyName    string `json:"company_name" validate:"required,max=200"`
	ContactPerson  string `json:"contact_person" validate:"max=120"`
	ContactDetails string `json:"contact_details" validate:"max=200"`
}

// CreateClient handles POST /api/v1/clients. Codes are stored upper-case.
func (h *RecordHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if !decode(w, r, &req) {
		return
	}
	req.ClientCode = strings.ToUpper(strings.TrimSpace(req.ClientCode))
	if err := apperr.Struct(req); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	c := &model.Client{
		ClientCode:     req.ClientCode,
		CompanyName:    strings.TrimSpace(req.CompanyName),
		ContactPerson:  req.ContactPerson,
		ContactDetails: req.ContactDetails,
	}
	if err := h.store.CreateClient(r.Context(), c); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, resource("client", c.ClientCode, c))
}

// ListPurchaseOrders handles GET /api/v1/pos?project_name=.
func (h *RecordHandler) ListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	pos, err := h.store.ListPurchaseOrders(r.Context(), recordFilter(r))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	renderList(w, "purchase_order", pos, func(po *model.PurchaseOrder) string { return po.ID })
}

type purchaseOrderRequest struct {
	PONumber     string          `json:"po_number" validate:"required"`
	MRFID        string          `json:"mrf_id"`
	ProjectName  string          `json:"project_name" validate:"required"`
	SupplierName string          `json:"supplier_name"`
	TotalAmount  string          `json:"total_amount" validate:"required,money"`
	DeliveryFee  string          `json:"delivery_fee" validate:"omitempty,money"`
	IsSubcon     bool            `json:"is_subcon"`
	Items        json.RawMessage `json:"items"`
}

// CreatePurchaseOrder handles POST /api/v1/pos.
func (h *RecordHandler) CreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req purchaseOrderRequest
	if !decode(w, r, &req) {
		return
	}
	if err := apperr.Struct(req); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	po := &model.PurchaseOrder{
		PONumber:     strings.TrimSpace(req.PONumber),
		MRFID:        req.MRFID,
		ProjectName:  req.ProjectName,
		SupplierName: req.SupplierName,
		TotalAmount:  money(req.TotalAmount),
		DeliveryFee:  money(req.DeliveryFee),
		IsSubcon:     req.IsSubcon,
		ItemsJSON:    items(req.Items),
	}
	if err := h.store.CreatePurchaseOrder(r.Context(), po); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, resource("purchase_order", po.ID, po))
}

// ListTransportRequests handles GET /api/v1/transport-requests.
func (h *RecordHandler) ListTransportRequests(w http.ResponseWriter, r *http.Request) {
	trs, err := h.store.ListTransportRequests(r.Context(), recordFilter(r))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	renderList(w, "transport_request", trs, func(tr *model.TransportRequest) string { return tr.ID })
}

type transportRequestRequest struct {
	TRNumber    string          `json:"tr_number" validate:"required"`
	ProjectName string          `json:"project_name" validate:"required"`
	TotalAmount string          `json:"total_amount" validate:"required,money"`
	Items       json.RawMessage `json:"items"`
}

// CreateTransportRequest handles POST /api/v1/transport-requests. New
// requests wait for a finance decision.
func (h *RecordHandler) CreateTransportRequest(w http.ResponseWriter, r *http.Request) {
	var req transportRequestRequest
	if !decode(w, r, &req) {
		return
	}
	if err := apperr.Struct(req); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	tr := &model.TransportRequest{
		TRNumber:    strings.TrimSpace(req.TRNumber),
		ProjectName: req.ProjectName,
		TotalAmount: money(req.TotalAmount),
		ItemsJSON:   items(req.Items),
	}
	if err := h.store.CreateTransportRequest(r.Context(), tr); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, resource("transport_request", tr.ID, tr))
}

type decisionRequest struct {
	Status string `json:"finance_status" validate:"required,oneof=Approved Rejected"`
}

// DecideTransportRequest handles POST /api/v1/transport-requests/{id}/decision.
func (h *RecordHandler) DecideTransportRequest(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := apperr.Struct(req); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	tr, err := h.store.DecideTransportRequest(r.Context(), r.PathValue("id"), req.Status, caller(r).ID)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, resource("transport_request", tr.ID, tr))
}
