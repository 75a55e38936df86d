// Package expense reconciles a project's spend against its budget from its
// purchase orders and approved transport requests.
package expense

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/store"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
)

// Records is the read side of the store used here.
type Records interface {
	ListPurchaseOrders(ctx context.Context, f store.RecordFilter) ([]model.PurchaseOrder, error)
	ListTransportRequests(ctx context.Context, f store.RecordFilter) ([]model.TransportRequest, error)
}

// Summary is the reconciled view of one project.
type Summary struct {
	ProjectName string          `json:"project_name"`
	Budget      decimal.Decimal `json:"budget"`

	MaterialsDisplay decimal.Decimal `json:"materials_display"`
	TransportDisplay decimal.Decimal `json:"transport_display"`
	SubconTotal      decimal.Decimal `json:"subcon_total"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	Remaining        decimal.Decimal `json:"remaining"`

	MaterialTotal          decimal.Decimal            `json:"material_total"`
	TransportCategoryTotal decimal.Decimal            `json:"transport_category_total"`
	DeliveryFeeTotal       decimal.Decimal            `json:"delivery_fee_total"`
	ApprovedTransportTotal decimal.Decimal            `json:"approved_transport_total"`
	MaterialCategories     map[string]decimal.Decimal `json:"material_categories"`

	PurchaseOrderCount    int `json:"purchase_order_count"`
	TransportRequestCount int `json:"transport_request_count"`
}

// Categories returns the material category names sorted by name.
func (s *Summary) Categories() []string {
	out := make([]string, 0, len(s.MaterialCategories))
	for k := range s.MaterialCategories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Reconciler computes summaries. It is read-only and fetches fresh records
// on every call.
type Reconciler struct {
	records Records
}

// New creates a Reconciler.
func New(records Records) *Reconciler {
	return &Reconciler{records: records}
}

// Reconcile computes the summary of the project whose purchase orders and
// transport requests carry projectName.
func (r *Reconciler) Reconcile(ctx context.Context, projectName string, budget decimal.Decimal) (*Summary, error) {
	ctx, span := observability.Tracer().Start(ctx, "expense.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("project_name", projectName))

	pos, err := r.records.ListPurchaseOrders(ctx, store.RecordFilter{ProjectName: projectName})
	if err != nil {
		return nil, fmt.Errorf("load purchase orders: %w", err)
	}
	trs, err := r.records.ListTransportRequests(ctx, store.RecordFilter{
		ProjectName:   projectName,
		FinanceStatus: model.FinanceApproved,
	})
	if err != nil {
		return nil, fmt.Errorf("load transport requests: %w", err)
	}
	return Compute(projectName, budget, pos, trs), nil
}

// Compute is the pure reconciliation over already loaded records. Transport
// requests that are not finance-approved are ignored.
//
//	materials = non-transport line items of material POs
//	transport = approved TR totals + transport line items + all delivery fees
//	subcon    = subcon PO totals - their delivery fees
//
// A material PO's total_amount is never summed: transport line items and the
// delivery fee it includes belong to the transport bucket.
func Compute(projectName string, budget decimal.Decimal, pos []model.PurchaseOrder, trs []model.TransportRequest) *Summary {
	s := &Summary{
		ProjectName:        projectName,
		Budget:             budget,
		MaterialCategories: make(map[string]decimal.Decimal),
		PurchaseOrderCount: len(pos),
	}

	for _, po := range pos {
		s.DeliveryFeeTotal = s.DeliveryFeeTotal.Add(po.DeliveryFee)
		if po.IsSubcon {
			s.SubconTotal = s.SubconTotal.Add(po.TotalAmount.Sub(po.DeliveryFee))
			continue
		}
		for _, item := range Items(po.ItemsJSON) {
			if IsTransportCategory(item.Category) {
				s.TransportCategoryTotal = s.TransportCategoryTotal.Add(item.Subtotal)
				continue
			}
			s.MaterialTotal = s.MaterialTotal.Add(item.Subtotal)
			s.MaterialCategories[item.Category] = s.MaterialCategories[item.Category].Add(item.Subtotal)
		}
	}

	for _, tr := range trs {
		if tr.FinanceStatus != model.FinanceApproved {
			continue
		}
		s.TransportRequestCount++
		s.ApprovedTransportTotal = s.ApprovedTransportTotal.Add(tr.TotalAmount)
	}

	s.MaterialsDisplay = s.MaterialTotal
	s.TransportDisplay = s.ApprovedTransportTotal.Add(s.TransportCategoryTotal).Add(s.DeliveryFeeTotal)
	s.TotalCost = s.MaterialsDisplay.Add(s.TransportDisplay).Add(s.SubconTotal)
	s.Remaining = budget.Sub(s.TotalCost)
	return s
}

// Item is one purchase order line.
type Item struct {
	Category string
	Subtotal decimal.Decimal
}

// Items parses an items_json array. An item's subtotal is its subtotal field
// when present, else unit_cost * quantity. Malformed input yields no items.
func Items(itemsJSON string) []Item {
	if !gjson.Valid(itemsJSON) {
		return nil
	}
	var out []Item
	gjson.Parse(itemsJSON).ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		sub, ok := number(v.Get("subtotal"))
		if !ok {
			unit, _ := number(v.Get("unit_cost"))
			qty, _ := number(v.Get("quantity"))
			sub = unit.Mul(qty)
		}
		out = append(out, Item{
			Category: strings.TrimSpace(v.Get("category").String()),
			Subtotal: sub,
		})
		return true
	})
	return out
}

// IsTransportCategory reports whether a line item category belongs to the
// transport bucket.
func IsTransportCategory(category string) bool {
	c := strings.ToLower(category)
	return strings.Contains(c, "transportation") || strings.Contains(c, "hauling")
}

func number(r gjson.Result) (decimal.Decimal, bool) {
	switch r.Type {
	case gjson.Number:
		d, err := decimal.NewFromString(r.Raw)
		if err != nil {
			return decimal.NewFromFloat(r.Float()), true
		}
		return d, true
	case gjson.String:
		s := strings.ReplaceAll(strings.TrimSpace(r.Str), ",", "")
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}
