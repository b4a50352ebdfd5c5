package warehouse

import (
	"context"
	"fmt"
	"strings"

	"sellersync/internal/model"
)

const ColTenantID = "tenant_id"

// Tables names the warehouse table for each domain.
type Tables struct {
	SalesTraffic string
	Financial    string
	Inventory    string
}

func DefaultTables() Tables {
	return Tables{
		SalesTraffic: "amazon_sales_traffic",
		Financial:    "amazon_financial_transactions",
		Inventory:    "amazon_inventory",
	}
}

var (
	SalesTrafficKey = []string{ColTenantID, "date", "child_asin"}
	FinancialKey    = []string{ColTenantID, "transaction_id"}
	InventoryKey    = []string{ColTenantID, "sku", "date"}
)

// Upserter writes normalized rows one at a time. There is no batch transaction: a failure
// stops the batch and rows written before it stay committed.
type Upserter struct {
	w      Writer
	tables Tables
}

func NewUpserter(w Writer, tables Tables) *Upserter {
	def := DefaultTables()
	if strings.TrimSpace(tables.SalesTraffic) == "" {
		tables.SalesTraffic = def.SalesTraffic
	}
	if strings.TrimSpace(tables.Financial) == "" {
		tables.Financial = def.Financial
	}
	if strings.TrimSpace(tables.Inventory) == "" {
		tables.Inventory = def.Inventory
	}
	return &Upserter{w: w, tables: tables}
}

func (u *Upserter) Tables() Tables { return u.tables }

func (u *Upserter) UpsertSalesTraffic(ctx context.Context, tenant string, rows []model.SalesTrafficRow) (int, error) {
	n := 0
	for _, r := range rows {
		if _, err := u.w.Upsert(ctx, u.tables.SalesTraffic, SalesTrafficKey, SalesTrafficRecord(tenant, r)); err != nil {
			return n, fmt.Errorf("sales/traffic %s %s: %w", model.DateKey(r.Date), r.ChildASIN, err)
		}
		n++
	}
	return n, nil
}

func (u *Upserter) UpsertFinancialTransactions(ctx context.Context, tenant string, txs []model.FinancialTransaction) (int, error) {
	n := 0
	for _, t := range txs {
		if _, err := u.w.Upsert(ctx, u.tables.Financial, FinancialKey, FinancialRecord(tenant, t)); err != nil {
			return n, fmt.Errorf("financial transaction %s: %w", t.TransactionID, err)
		}
		n++
	}
	return n, nil
}

func (u *Upserter) UpsertInventory(ctx context.Context, tenant string, rows []model.InventoryRow) (int, error) {
	n := 0
	for _, r := range rows {
		if _, err := u.w.Upsert(ctx, u.tables.Inventory, InventoryKey, InventoryRecord(tenant, r)); err != nil {
			return n, fmt.Errorf("inventory %s %s: %w", model.DateKey(r.Date), r.SKU, err)
		}
		n++
	}
	return n, nil
}

func SalesTrafficRecord(tenant string, r model.SalesTrafficRow) Record {
	return Record{
		ColTenantID:                      tenant,
		"date":                           model.DateKey(r.Date),
		"parent_asin":                    r.ParentASIN,
		"child_asin":                     r.ChildASIN,
		"sku":                            r.SKU,
		"units_ordered":                  r.UnitsOrdered,
		"units_ordered_b2b":              r.UnitsOrderedB2B,
		"total_order_items":              r.TotalOrderItems,
		"ordered_product_sales_amount":   r.OrderedProductSales.Amount,
		"ordered_product_sales_currency": r.OrderedProductSales.CurrencyCode,
		"sessions":                       r.Sessions,
		"browser_sessions":               r.BrowserSessions,
		"mobile_app_sessions":            r.MobileAppSessions,
		"page_views":                     r.PageViews,
		"browser_page_views":             r.BrowserPageViews,
		"mobile_app_page_views":          r.MobileAppPageViews,
		"session_percentage":             r.SessionPercentage,
		"page_views_percentage":          r.PageViewsPercentage,
		"buy_box_percentage":             r.BuyBoxPercentage,
		"unit_session_percentage":        r.UnitSessionPercentage,
	}
}

func FinancialRecord(tenant string, t model.FinancialTransaction) Record {
	var posted any
	if !t.PostedDate.IsZero() {
		posted = t.PostedDate.UTC()
	}
	return Record{
		ColTenantID:           tenant,
		"transaction_id":      t.TransactionID,
		"transaction_type":    t.TransactionType,
		"transaction_status":  t.TransactionStatus,
		"description":         t.Description,
		"posted_date":         posted,
		"amount":              t.Amount,
		"currency_code":       t.CurrencyCode,
		"related_identifiers": t.RelatedIdentifiers,
		"items":               t.Items,
		"breakdowns":          t.Breakdowns,
		"contexts":            t.Contexts,
		"marketplace_details": t.MarketplaceDetails,
	}
}

func InventoryRecord(tenant string, r model.InventoryRow) Record {
	return Record{
		ColTenantID:      tenant,
		"sku":            r.SKU,
		"date":           model.DateKey(r.Date),
		"total_quantity": r.TotalQuantity,
	}
}
