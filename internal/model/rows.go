package model

import (
	"time"
)

// Domain names one independently synced data set.
type Domain string

const (
	DomainSalesTraffic    Domain = "sales_traffic"
	DomainFinancialEvents Domain = "financial_events"
	DomainInventory       Domain = "inventory"
)

func AllDomains() []Domain {
	return []Domain{DomainSalesTraffic, DomainFinancialEvents, DomainInventory}
}

func ParseDomain(s string) (Domain, bool) {
	for _, d := range AllDomains() {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// SalesTrafficRow is one child ASIN's sales and traffic for a single day.
// The report carries no per-row date, so Date is stamped by the caller.
type SalesTrafficRow struct {
	Date       time.Time
	ParentASIN string
	ChildASIN  string
	SKU        string

	UnitsOrdered        int64
	UnitsOrderedB2B     int64
	TotalOrderItems     int64
	OrderedProductSales Money

	Sessions           int64
	BrowserSessions    int64
	MobileAppSessions  int64
	PageViews          int64
	BrowserPageViews   int64
	MobileAppPageViews int64

	SessionPercentage     float64
	PageViewsPercentage   float64
	BuyBoxPercentage      float64
	UnitSessionPercentage float64
}

// FinancialTransaction is one posted finance transaction. Nested structures are kept
// as serialized JSON blobs.
type FinancialTransaction struct {
	TransactionID     string
	TransactionType   string
	TransactionStatus string
	Description       string
	PostedDate        time.Time
	Amount            string
	CurrencyCode      string

	RelatedIdentifiers string
	Items              string
	Breakdowns         string
	Contexts           string
	MarketplaceDetails string
}

// InventoryRow is a per-SKU fulfillable quantity snapshot.
type InventoryRow struct {
	Date          time.Time
	SKU           string
	TotalQuantity int64
}

// DateKey formats a day the way every warehouse key stores it.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
