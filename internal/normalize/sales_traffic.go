package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"sellersync/internal/model"
	"sellersync/internal/spapi"
)

type salesTrafficDoc struct {
	SalesAndTrafficByAsin json.RawMessage `json:"salesAndTrafficByAsin"`
}

type salesTrafficEntry struct {
	ParentAsin string `json:"parentAsin"`
	ChildAsin  string `json:"childAsin"`
	SKU        string `json:"sku"`

	SalesByAsin   json.RawMessage `json:"salesByAsin"`
	TrafficByAsin json.RawMessage `json:"trafficByAsin"`
}

type salesByAsin struct {
	UnitsOrdered        model.Count `json:"unitsOrdered"`
	UnitsOrderedB2B     model.Count `json:"unitsOrderedB2B"`
	TotalOrderItems     model.Count `json:"totalOrderItems"`
	OrderedProductSales model.Money `json:"orderedProductSales"`
}

type trafficByAsin struct {
	Sessions              model.Count  `json:"sessions"`
	BrowserSessions       model.Count  `json:"browserSessions"`
	MobileAppSessions     model.Count  `json:"mobileAppSessions"`
	PageViews             model.Count  `json:"pageViews"`
	BrowserPageViews      model.Count  `json:"browserPageViews"`
	MobileAppPageViews    model.Count  `json:"mobileAppPageViews"`
	SessionPercentage     model.Number `json:"sessionPercentage"`
	PageViewsPercentage   model.Number `json:"pageViewsPercentage"`
	BuyBoxPercentage      model.Number `json:"buyBoxPercentage"`
	UnitSessionPercentage model.Number `json:"unitSessionPercentage"`
}

// SalesTraffic maps a GET_SALES_AND_TRAFFIC_REPORT document to rows stamped with date.
// Malformed JSON is a DecodeError. A missing or non-array salesAndTrafficByAsin is an
// empty result. Entries without a childAsin are skipped; a sales or traffic object that
// is absent or not an object leaves its metrics at zero.
func SalesTraffic(data []byte, date time.Time) ([]model.SalesTrafficRow, error) {
	var doc salesTrafficDoc
	if err := spapi.DecodeJSON(data, &doc); err != nil {
		return nil, err
	}
	if !isArray(doc.SalesAndTrafficByAsin) {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := spapi.DecodeJSON(doc.SalesAndTrafficByAsin, &entries); err != nil {
		return nil, err
	}

	day := truncateDay(date)
	rows := make([]model.SalesTrafficRow, 0, len(entries))
	for _, raw := range entries {
		var e salesTrafficEntry
		// Entries that are not objects carry nothing to map.
		if json.Unmarshal(raw, &e) != nil {
			continue
		}
		child := strings.TrimSpace(e.ChildAsin)
		if child == "" {
			continue
		}
		var s salesByAsin
		var t trafficByAsin
		_ = json.Unmarshal(e.SalesByAsin, &s)
		_ = json.Unmarshal(e.TrafficByAsin, &t)
		rows = append(rows, model.SalesTrafficRow{
			Date:       day,
			ParentASIN: strings.TrimSpace(e.ParentAsin),
			ChildASIN:  child,
			SKU:        strings.TrimSpace(e.SKU),

			UnitsOrdered:        int64(s.UnitsOrdered),
			UnitsOrderedB2B:     int64(s.UnitsOrderedB2B),
			TotalOrderItems:     int64(s.TotalOrderItems),
			OrderedProductSales: s.OrderedProductSales.OrZero(),

			Sessions:           int64(t.Sessions),
			BrowserSessions:    int64(t.BrowserSessions),
			MobileAppSessions:  int64(t.MobileAppSessions),
			PageViews:          int64(t.PageViews),
			BrowserPageViews:   int64(t.BrowserPageViews),
			MobileAppPageViews: int64(t.MobileAppPageViews),

			SessionPercentage:     float64(t.SessionPercentage),
			PageViewsPercentage:   float64(t.PageViewsPercentage),
			BuyBoxPercentage:      float64(t.BuyBoxPercentage),
			UnitSessionPercentage: float64(t.UnitSessionPercentage),
		})
	}
	return rows, nil
}

func isArray(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && b[0] == '['
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
