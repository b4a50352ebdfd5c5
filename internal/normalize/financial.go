package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"sellersync/internal/model"
)

type transactionEntry struct {
	TransactionID      string          `json:"transactionId"`
	TransactionType    string          `json:"transactionType"`
	TransactionStatus  string          `json:"transactionStatus"`
	Description        string          `json:"description"`
	PostedDate         string          `json:"postedDate"`
	TotalAmount        *model.Money    `json:"totalAmount"`
	RelatedIdentifiers json.RawMessage `json:"relatedIdentifiers"`
	Items              json.RawMessage `json:"items"`
	Breakdowns         json.RawMessage `json:"breakdowns"`
	Contexts           json.RawMessage `json:"contexts"`
	MarketplaceDetails json.RawMessage `json:"marketplaceDetails"`
}

// FinancialTransactions maps raw transactions from one or more pages. Entries without a
// transactionId cannot be keyed and are dropped.
func FinancialTransactions(raw []json.RawMessage) []model.FinancialTransaction {
	out := make([]model.FinancialTransaction, 0, len(raw))
	for _, r := range raw {
		var e transactionEntry
		if json.Unmarshal(r, &e) != nil {
			continue
		}
		id := strings.TrimSpace(e.TransactionID)
		if id == "" {
			continue
		}

		amount := model.Money{}
		if e.TotalAmount != nil {
			amount = *e.TotalAmount
		}
		amount = amount.OrZero()

		out = append(out, model.FinancialTransaction{
			TransactionID:      id,
			TransactionType:    e.TransactionType,
			TransactionStatus:  e.TransactionStatus,
			Description:        e.Description,
			PostedDate:         parseTime(e.PostedDate),
			Amount:             amount.Amount,
			CurrencyCode:       amount.CurrencyCode,
			RelatedIdentifiers: blob(e.RelatedIdentifiers),
			Items:              blob(e.Items),
			Breakdowns:         blob(e.Breakdowns),
			Contexts:           blob(e.Contexts),
			MarketplaceDetails: blob(e.MarketplaceDetails),
		})
	}
	return out
}

// blob re-serialises a nested value compactly; absent and null become "".
func blob(raw json.RawMessage) string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || string(b) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return ""
	}
	return buf.String()
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
