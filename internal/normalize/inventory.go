package normalize

import (
	"strings"
	"time"

	"sellersync/internal/model"
	"sellersync/internal/spapi"
)

const (
	colSKU           = "sku"
	colTotalQuantity = "afn-total-quantity"
)

// Inventory maps a GET_FBA_MYI_UNSUPPRESSED_INVENTORY_DATA TSV document to per-SKU rows
// stamped with date. Columns are matched by header name.
func Inventory(data []byte, date time.Time) []model.InventoryRow {
	day := truncateDay(date)
	recs := spapi.ParseTSV(data)

	rows := make([]model.InventoryRow, 0, len(recs))
	for _, rec := range recs {
		sku := strings.TrimSpace(rec[colSKU])
		if sku == "" {
			continue
		}
		rows = append(rows, model.InventoryRow{
			Date:          day,
			SKU:           sku,
			TotalQuantity: model.ParseCount(rec[colTotalQuantity]),
		})
	}
	return rows
}
